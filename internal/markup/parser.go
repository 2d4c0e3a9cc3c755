// Package markup parses XML text into xmlquery trees under a configurable
// ParseMode.
package markup

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"golang.org/x/net/html/charset"
)

const xmlNamespaceURI = "http://www.w3.org/XML/1998/namespace"

var (
	ErrNoRootElement    = errors.New("start tag expected, no root element")
	ErrExtraContent     = errors.New("extra content at the end of the document")
	ErrTextOutsideRoot  = errors.New("text content outside the root element")
	ErrUnexpectedEOF    = errors.New("premature end of data")
	ErrMismatchedEndTag = errors.New("end tag does not match start tag")
	ErrTooDeep          = errors.New("maximum nesting depth exceeded")
)

// ParseError is returned when the parser rejects a document.
type ParseError struct {
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d, column %d: %v", e.Line, e.Column, e.Err)
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error { return e.Err }

// Severity classifies a recovered diagnostic.
type Severity int

const (
	SeverityWarning Severity = iota
	SeverityError
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Diagnostic is a problem the parser recovered from.
type Diagnostic struct {
	Severity Severity
	Line     int
	Column   int
	Message  string
}

// Document is the result of one parse. It is owned by the caller and is
// not safe for concurrent mutation.
type Document struct {
	Root        *xmlquery.Node
	Diagnostics []Diagnostic
}

// Element returns the document element, or nil for an empty document.
func (d *Document) Element() *xmlquery.Node {
	for n := d.Root.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// RemoveNamespaces strips element and attribute prefixes, namespace URIs and
// xmlns declarations from the whole tree.
func (d *Document) RemoveNamespaces() {
	var walk func(*xmlquery.Node)
	walk = func(n *xmlquery.Node) {
		if n.Type == xmlquery.ElementNode {
			n.Prefix = ""
			n.NamespaceURI = ""
			attrs := n.Attr[:0]
			for _, a := range n.Attr {
				if isNamespaceDecl(a.Name) {
					continue
				}
				a.Name.Space = ""
				a.NamespaceURI = ""
				attrs = append(attrs, a)
			}
			n.Attr = attrs
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.Root)
}

// Parse builds a document from src. encoding names the character set of src;
// an empty encoding defers to the document's own declaration.
func Parse(src []byte, encoding string, mode ParseMode) (*Document, error) {
	r, charsetReader, err := decodingReader(bytes.NewReader(src), encoding)
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	d := xml.NewDecoder(r)
	d.CharsetReader = charsetReader
	d.Strict = !mode.Lenient()
	if mode.Has(NoEnt) {
		d.Entity = xml.HTMLEntity
	}

	b := &builder{
		mode: mode,
		doc:  &xmlquery.Node{Type: xmlquery.DocumentNode},
	}
	for {
		tok, err := d.RawToken()
		if err == io.EOF {
			break
		}
		if err != nil {
			if ferr := b.fail(d, err); ferr != nil {
				return nil, ferr
			}
			break
		}
		if stop, ferr := b.handle(d, tok); ferr != nil {
			return nil, ferr
		} else if stop {
			break
		}
	}

	if len(b.stack) > 0 {
		if ferr := b.fail(d, ErrUnexpectedEOF); ferr != nil {
			return nil, ferr
		}
		b.stack = nil
	}
	if !b.rootSeen {
		if ferr := b.fail(d, ErrNoRootElement); ferr != nil {
			return nil, ferr
		}
	}

	return &Document{Root: b.doc, Diagnostics: b.diags}, nil
}

func decodingReader(r io.Reader, encoding string) (io.Reader, func(string, io.Reader) (io.Reader, error), error) {
	switch {
	case encoding == "":
		return r, charset.NewReaderLabel, nil
	case isUTF8(encoding):
		return r, passThrough, nil
	default:
		dr, err := charset.NewReaderLabel(encoding, r)
		if err != nil {
			return nil, nil, fmt.Errorf("decode %s input: %w", encoding, err)
		}
		return dr, passThrough, nil
	}
}

// passThrough ignores the declared encoding; the input was already decoded.
func passThrough(_ string, in io.Reader) (io.Reader, error) {
	return in, nil
}

func isUTF8(label string) bool {
	return strings.EqualFold(strings.ReplaceAll(label, "-", ""), "utf8")
}

type openElement struct {
	node   *xmlquery.Node
	name   string
	scopes map[string]string
}

type builder struct {
	mode     ParseMode
	doc      *xmlquery.Node
	stack    []openElement
	rootSeen bool
	diags    []Diagnostic
}

// fail returns err as a ParseError in strict mode. In lenient mode it records
// a diagnostic and returns nil.
func (b *builder) fail(d *xml.Decoder, err error) error {
	line, col := d.InputPos()
	var syn *xml.SyntaxError
	if errors.As(err, &syn) {
		line = syn.Line
	}
	if !b.mode.Lenient() {
		return &ParseError{Line: line, Column: col, Err: err}
	}
	b.diags = append(b.diags, Diagnostic{
		Severity: SeverityError,
		Line:     line,
		Column:   col,
		Message:  err.Error(),
	})
	return nil
}

func (b *builder) warn(d *xml.Decoder, msg string) {
	line, col := d.InputPos()
	b.diags = append(b.diags, Diagnostic{
		Severity: SeverityWarning,
		Line:     line,
		Column:   col,
		Message:  msg,
	})
}

func (b *builder) parent() *xmlquery.Node {
	if len(b.stack) == 0 {
		return b.doc
	}
	return b.stack[len(b.stack)-1].node
}

func (b *builder) scopes() map[string]string {
	if len(b.stack) == 0 {
		return nil
	}
	return b.stack[len(b.stack)-1].scopes
}

// handle applies one token. stop is true when a recovered error ends the parse.
func (b *builder) handle(d *xml.Decoder, tok xml.Token) (stop bool, err error) {
	switch t := tok.(type) {
	case xml.StartElement:
		return b.start(d, t)
	case xml.EndElement:
		return false, b.end(d, t)
	case xml.CharData:
		return b.text(d, string(t))
	case xml.Comment:
		xmlquery.AddChild(b.parent(), &xmlquery.Node{
			Type: xmlquery.CommentNode,
			Data: string(t),
		})
	}
	return false, nil
}

func (b *builder) start(d *xml.Decoder, t xml.StartElement) (bool, error) {
	if len(b.stack) == 0 && b.rootSeen {
		return true, b.fail(d, ErrExtraContent)
	}
	if len(b.stack)+1 > b.mode.MaxDepth() {
		return true, b.fail(d, ErrTooDeep)
	}

	scopes := b.scopes()
	declared := false
	for _, a := range t.Attr {
		if !isNamespaceDecl(a.Name) {
			continue
		}
		if !declared {
			scopes = copyScopes(scopes)
			declared = true
		}
		if a.Name.Space == "xmlns" {
			scopes[a.Name.Local] = a.Value
		} else {
			scopes[""] = a.Value
		}
	}

	node := &xmlquery.Node{
		Type:   xmlquery.ElementNode,
		Data:   t.Name.Local,
		Prefix: t.Name.Space,
	}
	node.NamespaceURI = b.resolve(d, scopes, t.Name.Space, true)

	for _, a := range t.Attr {
		attr := xmlquery.Attr{
			Name:  xml.Name{Space: a.Name.Space, Local: a.Name.Local},
			Value: a.Value,
		}
		if a.Name.Space != "" && !isNamespaceDecl(a.Name) {
			attr.NamespaceURI = b.resolve(d, scopes, a.Name.Space, false)
		}
		node.Attr = append(node.Attr, attr)
	}

	xmlquery.AddChild(b.parent(), node)
	b.stack = append(b.stack, openElement{
		node:   node,
		name:   qualified(t.Name),
		scopes: scopes,
	})
	b.rootSeen = true
	return false, nil
}

func (b *builder) end(d *xml.Decoder, t xml.EndElement) error {
	name := qualified(t.Name)
	if len(b.stack) == 0 {
		if err := b.fail(d, fmt.Errorf("%w: unexpected </%s>", ErrMismatchedEndTag, name)); err != nil {
			return err
		}
		return nil
	}
	if b.stack[len(b.stack)-1].name == name {
		b.stack = b.stack[:len(b.stack)-1]
		return nil
	}

	if err := b.fail(d, fmt.Errorf("%w: expected </%s>, found </%s>", ErrMismatchedEndTag, b.stack[len(b.stack)-1].name, name)); err != nil {
		return err
	}
	// Close up to the nearest matching ancestor; a stray end tag is dropped.
	for i := len(b.stack) - 1; i >= 0; i-- {
		if b.stack[i].name == name {
			b.stack = b.stack[:i]
			break
		}
	}
	return nil
}

func (b *builder) text(d *xml.Decoder, s string) (bool, error) {
	blank := strings.TrimSpace(s) == ""
	if len(b.stack) == 0 {
		if blank {
			return false, nil
		}
		// Recovery drops the stray text and keeps going.
		return false, b.fail(d, ErrTextOutsideRoot)
	}
	if blank && b.mode.Has(NoBlanks) {
		return false, nil
	}

	parent := b.parent()
	if last := parent.LastChild; last != nil && last.Type == xmlquery.TextNode {
		last.Data += s
		return false, nil
	}
	xmlquery.AddChild(parent, &xmlquery.Node{
		Type: xmlquery.TextNode,
		Data: s,
	})
	return false, nil
}

func (b *builder) resolve(d *xml.Decoder, scopes map[string]string, prefix string, element bool) string {
	if prefix == "" && !element {
		return ""
	}
	if prefix == "xml" {
		return xmlNamespaceURI
	}
	if uri, ok := scopes[prefix]; ok {
		return uri
	}
	if prefix != "" {
		b.warn(d, fmt.Sprintf("namespace prefix %s is not defined", prefix))
	}
	return ""
}

func isNamespaceDecl(name xml.Name) bool {
	return name.Space == "xmlns" || (name.Space == "" && name.Local == "xmlns")
}

func qualified(name xml.Name) string {
	if name.Space == "" {
		return name.Local
	}
	return name.Space + ":" + name.Local
}

func copyScopes(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

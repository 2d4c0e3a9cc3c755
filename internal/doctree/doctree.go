// Package doctree converts parsed XML documents into nested map/array/string
// values suitable for storing on an event.
package doctree

import (
	"strings"

	"github.com/antchfx/xmlquery"

	"github.com/dgallion1/xmlfilter/internal/markup"
)

// DefaultContentKey holds element text when an element becomes a map.
const DefaultContentKey = "content"

// Options controls the shape of the built tree.
type Options struct {
	ForceArray    bool   // Child elements are always arrays, even when single.
	ForceContent  bool   // Text-only elements become {ContentKey: text}.
	SuppressEmpty bool   // Empty elements are omitted instead of becoming {}.
	ContentKey    string // Defaults to DefaultContentKey.
	// Lenient marks documents recovered from malformed input. A recovered
	// document without a root element builds to an empty map.
	Lenient bool
}

// Build returns {rootName: value} for the document element of doc. Without a
// document element it returns markup.ErrNoRootElement, unless opts.Lenient is
// set.
func Build(doc *xmlquery.Node, opts Options) (map[string]any, error) {
	if opts.ContentKey == "" {
		opts.ContentKey = DefaultContentKey
	}
	root := documentElement(doc)
	if root == nil {
		if opts.Lenient {
			return map[string]any{}, nil
		}
		return nil, markup.ErrNoRootElement
	}

	out := make(map[string]any, 1)
	if v, keep := collapse(root, opts); keep {
		out[qualifiedName(root)] = v
	}
	return out, nil
}

func documentElement(doc *xmlquery.Node) *xmlquery.Node {
	if doc == nil {
		return nil
	}
	if doc.Type == xmlquery.ElementNode {
		return doc
	}
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// collapse returns the value for one element. keep is false when the element
// is empty and empty elements are suppressed.
func collapse(n *xmlquery.Node, opts Options) (value any, keep bool) {
	m := make(map[string]any)
	for _, a := range n.Attr {
		name := a.Name.Local
		if a.Name.Space != "" {
			name = a.Name.Space + ":" + name
		}
		m[name] = a.Value
	}

	var text strings.Builder
	hasText := false
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case xmlquery.ElementNode:
			v, ok := collapse(c, opts)
			if !ok {
				continue
			}
			add(m, qualifiedName(c), v, opts.ForceArray)
		case xmlquery.TextNode, xmlquery.CharDataNode:
			if strings.TrimSpace(c.Data) == "" {
				continue
			}
			text.WriteString(c.Data)
			hasText = true
		}
	}

	if hasText {
		if len(m) == 0 && !opts.ForceContent {
			return text.String(), true
		}
		m[opts.ContentKey] = text.String()
	}
	if len(m) == 0 {
		if opts.SuppressEmpty {
			return nil, false
		}
		return m, true
	}
	return m, true
}

func add(m map[string]any, key string, v any, forceArray bool) {
	existing, ok := m[key]
	switch {
	case !ok && forceArray:
		m[key] = []any{v}
	case !ok:
		m[key] = v
	default:
		if arr, isArr := existing.([]any); isArr {
			m[key] = append(arr, v)
		} else {
			m[key] = []any{existing, v}
		}
	}
}

func qualifiedName(n *xmlquery.Node) string {
	if n.Prefix == "" {
		return n.Data
	}
	return n.Prefix + ":" + n.Data
}

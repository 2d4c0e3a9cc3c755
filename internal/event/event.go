// Package event holds the host event model the filter reads from and writes to.
package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ohler55/ojg/jp"
)

// TagsField is the field that collects tags added with AddTag.
const TagsField = "tags"

var (
	ErrInvalidFieldRef = errors.New("invalid field reference")
	ErrFieldConflict   = errors.New("field path crosses a non-object value")
)

// Event is the view of a pipeline event used by the filter.
type Event interface {
	Get(ref string) (any, bool)
	Put(ref string, value any) error
	AddTag(tag string)
}

// Record is a map-backed Event. Field references are either plain names
// ("message") or bracket paths ("[payload][body]"). A Record is not safe for
// concurrent use.
type Record struct {
	fields map[string]any
}

// NewRecord wraps fields. A nil map starts an empty record.
func NewRecord(fields map[string]any) *Record {
	if fields == nil {
		fields = make(map[string]any)
	}
	return &Record{fields: fields}
}

// Fields returns the underlying field map.
func (r *Record) Fields() map[string]any {
	return r.fields
}

func (r *Record) Get(ref string) (any, bool) {
	path, err := ParseFieldRef(ref)
	if err != nil {
		return nil, false
	}
	found := fieldExpr(path).Get(r.fields)
	if len(found) == 0 {
		return nil, false
	}
	return found[0], true
}

func (r *Record) Put(ref string, value any) error {
	path, err := ParseFieldRef(ref)
	if err != nil {
		return err
	}

	// Intermediate objects are created here so Set only ever assigns a leaf.
	cur := r.fields
	for _, seg := range path[:len(path)-1] {
		next, exists := cur[seg]
		if !exists || next == nil {
			m := make(map[string]any)
			cur[seg] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("put %s: %w", ref, ErrFieldConflict)
		}
		cur = m
	}

	if err := fieldExpr(path).Set(r.fields, value); err != nil {
		return fmt.Errorf("put %s: %w", ref, err)
	}
	return nil
}

// AddTag appends tag to the tags field unless it is already present. A tags
// array decoded from JSON keeps its element type, so entries that are not
// strings survive.
func (r *Record) AddTag(tag string) {
	if r.HasTag(tag) {
		return
	}
	switch v := r.fields[TagsField].(type) {
	case []any:
		r.fields[TagsField] = append(v, tag)
	case []string:
		r.fields[TagsField] = append(v, tag)
	case string:
		r.fields[TagsField] = []string{v, tag}
	default:
		r.fields[TagsField] = []string{tag}
	}
}

// Tags returns the current tags.
func (r *Record) Tags() []string {
	switch v := r.fields[TagsField].(type) {
	case []string:
		return v
	case []any:
		tags := make([]string, 0, len(v))
		for _, t := range v {
			if s, ok := t.(string); ok {
				tags = append(tags, s)
			}
		}
		return tags
	case string:
		return []string{v}
	}
	return nil
}

// HasTag reports whether tag is present.
func (r *Record) HasTag(tag string) bool {
	for _, t := range r.Tags() {
		if t == tag {
			return true
		}
	}
	return false
}

func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.fields)
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	r.fields = fields
	return nil
}

// ParseFieldRef splits a field reference into its path segments.
func ParseFieldRef(ref string) ([]string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: empty reference", ErrInvalidFieldRef)
	}
	if !strings.HasPrefix(ref, "[") {
		return []string{ref}, nil
	}

	var path []string
	rest := ref
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("%w: %q", ErrInvalidFieldRef, ref)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("%w: unterminated segment in %q", ErrInvalidFieldRef, ref)
		}
		seg := rest[1:end]
		if seg == "" {
			return nil, fmt.Errorf("%w: empty segment in %q", ErrInvalidFieldRef, ref)
		}
		path = append(path, seg)
		rest = rest[end+1:]
	}
	return path, nil
}

func fieldExpr(path []string) jp.Expr {
	x := jp.C(path[0])
	for _, seg := range path[1:] {
		x = x.C(seg)
	}
	return x
}

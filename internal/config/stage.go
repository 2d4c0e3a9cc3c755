package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/net/html/charset"
	"gopkg.in/yaml.v3"
)

// DefaultFailureTag is added to events the filter could not process.
const DefaultFailureTag = "_xmlparsefailure"

var ErrInvalidStageOptions = errors.New("invalid stage options")

// PathQuery maps an XPath expression to a destination field.
type PathQuery struct {
	Expression  string `yaml:"expression" validate:"required"`
	Destination string `yaml:"destination" validate:"required"`
	Merge       bool   `yaml:"merge"`
}

// PathQueries keeps configuration order.
type PathQueries []PathQuery

// UnmarshalYAML accepts either an ordered mapping of expression to
// destination, or a sequence of {expression, destination, merge} items.
func (q *PathQueries) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		out := make(PathQueries, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var expr, dest string
			if err := node.Content[i].Decode(&expr); err != nil {
				return err
			}
			if err := node.Content[i+1].Decode(&dest); err != nil {
				return fmt.Errorf("path_queries %q: destination must be a string: %w", expr, err)
			}
			out = append(out, PathQuery{Expression: expr, Destination: dest})
		}
		*q = out
		return nil

	case yaml.SequenceNode:
		var items []PathQuery
		if err := node.Decode(&items); err != nil {
			return err
		}
		*q = items
		return nil

	default:
		return fmt.Errorf("path_queries: expected mapping or sequence, got %v", node.Kind)
	}
}

// StageOptions is the user-facing configuration of one filter stage.
type StageOptions struct {
	Source           string            `yaml:"source" validate:"required"`
	Target           string            `yaml:"target" validate:"required_if=StoreDocument true"`
	PathQueries      PathQueries       `yaml:"path_queries" validate:"dive"`
	ParseOptions     string            `yaml:"parse_options"`
	StoreDocument    bool              `yaml:"store_whole_document"`
	ForceArray       bool              `yaml:"force_array"`
	ForceContent     bool              `yaml:"force_content"`
	Namespaces       map[string]string `yaml:"namespace_bindings" validate:"dive,keys,required,endkeys,required"`
	RemoveNamespaces bool              `yaml:"remove_namespaces"`
	SuppressEmpty    bool              `yaml:"suppress_empty_elements"`
	Encoding         string            `yaml:"encoding"`
	ContentKey       string            `yaml:"content_key" validate:"required"`
	FailureTag       string            `yaml:"tag_on_failure" validate:"required"`
}

// DefaultStageOptions returns the defaults every option file starts from.
func DefaultStageOptions() StageOptions {
	return StageOptions{
		StoreDocument: true,
		ForceArray:    true,
		SuppressEmpty: true,
		Encoding:      "UTF-8",
		ContentKey:    "content",
		FailureTag:    DefaultFailureTag,
	}
}

// LoadStageOptions reads and validates a YAML option file.
func LoadStageOptions(path string) (StageOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StageOptions{}, fmt.Errorf("read stage options: %w", err)
	}
	return ParseStageOptions(data)
}

// ParseStageOptions decodes YAML over the defaults. Unknown keys and
// mistyped values are rejected.
func ParseStageOptions(data []byte) (StageOptions, error) {
	opts := DefaultStageOptions()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&opts); err != nil {
		if errors.Is(err, io.EOF) {
			return StageOptions{}, fmt.Errorf("%w: empty configuration", ErrInvalidStageOptions)
		}
		return StageOptions{}, fmt.Errorf("%w: %v", ErrInvalidStageOptions, err)
	}

	if err := opts.Validate(); err != nil {
		return StageOptions{}, err
	}
	return opts, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the encoding label.
func (o StageOptions) Validate() error {
	var msgs []string

	if err := validate.Struct(o); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidStageOptions, err)
		}
		for _, e := range verrs {
			msgs = append(msgs, formatValidationError(e))
		}
	}

	if o.Encoding != "" {
		if enc, _ := charset.Lookup(o.Encoding); enc == nil {
			msgs = append(msgs, fmt.Sprintf("encoding %q is not a known character set", o.Encoding))
		}
	}

	if len(msgs) > 0 {
		return fmt.Errorf("%w:\n  - %s", ErrInvalidStageOptions, strings.Join(msgs, "\n  - "))
	}
	return nil
}

func formatValidationError(e validator.FieldError) string {
	field := fieldPath(e.Namespace())
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required when store_whole_document is true", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

// fieldPath drops the struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

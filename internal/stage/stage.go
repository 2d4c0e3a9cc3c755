// Package stage runs the XML filter over one event at a time.
//
// A Stage is compiled once from validated options and is read-only
// afterwards, so a single Stage may be shared by any number of goroutines.
// Every per-event problem is reported through Result and the failure tag;
// nothing escapes Process as an error or panic.
package stage

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgallion1/xmlfilter/internal/config"
	"github.com/dgallion1/xmlfilter/internal/doctree"
	"github.com/dgallion1/xmlfilter/internal/event"
	"github.com/dgallion1/xmlfilter/internal/extract"
	"github.com/dgallion1/xmlfilter/internal/markup"
)

// State is the terminal state of one Process call.
type State int

const (
	StateDone State = iota
	StateSkipped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "done"
	case StateSkipped:
		return "skipped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FailureKind names the check that rejected an event.
type FailureKind int

const (
	FailureMultipleValues FailureKind = iota + 1
	FailureNotText
	FailureParse
	FailureQuery
	FailureSerialize
)

func (k FailureKind) String() string {
	switch k {
	case FailureMultipleValues:
		return "multiple_values"
	case FailureNotText:
		return "not_text"
	case FailureParse:
		return "parse"
	case FailureQuery:
		return "query"
	case FailureSerialize:
		return "serialize"
	}
	return fmt.Sprintf("FailureKind(%d)", int(k))
}

// Failure describes why an event was tagged.
type Failure struct {
	Kind  FailureKind
	Field string
	Value any
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: field %s: %v", f.Kind, f.Field, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is the outcome of processing one event. Failure is set only when
// State is StateFailed.
type Result struct {
	State   State
	Failure *Failure
}

var (
	ErrMultipleValues = errors.New("source holds more than one value")
	ErrNotText        = errors.New("source is not text")
)

// Stage is a compiled filter stage.
type Stage struct {
	opts      config.StageOptions
	mode      markup.ParseMode
	extractor *extract.Extractor
	tree      doctree.Options
	log       *slog.Logger
}

// New validates opts, resolves the parse mode and compiles every XPath
// expression. Any error here means the stage must not start.
func New(opts config.StageOptions, log *slog.Logger) (*Stage, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	refs := []string{opts.Source}
	if opts.Target != "" {
		refs = append(refs, opts.Target)
	}
	for _, q := range opts.PathQueries {
		refs = append(refs, q.Destination)
	}
	for _, ref := range refs {
		if _, err := event.ParseFieldRef(ref); err != nil {
			return nil, err
		}
	}

	mode, err := markup.ResolveParseMode(opts.ParseOptions)
	if err != nil {
		return nil, fmt.Errorf("parse_options: %w", err)
	}

	queries := make([]extract.Query, len(opts.PathQueries))
	for i, q := range opts.PathQueries {
		queries[i] = extract.Query{Expression: q.Expression, Destination: q.Destination, Merge: q.Merge}
	}
	x, err := extract.Compile(queries, extract.Options{
		Namespaces: opts.Namespaces,
		ForceArray: opts.ForceArray,
	})
	if err != nil {
		return nil, fmt.Errorf("path_queries: %w", err)
	}

	if log == nil {
		log = slog.Default()
	}

	return &Stage{
		opts:      opts,
		mode:      mode,
		extractor: x,
		tree: doctree.Options{
			ForceArray:    opts.ForceArray,
			ForceContent:  opts.ForceContent,
			SuppressEmpty: opts.SuppressEmpty,
			ContentKey:    opts.ContentKey,
			Lenient:       mode.Lenient(),
		},
		log: log.With("source", opts.Source),
	}, nil
}

// Options returns the options the stage was built from.
func (s *Stage) Options() config.StageOptions {
	return s.opts
}

// Mode returns the resolved parse mode.
func (s *Stage) Mode() markup.ParseMode {
	return s.mode
}

// Queries returns the number of compiled XPath queries.
func (s *Stage) Queries() int {
	return s.extractor.Len()
}

// Process applies the stage to ev.
func (s *Stage) Process(ev event.Event) Result {
	raw, ok := ev.Get(s.opts.Source)
	if !ok || raw == nil {
		return Result{State: StateSkipped}
	}

	value, ok := unwrap(raw)
	if !ok {
		return s.fail(ev, FailureMultipleValues, raw, ErrMultipleValues)
	}
	if value == nil {
		return Result{State: StateSkipped}
	}

	var (
		src      []byte
		encoding string
	)
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			return Result{State: StateSkipped}
		}
		src, encoding = []byte(v), "UTF-8"
	case []byte:
		if len(bytes.TrimSpace(v)) == 0 {
			return Result{State: StateSkipped}
		}
		src, encoding = v, s.opts.Encoding
	default:
		return s.fail(ev, FailureNotText, value, fmt.Errorf("%w: got %T", ErrNotText, value))
	}

	doc, err := markup.Parse(src, encoding, s.mode)
	if err != nil {
		return s.fail(ev, FailureParse, string(src), err)
	}
	if s.opts.RemoveNamespaces {
		doc.RemoveNamespaces()
	}
	s.logDiagnostics(doc.Diagnostics)

	if s.extractor.Len() > 0 {
		if err := s.extractor.Apply(doc.Root, ev); err != nil {
			return s.fail(ev, FailureQuery, string(src), err)
		}
	}

	if s.opts.StoreDocument {
		tree, err := doctree.Build(doc.Root, s.tree)
		if err != nil {
			return s.fail(ev, FailureSerialize, string(src), err)
		}
		if err := ev.Put(s.opts.Target, tree); err != nil {
			return s.fail(ev, FailureSerialize, string(src), err)
		}
	}

	return Result{State: StateDone}
}

// unwrap reduces a one-element collection to its element. ok is false for
// collections holding more than one value; an empty collection yields nil.
func unwrap(raw any) (value any, ok bool) {
	switch v := raw.(type) {
	case []any:
		switch len(v) {
		case 0:
			return nil, true
		case 1:
			return v[0], true
		}
		return nil, false
	case []string:
		switch len(v) {
		case 0:
			return nil, true
		case 1:
			return v[0], true
		}
		return nil, false
	}
	return raw, true
}

func (s *Stage) fail(ev event.Event, kind FailureKind, value any, err error) Result {
	ev.AddTag(s.opts.FailureTag)
	s.log.Warn("xml filter failed",
		"kind", kind.String(),
		"value", value,
		"error", err,
	)
	return Result{
		State:   StateFailed,
		Failure: &Failure{Kind: kind, Field: s.opts.Source, Value: value, Err: err},
	}
}

func (s *Stage) logDiagnostics(diags []markup.Diagnostic) {
	for _, d := range diags {
		if d.Severity == markup.SeverityError && s.mode.Has(markup.NoError) {
			continue
		}
		if d.Severity == markup.SeverityWarning && s.mode.Has(markup.NoWarning) {
			continue
		}
		s.log.Warn("xml parser recovered",
			"severity", d.Severity.String(),
			"line", d.Line,
			"column", d.Column,
			"message", d.Message,
		)
	}
}

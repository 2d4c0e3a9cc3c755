// Package extract evaluates configured XPath queries against parsed
// documents and writes the results into event fields.
package extract

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"

	"github.com/dgallion1/xmlfilter/internal/event"
)

var ErrInvalidExpression = errors.New("invalid xpath expression")

// Query maps one XPath expression to a destination field. When Merge is set
// the results are appended to whatever the destination already holds.
type Query struct {
	Expression  string
	Destination string
	Merge       bool
}

// QueryError reports a query that failed to compile or evaluate.
type QueryError struct {
	Expression string
	Err        error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("xpath %q: %v", e.Expression, e.Err)
}

func (e *QueryError) Unwrap() error { return e.Err }

// Options controls compilation and result shape.
type Options struct {
	// Namespaces binds prefixes for namespace-aware evaluation. When empty,
	// expressions are evaluated without namespace context.
	Namespaces map[string]string
	// ForceArray keeps single results as one-element arrays.
	ForceArray bool
}

// compiledQuery pools compiled expressions. An xpath.Expr keeps iterator
// state while it is evaluated, so one Expr must never be used by two
// goroutines at once.
type compiledQuery struct {
	Query
	exprs *sync.Pool
}

// Extractor holds compiled queries. It is immutable after Compile and safe
// for concurrent use.
type Extractor struct {
	queries    []compiledQuery
	forceArray bool
}

// Compile compiles every query, preserving order.
func Compile(queries []Query, opts Options) (*Extractor, error) {
	x := &Extractor{
		queries:    make([]compiledQuery, 0, len(queries)),
		forceArray: opts.ForceArray,
	}
	for _, q := range queries {
		expr, err := compile(q.Expression, opts.Namespaces)
		if err != nil {
			return nil, &QueryError{
				Expression: q.Expression,
				Err:        fmt.Errorf("%w: %v", ErrInvalidExpression, err),
			}
		}

		exprs := &sync.Pool{
			New: func() any {
				// The expression already compiled once, so this cannot fail.
				e, _ := compile(q.Expression, opts.Namespaces)
				return e
			},
		}
		exprs.Put(expr)
		x.queries = append(x.queries, compiledQuery{Query: q, exprs: exprs})
	}
	return x, nil
}

func compile(expression string, namespaces map[string]string) (*xpath.Expr, error) {
	if len(namespaces) > 0 {
		return xpath.CompileWithNS(expression, namespaces)
	}
	return xpath.Compile(expression)
}

// Len returns the number of compiled queries.
func (x *Extractor) Len() int {
	return len(x.queries)
}

// Apply evaluates each query in order and writes non-empty results to ev.
// Writes made before a failing query are kept.
func (x *Extractor) Apply(doc *xmlquery.Node, ev event.Event) error {
	for _, q := range x.queries {
		values, err := q.evaluate(doc)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			continue
		}

		var value any
		if len(values) == 1 && !x.forceArray {
			value = values[0]
		} else {
			arr := make([]any, len(values))
			for i, v := range values {
				arr[i] = v
			}
			value = arr
		}

		if q.Merge {
			if existing, ok := ev.Get(q.Destination); ok && existing != nil {
				value = mergeValues(existing, value)
			}
		}
		if err := ev.Put(q.Destination, value); err != nil {
			return &QueryError{Expression: q.Expression, Err: err}
		}
	}
	return nil
}

func (q compiledQuery) evaluate(doc *xmlquery.Node) (values []string, err error) {
	expr := q.exprs.Get().(*xpath.Expr)
	// The xpath engine panics on some runtime type errors in function calls.
	// An expression that panicked is dropped rather than returned to the pool.
	defer func() {
		if r := recover(); r != nil {
			values = nil
			err = &QueryError{Expression: q.Expression, Err: fmt.Errorf("evaluate: %v", r)}
			return
		}
		q.exprs.Put(expr)
	}()

	switch v := expr.Evaluate(xmlquery.CreateXPathNavigator(doc)).(type) {
	case *xpath.NodeIterator:
		for v.MoveNext() {
			values = append(values, nodeText(v.Current()))
		}
	case string:
		values = []string{v}
	case float64:
		values = []string{formatNumber(v)}
	case bool:
		values = []string{strconv.FormatBool(v)}
	case []string:
		values = append(values, v...)
	case nil:
	default:
		values = []string{fmt.Sprint(v)}
	}
	return values, nil
}

// nodeText renders element and document nodes as markup and every other node
// as its string value.
func nodeText(nav xpath.NodeNavigator) string {
	switch nav.NodeType() {
	case xpath.ElementNode, xpath.RootNode:
		if n, ok := nav.(*xmlquery.NodeNavigator); ok {
			return n.Current().OutputXML(true)
		}
	}
	return nav.Value()
}

// formatNumber follows the XPath string() conversion for numbers.
func formatNumber(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	case f == 0:
		return "0"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func mergeValues(existing, value any) any {
	var out []any
	switch e := existing.(type) {
	case []any:
		out = append(out, e...)
	case []string:
		for _, s := range e {
			out = append(out, s)
		}
	default:
		out = append(out, e)
	}
	switch v := value.(type) {
	case []any:
		out = append(out, v...)
	default:
		out = append(out, v)
	}
	return out
}

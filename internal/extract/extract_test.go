package extract

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/antchfx/xmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/xmlfilter/internal/event"
	"github.com/dgallion1/xmlfilter/internal/markup"
)

func parse(t *testing.T, src string) *xmlquery.Node {
	t.Helper()
	doc, err := markup.Parse([]byte(src), "UTF-8", markup.Strict)
	require.NoError(t, err)
	return doc.Root
}

func apply(t *testing.T, src string, queries []Query, opts Options) *event.Record {
	t.Helper()
	x, err := Compile(queries, opts)
	require.NoError(t, err)
	ev := event.NewRecord(nil)
	require.NoError(t, x.Apply(parse(t, src), ev))
	return ev
}

func TestApply_SingleMatchCollapsesToScalar(t *testing.T) {
	ev := apply(t, "<root><item>a</item></root>",
		[]Query{{Expression: "//item/text()", Destination: "items"}},
		Options{})

	v, ok := ev.Get("items")
	require.True(t, ok)
	assert.Equal(t, "a", v)
}

func TestApply_SingleMatchForceArray(t *testing.T) {
	ev := apply(t, "<root><item>a</item></root>",
		[]Query{{Expression: "//item/text()", Destination: "items"}},
		Options{ForceArray: true})

	v, _ := ev.Get("items")
	assert.Equal(t, []any{"a"}, v)
}

func TestApply_MultipleMatchesInDocumentOrder(t *testing.T) {
	ev := apply(t, "<root><item>a</item><x><item>b</item></x><item>c</item></root>",
		[]Query{{Expression: "//item/text()", Destination: "items"}},
		Options{})

	v, _ := ev.Get("items")
	assert.Equal(t, []any{"a", "b", "c"}, v)
}

func TestApply_NoMatchLeavesDestinationUntouched(t *testing.T) {
	x, err := Compile([]Query{{Expression: "//missing", Destination: "out"}}, Options{})
	require.NoError(t, err)

	ev := event.NewRecord(map[string]any{"out": "before"})
	require.NoError(t, x.Apply(parse(t, "<root/>"), ev))

	v, _ := ev.Get("out")
	assert.Equal(t, "before", v)

	fresh := event.NewRecord(nil)
	require.NoError(t, x.Apply(parse(t, "<root/>"), fresh))
	_, ok := fresh.Get("out")
	assert.False(t, ok)
}

func TestApply_EmptyTextStillCounts(t *testing.T) {
	ev := apply(t, `<root><a v=""/><a v="x"/></root>`,
		[]Query{{Expression: "//a/@v", Destination: "vals"}},
		Options{})

	v, _ := ev.Get("vals")
	assert.Equal(t, []any{"", "x"}, v)
}

func TestApply_ElementsRenderAsMarkup(t *testing.T) {
	ev := apply(t, "<root><item>a</item></root>",
		[]Query{{Expression: "/root/item", Destination: "raw"}},
		Options{})

	v, _ := ev.Get("raw")
	assert.Equal(t, "<item>a</item>", v)
}

func TestApply_ScalarResults(t *testing.T) {
	ev := apply(t, "<root><item>a</item><item>b</item></root>",
		[]Query{
			{Expression: "count(//item)", Destination: "count"},
			{Expression: "string(//item[2])", Destination: "second"},
			{Expression: "boolean(//item)", Destination: "present"},
			{Expression: "1 div 2", Destination: "half"},
		},
		Options{})

	count, _ := ev.Get("count")
	assert.Equal(t, "2", count)
	second, _ := ev.Get("second")
	assert.Equal(t, "b", second)
	present, _ := ev.Get("present")
	assert.Equal(t, "true", present)
	half, _ := ev.Get("half")
	assert.Equal(t, "0.5", half)
}

func TestApply_LaterQueryOverwritesDestination(t *testing.T) {
	ev := apply(t, "<root><a>1</a><b>2</b></root>",
		[]Query{
			{Expression: "//a/text()", Destination: "out"},
			{Expression: "//b/text()", Destination: "out"},
		},
		Options{})

	v, _ := ev.Get("out")
	assert.Equal(t, "2", v)
}

func TestApply_MergeAppends(t *testing.T) {
	ev := apply(t, "<root><a>1</a><b>2</b><b>3</b></root>",
		[]Query{
			{Expression: "//a/text()", Destination: "out"},
			{Expression: "//b/text()", Destination: "out", Merge: true},
		},
		Options{})

	v, _ := ev.Get("out")
	assert.Equal(t, []any{"1", "2", "3"}, v)
}

func TestApply_NamespaceBindings(t *testing.T) {
	src := `<root xmlns:f="urn:foo"><f:item>a</f:item><item>b</item></root>`
	ev := apply(t, src,
		[]Query{{Expression: "//x:item/text()", Destination: "ns"}},
		Options{Namespaces: map[string]string{"x": "urn:foo"}})

	v, _ := ev.Get("ns")
	assert.Equal(t, "a", v)
}

func TestApply_NestedDestination(t *testing.T) {
	ev := apply(t, "<root><id>7</id></root>",
		[]Query{{Expression: "/root/id/text()", Destination: "[xml][id]"}},
		Options{})

	v, ok := ev.Get("[xml][id]")
	require.True(t, ok)
	assert.Equal(t, "7", v)
}

func TestApply_WriteConflictKeepsEarlierWrites(t *testing.T) {
	x, err := Compile([]Query{
		{Expression: "//a/text()", Destination: "first"},
		{Expression: "//b/text()", Destination: "[blocked][b]"},
	}, Options{})
	require.NoError(t, err)

	ev := event.NewRecord(map[string]any{"blocked": "scalar"})
	err = x.Apply(parse(t, "<root><a>1</a><b>2</b></root>"), ev)

	var qerr *QueryError
	require.ErrorAs(t, err, &qerr)
	assert.True(t, errors.Is(err, event.ErrFieldConflict))

	v, _ := ev.Get("first")
	assert.Equal(t, "1", v)
}

func TestApply_ConcurrentEvaluation(t *testing.T) {
	x, err := Compile([]Query{
		{Expression: "//item/text()", Destination: "items"},
		{Expression: "count(//item)", Destination: "n"},
		{Expression: "/root/@id", Destination: "id"},
	}, Options{})
	require.NoError(t, err)

	const workers = 64
	type got struct{ items, n, id any }
	results := make([]got, workers)

	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			src := fmt.Sprintf(`<root id="r%d"><item>%d</item><item>x</item></root>`, i, i)
			doc, err := markup.Parse([]byte(src), "UTF-8", markup.Strict)
			if err != nil {
				return
			}
			ev := event.NewRecord(nil)
			if err := x.Apply(doc.Root, ev); err != nil {
				return
			}
			results[i].items, _ = ev.Get("items")
			results[i].n, _ = ev.Get("n")
			results[i].id, _ = ev.Get("id")
		}()
	}
	wg.Wait()

	for i, r := range results {
		assert.Equal(t, []any{fmt.Sprint(i), "x"}, r.items, "worker %d", i)
		assert.Equal(t, "2", r.n, "worker %d", i)
		assert.Equal(t, fmt.Sprintf("r%d", i), r.id, "worker %d", i)
	}
}

func TestCompile_InvalidExpression(t *testing.T) {
	_, err := Compile([]Query{{Expression: "//item[", Destination: "x"}}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidExpression))
}

func TestFormatNumber(t *testing.T) {
	assert.Equal(t, "3", formatNumber(3))
	assert.Equal(t, "-1.25", formatNumber(-1.25))
	assert.Equal(t, "0", formatNumber(0))
}

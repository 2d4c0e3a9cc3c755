package doctree

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/xmlfilter/internal/markup"
)

func build(t *testing.T, src string, opts Options) map[string]any {
	t.Helper()
	doc, err := markup.Parse([]byte(src), "UTF-8", markup.Strict)
	require.NoError(t, err)
	out, err := Build(doc.Root, opts)
	require.NoError(t, err)
	return out
}

func TestBuild_ForceArrayWrapsSingleChild(t *testing.T) {
	out := build(t, "<root><x>1</x></root>", Options{ForceArray: true})
	assert.Equal(t, map[string]any{
		"root": map[string]any{"x": []any{"1"}},
	}, out)
}

func TestBuild_SingleChildCollapsesWithoutForceArray(t *testing.T) {
	out := build(t, "<root><x>1</x></root>", Options{})
	assert.Equal(t, map[string]any{
		"root": map[string]any{"x": "1"},
	}, out)
}

func TestBuild_RepeatedChildrenBecomeArray(t *testing.T) {
	out := build(t, "<root><x>1</x><y>a</y><x>2</x></root>", Options{})
	assert.Equal(t, map[string]any{
		"root": map[string]any{
			"x": []any{"1", "2"},
			"y": "a",
		},
	}, out)
}

func TestBuild_AttributesAndContent(t *testing.T) {
	out := build(t, `<root><item id="7">text</item></root>`, Options{})
	assert.Equal(t, map[string]any{
		"root": map[string]any{
			"item": map[string]any{"id": "7", "content": "text"},
		},
	}, out)
}

func TestBuild_ForceContent(t *testing.T) {
	out := build(t, "<root><x>1</x></root>", Options{ForceContent: true})
	assert.Equal(t, map[string]any{
		"root": map[string]any{
			"x": map[string]any{"content": "1"},
		},
	}, out)
}

func TestBuild_CustomContentKey(t *testing.T) {
	out := build(t, `<root a="b">t</root>`, Options{ContentKey: "value"})
	assert.Equal(t, map[string]any{
		"root": map[string]any{"a": "b", "value": "t"},
	}, out)
}

func TestBuild_SuppressEmpty(t *testing.T) {
	src := "<root><empty/><x>1</x><blank>  </blank></root>"

	out := build(t, src, Options{SuppressEmpty: true})
	assert.Equal(t, map[string]any{
		"root": map[string]any{"x": "1"},
	}, out)

	out = build(t, src, Options{})
	assert.Equal(t, map[string]any{
		"root": map[string]any{
			"empty": map[string]any{},
			"x":     "1",
			"blank": map[string]any{},
		},
	}, out)
}

func TestBuild_EmptyRootSuppressed(t *testing.T) {
	out := build(t, "<root/>", Options{SuppressEmpty: true})
	assert.Empty(t, out)
}

func TestBuild_AttributeOnlyElementIsNotEmpty(t *testing.T) {
	out := build(t, `<root><e k="v"/></root>`, Options{SuppressEmpty: true, ForceArray: true})
	assert.Equal(t, map[string]any{
		"root": map[string]any{
			"e": []any{map[string]any{"k": "v"}},
		},
	}, out)
}

func TestBuild_PrefixedNames(t *testing.T) {
	out := build(t, `<root xmlns:f="urn:f"><f:a f:k="v">1</f:a></root>`, Options{})
	assert.Equal(t, map[string]any{
		"root": map[string]any{
			"xmlns:f": "urn:f",
			"f:a":     map[string]any{"f:k": "v", "content": "1"},
		},
	}, out)
}

func TestBuild_NestedStructure(t *testing.T) {
	src := `<order id="1"><line><sku>A</sku><qty>2</qty></line><line><sku>B</sku><qty>1</qty></line></order>`
	out := build(t, src, Options{ForceArray: false})
	assert.Equal(t, map[string]any{
		"order": map[string]any{
			"id": "1",
			"line": []any{
				map[string]any{"sku": "A", "qty": "2"},
				map[string]any{"sku": "B", "qty": "1"},
			},
		},
	}, out)
}

func TestBuild_NoRootElement(t *testing.T) {
	doc, err := markup.Parse([]byte("nothing here"), "UTF-8", markup.Recover)
	require.NoError(t, err)

	_, err = Build(doc.Root, Options{})
	assert.True(t, errors.Is(err, markup.ErrNoRootElement))
}

func TestBuild_RecoveredWithoutRootIsEmpty(t *testing.T) {
	doc, err := markup.Parse([]byte("nothing here"), "UTF-8", markup.Recover)
	require.NoError(t, err)

	out, err := Build(doc.Root, Options{Lenient: true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{}, out)
}

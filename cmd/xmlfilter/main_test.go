package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const stageYAML = `
source: msg
target: doc
force_array: false
path_queries:
  "//item/text()": items
`

func writeStage(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stage.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func decodeLines(t *testing.T, out string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &ev), "line %q", line)
		events = append(events, ev)
	}
	return events
}

func TestRun_FiltersEventsInOrder(t *testing.T) {
	cfg := writeStage(t, stageYAML)
	input := strings.Join([]string{
		`{"msg":"<root><item>a</item></root>"}`,
		``,
		`{"msg":"<root><item>a</item><item>b</item></root>"}`,
		`{"msg":["<a/>","<b/>"]}`,
		`{"other":1}`,
	}, "\n")

	stdout, stderr, err := execute(t, input, "run", "--config", cfg, "--batch-size", "2", "--summary")
	require.NoError(t, err)

	events := decodeLines(t, stdout)
	require.Len(t, events, 4)
	assert.Equal(t, "a", events[0]["items"])
	assert.Equal(t, []any{"a", "b"}, events[1]["items"])
	assert.Equal(t, []any{"_xmlparsefailure"}, events[2]["tags"])
	assert.NotContains(t, events[3], "doc")

	assert.Contains(t, stderr, "processed=4 tagged=1 skipped=1 invalid=0")
}

func TestRun_KeepsMarkupUnescaped(t *testing.T) {
	cfg := writeStage(t, "source: msg\nstore_whole_document: false\nforce_array: false\npath_queries:\n  /root/item: raw\n")
	stdout, _, err := execute(t, `{"msg":"<root><item>a</item></root>"}`, "run", "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"raw":"<item>a</item>"`)
}

func TestRun_InvalidLinesFail(t *testing.T) {
	cfg := writeStage(t, stageYAML)
	input := "{\"msg\":\"<root/>\"}\nnot json\n[1,2]\n"

	stdout, _, err := execute(t, input, "run", "--config", cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 input lines")
	assert.Len(t, decodeLines(t, stdout), 1)
}

func TestRun_ReadsFileArgument(t *testing.T) {
	cfg := writeStage(t, stageYAML)
	in := filepath.Join(t.TempDir(), "events.ndjson")
	require.NoError(t, os.WriteFile(in, []byte(`{"msg":"<root><item>z</item></root>"}`+"\n"), 0o644))

	stdout, _, err := execute(t, "", "run", "--config", cfg, in)
	require.NoError(t, err)
	events := decodeLines(t, stdout)
	require.Len(t, events, 1)
	assert.Equal(t, "z", events[0]["items"])
}

func TestRun_ConfigFromEnvironment(t *testing.T) {
	cfg := writeStage(t, stageYAML)
	t.Setenv("XMLFILTER_CONFIG", cfg)

	stdout, _, err := execute(t, `{"msg":"<root><item>e</item></root>"}`, "run")
	require.NoError(t, err)
	assert.Equal(t, "e", decodeLines(t, stdout)[0]["items"])
}

func TestCheck_Valid(t *testing.T) {
	cfg := writeStage(t, stageYAML)

	stdout, _, err := execute(t, "", "check", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, stdout, "//item/text() -> items")
	assert.Contains(t, stdout, "NOERROR|NONET|NOWARNING|RECOVER")

	stdout, _, err = execute(t, "", "check", "--config", cfg, "--json")
	require.NoError(t, err)
	var report checkReport
	require.NoError(t, json.Unmarshal([]byte(stdout), &report))
	assert.Equal(t, "msg", report.Source)
	assert.Equal(t, []string{"//item/text() -> items"}, report.Queries)
}

func TestCheck_Invalid(t *testing.T) {
	tests := map[string]string{
		"missing target": "source: msg\n",
		"unknown flag":   "source: msg\nstore_whole_document: false\nparse_options: recover|bogus\n",
		"bad expression": "source: msg\nstore_whole_document: false\npath_queries:\n  \"//a[\": out\n",
		"unknown key":    "source: msg\nstore_whole_document: false\nsauce: msg\n",
		"missing source": "store_whole_document: false\n",
	}
	for name, body := range tests {
		cfg := writeStage(t, body)
		_, _, err := execute(t, "", "check", "--config", cfg)
		assert.Error(t, err, name)
	}

	_, _, err := execute(t, "", "check", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

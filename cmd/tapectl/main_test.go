package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTapeFile(t *testing.T, root, rel, program string) {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	doc := `{
  "schemaVersion": 1,
  "meta": {"createdAt": "2024-01-01T00:00:00Z", "program": "` + program + `", "args": [], "env": {}, "cwd": "", "pty": {"rows": 24, "cols": 80}},
  "session": {"recorder": "test", "platform": "linux"},
  "exchanges": [{"pre": {"prompt": ""}, "input": {"kind": "line", "text": "hi"}, "output": {"chunks": []}, "durMs": 0}]
}`
	require.NoError(t, os.WriteFile(full, []byte(doc), 0644))
}

func TestRunHelp(t *testing.T) {
	assert.NoError(t, run([]string{"help"}))
	assert.NoError(t, run([]string{"-h"}))
}

func TestRunUnknownCommand(t *testing.T) {
	assert.Error(t, run([]string{"bogus"}))
}

func TestRunValidateAcceptsWellFormedTape(t *testing.T) {
	dir := t.TempDir()
	writeTapeFile(t, dir, "bash/case.json5", "bash")
	assert.NoError(t, run([]string{"validate", filepath.Join(dir, "bash/case.json5")}))
}

func TestRunValidateRejectsMalformedTape(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "broken.json5")
	require.NoError(t, os.WriteFile(full, []byte("{not json"), 0644))
	assert.Error(t, run([]string{"validate", full}))
}

func TestRunValidateWalksDirectory(t *testing.T) {
	dir := t.TempDir()
	writeTapeFile(t, dir, "bash/case.json5", "bash")
	writeTapeFile(t, dir, "zsh/case.json5", "zsh")
	assert.NoError(t, run([]string{"validate", dir}))
}

func TestRunSummaryOnEmptyStore(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, run([]string{"summary", dir}))
}

func TestRunSummaryMissingArgErrors(t *testing.T) {
	assert.Error(t, run([]string{"summary"}))
}

func TestTruncatePathLeavesShortPathsAlone(t *testing.T) {
	assert.Equal(t, "bash/case.json5", truncatePath("bash/case.json5", 40))
}

func TestTruncatePathShortensLongPaths(t *testing.T) {
	long := "/very/deeply/nested/tapes/root/bash/2024-01-01-abc123.json5"
	got := truncatePath(long, 20)
	assert.LessOrEqual(t, len(got), 20)
	assert.True(t, len(got) > 3 && got[:3] == "...")
}

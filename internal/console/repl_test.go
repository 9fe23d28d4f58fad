package console

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/store"
	"github.com/termvcr/termvcr/internal/tape"
)

func strPtr(s string) *string { return &s }

func sampleTape(program, input string) *tape.Tape {
	return &tape.Tape{
		SchemaVersion: tape.SchemaVersion,
		Meta: tape.Meta{
			CreatedAt: "2024-01-01T00:00:00Z",
			Program:   program,
			Args:      []string{},
			Env:       map[string]string{},
			Cwd:       "",
			PTY:       tape.PTYSize{Rows: 24, Cols: 80},
		},
		Session: tape.SessionInfo{Recorder: "test", Platform: "linux"},
		Exchanges: []tape.Exchange{
			{
				Pre:    tape.Pre{},
				Input:  tape.Input{Kind: tape.InputLine, Text: strPtr(input + "\n")},
				Output: tape.Output{Chunks: []tape.Chunk{{DelayMs: 0, DataB64: "aGVsbG8=", IsUTF8: true}}},
				DurMs:  1,
			},
		},
	}
}

func newStoreWithTape(t *testing.T, rel string, tp *tape.Tape) *store.Store {
	t.Helper()
	root := t.TempDir()
	data, err := tape.Encode(tp)
	require.NoError(t, err)
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, data, 0644))
	st, err := store.Open(root, match.Rules{})
	require.NoError(t, err)
	return st
}

func TestEvalFindMatch(t *testing.T) {
	st := newStoreWithTape(t, "bash/case.json5", sampleTape("bash", "echo hi"))
	var buf bytes.Buffer
	c := New(st, &buf)
	require.NoError(t, c.Eval(":find bash echo hi"))
	assert.Contains(t, buf.String(), "matched bash")
}

func TestEvalFindMissShowsNearest(t *testing.T) {
	st := newStoreWithTape(t, "bash/case.json5", sampleTape("bash", "echo hi"))
	var buf bytes.Buffer
	c := New(st, &buf)
	require.NoError(t, c.Eval(":find bash totally different"))
	assert.Contains(t, buf.String(), "no match")
}

func TestEvalShowPrintsExchanges(t *testing.T) {
	st := newStoreWithTape(t, "bash/case.json5", sampleTape("bash", "echo hi"))
	var buf bytes.Buffer
	c := New(st, &buf)
	require.NoError(t, c.Eval(":show bash/case.json5"))
	assert.Contains(t, buf.String(), "bash")
	assert.Contains(t, buf.String(), "echo hi")
}

func TestEvalUnknownCommand(t *testing.T) {
	st := newStoreWithTape(t, "bash/case.json5", sampleTape("bash", "echo hi"))
	var buf bytes.Buffer
	c := New(st, &buf)
	assert.Error(t, c.Eval(":bogus"))
}

func TestListPathsSorted(t *testing.T) {
	st := newStoreWithTape(t, "bash/case.json5", sampleTape("bash", "echo hi"))
	c := New(st, &bytes.Buffer{})
	assert.Equal(t, []string{"bash/case.json5"}, c.ListPaths())
}

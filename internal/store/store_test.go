package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/tape"
)

func writeTapeFile(t *testing.T, root, rel string, tp *tape.Tape) {
	t.Helper()
	data, err := tape.Encode(tp)
	require.NoError(t, err)
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, data, 0644))
}

func sampleTape(program, input string) *tape.Tape {
	return &tape.Tape{
		SchemaVersion: tape.SchemaVersion,
		Meta: tape.Meta{
			CreatedAt: "2024-01-01T00:00:00Z",
			Program:   program,
			Args:      []string{input},
			Env:       map[string]string{},
			Cwd:       "/tmp",
			PTY:       tape.PTYSize{Rows: 24, Cols: 80},
		},
		Session: tape.SessionInfo{Recorder: "test", Platform: "linux"},
		Exchanges: []tape.Exchange{
			{
				Pre:    tape.Pre{Prompt: "> "},
				Input:  tape.Input{Kind: tape.InputLine, Text: strPtr(input + "\n")},
				Output: tape.Output{Chunks: []tape.Chunk{{DelayMs: 0, DataB64: "aGVsbG8=", IsUTF8: true}}},
				DurMs:  1,
			},
		},
	}
}

func strPtr(s string) *string { return &s }

func TestOpenLoadsAndIndexes(t *testing.T) {
	dir := t.TempDir()
	writeTapeFile(t, dir, "echo-prompt/hello.json5", sampleTape("echo-prompt", "hello"))

	s, err := Open(dir, match.Rules{})
	require.NoError(t, err)

	tp, ex, ok := s.Find(match.Context{
		Program:   "echo-prompt",
		Argv:      []string{"hello"},
		Cwd:       "/tmp",
		Prompt:    "> ",
		InputKind: match.InputLine,
		InputText: "hello\n",
	})
	require.True(t, ok)
	assert.Equal(t, "echo-prompt", tp.Meta.Program)
	assert.NotNil(t, ex)
}

func TestOpenSkipsInvalidTape(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.json5"), []byte("{not valid"), 0644))
	writeTapeFile(t, dir, "good.json5", sampleTape("prog", "x"))

	s, err := Open(dir, match.Rules{})
	require.NoError(t, err)
	newT, unused := s.Summary()
	assert.Empty(t, newT)
	assert.Len(t, unused, 1)
}

func TestWriteAtomicAndFindable(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, match.Rules{})
	require.NoError(t, err)

	tp := sampleTape("newprog", "world")
	require.NoError(t, s.Write("newprog/world.json5", tp))

	_, _, ok := s.Find(match.Context{
		Program:   "newprog",
		Argv:      []string{"world"},
		Cwd:       "/tmp",
		Prompt:    "> ",
		InputKind: match.InputLine,
		InputText: "world\n",
	})
	assert.True(t, ok)

	newT, _ := s.Summary()
	assert.Len(t, newT, 1)

	// on-disk file must exist and decode.
	full := filepath.Join(dir, "newprog/world.json5")
	raw, err := os.ReadFile(full)
	require.NoError(t, err)
	_, err = tape.Decode(full, raw)
	require.NoError(t, err)
}

func TestWriteRejectsPathEscape(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, match.Rules{})
	require.NoError(t, err)
	err = s.Write("../escape.json5", sampleTape("p", "x"))
	assert.Error(t, err)
}

func TestWriteRejectsWrongExtension(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, match.Rules{})
	require.NoError(t, err)
	err = s.Write("foo.json", sampleTape("p", "x"))
	assert.Error(t, err)
}

func TestNearestKeys(t *testing.T) {
	dir := t.TempDir()
	writeTapeFile(t, dir, "echo-prompt/hello.json5", sampleTape("echo-prompt", "hello"))
	s, err := Open(dir, match.Rules{})
	require.NoError(t, err)
	nearest := s.NearestKeys("hallo", 5)
	require.NotEmpty(t, nearest)
	assert.Equal(t, "hello", nearest[0])
}

func TestAtomicWriteNeverLeavesPartialFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "tape.json5")

	setTestHookCrashBeforeRename(func() { panic("simulated crash") })
	defer setTestHookCrashBeforeRename(nil)

	func() {
		defer func() { recover() }()
		_ = atomicWriteFile(target, []byte("data"), 0644)
	}()

	_, err := os.Stat(target)
	assert.True(t, os.IsNotExist(err))
}

package tui

import (
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

func openStoreWithTapes(t *testing.T, names ...string) *store.Store {
	t.Helper()
	root := t.TempDir()
	for _, name := range names {
		tp := &tape.Tape{
			SchemaVersion: tape.SchemaVersion,
			Meta: tape.Meta{
				CreatedAt: "2024-01-01T00:00:00Z",
				Program:   name,
				Env:       map[string]string{},
				PTY:       tape.PTYSize{Rows: 24, Cols: 80},
			},
			Session: tape.SessionInfo{Recorder: "test", Platform: "linux"},
			Exchanges: []tape.Exchange{
				{Input: tape.Input{Kind: tape.InputLine, Text: strPtr("hi\n")}},
			},
		}
		data, err := tape.Encode(tp)
		require.NoError(t, err)
		full := filepath.Join(root, name, "case.json5")
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, data, 0644))
	}
	st, err := store.Open(root, match.Rules{})
	require.NoError(t, err)
	return st
}

func TestNewModelListsSortedTapes(t *testing.T) {
	st := openStoreWithTapes(t, "zsh", "bash")
	m := New(st)
	require.Len(t, m.rows, 2)
	assert.Equal(t, "bash/case.json5", m.rows[0].path)
	assert.Equal(t, "zsh/case.json5", m.rows[1].path)
}

func TestHandleKeyMovesCursorWithinBounds(t *testing.T) {
	st := openStoreWithTapes(t, "zsh", "bash")
	m := New(st)

	m, _ = m.handleKey("j")
	assert.Equal(t, 1, m.cursor)

	m, _ = m.handleKey("j")
	assert.Equal(t, 1, m.cursor, "cursor should not move past the last row")

	m, _ = m.handleKey("k")
	assert.Equal(t, 0, m.cursor)
}

func TestHandleKeyQuitsOnQ(t *testing.T) {
	st := openStoreWithTapes(t, "bash")
	m := New(st)
	updated, cmd := m.handleKey("q")
	require.NotNil(t, cmd)
	assert.True(t, updated.quitting)
}

func TestViewShowsSelectedDetail(t *testing.T) {
	st := openStoreWithTapes(t, "bash")
	m := New(st)
	view := m.View()
	assert.Contains(t, view.Content, "bash/case.json5")
	assert.Contains(t, view.Content, "hi")
}

func TestPadToWidthPadsShortStrings(t *testing.T) {
	assert.Equal(t, "ab   ", padToWidth("ab", 5))
}

func TestPadToWidthLeavesWideStringsAlone(t *testing.T) {
	assert.Equal(t, "abcdef", padToWidth("abcdef", 3))
}

func TestMaxPathWidthPicksLongest(t *testing.T) {
	rows := []row{{path: "a"}, {path: "abc"}, {path: "ab"}}
	assert.Equal(t, 3, maxPathWidth(rows))
}

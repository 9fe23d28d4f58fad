package namegen

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termvcr/termvcr/internal/tape"
)

func TestDefaultNamingScheme(t *testing.T) {
	gen := Default("prog  ", 1700000000000)
	tp := &tape.Tape{Meta: tape.Meta{Program: "/usr/bin/prog"}}
	path, err := gen(tp)
	require.NoError(t, err)
	assert.Regexp(t, `^prog/unnamed-1700000000000-[0-9a-f]{8}\.json5$`, path)
}

func TestDefaultNamingUsesTag(t *testing.T) {
	tag := "smoke"
	gen := Default("prog", 1700000000000)
	tp := &tape.Tape{Meta: tape.Meta{Program: "prog", Tag: &tag}}
	path, err := gen(tp)
	require.NoError(t, err)
	assert.Regexp(t, `^prog/smoke-1700000000000-[0-9a-f]{8}\.json5$`, path)
}

func TestDefaultNamingFallsBackToUUIDWithoutTimestamp(t *testing.T) {
	gen := Default("prog", 0)
	tp := &tape.Tape{Meta: tape.Meta{Program: "prog"}}
	path, err := gen(tp)
	require.NoError(t, err)
	assert.Regexp(t, `^prog/unnamed-[0-9a-f]{8}-[0-9a-f]{8}\.json5$`, path)
}

func TestDisambiguateAppendsSuffixBeforeExtension(t *testing.T) {
	got := Disambiguate("prog/unnamed-123-abcdef01.json5")
	assert.Regexp(t, `^prog/unnamed-123-abcdef01-[0-9a-f]{8}\.json5$`, got)
	assert.NotEqual(t, "prog/unnamed-123-abcdef01.json5", got)
}

func TestSummaryPlainTextWhenNotATerminal(t *testing.T) {
	var buf bytes.Buffer
	Summary(&buf, []string{"prog/a.json5"}, []string{"prog/b.json5"},
		map[string]int64{"prog/a.json5": 412}, map[string]int{"prog/a.json5": 3})
	out := buf.String()
	assert.Contains(t, out, "New tapes:")
	assert.Contains(t, out, "prog/a.json5")
	assert.Contains(t, out, "3 exchanges")
	assert.Contains(t, out, "Unused tapes:")
	assert.Contains(t, out, "prog/b.json5")
}

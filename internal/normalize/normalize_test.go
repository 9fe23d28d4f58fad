package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripANSI(t *testing.T) {
	in := "\x1b[32mhello\x1b[0m world\n"
	assert.Equal(t, "hello world\n", StripANSI(in))
}

func TestStripANSIUnterminatedKeptVerbatim(t *testing.T) {
	in := "abc\x1b[31"
	assert.Equal(t, in, StripANSI(in))
}

func TestCollapseWS(t *testing.T) {
	in := "a   b\tc \nd    \n"
	got := CollapseWS(in)
	assert.Equal(t, "a b c\nd\n", got)
}

func TestScrubPlaceholders(t *testing.T) {
	in := "at 2024-01-02T03:04:05Z pid=1234 id=550e8400-e29b-41d4-a716-446655440000 addr=00007ffeabcdef01"
	got := Scrub(in)
	assert.Contains(t, got, PlaceholderTimestamp)
	assert.Contains(t, got, PlaceholderPID)
	assert.Contains(t, got, PlaceholderUUID)
	assert.Contains(t, got, PlaceholderHex)
}

func TestNormalizeIdempotent(t *testing.T) {
	in := "\x1b[1mREADY:\x1b[0m  hello   2024-01-02T03:04:05Z pid=42\n"
	once := Normalize(in)
	twice := Normalize(once)
	require.Equal(t, once, twice)
}

func TestNormalizeOrder(t *testing.T) {
	// ansi stripped before whitespace collapsed before scrub runs.
	in := "\x1b[32m  hello  \x1b[0m  world  pid=7"
	got := Normalize(in)
	assert.Equal(t, " hello world <PID>", got)
}

func TestToValidTextReplacesInvalidUTF8(t *testing.T) {
	b := []byte{'a', 0xff, 'b'}
	got := ToValidText(b)
	assert.Contains(t, got, "a")
	assert.Contains(t, got, "b")
	assert.NotContains(t, got, string([]byte{0xff}))
}

package provenance

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecorderIDOutsideRepoFallsBackToUnknown(t *testing.T) {
	id := RecorderID(t.TempDir())
	commit := strings.SplitN(id, "@", 2)[0]
	assert.True(t, strings.HasPrefix(commit, "unknown-"), "got %q", id)
}

func TestRecorderIDFallbackIsUniquePerCall(t *testing.T) {
	dir := t.TempDir()
	a := RecorderID(dir)
	b := RecorderID(dir)
	assert.NotEqual(t, a, b, "fallback commit should differ between calls")
}

func TestRecorderIDHasHostSuffix(t *testing.T) {
	id := RecorderID(t.TempDir())
	parts := strings.SplitN(id, "@", 2)
	assert.Len(t, parts, 2)
	assert.NotEmpty(t, parts[1])
}

package replay

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/store"
)

func writeTape(t *testing.T, dir, name, program, input string, chunks []struct {
	delayMs int64
	data    string
}) {
	t.Helper()
	var chunksJSON string
	for i, c := range chunks {
		if i > 0 {
			chunksJSON += ","
		}
		chunksJSON += `{"delayMs":` + itoa(c.delayMs) + `,"dataB64":"` +
			base64.StdEncoding.EncodeToString([]byte(c.data)) + `","isUtf8":true}`
	}
	body := `{
  "schemaVersion": 1,
  "meta": {"createdAt":"2024-01-01T00:00:00Z","program":"` + program + `","args":[],"env":{},"cwd":"","pty":{"rows":24,"cols":80},"tag":null,"errorRate":0,"seed":1},
  "session": {"recorder":"t","platform":"linux"},
  "exchanges": [
    {"pre":{"prompt":"","stateHash":null},"input":{"kind":"line","text":"` + input + `","bytesB64":null},
     "output":{"chunks":[` + chunksJSON + `]}, "exit": null, "durMs": 0}
  ]
}`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, filepath.Dir(name)), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func TestSendExpectReplaysRecordedBytes(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, dir, "prog/a.json5", "prog", "hello\\n", []struct {
		delayMs int64
		data    string
	}{{0, "hi"}, {5, " there"}})

	st, err := store.Open(dir, match.Rules{})
	require.NoError(t, err)

	tr := New(st, match.Rules{}, "prog", nil, nil, "", ScalarLatency(0), 0, nil)
	_, err = tr.Send([]byte("hello\n"), match.InputLine, "hello\n", FallbackNotFound)
	require.NoError(t, err)

	res, err := tr.Expect([]*regexp.Regexp{regexp.MustCompile(`there`)}, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "there", res.MatchedText)
}

func TestSendMissReturnsTapeMissWithNearest(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, dir, "prog/a.json5", "prog", "hello\\n", []struct {
		delayMs int64
		data    string
	}{{0, "hi"}})

	st, err := store.Open(dir, match.Rules{})
	require.NoError(t, err)

	tr := New(st, match.Rules{}, "prog", nil, nil, "", nil, 0, nil)
	_, err = tr.Send([]byte("goodbye\n"), match.InputLine, "goodbye\n", FallbackNotFound)
	require.Error(t, err)
}

func TestLatencyOverrideBoundsTiming(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, dir, "prog/a.json5", "prog", "go\\n", []struct {
		delayMs int64
		data    string
	}{{0, "a"}, {50, "b"}, {50, "c"}})

	st, err := store.Open(dir, match.Rules{})
	require.NoError(t, err)

	tr := New(st, match.Rules{}, "prog", nil, nil, "", ScalarLatency(0), 0, nil)
	start := time.Now()
	_, err = tr.Send([]byte("go\n"), match.InputLine, "go\n", FallbackNotFound)
	require.NoError(t, err)
	_, err = tr.Expect([]*regexp.Regexp{regexp.MustCompile(`c`)}, 2*time.Second)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestErrorInjectionDeterministicAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, dir, "prog/a.json5", "prog", "go\\n", []struct {
		delayMs int64
		data    string
	}{{0, "aa"}, {0, "bb"}, {0, "cc"}, {0, "dd"}})

	run := func() error {
		st, err := store.Open(dir, match.Rules{})
		require.NoError(t, err)
		tr := New(st, match.Rules{}, "prog", nil, nil, "", ScalarLatency(0), 100, nil)
		_, err = tr.Send([]byte("go\n"), match.InputLine, "go\n", FallbackNotFound)
		require.NoError(t, err)
		_, err = tr.Expect([]*regexp.Regexp{regexp.MustCompile(`dd`)}, 200*time.Millisecond)
		return err
	}

	err1 := run()
	err2 := run()
	assert.Equal(t, err1 == nil, err2 == nil)
}

// New takes no seed parameter, so the error-injection PRNG can only be
// seeded from the meta.seed of the tape each Send resolves against;
// this checks that two runs against the same tape get the same outcome.
func TestErrorInjectionSeededFromTapeMeta(t *testing.T) {
	dir := t.TempDir()
	writeTape(t, dir, "prog/a.json5", "prog", "go\\n", []struct {
		delayMs int64
		data    string
	}{{0, "aa"}, {0, "bb"}, {0, "cc"}, {0, "dd"}})

	run := func() error {
		st, err := store.Open(dir, match.Rules{})
		require.NoError(t, err)
		tr := New(st, match.Rules{}, "prog", nil, nil, "", ScalarLatency(0), 100, nil)
		_, err = tr.Send([]byte("go\n"), match.InputLine, "go\n", FallbackNotFound)
		require.NoError(t, err)
		_, err = tr.Expect([]*regexp.Regexp{regexp.MustCompile(`dd`)}, 200*time.Millisecond)
		return err
	}

	errA1 := run()
	errA2 := run()
	assert.Equal(t, errA1 == nil, errA2 == nil, "same tape seed should be deterministic across runs")
}

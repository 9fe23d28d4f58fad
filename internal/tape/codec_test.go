package tape

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTapeJSON() string {
	return `{
  // a comment, only legal because we read via hjson
  schemaVersion: 1,
  meta: {
    createdAt: "2024-01-01T00:00:00Z",
    program: "echo-prompt",
    args: ["hello"],
    env: {},
    cwd: "/tmp",
    pty: {rows: 24, cols: 80},
    tag: null,
    latency: null,
    errorRate: 0,
    seed: 0,
  },
  session: {recorder: "abc123", platform: "linux"},
  exchanges: [
    {
      pre: {prompt: "> ", stateHash: null},
      input: {kind: "line", text: "hello\n", bytesB64: null},
      output: {chunks: [{delayMs: 0, dataB64: "UkVBRFk6aGVsbG8KPiA=", isUtf8: true}]},
      exit: null,
      durMs: 5,
    },
  ],
  extraField: "kept",
}`
}

func TestDecodeRoundTrip(t *testing.T) {
	tp, err := Decode("t.json5", []byte(sampleTapeJSON()))
	require.NoError(t, err)
	assert.Equal(t, "echo-prompt", tp.Meta.Program)
	assert.Len(t, tp.Exchanges, 1)
	assert.Equal(t, InputLine, tp.Exchanges[0].Input.Kind)
	assert.Contains(t, tp.Extra, "extraField")

	out, err := Encode(tp)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"extraField"`)
	assert.Contains(t, string(out), `"echo-prompt"`)

	tp2, err := Decode("t2.json5", out)
	require.NoError(t, err)
	assert.Equal(t, tp.Meta.Program, tp2.Meta.Program)
}

func TestDecodeRejectsWrongSchemaVersion(t *testing.T) {
	bad := `{schemaVersion: 2, meta: {}, session: {}, exchanges: [{}]}`
	_, err := Decode("t.json5", []byte(bad))
	require.Error(t, err)
}

func TestDecodeRejectsEmptyExchanges(t *testing.T) {
	bad := `{schemaVersion: 1, meta: {}, session: {}, exchanges: []}`
	_, err := Decode("t.json5", []byte(bad))
	require.Error(t, err)
}

func TestLatencyScalarRoundTrip(t *testing.T) {
	var l Latency
	require.NoError(t, l.UnmarshalJSON([]byte("100")))
	require.NotNil(t, l.Scalar)
	assert.EqualValues(t, 100, *l.Scalar)

	b, err := l.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, "100", string(b))
}

func TestLatencyRangeRoundTrip(t *testing.T) {
	var l Latency
	require.NoError(t, l.UnmarshalJSON([]byte("[10,20]")))
	require.NotNil(t, l.Range)
	assert.Equal(t, [2]int64{10, 20}, *l.Range)
}

func TestSchemaCheckerValidatesShape(t *testing.T) {
	checker, err := NewSchemaChecker([]byte(DefaultTapeSchema))
	require.NoError(t, err)
	require.NoError(t, checker.Validate("t.json5", []byte(sampleTapeJSON())))

	bad := `{schemaVersion: 1}`
	err = checker.Validate("t.json5", []byte(bad))
	assert.Error(t, err)
}

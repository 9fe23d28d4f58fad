package tape

import (
	"bytes"
	"encoding/json"
	"fmt"

	hjson "github.com/hjson/hjson-go/v4"
	"github.com/kaptinlin/jsonschema"

	"github.com/termvcr/termvcr/internal/termvcrerr"
)

// knownTopLevelFields lists the fixed top-level keys; anything else in
// the decoded tree is preserved in Tape.Extra.
var knownTopLevelFields = map[string]bool{
	"schemaVersion": true,
	"meta":          true,
	"session":       true,
	"exchanges":     true,
}

// Decode parses raw JSON5-flavored ("Hjson") tape text into a typed
// Tape. Unknown top-level fields are preserved verbatim in Extra.
// SchemaVersion values other than the current one are rejected with
// schema-error, per spec: migration tooling is out of scope.
func Decode(path string, raw []byte) (*Tape, error) {
	var tree map[string]any
	if err := hjson.Unmarshal(raw, &tree); err != nil {
		return nil, termvcrerr.Wrap(termvcrerr.KindSchemaError, err,
			"malformed tape document").WithLocation(path, 0)
	}

	// Re-marshal the generic tree to strict JSON so encoding/json can
	// decode it into the typed struct; this is the two-stage decode
	// that lets hjson's relaxed grammar coexist with strict field
	// typing.
	canonical, err := json.Marshal(tree)
	if err != nil {
		return nil, termvcrerr.Wrap(termvcrerr.KindSchemaError, err,
			"tape document could not be re-encoded as JSON").WithLocation(path, 0)
	}

	var t Tape
	if err := json.Unmarshal(canonical, &t); err != nil {
		return nil, termvcrerr.Wrap(termvcrerr.KindSchemaError, err,
			"tape document does not match the expected shape").WithLocation(path, 0)
	}

	if t.SchemaVersion != SchemaVersion {
		return nil, termvcrerr.New(termvcrerr.KindSchemaError,
			"unsupported schemaVersion %d (expected %d)", t.SchemaVersion, SchemaVersion).
			WithLocation(path, 0)
	}

	extra := map[string]json.RawMessage{}
	var rawTree map[string]json.RawMessage
	if err := json.Unmarshal(canonical, &rawTree); err == nil {
		for k, v := range rawTree {
			if !knownTopLevelFields[k] {
				extra[k] = v
			}
		}
	}
	t.Extra = extra

	if len(t.Exchanges) == 0 {
		return nil, termvcrerr.New(termvcrerr.KindSchemaError,
			"tape has no exchanges").WithLocation(path, 0)
	}

	return &t, nil
}

// Encode renders t as strict, pretty-printed JSON (indent = 2, fields
// in the order this package declares them). Unknown fields preserved
// in Extra are re-emitted alongside the known top-level fields; when
// Extra is non-empty, all top-level keys are written in sorted order,
// while nested objects keep declaration order. termvcr
// never writes JSON5 sugar itself; strict JSON is valid JSON5, so the
// file remains human-editable after the fact via comments a human adds
// later (round-tripped through Extra only if hjson surfaces them as
// data, which comments are not).
func Encode(t *Tape) ([]byte, error) {
	type alias Tape
	base, err := json.Marshal((*alias)(t))
	if err != nil {
		return nil, fmt.Errorf("encode tape: %w", err)
	}

	if len(t.Extra) == 0 {
		return prettyPrint(base)
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, fmt.Errorf("encode tape: %w", err)
	}
	for k, v := range t.Extra {
		if !knownTopLevelFields[k] {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("encode tape: %w", err)
	}
	return prettyPrint(out)
}

func prettyPrint(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, b, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// SchemaChecker is the optional stricter validator plugged into
// Decode's callers. When nil, validation stays structural-only as the
// contract specifies.
type SchemaChecker struct {
	schema *jsonschema.Schema
}

// NewSchemaChecker compiles a JSON Schema document describing the
// exact field shapes of the on-disk tape format.
func NewSchemaChecker(schemaJSON []byte) (*SchemaChecker, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile tape schema: %w", err)
	}
	return &SchemaChecker{schema: schema}, nil
}

// Validate runs the strict schema check over raw tape bytes (after
// hjson normalization to plain JSON), returning schema-error with the
// first violation's field path on failure.
func (c *SchemaChecker) Validate(path string, raw []byte) error {
	var tree any
	if err := hjson.Unmarshal(raw, &tree); err != nil {
		return termvcrerr.Wrap(termvcrerr.KindSchemaError, err, "malformed tape document").WithLocation(path, 0)
	}
	canonical, err := json.Marshal(tree)
	if err != nil {
		return termvcrerr.Wrap(termvcrerr.KindSchemaError, err, "tape document could not be re-encoded").WithLocation(path, 0)
	}
	result := c.schema.ValidateJSON(canonical)
	if !result.IsValid() {
		var firstField string
		for field := range result.Errors {
			firstField = field
			break
		}
		return termvcrerr.New(termvcrerr.KindSchemaError,
			"tape document failed strict schema validation at %q", firstField).WithLocation(path, 0)
	}
	return nil
}

// DefaultTapeSchema is a minimal JSON Schema document describing the
// on-disk tape format's top-level shape, suitable for NewSchemaChecker.
const DefaultTapeSchema = `{
  "type": "object",
  "required": ["schemaVersion", "meta", "session", "exchanges"],
  "properties": {
    "schemaVersion": {"type": "integer"},
    "meta": {
      "type": "object",
      "required": ["createdAt", "program", "args", "env", "cwd", "pty"]
    },
    "session": {
      "type": "object",
      "required": ["recorder", "platform"]
    },
    "exchanges": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["pre", "input", "output", "durMs"]
      }
    }
  }
}`

// Package match builds the composite matching key used to look up a
// recorded exchange from a live send: program, argv, env, cwd, prompt,
// input, and an optional caller-supplied state hash, canonicalized and
// hashed with SHA-256 over a JSON Canonicalization Scheme (RFC 8785)
// encoding so the key is stable regardless of Go map iteration order.
package match

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"

	"github.com/termvcr/termvcr/internal/normalize"
)

// InputKind distinguishes a line-oriented send from a raw byte send.
type InputKind string

const (
	InputLine InputKind = "line"
	InputRaw  InputKind = "raw"
)

// Context is the immutable set of inputs to one lookup.
type Context struct {
	Program    string
	Argv       []string
	Env        map[string]string
	Cwd        string
	Prompt     string
	InputKind  InputKind
	InputText  string
	StateHash  string
	IgnoreStdin bool
}

// CommandMatcher overrides step 1 (program path resolution). It must
// be pure and side-effect free.
type CommandMatcher interface {
	MatchCommand(program string) string
}

// StdinMatcher overrides step 6 (input decoding). It must be pure and
// side-effect free.
type StdinMatcher interface {
	MatchStdin(kind InputKind, text string) string
}

// CommandMatcherFunc adapts a plain function to a CommandMatcher.
type CommandMatcherFunc func(program string) string

func (f CommandMatcherFunc) MatchCommand(program string) string { return f(program) }

// StdinMatcherFunc adapts a plain function to a StdinMatcher.
type StdinMatcherFunc func(kind InputKind, text string) string

func (f StdinMatcherFunc) MatchStdin(kind InputKind, text string) string { return f(kind, text) }

// Rules configures the matcher pipeline's allow/ignore behaviour.
type Rules struct {
	AllowEnv       []string
	IgnoreEnv      []string
	IgnoreArgs     []any // int index or string prefix
	CommandMatcher CommandMatcher
	StdinMatcher   StdinMatcher
}

// Key computes the composite match key for ctx under rules.
func Key(ctx Context, rules Rules) string {
	fields := buildFields(ctx, rules)
	canonical, err := jcs.Transform(mustMarshal(fields))
	if err != nil {
		// jcs.Transform only fails on malformed JSON input, which
		// mustMarshal cannot produce; fall back to the uncanonicalized
		// encoding rather than panicking on a matching-path call.
		canonical = mustMarshal(fields)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func mustMarshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func buildFields(ctx Context, rules Rules) map[string]any {
	program := ctx.Program
	if rules.CommandMatcher != nil {
		program = rules.CommandMatcher.MatchCommand(program)
	} else {
		program = filepath.Base(program)
	}

	argv := elideArgs(ctx.Argv, rules.IgnoreArgs)

	env := filterEnv(ctx.Env, rules.AllowEnv, rules.IgnoreEnv)

	cwd := ctx.Cwd
	if cwd != "" {
		if abs, err := filepath.Abs(cwd); err == nil {
			cwd = abs
		}
	}

	prompt := normalize.Normalize(ctx.Prompt)

	var input string
	if ctx.IgnoreStdin {
		input = ""
	} else if rules.StdinMatcher != nil {
		input = rules.StdinMatcher.MatchStdin(ctx.InputKind, ctx.InputText)
	} else {
		input = defaultStdinMatch(ctx.InputKind, ctx.InputText)
	}

	return map[string]any{
		"program":   program,
		"argv":      argv,
		"env":       env,
		"cwd":       cwd,
		"prompt":    prompt,
		"input":     input,
		"stateHash": ctx.StateHash,
	}
}

func defaultStdinMatch(kind InputKind, text string) string {
	if kind == InputLine {
		text = strings.TrimSuffix(text, "\r\n")
		text = strings.TrimSuffix(text, "\n")
	}
	return normalize.Normalize(text)
}

func elideArgs(argv []string, ignore []any) []string {
	if len(ignore) == 0 {
		out := make([]string, len(argv))
		copy(out, argv)
		return out
	}
	idxIgnore := map[int]bool{}
	var prefixIgnore []string
	for _, ig := range ignore {
		switch v := ig.(type) {
		case int:
			idxIgnore[v] = true
		case string:
			prefixIgnore = append(prefixIgnore, v)
		}
	}
	out := make([]string, len(argv))
	for i, a := range argv {
		if idxIgnore[i] {
			out[i] = "<IGN>"
			continue
		}
		ignored := false
		for _, p := range prefixIgnore {
			if strings.HasPrefix(a, p) {
				ignored = true
				break
			}
		}
		if ignored {
			out[i] = "<IGN>"
		} else {
			out[i] = a
		}
	}
	return out
}

func filterEnv(env map[string]string, allow, ignore []string) map[string]string {
	out := map[string]string{}
	allowSet := map[string]bool{}
	for _, k := range allow {
		allowSet[k] = true
	}
	ignoreSet := map[string]bool{}
	for _, k := range ignore {
		ignoreSet[k] = true
	}
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if len(allowSet) > 0 {
			if allowSet[k] {
				out[k] = env[k]
			}
			continue
		}
		if ignoreSet[k] {
			continue
		}
		out[k] = env[k]
	}
	return out
}

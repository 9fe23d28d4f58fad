// Package scripting hosts termvcr's matcher/decorator script support:
// a sandboxed goja VM exposing exactly the pure functions a tape
// author may want to override (commandMatcher, stdinMatcher,
// inputDecorator, outputDecorator, tapeDecorator) without granting
// scripts any filesystem, process, or network capability. Matcher and
// decorator calls are synchronous and single-threaded from the
// caller's perspective, so a bare goja.Runtime suffices; there is no
// event loop.
package scripting

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/console"
	"github.com/dop251/goja_nodejs/require"

	"github.com/termvcr/termvcr/internal/tape"
)

// MatcherHost loads a JS file and exposes whichever of the supported
// top-level functions it defines. Missing functions leave the
// corresponding Has* flag false; callers fall back to Go defaults.
type MatcherHost struct {
	vm *goja.Runtime

	commandMatcher  goja.Callable
	stdinMatcher    goja.Callable
	inputDecorator  goja.Callable
	outputDecorator goja.Callable
	tapeDecorator   goja.Callable
}

// LoadMatcherScript compiles and runs the script at path in a fresh,
// sandboxed runtime: no `fs`, `os`, `process`, or `fetch` bindings are
// registered, only `console` and CommonJS `require` for pure JS
// dependencies bundled alongside the script.
func LoadMatcherScript(path string) (*MatcherHost, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: read matcher script: %w", err)
	}

	vm := goja.New()
	registry := require.NewRegistry()
	registry.Enable(vm)
	console.Enable(vm)

	if _, err := vm.RunScript(path, string(src)); err != nil {
		return nil, fmt.Errorf("scripting: run matcher script %s: %w", path, err)
	}

	h := &MatcherHost{vm: vm}
	h.commandMatcher = lookupFunc(vm, "commandMatcher")
	h.stdinMatcher = lookupFunc(vm, "stdinMatcher")
	h.inputDecorator = lookupFunc(vm, "inputDecorator")
	h.outputDecorator = lookupFunc(vm, "outputDecorator")
	h.tapeDecorator = lookupFunc(vm, "tapeDecorator")
	return h, nil
}

func lookupFunc(vm *goja.Runtime, name string) goja.Callable {
	v := vm.Get(name)
	if v == nil || goja.IsUndefined(v) {
		return nil
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil
	}
	return fn
}

// HasCommandMatcher reports whether the script defines commandMatcher.
func (h *MatcherHost) HasCommandMatcher() bool { return h.commandMatcher != nil }

// MatchCommand implements match.CommandMatcher by calling the script's
// commandMatcher(program) function.
func (h *MatcherHost) MatchCommand(program string) string {
	if h.commandMatcher == nil {
		return program
	}
	v, err := h.commandMatcher(goja.Undefined(), h.vm.ToValue(program))
	if err != nil {
		return program
	}
	return v.String()
}

// HasStdinMatcher reports whether the script defines stdinMatcher.
func (h *MatcherHost) HasStdinMatcher() bool { return h.stdinMatcher != nil }

// MatchStdin calls the script's stdinMatcher(kind, text) function.
// kind is a plain string, so MatcherHost does not itself satisfy
// match.StdinMatcher; the transport wraps this method in a
// match.StdinMatcherFunc.
func (h *MatcherHost) MatchStdin(kind, text string) string {
	if h.stdinMatcher == nil {
		return text
	}
	v, err := h.stdinMatcher(goja.Undefined(), h.vm.ToValue(kind), h.vm.ToValue(text))
	if err != nil {
		return text
	}
	return v.String()
}

// HasInputDecorator reports whether the script defines inputDecorator.
func (h *MatcherHost) HasInputDecorator() bool { return h.inputDecorator != nil }

// DecorateInput implements recorder.InputDecorator by calling the
// script's inputDecorator(exchangeIndex, text) function.
func (h *MatcherHost) DecorateInput(exchangeIndex int, text string) string {
	if h.inputDecorator == nil {
		return text
	}
	v, err := h.inputDecorator(goja.Undefined(), h.vm.ToValue(exchangeIndex), h.vm.ToValue(text))
	if err != nil {
		return text
	}
	return v.String()
}

// HasOutputDecorator reports whether the script defines outputDecorator.
func (h *MatcherHost) HasOutputDecorator() bool { return h.outputDecorator != nil }

// DecorateOutput implements recorder.OutputDecorator by calling the
// script's outputDecorator(exchangeIndex, bytes) function, passed and
// returned as a JS string of raw bytes.
func (h *MatcherHost) DecorateOutput(exchangeIndex int, b []byte) []byte {
	if h.outputDecorator == nil {
		return b
	}
	v, err := h.outputDecorator(goja.Undefined(), h.vm.ToValue(exchangeIndex), h.vm.ToValue(string(b)))
	if err != nil {
		return b
	}
	return []byte(v.String())
}

// HasTapeDecorator reports whether the script defines tapeDecorator.
func (h *MatcherHost) HasTapeDecorator() bool { return h.tapeDecorator != nil }

// DecorateTape implements recorder.TapeDecorator by round-tripping t
// through JSON to a plain JS object, calling the script's
// tapeDecorator(tape) function, and decoding its return value back
// into a Tape. On any marshal/call/unmarshal failure, t is returned
// unmodified.
func (h *MatcherHost) DecorateTape(t *tape.Tape) *tape.Tape {
	if h.tapeDecorator == nil {
		return t
	}
	raw, err := tape.Encode(t)
	if err != nil {
		return t
	}
	var obj any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return t
	}
	v, err := h.tapeDecorator(goja.Undefined(), h.vm.ToValue(obj))
	if err != nil {
		return t
	}
	out, err := json.Marshal(v.Export())
	if err != nil {
		return t
	}
	decoded, err := tape.Decode("<script>", out)
	if err != nil {
		return t
	}
	return decoded
}

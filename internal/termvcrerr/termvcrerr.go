// Package termvcrerr defines the error taxonomy shared across the
// record/replay subsystem: a small closed set of kinds, each wrapped
// in a typed Error carrying the structured diagnostics callers need to
// report a failure without re-deriving context from the caller side.
package termvcrerr

import (
	"errors"
	"fmt"
)

// Kind identifies one of the error categories surfaced across the
// transport boundary.
type Kind string

const (
	KindSchemaError        Kind = "schema-error"
	KindTapeMiss           Kind = "tape-miss"
	KindRedactionError     Kind = "redaction-error"
	KindStoreBusy          Kind = "store-busy"
	KindRecorderReentrancy Kind = "recorder-reentrancy"
	KindSessionClosed      Kind = "session-closed"
	KindTimeout            Kind = "timeout"
	KindProcessError       Kind = "process-error"
	KindSimulatedTimeout   Kind = "simulated-timeout"
	KindSimulatedExit      Kind = "simulated-exit"
)

// Error is the concrete error type returned across the transport and
// store boundaries. Message is a one-sentence summary; the diagnostic
// fields are populated only where relevant to the Kind.
type Error struct {
	Kind Kind
	Msg  string

	// IdentityKey is the session-identity key (program, argv, cwd). Only
	// the replay transport's not_found tape-miss error sets it.
	IdentityKey string
	// BufferTail holds up to the last 50 lines of accumulated output,
	// populated for Timeout and tape-miss-adjacent diagnostics.
	BufferTail string
	// NearestKeys holds up to 5 nearest match keys by Levenshtein distance,
	// populated for KindTapeMiss.
	NearestKeys []string
	// Path/Line locate the offending tape file for KindSchemaError.
	Path string
	Line int

	Err error
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so that
// errors.Is(err, termvcrerr.New(KindTapeMiss, "")) works as a kind test.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// New constructs an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind that wraps err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// WithIdentity returns a copy of e with IdentityKey set.
func (e *Error) WithIdentity(key string) *Error {
	c := *e
	c.IdentityKey = key
	return &c
}

// WithBufferTail returns a copy of e with BufferTail set, truncated to
// at most 50 lines as required for user-visible diagnostics.
func (e *Error) WithBufferTail(tail string) *Error {
	c := *e
	c.BufferTail = truncateLines(tail, 50)
	return &c
}

// WithNearestKeys returns a copy of e with NearestKeys set, truncated
// to at most 5 entries.
func (e *Error) WithNearestKeys(keys []string) *Error {
	c := *e
	if len(keys) > 5 {
		keys = keys[:5]
	}
	c.NearestKeys = keys
	return &c
}

// WithLocation returns a copy of e with Path/Line set.
func (e *Error) WithLocation(path string, line int) *Error {
	c := *e
	c.Path = path
	c.Line = line
	return &c
}

func truncateLines(s string, maxLines int) string {
	lines := splitLines(s)
	if len(lines) <= maxLines {
		return s
	}
	lines = lines[len(lines)-maxLines:]
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += l
	}
	return out
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

// Is reports whether err is a termvcrerr *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

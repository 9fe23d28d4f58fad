// Package namegen implements the default tape naming scheme and the
// close-time summary rendering (new/unused tape lists), with
// terminal-aware styling when the destination writer is a real tty.
package namegen

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"path/filepath"

	"charm.land/lipgloss/v2"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mattn/go-isatty"

	"github.com/termvcr/termvcr/internal/tape"
)

// Generator computes a relative tape path for a finished session.
type Generator func(t *tape.Tape) (string, error)

// Default returns the default naming scheme:
// <program>/<tag-or-'unnamed'>-<unix-ms>-<short-hash>.json5, where
// short-hash is the first 8 hex chars of the SHA-256 of the
// session-identity key and unixMs is the recording's start time. A
// caller with no reliable start time (unixMs <= 0) gets a uuid-derived
// component instead, so concurrent recorders never collide on path.
func Default(identityKey string, unixMs int64) Generator {
	return func(t *tape.Tape) (string, error) {
		tag := "unnamed"
		if t.Meta.Tag != nil && *t.Meta.Tag != "" {
			tag = *t.Meta.Tag
		}
		sum := sha256.Sum256([]byte(identityKey))
		short := hex.EncodeToString(sum[:])[:8]
		program := filepath.Base(t.Meta.Program)
		timeComponent := fmt.Sprintf("%d", unixMs)
		if unixMs <= 0 {
			timeComponent = uuid.NewString()[:8]
		}
		return fmt.Sprintf("%s/%s-%s-%s.json5", program, tag, timeComponent, short), nil
	}
}

// Disambiguate appends a short uuid suffix to path to break a
// collision against an already-occupied tape path, preserving the
// .json5 extension.
func Disambiguate(path string) string {
	ext := filepath.Ext(path)
	base := path[:len(path)-len(ext)]
	return fmt.Sprintf("%s-%s%s", base, uuid.NewString()[:8], ext)
}

// Summary renders the close-time "New tapes"/"Unused tapes" report to
// w, styling with lipgloss when w is a real terminal (checked via
// go-isatty), and plain text otherwise.
func Summary(w io.Writer, newTapes, unused []string, sizes map[string]int64, exchangeCounts map[string]int) {
	styled := false
	if f, ok := w.(interface{ Fd() uintptr }); ok {
		styled = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}

	header := lipgloss.NewStyle().Bold(true)
	renderHeader := func(s string) string {
		if !styled {
			return s
		}
		return header.Render(s)
	}

	fmt.Fprintln(w, renderHeader("New tapes:"))
	if len(newTapes) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range newTapes {
		fmt.Fprintln(w, "  "+describeLine(p, sizes, exchangeCounts))
	}

	fmt.Fprintln(w, renderHeader("Unused tapes:"))
	if len(unused) == 0 {
		fmt.Fprintln(w, "  (none)")
	}
	for _, p := range unused {
		fmt.Fprintln(w, "  "+p)
	}
}

func describeLine(path string, sizes map[string]int64, exchangeCounts map[string]int) string {
	line := path
	if n, ok := exchangeCounts[path]; ok {
		size := sizes[path]
		line = fmt.Sprintf("%s (%d exchange%s, %s)", path, n, plural(n), humanize.Bytes(uint64(size)))
	}
	return line
}

func plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

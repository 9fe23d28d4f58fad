// Package normalize canonicalizes PTY output and input text for
// matching purposes: ANSI escape stripping, whitespace collapsing, and
// scrubbing of volatile substrings (timestamps, UUIDs, PIDs, hex
// addresses) behind stable placeholders.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Placeholders substituted by scrub for each volatile pattern class.
const (
	PlaceholderTimestamp = "<TS>"
	PlaceholderUUID      = "<UUID>"
	PlaceholderPID       = "<PID>"
	PlaceholderHex       = "<HEX>"
)

// ansiRE matches CSI/OSC/SGR escapes and other C1 terminal control
// sequences. It intentionally leaves an unterminated escape at the end
// of the string untouched: the caller re-normalizes once more bytes
// arrive.
var ansiRE = regexp.MustCompile(`\x1b(?:\[[0-9;?]*[ -/]*[@-~]|\][^\x07\x1b]*(?:\x07|\x1b\\)|[@-Z\\-_])`)

var (
	isoTimestampRE = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?\b`)
	localDateRE    = regexp.MustCompile(`\b\d{1,2}/\d{1,2}/\d{2,4}\s+\d{1,2}:\d{2}(?::\d{2})?\s*(?:AM|PM|am|pm)?\b`)
	unixTimeRE     = regexp.MustCompile(`\bunix(?:time)?[=:]\s*\d{9,13}\b`)
	uuidRE         = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	pidRE          = regexp.MustCompile(`\bpid[=:]\s*\d+\b`)
	hexAddrRE      = regexp.MustCompile(`\b(?:0x)?[0-9a-fA-F]{16,}\b`)
)

// StripANSI removes CSI/OSC/SGR escapes and other terminal control
// sequences, preserving printable characters and newlines.
func StripANSI(s string) string {
	return ansiRE.ReplaceAllString(s, "")
}

// CollapseWS collapses runs of Unicode whitespace (excluding newlines)
// into a single space and trims trailing spaces on every line. Unicode
// classification is delegated to unicode.IsSpace plus x/text's
// normalization form, so combining/format runs adjacent to a scrubbed
// placeholder do not glue onto surrounding text.
func CollapseWS(s string) string {
	s = norm.NFC.String(s)
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		var b strings.Builder
		lastWasSpace := false
		for _, r := range line {
			if r != '\n' && unicode.IsSpace(r) {
				if !lastWasSpace {
					b.WriteByte(' ')
				}
				lastWasSpace = true
				continue
			}
			b.WriteRune(r)
			lastWasSpace = false
		}
		lines[i] = strings.TrimRight(b.String(), " ")
	}
	return strings.Join(lines, "\n")
}

// Scrub replaces detected timestamps, UUIDs, numeric PIDs (in
// contexts like pid=N), and hex content-addresses of length >= 16
// with fixed placeholders. Runs last in the normalize pipeline.
func Scrub(s string) string {
	s = isoTimestampRE.ReplaceAllString(s, PlaceholderTimestamp)
	s = localDateRE.ReplaceAllString(s, PlaceholderTimestamp)
	s = unixTimeRE.ReplaceAllString(s, PlaceholderTimestamp)
	s = uuidRE.ReplaceAllString(s, PlaceholderUUID)
	s = pidRE.ReplaceAllString(s, PlaceholderPID)
	s = hexAddrRE.ReplaceAllString(s, PlaceholderHex)
	return s
}

// Normalize applies StripANSI, then CollapseWS, then Scrub, in that
// fixed order. It is pure and idempotent: Normalize(Normalize(x)) ==
// Normalize(x).
func Normalize(s string) string {
	s = StripANSI(s)
	s = CollapseWS(s)
	s = Scrub(s)
	return s
}

// ToValidText converts raw bytes into a string suitable for
// normalization. Invalid UTF-8 sequences are passed through with
// strings.ToValidUTF8's replacement-escaping so downstream hashing
// stays deterministic regardless of byte-level corruption.
func ToValidText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

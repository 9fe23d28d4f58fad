// Package redact detects and masks secrets in recorded bytes before
// persistence: bearer tokens, key/value credential assignments, cloud
// access keys, PEM private-key blocks, and long hex strings adjacent
// to credential-shaped keys.
package redact

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/termvcr/termvcr/internal/termvcrerr"
)

// Category names used in the <REDACTED:CATEGORY> placeholder and by scan.
const (
	CategoryBearer     = "BEARER"
	CategoryPassword   = "PASSWORD"
	CategoryToken      = "TOKEN"
	CategorySecret     = "SECRET"
	CategoryAPIKey     = "APIKEY"
	CategoryAccessKey  = "ACCESS_KEY"
	CategoryPrivateKey = "PRIVATE_KEY"
	CategoryAWSKeyID   = "AWS_ACCESS_KEY_ID"
	CategoryAWSSecret  = "AWS_SECRET_ACCESS_KEY"
	CategoryPEM        = "PEM"
	CategoryHex        = "HEX_SECRET"
)

// EnvDisable names the environment flag reported by Disabled. Nothing
// else in this module reads it: Redact applies the built-in patterns
// whether or not it is set, and recording does not abort when it is.
const EnvDisable = "CC_REDACT"

// keyCategory maps the lowercase key names matched by kvKeyRE to a
// placeholder category, so "token=..." redacts as <REDACTED:TOKEN>
// and "password=..." as <REDACTED:PASSWORD> rather than a single
// generic category for every credential-shaped key.
var keyCategory = map[string]string{
	"password":      CategoryPassword,
	"passwd":        CategoryPassword,
	"token":         CategoryToken,
	"secret":        CategorySecret,
	"apikey":        CategoryAPIKey,
	"api_key":       CategoryAPIKey,
	"access_key":    CategoryAccessKey,
	"private_key":   CategoryPrivateKey,
	"aws_secret_access_key": CategoryAWSSecret,
}

// kvRE captures a credential-shaped key, its separator, and its value.
// Group 1 is "key<sep>" verbatim (preserved on redact); group 2 is the
// bare key name (used to pick the category); group 3 is the value.
var kvRE = regexp.MustCompile(`(?i)((password|passwd|token|secret|apikey|api_key|access_key|private_key|aws_secret_access_key)\s*[:=]\s*"?)([^\s"]+)"?`)

var (
	bearerRE    = regexp.MustCompile(`Bearer\s+[A-Za-z0-9\-._~+/]+=*`)
	awsKeyIDRE  = regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)
	pemRE       = regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`)
	hexValueRE  = regexp.MustCompile(`^[0-9a-fA-F]{32,}$`)
	placeholder = regexp.MustCompile(`<REDACTED:[A-Z_]+>`)
)

// categoryFor picks the placeholder category for a kvRE value match: a
// credential-shaped key always determines the category, so
// "token=<anything>" redacts as TOKEN even when the value happens to
// look like a bare hex secret. Hex-value detection only applies when
// no credential-shaped key is present.
func categoryFor(key, value string) string {
	if cat, ok := keyCategory[key]; ok {
		return cat
	}
	if hexValueRE.MatchString(value) {
		return CategoryHex
	}
	return CategorySecret
}

// Pattern is a single user-configurable redaction rule.
type Pattern struct {
	Category string
	Regexp   string
}

// Redactor applies a fixed set of built-in patterns plus any
// caller-supplied custom patterns.
type Redactor struct {
	custom []compiledPattern
}

type compiledPattern struct {
	category string
	re       *regexp.Regexp
}

// New constructs a Redactor. A malformed custom pattern regexp yields
// redaction-error immediately; built-ins never fail.
func New(custom []Pattern) (*Redactor, error) {
	r := &Redactor{}
	for _, p := range custom {
		re, err := regexp.Compile(p.Regexp)
		if err != nil {
			return nil, termvcrerr.Wrap(termvcrerr.KindRedactionError, err,
				"custom redaction pattern %q for category %q is malformed", p.Regexp, p.Category)
		}
		r.custom = append(r.custom, compiledPattern{p.Category, re})
	}
	return r, nil
}

// Disabled reports whether the CC_REDACT environment flag is set to
// "0". No caller in this module consults it.
func Disabled() bool {
	return os.Getenv(EnvDisable) == "0"
}

// Redact replaces each match of a built-in or custom pattern. For
// key/value credential assignments the key and separator are kept
// verbatim and only the value is replaced, so "token=xyz" becomes
// "token=<REDACTED:TOKEN>"; other patterns (bearer tokens, AWS key
// IDs, PEM blocks) are replaced wholesale.
func (r *Redactor) Redact(b []byte) []byte {
	s := string(b)
	s = kvRE.ReplaceAllStringFunc(s, func(m string) string {
		parts := kvRE.FindStringSubmatch(m)
		key := strings.ToLower(parts[2])
		cat := categoryFor(key, parts[3])
		return parts[1] + fmt.Sprintf("<REDACTED:%s>", cat)
	})
	s = bearerRE.ReplaceAllString(s, fmt.Sprintf("<REDACTED:%s>", CategoryBearer))
	s = awsKeyIDRE.ReplaceAllString(s, fmt.Sprintf("<REDACTED:%s>", CategoryAWSKeyID))
	s = pemRE.ReplaceAllString(s, fmt.Sprintf("<REDACTED:%s>", CategoryPEM))
	for _, p := range r.custom {
		s = p.re.ReplaceAllString(s, fmt.Sprintf("<REDACTED:%s>", p.category))
	}
	return []byte(s)
}

// Scan reports the set of categories found without mutating input. A
// match whose full text is already a <REDACTED:...> placeholder is not
// counted, so scan(redact(x)) is always empty for built-in patterns.
func (r *Redactor) Scan(b []byte) map[string]bool {
	s := string(b)
	found := map[string]bool{}

	for _, m := range kvRE.FindAllStringSubmatch(s, -1) {
		if placeholder.MatchString(m[3]) {
			continue
		}
		key := strings.ToLower(m[2])
		found[categoryFor(key, m[3])] = true
	}
	if bearerRE.MatchString(s) {
		found[CategoryBearer] = true
	}
	if awsKeyIDRE.MatchString(s) {
		found[CategoryAWSKeyID] = true
	}
	if pemRE.MatchString(s) {
		found[CategoryPEM] = true
	}
	for _, p := range r.custom {
		if p.re.MatchString(s) && !placeholder.MatchString(s) {
			found[p.category] = true
		}
	}
	return found
}

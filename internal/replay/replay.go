// Package replay implements the replay transport: it serves send/expect
// from a recorded tape, paces chunk delivery on a background goroutine,
// and applies latency and error-injection policies. Suspension between
// the pacer and expect is a single mutex/condition-variable handshake.
package replay

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/store"
	"github.com/termvcr/termvcr/internal/tape"
	"github.com/termvcr/termvcr/internal/termvcrerr"
)

// FallbackMode selects behavior on a tape miss.
type FallbackMode string

const (
	FallbackNotFound FallbackMode = "not_found"
	FallbackProxy    FallbackMode = "proxy"
)

// ExpectResult is returned by Expect on a successful match.
type ExpectResult struct {
	Index       int
	MatchedText string
	Tail        string
}

// Transport is the replay-side implementation of the send/expect
// capability set the facade unifies across live and replay.
type Transport struct {
	store *store.Store
	rules match.Rules

	program string
	argv    []string
	env     map[string]string
	cwd     string

	latency     LatencyPolicy
	errRate     int
	errRateFunc func(exchangeIndex int) int
	errPol      *ErrorPolicy

	mu           sync.Mutex
	cond         *sync.Cond
	buf          []byte
	prompt       string
	closed       bool
	exitCode     *int
	exitSignal   string
	exchangeIdx  int
	pendingErr   ErrorMode
}

// New constructs a replay transport bound to store st under rules,
// with the session-identity fields fixed for the lifetime of the
// session. errRate is the configured error-injection rate (0-100, 0
// disables injection unless errRateFunc is set); errRateFunc, when
// non-nil (an expr-lang expression evaluated per exchange), overrides
// errRate. The PRNG backing either form is not seeded here since the
// seed comes from whichever tape the first Send resolves against, not
// from session configuration.
func New(st *store.Store, rules match.Rules, program string, argv []string, env map[string]string, cwd string, latency LatencyPolicy, errRate int, errRateFunc func(exchangeIndex int) int) *Transport {
	if latency == nil {
		latency = RecordedLatency{}
	}
	t := &Transport{
		store:       st,
		rules:       rules,
		program:     program,
		argv:        argv,
		env:         env,
		cwd:         cwd,
		latency:     latency,
		errRate:     errRate,
		errRateFunc: errRateFunc,
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// ensureErrPolicy lazily constructs the error-injection policy seeded
// from the tape metadata of whichever tape a Send first resolves
// against, per the deterministic-seeding contract: a tape recorded
// with seed=N must replay the same injection sequence regardless of
// what the replaying session's own configuration sets. Later Sends
// against a different tape do not re-seed; the policy is fixed for
// the transport's lifetime once first established.
func (t *Transport) ensureErrPolicy(tapeSeed int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.errPol != nil {
		return
	}
	if t.errRate <= 0 && t.errRateFunc == nil {
		return
	}
	pol := NewErrorPolicy(t.errRate, tapeSeed)
	pol.RateFunc = t.errRateFunc
	t.errPol = pol
}

// Send builds a matching context from current session state, looks up
// the store, and on a hit starts the pacer. On a miss, the caller
// (transport facade) is responsible for applying FallbackMode; Send
// itself always attempts the lookup and returns tape-miss on failure to
// find an exchange when instructed to via the fallback parameter.
func (t *Transport) Send(data []byte, kind match.InputKind, text string, fallback FallbackMode) (int, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, termvcrerr.New(termvcrerr.KindSessionClosed, "replay transport is closed")
	}
	prompt := t.prompt
	t.mu.Unlock()

	ctx := match.Context{
		Program:   t.program,
		Argv:      t.argv,
		Env:       t.env,
		Cwd:       t.cwd,
		Prompt:    prompt,
		InputKind: kind,
		InputText: text,
	}

	tp, ex, ok := t.store.Find(ctx)
	if !ok {
		key := match.Key(ctx, t.rules)
		nearest := t.store.NearestKeys(text, 5)
		if fallback == FallbackNotFound {
			return 0, termvcrerr.New(termvcrerr.KindTapeMiss, "no recorded exchange for key %s", key).
				WithIdentity(identityKey(t.program, t.argv, t.cwd)).
				WithNearestKeys(nearest)
		}
		return 0, &termvcrerr.Error{Kind: termvcrerr.KindTapeMiss, Msg: "tape miss, fallback=proxy", NearestKeys: nearest}
	}

	t.ensureErrPolicy(tp.Meta.Seed)
	t.startPacer(ex)
	return len(data), nil
}

func identityKey(program string, argv []string, cwd string) string {
	return program + " " + strings.Join(argv, " ") + " " + cwd
}

func (t *Transport) startPacer(ex *tape.Exchange) {
	t.mu.Lock()
	t.exchangeIdx++
	t.pendingErr = ErrorModeNone
	t.mu.Unlock()

	t.mu.Lock()
	exchangeIndex := t.exchangeIdx - 1
	t.mu.Unlock()

	mode, truncateAt := ErrorModeNone, len(ex.Output.Chunks)
	if t.errPol != nil {
		mode, truncateAt = t.errPol.Decide(exchangeIndex, len(ex.Output.Chunks))
	}

	go func() {
		for i, c := range ex.Output.Chunks {
			if i >= truncateAt {
				break
			}
			delay := t.latency.Delay(i, c.DelayMs)
			if delay > 0 {
				time.Sleep(delay)
			}
			data, err := chunkDecode(c.DataB64)
			if err != nil {
				continue
			}
			t.mu.Lock()
			if t.closed {
				t.mu.Unlock()
				return
			}
			t.buf = append(t.buf, data...)
			t.cond.Broadcast()
			t.mu.Unlock()
		}

		t.mu.Lock()
		defer t.mu.Unlock()
		if t.closed {
			return
		}
		switch mode {
		case ErrorModeTimeout:
			t.pendingErr = ErrorModeTimeout
		case ErrorModeExit:
			code := 1
			t.exitCode = &code
		default:
			if ex.Exit != nil {
				code := ex.Exit.Code
				t.exitCode = &code
				if ex.Exit.Signal != nil {
					t.exitSignal = *ex.Exit.Signal
				}
			}
		}
		if ex.Pre.Prompt != "" {
			t.prompt = ex.Pre.Prompt
		}
		t.cond.Broadcast()
	}()
}

// Expect waits for any of patterns to match the accumulated buffer.
// Suspension is cooperative via the transport's mutex/condition
// variable; per the resolved open question, a timeout still consumes
// bytes already paced into the buffer (the buffer is not rolled back).
func (t *Transport) Expect(patterns []*regexp.Regexp, timeout time.Duration) (ExpectResult, error) {
	deadline := time.Now().Add(timeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		s := string(t.buf)
		for i, p := range patterns {
			if loc := p.FindStringIndex(s); loc != nil {
				matched := s[loc[0]:loc[1]]
				t.buf = t.buf[loc[1]:]
				return ExpectResult{Index: i, MatchedText: matched, Tail: tailOf(s, 50)}, nil
			}
		}
		if t.pendingErr == ErrorModeTimeout {
			t.pendingErr = ErrorModeNone
			return ExpectResult{}, termvcrerr.New(termvcrerr.KindSimulatedTimeout,
				"replay injected a simulated timeout").WithBufferTail(tailOf(s, 50))
		}
		if t.closed {
			return ExpectResult{}, termvcrerr.New(termvcrerr.KindSessionClosed, "replay transport is closed")
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ExpectResult{}, termvcrerr.New(termvcrerr.KindTimeout,
				"expect timed out after %s", timeout).WithBufferTail(tailOf(s, 50))
		}

		timer := time.AfterFunc(remaining, func() {
			t.mu.Lock()
			t.cond.Broadcast()
			t.mu.Unlock()
		})
		t.cond.Wait()
		timer.Stop()
	}
}

func tailOf(s string, maxLines int) string {
	lines := strings.Split(s, "\n")
	if len(lines) <= maxLines {
		return s
	}
	return strings.Join(lines[len(lines)-maxLines:], "\n")
}

// IsAlive reports whether the replayed process is still running: it
// is false once a recorded or injected exit has been paced out, or
// after Close.
func (t *Transport) IsAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode == nil && !t.closed
}

// Close stops the pacer and releases buffers.
func (t *Transport) Close() (*int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	code := t.exitCode
	t.cond.Broadcast()
	return code, nil
}

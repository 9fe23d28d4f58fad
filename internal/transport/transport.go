// Package transport implements the facade that unifies live PTY
// sessions and replay sessions behind one send/expect/close surface,
// selecting between them at session start per the mode-selection
// table, and owning the single mutex that guards a live proxy-fallback
// swap mid-session.
package transport

import (
	"context"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/termvcr/termvcr/internal/livepty"
	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/namegen"
	"github.com/termvcr/termvcr/internal/policy"
	"github.com/termvcr/termvcr/internal/provenance"
	"github.com/termvcr/termvcr/internal/recorder"
	"github.com/termvcr/termvcr/internal/redact"
	"github.com/termvcr/termvcr/internal/replay"
	"github.com/termvcr/termvcr/internal/scripting"
	"github.com/termvcr/termvcr/internal/store"
	"github.com/termvcr/termvcr/internal/tape"
	"github.com/termvcr/termvcr/internal/termvcrerr"
)

// Action is the outcome of the mode-selection table.
type Action string

const (
	ActionReplay       Action = "replay"
	ActionRecordLive   Action = "record+live"
	ActionFailFast     Action = "fail-fast"
	ActionLiveNoRecord Action = "live"
)

// SelectAction implements the record/replay/live mode-selection table.
func SelectAction(mode recorder.Mode, fallback replay.FallbackMode, tapeExists bool) Action {
	switch mode {
	case recorder.ModeNew:
		if tapeExists {
			return ActionReplay
		}
		return ActionRecordLive
	case recorder.ModeOverwrite:
		return ActionRecordLive
	case recorder.ModeDisabled:
		switch fallback {
		case replay.FallbackNotFound:
			if tapeExists {
				return ActionReplay
			}
			return ActionFailFast
		case replay.FallbackProxy:
			if tapeExists {
				return ActionReplay
			}
			return ActionLiveNoRecord
		}
	}
	return ActionFailFast
}

// Config configures a Session.
type Config struct {
	Store    *store.Store
	Rules    match.Rules
	Redactor *redact.Redactor

	Mode     recorder.Mode
	Fallback replay.FallbackMode

	Program string
	Args    []string
	Env     map[string]string
	Cwd     string
	PTY     tape.PTYSize
	Tag     *string
	Seed    int64
	ErrorRate int

	Latency         replay.LatencyPolicy
	LatencyExpr     string
	ErrorRateExpr   string
	MatcherScript   string
	NameGenerator   namegen.Generator
	InputDecorator  recorder.InputDecorator
	OutputDecorator recorder.OutputDecorator
	TapeDecorator   recorder.TapeDecorator
	StrictRecording bool
	RecorderID      string
	Platform        string

	Summary bool
	Silent  bool
	Out     *os.File
}

// Session is one facade instance: live or replay for its lifetime,
// unless a proxy fallback swap occurs mid-session.
type Session struct {
	cfg Config

	mu       sync.Mutex
	action   Action
	live     *liveBackend
	liveBuf  []byte
	replayed *replay.Transport
	rec      *recorder.Recorder
}

type liveBackend struct {
	sess *livepty.Session
	// out is the single point where anything reads captured chunks —
	// sess.Chunks() directly when nothing else consumes it, or the
	// recorder's tee output when recording, so the recorder and the
	// expect loop never race each other for the same delivery.
	out  <-chan livepty.Chunk
	done <-chan struct{}
}

// New selects live or replay per the mode-selection table and
// constructs the corresponding backend. If the selection is
// fail-fast, an error is returned immediately without spawning
// anything.
func New(cfg Config) (*Session, error) {
	cfg, errRateFunc, err := resolveConfig(cfg)
	if err != nil {
		return nil, err
	}

	ctx := match.Context{Program: cfg.Program, Argv: cfg.Args, Env: cfg.Env, Cwd: cfg.Cwd}
	tapeExists := cfg.Store.HasIdentity(ctx)
	action := SelectAction(cfg.Mode, cfg.Fallback, tapeExists)

	s := &Session{cfg: cfg, action: action}

	switch action {
	case ActionFailFast:
		return nil, termvcrerr.New(termvcrerr.KindTapeMiss,
			"no recorded tape for %s and record mode is disabled", cfg.Program)
	case ActionReplay:
		s.replayed = replay.New(cfg.Store, cfg.Rules, cfg.Program, cfg.Args, cfg.Env, cfg.Cwd, cfg.Latency, cfg.ErrorRate, errRateFunc)
		return s, nil
	case ActionRecordLive, ActionLiveNoRecord:
		if err := s.startLive(action == ActionRecordLive); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, termvcrerr.New(termvcrerr.KindSchemaError, "unreachable mode-selection outcome")
}

// resolveConfig applies the additive scripting/expression config keys
// on top of cfg: a matcher script fills in whichever of
// CommandMatcher/StdinMatcher/InputDecorator/OutputDecorator/
// TapeDecorator the caller left unset (an explicit Go callable always
// wins over the script), LatencyExpr/ErrorRateExpr become the latency
// policy / error-rate source when the caller didn't supply a Go
// equivalent, and RecorderID defaults to the git provenance of Cwd (or
// of the current directory when Cwd is empty) when left blank.
func resolveConfig(cfg Config) (Config, func(exchangeIndex int) int, error) {
	if cfg.MatcherScript != "" {
		host, err := scripting.LoadMatcherScript(cfg.MatcherScript)
		if err != nil {
			return cfg, nil, termvcrerr.Wrap(termvcrerr.KindSchemaError, err,
				"failed to load matcher script %s", cfg.MatcherScript)
		}
		if cfg.Rules.CommandMatcher == nil && host.HasCommandMatcher() {
			cfg.Rules.CommandMatcher = host
		}
		if cfg.Rules.StdinMatcher == nil && host.HasStdinMatcher() {
			cfg.Rules.StdinMatcher = match.StdinMatcherFunc(func(kind match.InputKind, text string) string {
				return host.MatchStdin(string(kind), text)
			})
		}
		if cfg.InputDecorator == nil && host.HasInputDecorator() {
			cfg.InputDecorator = host
		}
		if cfg.OutputDecorator == nil && host.HasOutputDecorator() {
			cfg.OutputDecorator = host
		}
		if cfg.TapeDecorator == nil && host.HasTapeDecorator() {
			cfg.TapeDecorator = host
		}
	}

	if cfg.Latency == nil && cfg.LatencyExpr != "" {
		cfg.Latency = policy.LatencyExpr{Expression: cfg.LatencyExpr}
	}

	var errRateFunc func(exchangeIndex int) int
	if cfg.ErrorRateExpr != "" {
		errRateFunc = policy.ErrorRateExpr{Expression: cfg.ErrorRateExpr}.Rate
	}

	if cfg.RecorderID == "" {
		provDir := cfg.Cwd
		if provDir == "" {
			provDir = "."
		}
		cfg.RecorderID = provenance.RecorderID(provDir)
	}

	return cfg, errRateFunc, nil
}

func (s *Session) startLive(record bool) error {
	size := livepty.Size{Rows: uint16(s.cfg.PTY.Rows), Cols: uint16(s.cfg.PTY.Cols)}
	if size.Rows == 0 || size.Cols == 0 {
		size = livepty.DefaultSize()
	}
	envList := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		envList = append(envList, k+"="+v)
	}
	sess, err := livepty.Start(s.cfg.Program, s.cfg.Args, envList, s.cfg.Cwd, size, 64)
	if err != nil {
		return termvcrerr.Wrap(termvcrerr.KindProcessError, err, "failed to start %s", s.cfg.Program)
	}
	s.live = &liveBackend{sess: sess, out: sess.Chunks()}
	s.liveBuf = nil

	if record {
		s.rec = recorder.New(recorder.Config{
			Store:           s.cfg.Store,
			Rules:           s.cfg.Rules,
			Redactor:        s.cfg.Redactor,
			NameGenerator:   s.cfg.NameGenerator,
			Mode:            s.cfg.Mode,
			InputDecorator:  s.cfg.InputDecorator,
			OutputDecorator: s.cfg.OutputDecorator,
			TapeDecorator:   s.cfg.TapeDecorator,
			StrictRecording: s.cfg.StrictRecording,
			RecorderID:      s.cfg.RecorderID,
			Platform:        s.cfg.Platform,
			Program:         s.cfg.Program,
			Args:            s.cfg.Args,
			Env:             s.cfg.Env,
			Cwd:             s.cfg.Cwd,
			PTY:             s.cfg.PTY,
			Tag:             s.cfg.Tag,
			Seed:            s.cfg.Seed,
			ErrorRate:       s.cfg.ErrorRate,
		})
		// The recorder becomes the sole reader of sess.Chunks(); the
		// expect loop reads its tee'd output instead so both see every
		// chunk exactly once.
		s.live.out, s.live.done = s.rec.ConsumeFrom(sess.Chunks())
	}
	return nil
}

// Send writes data to the active backend, opening a new exchange on
// the recording path.
func (s *Session) Send(data []byte, kind match.InputKind, text string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replayed != nil {
		n, err := s.replayed.Send(data, kind, text, s.cfg.Fallback)
		if err != nil && termvcrerr.Is(err, termvcrerr.KindTapeMiss) && s.cfg.Fallback == replay.FallbackProxy {
			if swapErr := s.swapToLiveLocked(); swapErr != nil {
				return 0, swapErr
			}
			return s.sendLiveLocked(data, kind, text)
		}
		return n, err
	}
	return s.sendLiveLocked(data, kind, text)
}

func (s *Session) sendLiveLocked(data []byte, kind match.InputKind, text string) (int, error) {
	if s.rec != nil {
		prompt := s.rec.LastPrompt()
		if err := s.rec.OnSend(tape.InputKind(kind), text, data, prompt); err != nil {
			return 0, err
		}
	}
	n, err := s.live.sess.Write(data)
	if err != nil {
		return n, termvcrerr.Wrap(termvcrerr.KindProcessError, err, "write to live process failed")
	}
	return n, nil
}

// swapToLiveLocked surrenders replay state to a freshly started live
// backend, per the proxy fallback contract. Caller holds s.mu.
func (s *Session) swapToLiveLocked() error {
	slog.Warn("termvcr: replay tape miss, falling back to live process", "program", s.cfg.Program)
	record := s.cfg.Mode != recorder.ModeDisabled
	if err := s.startLive(record); err != nil {
		return err
	}
	if s.replayed != nil {
		_, _ = s.replayed.Close()
		s.replayed = nil
	}
	return nil
}

// Expect waits for one of patterns to match accumulated output on the
// active backend, closing the current exchange on the recording path.
func (s *Session) Expect(patterns []*regexp.Regexp, timeout time.Duration) (int, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replayed != nil {
		res, err := s.replayed.Expect(patterns, timeout)
		return res.Index, res.MatchedText, err
	}
	return s.expectLiveLocked(patterns, timeout)
}

// expectLiveLocked waits for a pattern to match against s.liveBuf,
// growing it as chunks arrive. Bytes past the match are left in
// s.liveBuf for the next Expect call, mirroring replay.Transport's
// slice-forward buffer so a live session gets the same per-exchange
// continuity a replayed one does across more than one send/expect
// round.
func (s *Session) expectLiveLocked(patterns []*regexp.Regexp, timeout time.Duration) (int, string, error) {
	deadline := time.Now().Add(timeout)
	for {
		buf := string(s.liveBuf)
		for i, p := range patterns {
			if loc := p.FindStringIndex(buf); loc != nil {
				matched := buf[loc[0]:loc[1]]
				s.liveBuf = s.liveBuf[loc[1]:]
				if s.rec != nil {
					_ = s.rec.OnExchangeEnd(nil)
				}
				return i, matched, nil
			}
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			if s.rec != nil {
				_ = s.rec.OnExchangeEnd(map[string]string{"timeout": "true"})
			}
			return 0, "", termvcrerr.New(termvcrerr.KindTimeout, "expect timed out after %s", timeout).
				WithBufferTail(buf)
		}
		select {
		case c, ok := <-s.live.out:
			if !ok {
				code, sig, _ := s.live.sess.ExitStatus()
				if s.rec != nil {
					_ = s.rec.OnProcessExit(code, sig)
				}
				return 0, "", termvcrerr.New(termvcrerr.KindProcessError, "process exited before pattern matched")
			}
			s.liveBuf = append(s.liveBuf, c.Data...)
		case <-time.After(remaining):
		}
	}
}

// IsAlive reports whether the active backend's process is still
// running (live) or has not yet synthesized an exit (replay).
func (s *Session) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replayed != nil {
		return s.replayed.IsAlive()
	}
	_, _, exited := s.live.sess.ExitStatus()
	return !exited
}

// Close drains the active backend, finalizes any recording, and emits
// the summary unless silenced.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.replayed != nil {
		_, _ = s.replayed.Close()
	}
	if s.live != nil {
		_ = s.live.sess.Close(ctx)
		if s.live.done != nil {
			<-s.live.done
		}
	}
	if s.rec != nil {
		if code, sig, exited := s.live.sess.ExitStatus(); exited {
			_ = s.rec.OnProcessExit(code, sig)
		}
		if _, err := s.rec.Finalize(); err != nil {
			return err
		}
	}

	if s.cfg.Summary && !s.cfg.Silent {
		out := s.cfg.Out
		if out == nil {
			out = os.Stderr
		}
		newTapes, unused := s.cfg.Store.Summary()
		namegen.Summary(out, newTapes, unused, nil, nil)
	}
	return nil
}

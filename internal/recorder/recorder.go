// Package recorder implements the exchange-boundary state machine that
// turns a stream of PTY chunks plus caller-signaled send/expect
// boundaries into a Tape: idle -> capturing -> flushing -> idle, with a
// terminal state entered on process exit.
package recorder

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/termvcr/termvcr/internal/livepty"
	"github.com/termvcr/termvcr/internal/match"
	"github.com/termvcr/termvcr/internal/namegen"
	"github.com/termvcr/termvcr/internal/redact"
	"github.com/termvcr/termvcr/internal/store"
	"github.com/termvcr/termvcr/internal/tape"
	"github.com/termvcr/termvcr/internal/termvcrerr"
)

// Mode selects recording behavior for a session.
type Mode string

const (
	ModeNew       Mode = "new"
	ModeOverwrite Mode = "overwrite"
	ModeDisabled  Mode = "disabled"
)

// state is the recorder's internal state machine position.
type state int

const (
	stateIdle state = iota
	stateCapturing
	stateFlushing
	stateTerminal
)

// defaultMemCeiling is the per-exchange in-memory chunk buffer ceiling
// (16 MiB default) before older chunks spill to a temp file.
const defaultMemCeiling = 16 * 1024 * 1024

// InputDecorator transforms an exchange's recorded input text before
// it's stored, applied at send time. Byte-form input (raw stdin) is
// left untouched; this only sees line/keys input decoded as text.
type InputDecorator interface {
	DecorateInput(exchangeIndex int, text string) string
}

// OutputDecorator transforms output bytes before redaction, applied
// per exchange at flush time.
type OutputDecorator interface {
	DecorateOutput(exchangeIndex int, b []byte) []byte
}

// TapeDecorator transforms the finished tape at finalize, applied once
// at close, not per exchange.
type TapeDecorator interface {
	DecorateTape(t *tape.Tape) *tape.Tape
}

// Config configures a Recorder.
type Config struct {
	Store           *store.Store
	Rules           match.Rules
	Redactor        *redact.Redactor
	NameGenerator   func(t *tape.Tape) (string, error)
	Mode            Mode
	InputDecorator  InputDecorator
	OutputDecorator OutputDecorator
	TapeDecorator   TapeDecorator
	StrictRecording bool
	RecorderID      string
	Platform        string
	MemCeiling      int64

	Program string
	Args    []string
	Env     map[string]string
	Cwd     string
	PTY     tape.PTYSize
	Tag     *string
	Seed    int64
	ErrorRate int
}

// Recorder drives the idle/capturing/flushing/terminal state machine
// for one live session.
type Recorder struct {
	cfg Config

	mu           sync.Mutex
	st           state
	tp           *tape.Tape
	sendTime     time.Time
	lastChunk    time.Time
	curExchange  *tape.Exchange
	curBytes     []chunkAccum
	curBytesSize int64
	spillFile    *os.File

	lastPrompt string
}

type chunkAccum struct {
	delayMs int64
	data    []byte
	isUTF8  bool
}

// New constructs a Recorder bound to the given identity/config.
func New(cfg Config) *Recorder {
	if cfg.MemCeiling <= 0 {
		cfg.MemCeiling = defaultMemCeiling
	}
	return &Recorder{
		cfg: cfg,
		st:  stateIdle,
		tp: &tape.Tape{
			SchemaVersion: tape.SchemaVersion,
			Meta: tape.Meta{
				CreatedAt: time.Now().UTC().Format(time.RFC3339),
				Program:   cfg.Program,
				Args:      cfg.Args,
				Env:       cfg.Env,
				Cwd:       cfg.Cwd,
				PTY:       cfg.PTY,
				Tag:       cfg.Tag,
				ErrorRate: cfg.ErrorRate,
				Seed:      cfg.Seed,
			},
			Session: tape.SessionInfo{Recorder: cfg.RecorderID, Platform: cfg.Platform},
		},
	}
}

// ConsumeFrom starts a goroutine that is the sole reader of chunks,
// appending each one to the current exchange buffer and then
// forwarding it unchanged on the returned out channel. A raw PTY
// channel has exactly one receiver; tee'ing here is what lets a
// caller-facing consumer (a live expect loop) see the identical byte
// stream the recorder captures instead of racing it for delivery. Both
// returned channels close once chunks is closed (EOF / session
// close), which is the cancellation signal for the pull-based design.
func (r *Recorder) ConsumeFrom(chunks <-chan livepty.Chunk) (out <-chan livepty.Chunk, done <-chan struct{}) {
	outCh := make(chan livepty.Chunk, cap(chunks))
	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		defer close(outCh)
		for c := range chunks {
			r.appendChunk(c.Data, c.IsUTF8, c.Timestamp)
			outCh <- c
		}
	}()
	return outCh, doneCh
}

func (r *Recorder) appendChunk(data []byte, isUTF8 bool, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.st != stateCapturing {
		return
	}
	var base time.Time
	if len(r.curBytes) == 0 && r.spillFile == nil {
		base = r.sendTime
	} else {
		base = r.lastChunk
	}
	delay := ts.Sub(base).Milliseconds()
	if delay < 0 {
		delay = 0
	}
	r.lastChunk = ts

	r.curBytes = append(r.curBytes, chunkAccum{delayMs: delay, data: data, isUTF8: isUTF8})
	r.curBytesSize += int64(len(data))

	if r.curBytesSize > r.cfg.MemCeiling {
		r.spillLocked()
	}
}

// spillLocked writes the currently buffered chunks (base64-encoded, one
// per line) to a temp file and frees the in-memory buffer, keeping the
// per-exchange memory ceiling. Caller holds r.mu.
func (r *Recorder) spillLocked() {
	if r.spillFile == nil {
		f, err := os.CreateTemp("", "termvcr-exchange-*.spill")
		if err != nil {
			slog.Warn("termvcr: failed to create spill file, keeping chunks in memory", "error", err)
			return
		}
		r.spillFile = f
	}
	for _, c := range r.curBytes {
		line := fmt.Sprintf("%d %t %s\n", c.delayMs, c.isUTF8, base64.StdEncoding.EncodeToString(c.data))
		if _, err := r.spillFile.WriteString(line); err != nil {
			slog.Warn("termvcr: failed to spill exchange chunk", "error", err)
			return
		}
	}
	r.curBytes = r.curBytes[:0]
	r.curBytesSize = 0
}

// OnSend transitions idle -> capturing. data is the raw input bytes;
// text is the decoded string when decodable. Reentrancy while
// capturing is an error.
func (r *Recorder) OnSend(kind tape.InputKind, text string, data []byte, prompt string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.st {
	case stateTerminal:
		return termvcrerr.New(termvcrerr.KindSessionClosed, "recorder is closed")
	case stateCapturing:
		return termvcrerr.New(termvcrerr.KindRecorderReentrancy,
			"on_send called while an exchange is already open")
	}

	in := tape.Input{Kind: kind}
	if text != "" || data == nil {
		t := text
		if r.cfg.InputDecorator != nil {
			t = r.cfg.InputDecorator.DecorateInput(len(r.tp.Exchanges), t)
		}
		in.Text = &t
	}
	if data != nil {
		b := base64.StdEncoding.EncodeToString(data)
		in.BytesB64 = &b
	}

	r.curExchange = &tape.Exchange{
		Pre:   tape.Pre{Prompt: prompt},
		Input: in,
	}
	r.curBytes = nil
	r.curBytesSize = 0
	r.spillFile = nil
	r.sendTime = time.Now()
	r.lastChunk = r.sendTime
	r.st = stateCapturing
	return nil
}

// OnExchangeEnd closes the current exchange: applies the output
// decorator then redaction to each chunk, appends the exchange to the
// in-memory tape, and returns to idle.
func (r *Recorder) OnExchangeEnd(annotations map[string]string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finishExchangeLocked(nil, annotations)
}

// OnProcessExit closes the current exchange (which may be empty) with
// exit information and moves the recorder to the terminal state. If no
// exchange is open and at least one has already been captured, exit
// has nowhere natural to attach and is simply recorded as the terminal
// transition; a fresh exchange is synthesized only for the case where
// the process exits without ever completing one (e.g. crashes before
// producing any output the caller could match on).
func (r *Recorder) OnProcessExit(code int, signal string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.st == stateTerminal {
		return termvcrerr.New(termvcrerr.KindSessionClosed, "recorder is closed")
	}
	if r.curExchange == nil {
		if len(r.tp.Exchanges) > 0 {
			r.st = stateTerminal
			return nil
		}
		r.curExchange = &tape.Exchange{}
		r.st = stateCapturing
		r.sendTime = time.Now()
		r.lastChunk = r.sendTime
	}
	var sig *string
	if signal != "" {
		sig = &signal
	}
	exit := &tape.Exit{Code: code, Signal: sig}
	if err := r.finishExchangeLocked(exit, nil); err != nil {
		return err
	}
	r.st = stateTerminal
	return nil
}

func (r *Recorder) finishExchangeLocked(exit *tape.Exit, annotations map[string]string) error {
	if r.st != stateCapturing || r.curExchange == nil {
		return termvcrerr.New(termvcrerr.KindSessionClosed, "no open exchange to close")
	}
	r.st = stateFlushing

	chunks := r.curBytes
	if r.spillFile != nil {
		spilled, err := readSpillFile(r.spillFile)
		if err != nil {
			slog.Warn("termvcr: failed to read back spilled chunks", "error", err)
		} else {
			chunks = append(spilled, chunks...)
		}
		name := r.spillFile.Name()
		r.spillFile.Close()
		os.Remove(name)
		r.spillFile = nil
	}

	var out []tape.Chunk
	for _, c := range chunks {
		data := c.data
		if r.cfg.OutputDecorator != nil {
			data = r.cfg.OutputDecorator.DecorateOutput(len(r.tp.Exchanges), data)
		}
		if r.cfg.Redactor != nil {
			data = r.cfg.Redactor.Redact(data)
		}
		out = append(out, tape.Chunk{
			DelayMs: c.delayMs,
			DataB64: base64.StdEncoding.EncodeToString(data),
			IsUTF8:  c.isUTF8,
		})
	}

	ex := r.curExchange
	ex.Output = tape.Output{Chunks: out}
	ex.Exit = exit
	ex.DurMs = time.Since(r.sendTime).Milliseconds()
	ex.Annotations = annotations

	r.tp.Exchanges = append(r.tp.Exchanges, *ex)
	if ex.Pre.Prompt != "" {
		r.lastPrompt = ex.Pre.Prompt
	}

	r.curExchange = nil
	r.curBytes = nil
	r.curBytesSize = 0
	r.st = stateIdle
	return nil
}

func readSpillFile(f *os.File) ([]chunkAccum, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	var out []chunkAccum
	var delay int64
	var isUTF8 bool
	var b64 string
	for {
		n, err := fmt.Fscanf(f, "%d %t %s\n", &delay, &isUTF8, &b64)
		if n == 0 || err != nil {
			break
		}
		data, decErr := base64.StdEncoding.DecodeString(b64)
		if decErr != nil {
			continue
		}
		out = append(out, chunkAccum{delayMs: delay, data: data, isUTF8: isUTF8})
	}
	return out, nil
}

// LastPrompt returns the most recently observed prompt, used by the
// caller to populate the next exchange's pre.prompt.
func (r *Recorder) LastPrompt() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastPrompt
}

// Finalize writes the tape via the store's atomic path if any
// exchanges were captured, applying the tape decorator (if set) first.
// If the store write fails, the error is logged and the session
// continues as live without a tape unless StrictRecording is set.
func (r *Recorder) Finalize() (string, error) {
	r.mu.Lock()
	tp := r.tp
	strict := r.cfg.StrictRecording
	nameGen := r.cfg.NameGenerator
	st := r.cfg.Store
	dec := r.cfg.TapeDecorator
	r.mu.Unlock()

	if len(tp.Exchanges) == 0 {
		return "", nil
	}
	if dec != nil {
		tp = dec.DecorateTape(tp)
	}

	if nameGen == nil || st == nil {
		return "", termvcrerr.New(termvcrerr.KindSchemaError, "recorder has no store/name generator configured")
	}
	path, err := nameGen(tp)
	if err != nil {
		return "", err
	}
	if st.Exists(path) {
		path = namegen.Disambiguate(path)
	}
	if err := st.Write(path, tp); err != nil {
		slog.Warn("termvcr: failed to write tape", "path", path, "error", err)
		if strict {
			return "", err
		}
		return "", nil
	}
	return path, nil
}

// Mode reports the recorder's configured mode.
func (r *Recorder) Mode() Mode { return r.cfg.Mode }

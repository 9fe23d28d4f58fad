package replay

import (
	"math/rand"
	"time"
)

// LatencyPolicy computes the effective pace delay for a chunk given
// its recorded delay. RecordedLatency uses the recorded delay_ms
// verbatim; the other implementations replace it, so ScalarLatency(0)
// paces every chunk with no delay.
type LatencyPolicy interface {
	Delay(chunkIndex int, recordedMs int64) time.Duration
}

// RecordedLatency reproduces the tape's recorded delays unmodified.
type RecordedLatency struct{}

func (RecordedLatency) Delay(_ int, recordedMs int64) time.Duration {
	return time.Duration(recordedMs) * time.Millisecond
}

// ScalarLatency replaces every chunk's delay with a fixed value.
type ScalarLatency int64

func (l ScalarLatency) Delay(_ int, _ int64) time.Duration {
	return time.Duration(l) * time.Millisecond
}

// RangeLatency draws a uniform delay in [Lo, Hi] milliseconds per chunk.
type RangeLatency struct {
	Lo, Hi int64
	Rand   *rand.Rand
}

func (l RangeLatency) Delay(_ int, _ int64) time.Duration {
	r := l.Rand
	if r == nil {
		r = rand.New(rand.NewSource(0))
	}
	if l.Hi <= l.Lo {
		return time.Duration(l.Lo) * time.Millisecond
	}
	span := l.Hi - l.Lo
	return time.Duration(l.Lo+r.Int63n(span+1)) * time.Millisecond
}

// CallableLatency adapts a Go function (chunkIndex, recordedDelayMs) -> effectiveMs.
type CallableLatency func(chunkIndex int, recordedMs int64) int64

func (f CallableLatency) Delay(chunkIndex int, recordedMs int64) time.Duration {
	return time.Duration(f(chunkIndex, recordedMs)) * time.Millisecond
}

// ErrorMode names the injected-failure shape for one exchange.
type ErrorMode string

const (
	ErrorModeNone         ErrorMode = ""
	ErrorModeTimeout      ErrorMode = "simulated-timeout"
	ErrorModeExit         ErrorMode = "simulated-exit"
)

// ErrorPolicy draws a deterministic, seeded per-exchange decision on
// whether to inject a failure and which shape it takes.
type ErrorPolicy struct {
	Rate int // 0-100, used when RateFunc is nil

	// RateFunc, when set, computes the effective rate per exchange
	// (e.g. an expr-lang expression from internal/policy), overriding
	// Rate.
	RateFunc func(exchangeIndex int) int

	rng *rand.Rand
}

// NewErrorPolicy constructs a policy seeded from the tape's recorded
// seed (or 0 if unset). The PRNG instance is shared across all
// exchanges in one session so successive draws are deterministic given
// the seed, per spec.
func NewErrorPolicy(rate int, seed int64) *ErrorPolicy {
	return &ErrorPolicy{Rate: rate, rng: rand.New(rand.NewSource(seed))}
}

func (p *ErrorPolicy) rateFor(exchangeIndex int) int {
	if p.RateFunc != nil {
		return p.RateFunc(exchangeIndex)
	}
	return p.Rate
}

// Decide draws whether this exchange should fail, and if so, which
// injected-failure mode and how many chunks to stream before failing.
func (p *ErrorPolicy) Decide(exchangeIndex, totalChunks int) (mode ErrorMode, truncateAt int) {
	rate := p.rateFor(exchangeIndex)
	if rate <= 0 {
		return ErrorModeNone, totalChunks
	}
	draw := p.rng.Float64() * 100
	if draw >= float64(rate) {
		return ErrorModeNone, totalChunks
	}
	if p.rng.Intn(2) == 0 {
		truncateAt = totalChunks / 2
		return ErrorModeTimeout, truncateAt
	}
	return ErrorModeExit, totalChunks
}

package policy

import (
	"time"

	"github.com/expr-lang/expr"

	"github.com/termvcr/termvcr/internal/replay"
)

// LatencyEnv is the evaluation environment for a latency expression.
type LatencyEnv struct {
	ChunkIndex      int   `expr:"chunkIndex"`
	RecordedDelayMs int64 `expr:"recordedDelayMs"`
	ExchangeIndex   int   `expr:"exchangeIndex"`
}

// LatencyExpr is an expr-lang expression evaluated per chunk to
// compute the effective delay in milliseconds, an alternative to the
// scalar/range/callable forms in replay.LatencyPolicy.
type LatencyExpr struct {
	Expression    string
	ExchangeIndex int
}

var _ replay.LatencyPolicy = LatencyExpr{}

// Delay evaluates the expression against {chunkIndex, recordedDelayMs,
// exchangeIndex} and returns the resulting duration in milliseconds.
// A compile or evaluation error, or a non-numeric result, falls back
// to the recorded delay unmodified rather than panicking on the pace
// goroutine.
func (l LatencyExpr) Delay(chunkIndex int, recordedMs int64) time.Duration {
	env := LatencyEnv{ChunkIndex: chunkIndex, RecordedDelayMs: recordedMs, ExchangeIndex: l.ExchangeIndex}
	ms, ok := runNumeric(l.Expression, env)
	if !ok {
		return time.Duration(recordedMs) * time.Millisecond
	}
	return time.Duration(ms) * time.Millisecond
}

// ErrorRateEnv is the evaluation environment for an error-rate
// expression.
type ErrorRateEnv struct {
	ExchangeIndex int `expr:"exchangeIndex"`
}

// ErrorRateExpr is an expr-lang expression evaluated once per exchange
// to compute the effective error rate (0-100), an alternative to a
// fixed integer error rate.
type ErrorRateExpr struct {
	Expression string
}

// Rate evaluates the expression against {exchangeIndex} and returns
// the resulting error rate, clamped to [0, 100]. Falls back to 0 on
// any compile/evaluation failure.
func (e ErrorRateExpr) Rate(exchangeIndex int) int {
	env := ErrorRateEnv{ExchangeIndex: exchangeIndex}
	v, ok := runNumeric(e.Expression, env)
	if !ok {
		return 0
	}
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v)
}

// runNumeric compiles (or fetches from cache) and evaluates source
// against env, coercing the result to float64. ok is false on any
// compile, evaluation, or type-coercion failure.
func runNumeric(source string, env any) (float64, bool) {
	program, ok := exprCache.Get(source)
	if !ok {
		var err error
		program, err = expr.Compile(source, expr.Env(env), expr.AllowUndefinedVariables())
		if err != nil {
			return 0, false
		}
		exprCache.Put(source, program)
	}
	result, err := expr.Run(program, env)
	if err != nil {
		return 0, false
	}
	switch v := result.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

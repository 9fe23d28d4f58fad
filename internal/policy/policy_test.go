package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLatencyExprUsesRecordedWhenReferenced(t *testing.T) {
	l := LatencyExpr{Expression: "recordedDelayMs * 2"}
	assert.Equal(t, 100*time.Millisecond, l.Delay(0, 50))
}

func TestLatencyExprFallsBackOnBadExpression(t *testing.T) {
	l := LatencyExpr{Expression: "not valid expr $$$"}
	assert.Equal(t, 30*time.Millisecond, l.Delay(0, 30))
}

func TestErrorRateExprClampsToRange(t *testing.T) {
	e := ErrorRateExpr{Expression: "exchangeIndex * 1000"}
	assert.Equal(t, 100, e.Rate(1))
	assert.Equal(t, 0, e.Rate(0))
}

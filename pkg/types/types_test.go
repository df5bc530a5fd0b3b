package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"selector", &SelectorNotFoundError{Selector: "#agree"}, ErrSelectorNotFound},
		{"breaker", &CircuitBreakerError{Breaker: BreakerDisclaimer, Limit: 5, Count: 5}, ErrCircuitBreakerTripped},
		{"synthesis", &SynthesisError{Reason: "no steps"}, ErrSynthesis},
		{"driver", &DriverError{Op: "click", Err: errors.New("boom")}, ErrDriver},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("step failed: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
		})
	}
}

func TestDriverErrorUnwrap(t *testing.T) {
	cause := errors.New("timeout 30000ms exceeded")
	err := &DriverError{Op: "navigate", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "navigate")

	var de *DriverError
	require.True(t, errors.As(fmt.Errorf("wrap: %w", err), &de))
	assert.Equal(t, "navigate", de.Op)
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrClassificationBlocked))
	assert.True(t, IsFatal(&CircuitBreakerError{Breaker: BreakerAttempts}))
	assert.True(t, IsFatal(&SynthesisError{Reason: "x"}))
	assert.False(t, IsFatal(ErrExecutionTimeout))
	assert.False(t, IsFatal(&SelectorNotFoundError{Selector: "a"}))
}

func TestScriptCompleteEventKeepsFalseSuccess(t *testing.T) {
	ev := NewScriptCompleteEvent(ScriptResult{Script: "a", Success: false, Error: "exit 1"})

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"success":false`)
	assert.Contains(t, string(data), `"type":"script_complete"`)
}

func TestParallelStartEventKeepsZeroLimit(t *testing.T) {
	ev := NewParallelStartEvent(0, 4)

	data, err := json.Marshal(ev)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"max_concurrent":0`)
	assert.Equal(t, 4, ev.Total)
}

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGeneratorStateIsTerminal(t *testing.T) {
	terminal := []GeneratorState{StateSuccess, StateFailed, StateCanceled}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}

	nonTerminal := []GeneratorState{StateQueued, StatePreparing, StateMaterializing, StateSubmitted, StateRunning, StateUploading}
	for _, s := range nonTerminal {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestFailureCategoryReasonCode(t *testing.T) {
	cases := map[FailureCategory]string{
		FailureValidation: "VALIDATION_ERROR",
		FailureTransient:  "TRANSIENT_ERROR",
		FailureTimeout:    "TIMEOUT",
		FailureCancelled:  "CANCELED",
		FailureSystem:     "SYSTEM_ERROR",
	}
	for cat, want := range cases {
		assert.Equal(t, want, cat.ReasonCode())
	}
}

func TestCancellationHandle_IdempotentCancel(t *testing.T) {
	h := NewCancellationHandle("tok", "job-1")
	assert.False(t, h.IsSet())

	first := h.Cancel()
	assert.True(t, first)
	assert.True(t, h.IsSet())

	second := h.Cancel()
	assert.False(t, second, "second Cancel call must report it was not the one that set the signal")

	select {
	case <-h.Done():
	default:
		t.Fatal("Done() channel should be closed after Cancel")
	}
}

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	all := []SubmissionStatus{StatusPending, StatusProcessing, StatusCompleted, StatusFailed}
	allowed := map[[2]SubmissionStatus]bool{
		{StatusPending, StatusProcessing}:   true,
		{StatusProcessing, StatusCompleted}: true,
		{StatusProcessing, StatusFailed}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			assert.Equal(t, allowed[[2]SubmissionStatus{from, to}], CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTerminalStatesHaveNoExit(t *testing.T) {
	for _, s := range []SubmissionStatus{StatusCompleted, StatusFailed} {
		assert.True(t, s.IsTerminal())
		assert.Empty(t, allowedTransitions[s])
	}
	assert.False(t, StatusPending.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestStatusIsValid(t *testing.T) {
	assert.True(t, StatusPending.IsValid())
	assert.False(t, SubmissionStatus("PENDING").IsValid())
	assert.False(t, SubmissionStatus("").IsValid())
}

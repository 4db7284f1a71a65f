package bank

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTrackerStagesAreMonotonic(t *testing.T) {
	tr := NewTracker("0xabc")
	require.Equal(t, StageSubmitted, tr.Stage())

	tr.MarkAwaiting()
	require.Equal(t, StageAwaiting, tr.Stage())

	tr.MarkConfirmed()
	require.Equal(t, StageConfirmed, tr.Stage())
	require.True(t, tr.Stage().Terminal())

	// Terminal stages stick.
	tr.MarkFailed()
	require.Equal(t, StageConfirmed, tr.Stage())
}

func TestTrackerFailureIsTerminal(t *testing.T) {
	tr := NewTracker("0xdef")
	tr.MarkAwaiting()
	tr.MarkFailed()
	require.Equal(t, StageFailed, tr.Stage())
	require.True(t, tr.Stage().Terminal())

	tr.MarkConfirmed()
	require.Equal(t, StageFailed, tr.Stage())
}

func TestStageStrings(t *testing.T) {
	require.Equal(t, "submitted", StageSubmitted.String())
	require.Equal(t, "awaiting confirmation", StageAwaiting.String())
	require.Equal(t, "confirmed", StageConfirmed.String())
	require.Equal(t, "failed", StageFailed.String())
}

package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStatuses = []Status{
	StatusPendingUpload,
	StatusTranscribing,
	StatusTranscribed,
	StatusTranscriptionFailed,
	StatusTranscriptionError,
	StatusAnalyzing,
	StatusCompleted,
	StatusAnalysisError,
}

func TestCanTransition(t *testing.T) {
	allowed := map[[2]Status]bool{
		{StatusPendingUpload, StatusTranscribing}:       true,
		{StatusTranscribing, StatusTranscribed}:         true,
		{StatusTranscribing, StatusTranscriptionFailed}: true,
		{StatusTranscribing, StatusTranscriptionError}:  true,
		{StatusTranscribed, StatusAnalyzing}:            true,
		{StatusAnalyzing, StatusCompleted}:              true,
		{StatusAnalyzing, StatusAnalysisError}:          true,
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := allowed[[2]Status{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
			if want {
				assert.NoError(t, ValidateTransition(from, to))
			} else {
				assert.Error(t, ValidateTransition(from, to))
			}
		}
	}
}

func TestStatus_Terminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusTranscriptionFailed: true,
		StatusTranscriptionError:  true,
		StatusCompleted:           true,
		StatusAnalysisError:       true,
	}
	for _, s := range allStatuses {
		assert.True(t, s.Valid(), s)
		assert.Equal(t, terminal[s], s.Terminal(), s)
		if s.Terminal() {
			for _, to := range allStatuses {
				assert.False(t, CanTransition(s, to), "terminal %s must not move to %s", s, to)
			}
		}
	}
	assert.False(t, Status("UPLOADED").Valid())
	assert.False(t, Status("UPLOADED").Terminal())
}

func TestNewRecordingID(t *testing.T) {
	id := NewRecordingID()
	assert.Len(t, id, 32)
	assert.False(t, strings.Contains(id, "-"))
	assert.NotEqual(t, id, NewRecordingID())
}

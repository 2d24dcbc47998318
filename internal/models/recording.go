package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the pipeline state of a recording.
type Status string

// RecordingStatus values. PENDING_UPLOAD is the only initial state.
const (
	StatusPendingUpload       Status = "PENDING_UPLOAD"
	StatusTranscribing        Status = "TRANSCRIBING"
	StatusTranscribed         Status = "TRANSCRIBED"
	StatusTranscriptionFailed Status = "TRANSCRIPTION_FAILED"
	StatusTranscriptionError  Status = "TRANSCRIPTION_ERROR"
	StatusAnalyzing           Status = "ANALYZING"
	StatusCompleted           Status = "COMPLETED"
	StatusAnalysisError       Status = "ANALYSIS_ERROR"
)

// transitions is the forward-only lifecycle graph.
var transitions = map[Status][]Status{
	StatusPendingUpload: {StatusTranscribing},
	StatusTranscribing:  {StatusTranscribed, StatusTranscriptionFailed, StatusTranscriptionError},
	StatusTranscribed:   {StatusAnalyzing},
	StatusAnalyzing:     {StatusCompleted, StatusAnalysisError},
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPendingUpload, StatusTranscribing, StatusTranscribed, StatusTranscriptionFailed,
		StatusTranscriptionError, StatusAnalyzing, StatusCompleted, StatusAnalysisError:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns an error when from -> to is not an edge of the lifecycle graph.
func ValidateTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("invalid status transition %s -> %s", from, to)
	}
	return nil
}

// Recording is one uploaded audio item and its lifecycle status.
type Recording struct {
	RecordingID          string    `json:"recordingId"`
	UserID               string    `json:"userId"`
	FileName             string    `json:"fileName"`
	FileType             string    `json:"fileType"`
	Description          string    `json:"description"`
	StorageKey           string    `json:"storageKey"`
	Status               Status    `json:"status"`
	ComplianceScore      *int      `json:"complianceScore,omitempty"`
	TranscriptionJobName string    `json:"transcriptionJobName,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// TransitionPatch carries the optional fields written together with a status change.
type TransitionPatch struct {
	ComplianceScore      *int
	TranscriptionJobName string
}

// NewRecordingID returns a fresh identifier. Hyphens are stripped so the id can be
// embedded as a single token in a hyphen-delimited transcription job name.
func NewRecordingID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

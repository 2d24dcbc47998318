package pipeline

import (
	"errors"
	"fmt"
)

// Outcome is how a stage invocation ended.
type Outcome string

const (
	OutcomeAdvanced        Outcome = "advanced"
	OutcomeDuplicate       Outcome = "duplicate"
	OutcomeIgnored         Outcome = "ignored"
	OutcomeBusinessFailure Outcome = "business_failure"
	OutcomeFailed          Outcome = "failed"
)

// MalformedEventError reports an inbound event missing required fields.
// Redelivering the same event fails the same way.
type MalformedEventError struct {
	Topic  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed %s event: %s", e.Topic, e.Reason)
}

// TransientDependencyError reports an analyzer that timed out or answered badly.
// The analysis stage replaces it with a degraded verdict and never returns it.
type TransientDependencyError struct {
	Dependency string
	Err        error
}

func (e *TransientDependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *TransientDependencyError) Unwrap() error { return e.Err }

// HardPreconditionError reports a missing artifact or failed submission. It is only
// returned after the recording was moved to a terminal *_ERROR state; when that write
// fails the stage returns a plain, retryable error instead.
type HardPreconditionError struct {
	RecordingID string
	Status      string
	Err         error
}

func (e *HardPreconditionError) Error() string {
	return fmt.Sprintf("recording %s moved to %s: %v", e.RecordingID, e.Status, e.Err)
}

func (e *HardPreconditionError) Unwrap() error { return e.Err }

// BusinessFailure reports that the external transcription job itself failed.
type BusinessFailure struct {
	RecordingID string
	JobName     string
}

func (e *BusinessFailure) Error() string {
	return fmt.Sprintf("transcription job %s failed for recording %s", e.JobName, e.RecordingID)
}

// Retryable reports whether the bus should redeliver the event that produced err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var malformed *MalformedEventError
	var hard *HardPreconditionError
	var business *BusinessFailure
	switch {
	case errors.As(err, &malformed), errors.As(err, &hard), errors.As(err, &business):
		return false
	}
	return true
}

func malformed(topic, reason string) error {
	return &MalformedEventError{Topic: topic, Reason: reason}
}

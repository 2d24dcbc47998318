package models

// Event bus topics.
const (
	TopicAudioReady          = "audio.ready"
	TopicTranscriptionStatus = "transcription.status"
	TopicAnalysisRequested   = "analysis.requested"
	TopicAnalysisCompleted   = "analysis.completed"
	TopicComplianceAlert     = "compliance.alert"
)

// Transcription job statuses reported by the speech-to-text service.
const (
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// AudioReady announces that the raw audio object exists in storage.
type AudioReady struct {
	RecordingID string `json:"recordingId"`
	StorageKey  string `json:"storageKey"`
	Bucket      string `json:"bucket"`
}

// TranscriptionJobStatus reports the terminal state of a transcription job.
type TranscriptionJobStatus struct {
	JobName   string `json:"jobName"`
	JobStatus string `json:"jobStatus"`
}

// AnalysisRequested asks the analysis stage to score a transcript.
type AnalysisRequested struct {
	RecordingID   string `json:"recordingId"`
	TranscriptKey string `json:"transcriptKey"`
	Bucket        string `json:"bucket"`
}

// AnalysisCompleted is published once per completed analysis.
type AnalysisCompleted struct {
	RecordingID     string `json:"recordingId"`
	UserID          string `json:"userId"`
	ComplianceScore int    `json:"complianceScore"`
	Timestamp       int64  `json:"timestamp"`
}

// ComplianceAlert is published when the aggregate score is below the alert threshold.
type ComplianceAlert struct {
	RecordingID     string  `json:"recordingId"`
	ComplianceScore int     `json:"complianceScore"`
	Issues          []Issue `json:"issues"`
	Summary         string  `json:"summary"`
	Timestamp       int64   `json:"timestamp"`
}

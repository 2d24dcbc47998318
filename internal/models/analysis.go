package models

import (
	"encoding/json"
	"time"
)

// Issue sources as stored on merged issues.
const (
	SourceLLM   = "llm"
	SourceRules = "rules"
)

// DefaultRiskLevel is used when an analyzer omits the risk level of an issue.
const DefaultRiskLevel = "Medium"

// Issue is a compliance finding normalized across analyzers.
type Issue struct {
	Source         string `json:"source"`
	Description    string `json:"description"`
	RiskLevel      string `json:"riskLevel"`
	Recommendation string `json:"recommendation"`
}

// AnalysisResult is the write-once record produced by the analysis stage.
type AnalysisResult struct {
	RecordingID      string          `json:"recordingId"`
	Transcript       string          `json:"transcript,omitempty"`
	AnalyzerAResults json.RawMessage `json:"analyzerAResults"`
	AnalyzerBResults json.RawMessage `json:"analyzerBResults"`
	Issues           []Issue         `json:"issues"`
	ComplianceScore  int             `json:"complianceScore"`
	AnalyzerASummary string          `json:"analyzerASummary"`
	AnalyzerBSummary string          `json:"analyzerBSummary"`
	Timestamp        time.Time       `json:"timestamp"`
}

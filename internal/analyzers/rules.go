package analyzers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/internal/pipeline"
)

const (
	// DefaultIndustry is the rule set the rules service applies.
	DefaultIndustry = "financial"
	maxResponseSize = 4 * 1024 * 1024
)

// RulesConfig configures the rule-based analyzer.
type RulesConfig struct {
	Endpoint string
	APIKey   string
	Industry string
	// HTTPClient is optional. Deadlines come from the caller's context.
	HTTPClient *http.Client
}

// Rules is analyzer B, an HTTP rule-based compliance service.
type Rules struct {
	endpoint string
	apiKey   string
	industry string
	http     *http.Client
}

// NewRules creates the rules analyzer.
func NewRules(cfg RulesConfig) *Rules {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 2 * time.Minute}
	}
	industry := cfg.Industry
	if industry == "" {
		industry = DefaultIndustry
	}
	return &Rules{endpoint: cfg.Endpoint, apiKey: cfg.APIKey, industry: industry, http: hc}
}

func (r *Rules) Name() string { return models.SourceRules }

type rulesRequest struct {
	Transcript string `json:"transcript"`
	Context    string `json:"context"`
	Domain     string `json:"domain"`
	Detailed   bool   `json:"detailed"`
}

type rulesIssue struct {
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	Recommendation string `json:"recommendation"`
}

type rulesResponse struct {
	Score   *float64     `json:"financial_compliance_score"`
	Issues  []rulesIssue `json:"issues"`
	Summary string       `json:"summary"`
}

// Analyze posts the transcript to the rules service.
func (r *Rules) Analyze(ctx context.Context, transcript, description string) (*pipeline.Verdict, error) {
	if r.endpoint == "" {
		return nil, errors.New("rules endpoint not configured")
	}
	body, err := json.Marshal(rulesRequest{
		Transcript: transcript,
		Context:    description,
		Domain:     r.industry,
		Detailed:   true,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rules request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("read rules response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("rules service returned %d", resp.StatusCode)
	}

	var out rulesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode rules response: %w", err)
	}
	if out.Score == nil {
		return nil, errors.New("rules response has no financial_compliance_score")
	}
	if err := pipeline.CheckScore(*out.Score); err != nil {
		return nil, fmt.Errorf("rules response financial_compliance_score: %w", err)
	}
	issues := make([]models.Issue, 0, len(out.Issues))
	for _, is := range out.Issues {
		issues = append(issues, models.Issue{
			Description:    is.Description,
			RiskLevel:      is.Severity,
			Recommendation: is.Recommendation,
		})
	}
	return &pipeline.Verdict{
		Score:   *out.Score,
		Issues:  issues,
		Summary: out.Summary,
		Raw:     raw,
	}, nil
}

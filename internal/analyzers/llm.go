package analyzers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/echoguard/backend/internal/models"
	"github.com/echoguard/backend/internal/pipeline"
	"github.com/sashabaranov/go-openai"
)

const (
	maxTokens    = 4000
	defaultModel = "gpt-4o-mini"
)

const llmSystemPrompt = `You are a compliance expert analyzing a transcript of a conversation.
Identify any potential compliance issues in the transcript.

Provide:
1. A list of potential compliance issues
2. A risk level for each issue (Low, Medium, High)
3. Recommendations to address each issue
4. An overall compliance risk score from 0-100 (where 0 is high risk and 100 is fully compliant)

Respond with JSON only, using this structure:
{
  "issues": [
    {"description": "Issue description", "risk_level": "Low|Medium|High", "recommendation": "How to address this issue"}
  ],
  "overall_score": 85,
  "summary": "Brief summary of compliance analysis"
}`

// LLMConfig configures the general-purpose analyzer.
type LLMConfig struct {
	APIKey  string
	BaseURL string // optional, any OpenAI-compatible endpoint
	Model   string
}

// LLM is analyzer A, backed by an OpenAI-compatible chat completion API.
type LLM struct {
	client *openai.Client
	model  string
}

// NewLLM creates the LLM analyzer.
func NewLLM(cfg LLMConfig) *LLM {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &LLM{client: openai.NewClientWithConfig(oc), model: model}
}

func (l *LLM) Name() string { return models.SourceLLM }

type llmIssue struct {
	Description    string `json:"description"`
	RiskLevel      string `json:"risk_level"`
	Recommendation string `json:"recommendation"`
}

type llmResponse struct {
	Issues       []llmIssue `json:"issues"`
	OverallScore *float64   `json:"overall_score"`
	Summary      string     `json:"summary"`
}

// Analyze asks the model for a compliance verdict on transcript.
func (l *LLM) Analyze(ctx context.Context, transcript, description string) (*pipeline.Verdict, error) {
	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Context: %s\n\nTranscript:\n%s", description, transcript)},
		},
	}
	// Reasoning models take MaxCompletionTokens instead of MaxTokens.
	if strings.HasPrefix(l.model, "o1") || strings.HasPrefix(l.model, "o3") || strings.HasPrefix(l.model, "o4") || strings.HasPrefix(l.model, "gpt-5") {
		req.MaxCompletionTokens = maxTokens
		req.Temperature = 0
	} else {
		req.MaxTokens = maxTokens
	}

	resp, err := l.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("chat completion returned no choices")
	}
	return parseLLMResponse(resp.Choices[0].Message.Content)
}

// parseLLMResponse decodes the JSON object embedded in the model output.
func parseLLMResponse(content string) (*pipeline.Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return nil, errors.New("model output contains no JSON object")
	}
	raw := []byte(content[start : end+1])

	var out llmResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if out.OverallScore == nil {
		return nil, errors.New("model output has no overall_score")
	}
	if err := pipeline.CheckScore(*out.OverallScore); err != nil {
		return nil, fmt.Errorf("model output overall_score: %w", err)
	}
	issues := make([]models.Issue, 0, len(out.Issues))
	for _, is := range out.Issues {
		issues = append(issues, models.Issue{
			Description:    is.Description,
			RiskLevel:      is.RiskLevel,
			Recommendation: is.Recommendation,
		})
	}
	return &pipeline.Verdict{
		Score:   *out.OverallScore,
		Issues:  issues,
		Summary: out.Summary,
		Raw:     raw,
	}, nil
}

package pipeline

import (
	"math"
	"testing"

	"github.com/echoguard/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestAggregate(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want int
	}{
		{"weighted", 90, 80, 84},
		{"rules dominate", 100, 0, 40},
		{"both degraded", DegradedScore, DegradedScore, 50},
		{"half rounds away from zero", 0, 62.5, 38},
		{"clamped high", 150, 150, 100},
		{"clamped low", -20, -10, 0},
		{"huge clamps high", 1e300, 0, 100},
		{"huge negative clamps low", 0, -1e300, 0},
		{"infinite clamps high", math.Inf(1), 100, 100},
		{"perfect", 100, 100, 100},
		{"zero", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Aggregate(tt.a, tt.b))
		})
	}
}

func TestShouldAlert(t *testing.T) {
	assert.True(t, ShouldAlert(65))
	assert.True(t, ShouldAlert(69))
	assert.False(t, ShouldAlert(70))
	assert.False(t, ShouldAlert(75))
}

func TestMergeIssues(t *testing.T) {
	a := []models.Issue{{Description: "promised returns", RiskLevel: "High", Recommendation: "remove guarantee"}}
	b := []models.Issue{
		{Description: "missing disclosure", Recommendation: "read disclosure"},
		{Description: "pressure tactics", RiskLevel: "Low"},
	}

	got := MergeIssues(models.SourceLLM, a, models.SourceRules, b)

	assert.Equal(t, []models.Issue{
		{Source: models.SourceLLM, Description: "promised returns", RiskLevel: "High", Recommendation: "remove guarantee"},
		{Source: models.SourceRules, Description: "missing disclosure", RiskLevel: models.DefaultRiskLevel, Recommendation: "read disclosure"},
		{Source: models.SourceRules, Description: "pressure tactics", RiskLevel: "Low"},
	}, got)
}

func TestMergeIssues_Empty(t *testing.T) {
	got := MergeIssues(models.SourceLLM, nil, models.SourceRules, nil)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestAlertSummary(t *testing.T) {
	assert.Equal(t, "first second", AlertSummary("first", "  ", "second"))
	assert.Equal(t, "", AlertSummary())
}

func TestCheckScore(t *testing.T) {
	for _, s := range []float64{0, 42.5, 100} {
		assert.NoError(t, CheckScore(s), s)
	}
	for _, s := range []float64{-0.1, 100.5, 1e300, math.NaN(), math.Inf(-1)} {
		assert.Error(t, CheckScore(s), s)
	}
}

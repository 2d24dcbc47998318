package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/echoguard/backend/internal/models"
)

// Score weights. The rules analyzer carries the industry-specific checks.
const (
	WeightA = 0.4
	WeightB = 0.6
)

// AlertThreshold is the aggregate score below which a compliance alert is raised.
const AlertThreshold = 70

// Aggregate combines the two analyzer scores into one score in [0, 100].
// math.Round rounds half away from zero. The clamp happens before the int conversion.
func Aggregate(a, b float64) int {
	score := WeightA*a + WeightB*b
	switch {
	case math.IsNaN(score), score < 0:
		return 0
	case score > 100:
		return 100
	}
	return int(math.Round(score))
}

// CheckScore rejects an analyzer score that is not a finite number in [0, 100].
func CheckScore(score float64) error {
	if math.IsNaN(score) || score < 0 || score > 100 {
		return fmt.Errorf("score %v out of range [0, 100]", score)
	}
	return nil
}

// ShouldAlert reports whether score triggers a compliance alert.
func ShouldAlert(score int) bool {
	return score < AlertThreshold
}

// MergeIssues concatenates A's issues then B's, tagging each with its source and
// filling in the default risk level.
func MergeIssues(sourceA string, a []models.Issue, sourceB string, b []models.Issue) []models.Issue {
	merged := make([]models.Issue, 0, len(a)+len(b))
	tag := func(source string, issues []models.Issue) {
		for _, is := range issues {
			is.Source = source
			if strings.TrimSpace(is.RiskLevel) == "" {
				is.RiskLevel = models.DefaultRiskLevel
			}
			merged = append(merged, is)
		}
	}
	tag(sourceA, a)
	tag(sourceB, b)
	return merged
}

// AlertSummary joins the non-empty analyzer summaries.
func AlertSummary(summaries ...string) string {
	parts := make([]string, 0, len(summaries))
	for _, s := range summaries {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Package analysis holds the pure rules applied to AI analysis results:
// normalization of response shapes, risk scoring and status messages.
package analysis

import "github.com/ericksa/contractd/internal/model"

const severityHigh = "high"

// CalculateRiskLevel derives the overall risk from the individual risks.
// Two or more high risks make it high; three or more risks of any severity,
// or a single high one, make it medium. Everything else is low.
func CalculateRiskLevel(risks []model.Risk) model.RiskLevel {
	high := 0
	for _, r := range risks {
		if r.Severity == severityHigh {
			high++
		}
	}
	return levelFor(high, len(risks))
}

// RiskLevelFromValue applies the same rule to an untyped decoded JSON value.
// Anything that is not an array scores low.
func RiskLevelFromValue(v any) model.RiskLevel {
	items, ok := v.([]any)
	if !ok {
		return model.RiskLow
	}
	high := 0
	for _, item := range items {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := entry["severity"].(string); s == severityHigh {
			high++
		}
	}
	return levelFor(high, len(items))
}

func levelFor(high, total int) model.RiskLevel {
	switch {
	case high >= 2:
		return model.RiskHigh
	case total >= 3 || high >= 1:
		return model.RiskMedium
	default:
		return model.RiskLow
	}
}

// AbusiveClauseNames flattens the flagged clauses to their names.
func AbusiveClauseNames(clauses []model.AbusiveClause) []string {
	names := make([]string, 0, len(clauses))
	for _, c := range clauses {
		names = append(names, c.Clause)
	}
	return names
}

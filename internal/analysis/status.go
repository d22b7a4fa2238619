package analysis

import (
	"fmt"

	"github.com/ericksa/contractd/internal/model"
)

// StatusMessage describes the analysis state of a contract from its status
// and the number of analyses stored for it.
func StatusMessage(status model.Status, count int) string {
	switch {
	case status == model.StatusPending && count == 0:
		return "analysis in progress"
	case status == model.StatusPending && count > 0:
		return "pending but analyses available"
	case status == model.StatusAnalyzed && count > 0:
		noun := "analyses"
		if count == 1 {
			noun = "analysis"
		}
		return fmt.Sprintf("analysis complete (%d %s)", count, noun)
	case status == model.StatusAnalyzed && count == 0:
		return "marked analyzed but none found"
	default:
		return "unknown status"
	}
}

// Summary is the compact per-contract status used in listings.
type Summary struct {
	Status        model.Status `json:"status"`
	HasAnalyses   bool         `json:"hasAnalyses"`
	AnalysesCount int          `json:"analysesCount"`
}

func Summarize(status model.Status, count int) Summary {
	return Summary{Status: status, HasAnalyses: count > 0, AnalysesCount: count}
}

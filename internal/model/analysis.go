package model

import "time"

// RiskLevel is the derived overall risk of an analysis.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AbusiveClause is a clause the AI service flagged as abusive.
type AbusiveClause struct {
	Clause          string `json:"clause"`
	Explanation     string `json:"explanation"`
	SuggestedChange string `json:"suggested_change"`
}

// Risk is a single legal risk with its severity ("low", "medium", "high").
type Risk struct {
	Risk              string `json:"risk"`
	Explanation       string `json:"explanation"`
	SuggestedSolution string `json:"suggested_solution"`
	Severity          string `json:"severity"`
}

type Recommendation struct {
	Recommendation  string `json:"recommendation"`
	Justification   string `json:"justification"`
	SuggestedChange string `json:"suggested_change,omitempty"`
}

// Result is the canonical four-field analysis shape every consumer relies on.
type Result struct {
	Overview        string           `json:"overview"`
	ClausesAbusives []AbusiveClause  `json:"clauses_abusives"`
	Risks           []Risk           `json:"risks"`
	Recommendations []Recommendation `json:"recommendations"`
}

// Analysis is the stored assessment for exactly one contract.
type Analysis struct {
	ID             string    `json:"id"`
	ContractID     string    `json:"contract"`
	Result         Result    `json:"result"`
	AbusiveClauses []string  `json:"abusiveClauses"`
	RiskLevel      RiskLevel `json:"riskLevel"`
	AnalysisDate   time.Time `json:"analysisDate"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

package model

import "time"

// Status is the lifecycle state of a stored contract.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnalyzed Status = "analyzed"
	StatusFailed   Status = "failed"
)

// Contract is a submitted piece of contract text owned by one user.
type Contract struct {
	ID                  string     `json:"id"`
	Content             string     `json:"content"`
	ContentHash         string     `json:"contentHash"`
	Owner               string     `json:"owner"`
	Status              Status     `json:"status"`
	AnalysisStarted     bool       `json:"analysisStarted"`
	LastAnalysisAttempt *time.Time `json:"lastAnalysisAttempt"`
	LastAnalysisError   string     `json:"lastAnalysisError,omitempty"`
	AnalysisRetryCount  int        `json:"analysisRetryCount"`
	AnalysisID          string     `json:"analysis,omitempty"`
	SourceObject        string     `json:"sourceObject,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// User is the identity returned by the auth service. Only ID is relied on.
type User struct {
	ID    string         `json:"id"`
	Email string         `json:"email,omitempty"`
	Raw   map[string]any `json:"-"`
}

package contracts

import (
	"context"
	"fmt"
	"time"

	"github.com/ericksa/contractd/internal/analysis"
	"github.com/ericksa/contractd/internal/model"
)

// ISODate is the layout analysis dates are rendered with.
const ISODate = "2006-01-02T15:04:05.000Z"

// AnalysisView is an analysis as returned to clients.
type AnalysisView struct {
	ID             string          `json:"id"`
	ContractID     string          `json:"contract"`
	Result         model.Result    `json:"result"`
	AbusiveClauses []string        `json:"abusiveClauses"`
	RiskLevel      model.RiskLevel `json:"riskLevel"`
	AnalysisDate   string          `json:"analysisDate"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func newAnalysisView(a model.Analysis) AnalysisView {
	clauses := a.AbusiveClauses
	if clauses == nil {
		clauses = []string{}
	}
	return AnalysisView{
		ID:             a.ID,
		ContractID:     a.ContractID,
		Result:         analysis.NormalizeValue(a.Result),
		AbusiveClauses: clauses,
		RiskLevel:      a.RiskLevel,
		AnalysisDate:   a.AnalysisDate.UTC().Format(ISODate),
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func newAnalysisViews(in []model.Analysis) []AnalysisView {
	out := make([]AnalysisView, 0, len(in))
	for _, a := range in {
		out = append(out, newAnalysisView(a))
	}
	return out
}

// ContractView is a contract joined with its analyses.
type ContractView struct {
	Contract       *model.Contract `json:"contract"`
	Analyses       []AnalysisView  `json:"analyses"`
	AnalysisStatus string          `json:"analysisStatus"`
}

// GetContractWithAnalyses loads a contract, its analyses newest first, and a
// readable description of its analysis state.
func (s *Service) GetContractWithAnalyses(ctx context.Context, id string) (*ContractView, error) {
	c, err := s.repo.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	analyses, err := s.repo.ListAnalyses(ctx, id)
	if err != nil {
		return nil, err
	}
	return &ContractView{
		Contract:       c,
		Analyses:       newAnalysisViews(analyses),
		AnalysisStatus: analysis.StatusMessage(c.Status, len(analyses)),
	}, nil
}

// ContractSummary is one entry of a user's contract listing.
type ContractSummary struct {
	model.Contract
	Analyses       []AnalysisView   `json:"analyses"`
	AnalysisStatus analysis.Summary `json:"analysisStatus"`
}

// ListUserContracts returns the owner's contracts, newest first, each with its
// analyses embedded. A non-positive limit uses the configured default.
func (s *Service) ListUserContracts(ctx context.Context, ownerID string, limit int) ([]ContractSummary, error) {
	if limit <= 0 || limit > s.opts.ListLimit {
		limit = s.opts.ListLimit
	}
	list, err := s.repo.ListContracts(ctx, ownerID, limit)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(list))
	for i, c := range list {
		ids[i] = c.ID
	}
	grouped, err := s.repo.ListAnalysesFor(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]ContractSummary, 0, len(list))
	for _, c := range list {
		analyses := grouped[c.ID]
		out = append(out, ContractSummary{
			Contract:       c,
			Analyses:       newAnalysisViews(analyses),
			AnalysisStatus: analysis.Summarize(c.Status, len(analyses)),
		})
	}
	return out, nil
}

// CountUserContracts returns how many contracts ownerID has stored, regardless
// of the list limit.
func (s *Service) CountUserContracts(ctx context.Context, ownerID string) (int, error) {
	n, err := s.repo.CountContracts(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("failed to count contracts: %w", err)
	}
	return n, nil
}

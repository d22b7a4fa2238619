package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ericksa/contractd/internal/analysis"
	"github.com/ericksa/contractd/internal/model"
	"github.com/google/uuid"
)

const analysisColumns = `id, contract_id, result, abusive_clauses, risk_level, analysis_date, created_at, updated_at`

// SaveAnalysis stores the result for a contract, replacing any earlier one,
// and marks the contract analyzed. Everything happens in one transaction.
func (s *Store) SaveAnalysis(ctx context.Context, contractID string, result model.Result) (*model.Analysis, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := s.getContract(ctx, tx, contractID); err != nil {
		return nil, err
	}

	result = analysis.NormalizeValue(result)
	a := &model.Analysis{
		ContractID:     contractID,
		Result:         result,
		AbusiveClauses: analysis.AbusiveClauseNames(result.ClausesAbusives),
		RiskLevel:      analysis.CalculateRiskLevel(result.Risks),
	}
	resultJSON, err := json.Marshal(a.Result)
	if err != nil {
		return nil, fmt.Errorf("failed to encode analysis result: %w", err)
	}
	clausesJSON, err := json.Marshal(a.AbusiveClauses)
	if err != nil {
		return nil, fmt.Errorf("failed to encode abusive clauses: %w", err)
	}

	now := s.now()
	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO analyses (id, contract_id, result, abusive_clauses, risk_level, analysis_date, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (contract_id) DO UPDATE SET
	result = excluded.result,
	abusive_clauses = excluded.abusive_clauses,
	risk_level = excluded.risk_level,
	analysis_date = excluded.analysis_date,
	updated_at = excluded.updated_at`),
		uuid.NewString(), contractID, string(resultJSON), string(clausesJSON), string(a.RiskLevel), now, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert analysis: %w", err)
	}

	err = tx.QueryRowContext(ctx, s.rebind(`SELECT id, created_at FROM analyses WHERE contract_id = ?`), contractID).
		Scan(&a.ID, &a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read back analysis: %w", err)
	}
	a.AnalysisDate = now
	a.UpdatedAt = now

	_, err = tx.ExecContext(ctx, s.rebind(`
UPDATE contracts
SET status = ?, analysis_id = ?, analysis_started = ?, last_analysis_error = NULL, updated_at = ?
WHERE id = ?`), string(model.StatusAnalyzed), a.ID, false, now, contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark contract analyzed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit analysis: %w", err)
	}
	return a, nil
}

func scanAnalysis(row rowScanner) (*model.Analysis, error) {
	var (
		a       model.Analysis
		result  string
		clauses string
		risk    string
	)
	if err := row.Scan(&a.ID, &a.ContractID, &result, &clauses, &risk, &a.AnalysisDate, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	// Rows written by older clients may hold the result as an encoded string.
	a.Result = analysis.Normalize([]byte(result))
	if err := json.Unmarshal([]byte(clauses), &a.AbusiveClauses); err != nil || a.AbusiveClauses == nil {
		a.AbusiveClauses = analysis.AbusiveClauseNames(a.Result.ClausesAbusives)
	}
	a.RiskLevel = model.RiskLevel(risk)
	return &a, nil
}

// ListAnalyses returns the analyses of a contract, newest first.
func (s *Store) ListAnalyses(ctx context.Context, contractID string) ([]model.Analysis, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT `+analysisColumns+`
FROM analyses
WHERE contract_id = ?
ORDER BY analysis_date DESC`), contractID)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	analyses := []model.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		analyses = append(analyses, *a)
	}
	return analyses, rows.Err()
}

// ListAnalysesFor groups the analyses of several contracts by contract id.
func (s *Store) ListAnalysesFor(ctx context.Context, contractIDs []string) (map[string][]model.Analysis, error) {
	out := make(map[string][]model.Analysis, len(contractIDs))
	if len(contractIDs) == 0 {
		return out, nil
	}
	args := make([]any, len(contractIDs))
	for i, id := range contractIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT `+analysisColumns+`
FROM analyses
WHERE contract_id IN (`+placeholders(len(contractIDs))+`)
ORDER BY analysis_date DESC`), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan analysis: %w", err)
		}
		out[a.ContractID] = append(out[a.ContractID], *a)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ericksa/contractd/internal/model"
)

// StaleClaimError is recorded on contracts whose claim was reclaimed by a sweep.
const StaleClaimError = "analysis claim expired"

// ClaimAnalysis atomically marks the contract as having an analysis in flight.
// The flag is only set if it is currently clear; the conditional UPDATE is the
// compare-and-set, so of any number of concurrent callers exactly one gets the
// updated contract back. The others, and callers with an unknown id, get nil.
func (s *Store) ClaimAnalysis(ctx context.Context, id string) (*model.Contract, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := s.now()
	res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE contracts
SET analysis_started = ?, last_analysis_attempt = ?,
	analysis_retry_count = analysis_retry_count + 1, updated_at = ?
WHERE id = ? AND analysis_started = ?`), true, now, now, id, false)
	if err != nil {
		return nil, fmt.Errorf("failed to claim contract %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to claim contract %s: %w", id, err)
	}
	if n == 0 {
		return nil, nil
	}

	c, err := s.getContract(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}
	return c, nil
}

// ReleaseClaim clears the in-flight flag after a failed attempt so a retry can
// claim again. The contract stays pending.
func (s *Store) ReleaseClaim(ctx context.Context, id, errMsg string) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE contracts
SET analysis_started = ?, last_analysis_error = ?, updated_at = ?
WHERE id = ?`), false, nullString(errMsg), now, id)
	if err != nil {
		return fmt.Errorf("failed to release claim on %s: %w", id, err)
	}
	return nil
}

// MarkAnalysisFailed records a terminal analysis failure.
func (s *Store) MarkAnalysisFailed(ctx context.Context, id, errMsg string) error {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE contracts
SET analysis_started = ?, last_analysis_error = ?, status = ?, updated_at = ?
WHERE id = ?`), false, nullString(errMsg), string(model.StatusFailed), now, id)
	if err != nil {
		return fmt.Errorf("failed to mark contract %s failed: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrContractNotFound
	}
	return nil
}

// RecordAnalysisError stores errMsg and clears the claim without changing status.
func (s *Store) RecordAnalysisError(ctx context.Context, id, errMsg string) error {
	return s.ReleaseClaim(ctx, id, errMsg)
}

// ReclaimStale fails every contract whose claim was taken before cutoff and
// returns how many were reset.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, s.rebind(`
UPDATE contracts
SET analysis_started = ?, status = ?, last_analysis_error = ?, updated_at = ?
WHERE analysis_started = ? AND last_analysis_attempt < ?`),
		false, string(model.StatusFailed), StaleClaimError, now, true, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale claims: %w", err)
	}
	return res.RowsAffected()
}

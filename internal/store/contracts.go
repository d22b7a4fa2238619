package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ericksa/contractd/internal/model"
	"github.com/google/uuid"
)

const contractColumns = `id, owner, content, content_hash, status, analysis_started,
	last_analysis_attempt, last_analysis_error, analysis_retry_count, analysis_id,
	source_object, created_at, updated_at`

// Outcome tells how SaveContract resolved a submission.
type Outcome int

const (
	OutcomeCreated Outcome = iota
	OutcomeDuplicate
	OutcomeResubmitted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeResubmitted:
		return "resubmitted"
	default:
		return "unknown"
	}
}

// NewContract is the input to SaveContract.
type NewContract struct {
	Owner        string
	Content      string
	ContentHash  string
	SourceObject string
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContract(row rowScanner) (*model.Contract, error) {
	var (
		c         model.Contract
		status    string
		attempt   sql.NullTime
		lastErr   sql.NullString
		analysis  sql.NullString
		sourceObj sql.NullString
	)
	err := row.Scan(&c.ID, &c.Owner, &c.Content, &c.ContentHash, &status, &c.AnalysisStarted,
		&attempt, &lastErr, &c.AnalysisRetryCount, &analysis, &sourceObj, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Status = model.Status(status)
	if attempt.Valid {
		t := attempt.Time
		c.LastAnalysisAttempt = &t
	}
	c.LastAnalysisError = lastErr.String
	c.AnalysisID = analysis.String
	c.SourceObject = sourceObj.String
	return &c, nil
}

// SaveContract stores a submission unless the owner already has a pending or
// analyzed contract with the same content or content hash, in which case the
// existing contract is returned with OutcomeDuplicate. A failed contract with
// the same hash is reset to pending and returned with OutcomeResubmitted,
// unless an analysis claim on it is still in flight, which makes it a
// duplicate.
//
// The duplicate check and the write run in one transaction. If a concurrent
// submission wins the race anyway the unique (owner, content_hash) index
// rejects the insert and the winning row is returned as a duplicate.
func (s *Store) SaveContract(ctx context.Context, in NewContract) (*model.Contract, Outcome, error) {
	c, outcome, err := s.saveContractTx(ctx, in)
	if err != nil && isUniqueViolation(err) {
		existing, ferr := s.findByOwnerHash(ctx, s.db, in.Owner, in.ContentHash)
		if ferr != nil {
			return nil, OutcomeCreated, fmt.Errorf("failed to load concurrent duplicate: %w", ferr)
		}
		return existing, OutcomeDuplicate, nil
	}
	return c, outcome, err
}

func (s *Store) saveContractTx(ctx context.Context, in NewContract) (*model.Contract, Outcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, OutcomeCreated, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := s.findDuplicate(ctx, tx, in.Owner, in.Content, in.ContentHash)
	if err != nil {
		return nil, OutcomeCreated, err
	}
	if existing != nil {
		return existing, OutcomeDuplicate, nil
	}

	now := s.now()
	failed, err := s.findByOwnerHash(ctx, tx, in.Owner, in.ContentHash)
	switch {
	case err == nil && failed.Status == model.StatusFailed:
		// The reset never touches analysis_started; a failed row whose claim is
		// still held stays with its claimant and is reported as a duplicate.
		res, err := tx.ExecContext(ctx, s.rebind(`
UPDATE contracts
SET content = ?, status = ?, last_analysis_attempt = NULL,
	last_analysis_error = NULL, analysis_retry_count = 0,
	source_object = COALESCE(?, source_object), updated_at = ?
WHERE id = ? AND status = ? AND analysis_started = ?`),
			in.Content, string(model.StatusPending), nullString(in.SourceObject), now,
			failed.ID, string(model.StatusFailed), false)
		if err != nil {
			return nil, OutcomeCreated, fmt.Errorf("failed to reset failed contract: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, OutcomeCreated, fmt.Errorf("failed to reset failed contract: %w", err)
		}
		if n == 0 {
			return failed, OutcomeDuplicate, nil
		}
		c, err := s.getContract(ctx, tx, failed.ID)
		if err != nil {
			return nil, OutcomeCreated, err
		}
		if err := tx.Commit(); err != nil {
			return nil, OutcomeCreated, fmt.Errorf("failed to commit: %w", err)
		}
		return c, OutcomeResubmitted, nil
	case err != nil && !errors.Is(err, ErrContractNotFound):
		return nil, OutcomeCreated, err
	}

	c := &model.Contract{
		ID:          uuid.NewString(),
		Owner:       in.Owner,
		Content:     in.Content,
		ContentHash: in.ContentHash,
		Status:      model.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	c.SourceObject = in.SourceObject
	_, err = tx.ExecContext(ctx, s.rebind(`
INSERT INTO contracts (id, owner, content, content_hash, status, analysis_started,
	analysis_retry_count, source_object, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		c.ID, c.Owner, c.Content, c.ContentHash, string(c.Status), false, 0,
		nullString(c.SourceObject), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return nil, OutcomeCreated, fmt.Errorf("failed to insert contract: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, OutcomeCreated, fmt.Errorf("failed to commit: %w", err)
	}
	return c, OutcomeCreated, nil
}

// findDuplicate looks up a live contract of owner with the same content or hash.
func (s *Store) findDuplicate(ctx context.Context, q queryer, owner, content, hash string) (*model.Contract, error) {
	row := q.QueryRowContext(ctx, s.rebind(`
SELECT `+contractColumns+`
FROM contracts
WHERE owner = ? AND (content = ? OR content_hash = ?) AND status IN (?, ?)
ORDER BY created_at
LIMIT 1`), owner, content, hash, string(model.StatusPending), string(model.StatusAnalyzed))
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicates: %w", err)
	}
	return c, nil
}

func (s *Store) findByOwnerHash(ctx context.Context, q queryer, owner, hash string) (*model.Contract, error) {
	row := q.QueryRowContext(ctx, s.rebind(`
SELECT `+contractColumns+` FROM contracts WHERE owner = ? AND content_hash = ?`), owner, hash)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContractNotFound
	}
	return c, err
}

// GetContract loads a contract by id.
func (s *Store) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return s.getContract(ctx, s.db, id)
}

func (s *Store) getContract(ctx context.Context, q queryer, id string) (*model.Contract, error) {
	row := q.QueryRowContext(ctx, s.rebind(`SELECT `+contractColumns+` FROM contracts WHERE id = ?`), id)
	c, err := scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrContractNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load contract %s: %w", id, err)
	}
	return c, nil
}

// ListContracts returns the owner's contracts, newest first.
func (s *Store) ListContracts(ctx context.Context, owner string, limit int) ([]model.Contract, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
SELECT `+contractColumns+`
FROM contracts
WHERE owner = ?
ORDER BY created_at DESC, id
LIMIT ?`), owner, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}
	defer rows.Close()

	contracts := []model.Contract{}
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}

// CountContracts returns how many contracts the owner has stored.
func (s *Store) CountContracts(ctx context.Context, owner string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM contracts WHERE owner = ?`), owner).Scan(&n)
	return n, err
}

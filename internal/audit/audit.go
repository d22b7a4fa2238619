package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/ericksa/contractd/internal/store"
	"go.uber.org/zap"
)

const (
	ActionSubmit          = "contract.submit"
	ActionDuplicate       = "contract.duplicate"
	ActionAnalysisAttempt = "analysis.attempt"
	ActionAnalysisFailed  = "analysis.failed"
	ActionAnalysisSaved   = "analysis.saved"
	ActionStaleReclaimed  = "analysis.reclaimed"
	ActionToolCall        = "mcp.tool"
	ActionJobFailed       = "job.failed"
)

type Auditor struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

type AuditEntry struct {
	ID        int64     `json:"id"`
	Subject   string    `json:"subject"`
	Action    string    `json:"action"`
	Detail    string    `json:"detail,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewAuditor writes to the audit_log table of the given database. A nil db
// yields an auditor that discards everything.
func NewAuditor(db *sql.DB, driver string, logger *zap.Logger) *Auditor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auditor{db: db, driver: driver, logger: logger}
}

func (a *Auditor) Migrate(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	id := "id INTEGER PRIMARY KEY AUTOINCREMENT"
	if a.driver == store.DriverPostgres {
		id = "id BIGSERIAL PRIMARY KEY"
	}
	_, err := a.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS audit_log (
		`+id+`,
		subject TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT,
		error TEXT,
		timestamp TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = a.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS audit_log_subject_idx ON audit_log (subject, timestamp)`)
	return err
}

// Log records one event. Write failures are logged and otherwise ignored.
func (a *Auditor) Log(ctx context.Context, subject, action, detail string, err error) {
	if a == nil || a.db == nil {
		return
	}
	var errStr string
	if err != nil {
		errStr = err.Error()
	}
	_, werr := a.db.ExecContext(ctx,
		store.Rebind(a.driver, "INSERT INTO audit_log (subject, action, detail, error, timestamp) VALUES (?, ?, ?, ?, ?)"),
		subject, action, detail, errStr, time.Now().UTC(),
	)
	if werr != nil {
		a.logger.Warn("failed to write audit log",
			zap.String("subject", subject),
			zap.String("action", action),
			zap.Error(werr))
	}
}

// GetLogs returns the newest entries for subject, or for everything when
// subject is empty.
func (a *Auditor) GetLogs(ctx context.Context, subject string, limit int) ([]AuditEntry, error) {
	entries := []AuditEntry{}
	if a == nil || a.db == nil {
		return entries, nil
	}
	if limit <= 0 {
		limit = 100
	}
	q := "SELECT id, subject, action, detail, error, timestamp FROM audit_log"
	args := []any{}
	if subject != "" {
		q += " WHERE subject = ?"
		args = append(args, subject)
	}
	q += " ORDER BY timestamp DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, store.Rebind(a.driver, q), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e      AuditEntry
			detail sql.NullString
			errStr sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.Subject, &e.Action, &detail, &errStr, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Detail = detail.String
		e.Error = errStr.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

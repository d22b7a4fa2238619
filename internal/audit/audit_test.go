package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/ericksa/contractd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestAuditor(t *testing.T) *Auditor {
	t.Helper()
	s, err := store.Open(context.Background(), store.DriverSQLite, "file:"+filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	a := NewAuditor(s.DB(), s.Driver(), zaptest.NewLogger(t))
	require.NoError(t, a.Migrate(context.Background()))
	return a
}

func TestAuditor_LogAndGet(t *testing.T) {
	a := newTestAuditor(t)
	ctx := context.Background()

	a.Log(ctx, "c1", ActionAnalysisAttempt, "attempt 1", nil)
	a.Log(ctx, "c1", ActionAnalysisFailed, "attempt 1", errors.New("timeout"))
	a.Log(ctx, "c2", ActionSubmit, "", nil)

	entries, err := a.GetLogs(ctx, "c1", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, ActionAnalysisFailed, entries[0].Action)
	assert.Equal(t, "timeout", entries[0].Error)
	assert.Equal(t, "attempt 1", entries[1].Detail)

	all, err := a.GetLogs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestAuditor_NilDB(t *testing.T) {
	a := NewAuditor(nil, store.DriverSQLite, nil)
	require.NoError(t, a.Migrate(context.Background()))
	a.Log(context.Background(), "c1", ActionSubmit, "", nil)

	entries, err := a.GetLogs(context.Background(), "c1", 5)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ericksa/contractd/internal/analysis"
	"github.com/ericksa/contractd/internal/audit"
	"github.com/ericksa/contractd/internal/clients"
	"github.com/ericksa/contractd/internal/model"
	"github.com/ericksa/contractd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeAnalyzer struct {
	calls atomic.Int32
	fn    func(call int32, id string) (json.RawMessage, error)
}

func (f *fakeAnalyzer) Analyze(_ context.Context, id, _ string) (json.RawMessage, error) {
	n := f.calls.Add(1)
	if f.fn == nil {
		return json.RawMessage(`{"overview":"ok","risks":[{"severity":"high"},{"severity":"high"}]}`), nil
	}
	return f.fn(n, id)
}

type fakeAuth map[string]string

func (f fakeAuth) VerifyUser(_ context.Context, token string) (*model.User, error) {
	id, ok := f[token]
	if !ok {
		return nil, clients.ErrAuthentication
	}
	return &model.User{ID: id}, nil
}

type harness struct {
	svc        *Service
	store      *store.Store
	ai         *fakeAnalyzer
	auditor    *audit.Auditor
	dispatcher *Dispatcher
}

func newHarness(t *testing.T, ai *fakeAnalyzer) *harness {
	t.Helper()
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "contracts.db") + "?_txlock=immediate&_busy_timeout=5000"
	st, err := store.Open(ctx, store.DriverSQLite, dsn)
	require.NoError(t, err)
	require.NoError(t, st.Migrate(ctx))

	logger := zaptest.NewLogger(t)
	auditor := audit.NewAuditor(st.DB(), st.Driver(), logger)
	require.NoError(t, auditor.Migrate(ctx))

	if ai == nil {
		ai = &fakeAnalyzer{}
	}
	d := NewDispatcher(ctx, logger, nil)
	svc := NewService(Deps{
		Repo:       st,
		AI:         ai,
		Auth:       fakeAuth{"Bearer u1": "u1", "Bearer u2": "u2"},
		Dispatcher: d,
		Auditor:    auditor,
		Logger:     logger,
	}, Options{MaxAttempts: 3, BackoffUnit: time.Millisecond})

	t.Cleanup(func() {
		d.Wait()
		st.Close()
	})
	return &harness{svc: svc, store: st, ai: ai, auditor: auditor, dispatcher: d}
}

func TestContentHash(t *testing.T) {
	assert.Equal(t, ContentHash("Employment Agreement"), ContentHash("  employment agreement\n"))
	assert.NotEqual(t, ContentHash("a"), ContentHash("b"))
	assert.Len(t, ContentHash(""), 64)
	assert.Len(t, ContentHash(strings.Repeat("x", 10000)), 64)
}

func TestSaveContract_EndToEndOwners(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	first, err := h.svc.SaveContract(ctx, "Employment Agreement v1", "U1", "Bearer u1")
	require.NoError(t, err)
	assert.False(t, first.IsDuplicate)

	second, err := h.svc.SaveContract(ctx, "Employment Agreement v1", "U1", "Bearer u1")
	require.NoError(t, err)
	assert.True(t, second.IsDuplicate)
	assert.Equal(t, MessageDuplicate, second.Message)
	assert.Equal(t, first.Record.ID, second.Record.ID)

	other, err := h.svc.SaveContract(ctx, "Employment Agreement v1", "U2", "Bearer u2")
	require.NoError(t, err)
	assert.False(t, other.IsDuplicate)
	assert.NotEqual(t, first.Record.ID, other.Record.ID)

	h.dispatcher.Wait()
	assert.Equal(t, int32(2), h.ai.calls.Load(), "duplicates never trigger analysis")

	view, err := h.svc.GetContractWithAnalyses(ctx, first.Record.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAnalyzed, view.Contract.Status)
	require.Len(t, view.Analyses, 1)
	assert.Equal(t, model.RiskHigh, view.Analyses[0].RiskLevel)
	assert.Equal(t, "analysis complete (1 analysis)", view.AnalysisStatus)
}

func TestSaveContract_Validation(t *testing.T) {
	h := newHarness(t, nil)

	_, err := h.svc.SaveContract(context.Background(), "   ", "u1", "t")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = h.svc.SaveContract(context.Background(), "text", "", "t")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSaveContract_ConcurrentDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	results := make([]*SaveResult, 6)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.SaveContract(ctx, "Same Contract", "u1", "Bearer u1")
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()
	h.dispatcher.Wait()

	created := 0
	for _, r := range results {
		require.NotNil(t, r)
		if !r.IsDuplicate {
			created++
		}
	}
	assert.Equal(t, 1, created)

	list, err := h.store.ListContracts(ctx, "u1", 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSaveContract_ResubmitWhileClaimHeld(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "flaky", ContentHash: ContentHash("flaky")})
	require.NoError(t, err)
	require.NoError(t, h.store.MarkAnalysisFailed(ctx, c.ID, "boom"))
	claimed, err := h.store.ClaimAnalysis(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	res, err := h.svc.SaveContract(ctx, "flaky", "u1", "Bearer u1")
	require.NoError(t, err)
	assert.True(t, res.IsDuplicate)
	assert.Equal(t, c.ID, res.Record.ID)
	h.dispatcher.Wait()
	assert.Zero(t, h.ai.calls.Load(), "no analysis while the claim is held")

	require.NoError(t, h.store.ReleaseClaim(ctx, c.ID, "released"))
	res, err = h.svc.SaveContract(ctx, "flaky", "u1", "Bearer u1")
	require.NoError(t, err)
	assert.False(t, res.IsDuplicate)
	assert.Equal(t, MessageResubmitted, res.Message)
	h.dispatcher.Wait()
	assert.Equal(t, int32(1), h.ai.calls.Load())
}

func TestTriggerAnalysis_RetriesThenSucceeds(t *testing.T) {
	ai := &fakeAnalyzer{fn: func(call int32, _ string) (json.RawMessage, error) {
		if call < 3 {
			return nil, &clients.DownstreamError{StatusCode: 502, Err: errors.New("bad gateway")}
		}
		return json.RawMessage(`"{\"overview\":\"third time\"}"`), nil
	}}
	h := newHarness(t, ai)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "x", ContentHash: ContentHash("x")})
	require.NoError(t, err)

	require.NoError(t, h.svc.AnalyzeContract(ctx, c.ID, "Bearer u1"))

	got, err := h.store.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusAnalyzed, got.Status)
	assert.False(t, got.AnalysisStarted)
	assert.Equal(t, 3, got.AnalysisRetryCount)
	assert.Empty(t, got.LastAnalysisError)

	analyses, err := h.store.ListAnalyses(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, analyses, 1)
	assert.Equal(t, "third time", analyses[0].Result.Overview)

	history, err := h.svc.History(ctx, c.ID, 0)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestTriggerAnalysis_Exhausted(t *testing.T) {
	ai := &fakeAnalyzer{fn: func(int32, string) (json.RawMessage, error) {
		return nil, &clients.DownstreamError{Err: errors.New("connection refused")}
	}}
	h := newHarness(t, ai)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "y", ContentHash: ContentHash("y")})
	require.NoError(t, err)

	raw, err := h.svc.TriggerAnalysis(ctx, c.ID, "Bearer u1")
	assert.Nil(t, raw)
	var de *clients.DownstreamError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, int32(3), ai.calls.Load())

	got, err := h.store.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.False(t, got.AnalysisStarted)
	assert.Contains(t, got.LastAnalysisError, "connection refused")
}

func TestTriggerAnalysis_ClaimHeld(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "z", ContentHash: ContentHash("z")})
	require.NoError(t, err)
	_, err = h.store.ClaimAnalysis(ctx, c.ID)
	require.NoError(t, err)

	raw, err := h.svc.TriggerAnalysis(ctx, c.ID, "Bearer u1")
	require.NoError(t, err)
	assert.Nil(t, raw)
	assert.Zero(t, h.ai.calls.Load())

	require.NoError(t, h.svc.AnalyzeContract(ctx, c.ID, "Bearer u1"))
	got, err := h.store.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestTriggerAnalysis_ConcurrentCallers(t *testing.T) {
	release := make(chan struct{})
	ai := &fakeAnalyzer{fn: func(int32, string) (json.RawMessage, error) {
		<-release
		return json.RawMessage(`{"overview":"once"}`), nil
	}}
	h := newHarness(t, ai)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "w", ContentHash: ContentHash("w")})
	require.NoError(t, err)

	var (
		wg       sync.WaitGroup
		finished atomic.Int32
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, h.svc.AnalyzeContract(ctx, c.ID, "Bearer u1"))
			finished.Add(1)
		}()
	}
	// Everyone but the claim holder returns without calling the AI service.
	require.Eventually(t, func() bool { return finished.Load() == 3 }, 5*time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), ai.calls.Load())
}

func TestAnalyzeContract_MalformedResponse(t *testing.T) {
	ai := &fakeAnalyzer{fn: func(int32, string) (json.RawMessage, error) {
		return json.RawMessage(`[1,2,3]`), nil
	}}
	h := newHarness(t, ai)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "m", ContentHash: ContentHash("m")})
	require.NoError(t, err)
	require.NoError(t, h.svc.AnalyzeContract(ctx, c.ID, ""))

	view, err := h.svc.GetContractWithAnalyses(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, view.Analyses, 1)
	assert.Equal(t, analysis.FallbackOverview, view.Analyses[0].Result.Overview)
	assert.Equal(t, model.RiskLow, view.Analyses[0].RiskLevel)
}

func TestGetContractWithAnalyses(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.svc.GetContractWithAnalyses(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrContractNotFound)

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "p", ContentHash: ContentHash("p")})
	require.NoError(t, err)

	view, err := h.svc.GetContractWithAnalyses(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "analysis in progress", view.AnalysisStatus)
	assert.NotNil(t, view.Analyses)
	assert.Empty(t, view.Analyses)
}

func TestSaveAnalysis_ServiceNormalizes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "s", ContentHash: ContentHash("s")})
	require.NoError(t, err)

	v, err := h.svc.SaveAnalysis(ctx, c.ID, map[string]any{
		"analysis_summary": map[string]any{
			"overview": "wrapped",
			"risks":    []any{map[string]any{"severity": "low"}, map[string]any{"severity": "low"}, map[string]any{"severity": "low"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "wrapped", v.Result.Overview)
	assert.Equal(t, model.RiskMedium, v.RiskLevel)
	_, err = time.Parse(ISODate, v.AnalysisDate)
	assert.NoError(t, err)

	_, err = h.svc.SaveAnalysis(ctx, "missing", map[string]any{"overview": "x"})
	assert.ErrorIs(t, err, store.ErrContractNotFound)
}

func TestListUserContracts(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	for _, text := range []string{"first", "second"} {
		_, err := h.svc.SaveContract(ctx, text, "u1", "Bearer u1")
		require.NoError(t, err)
	}
	h.dispatcher.Wait()

	list, err := h.svc.ListUserContracts(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	for _, c := range list {
		assert.Equal(t, "u1", c.Owner)
		assert.True(t, c.AnalysisStatus.HasAnalyses)
		assert.Equal(t, 1, c.AnalysisStatus.AnalysesCount)
		assert.Equal(t, model.StatusAnalyzed, c.AnalysisStatus.Status)
	}

	none, err := h.svc.ListUserContracts(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRetrigger(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "r", ContentHash: ContentHash("r")})
	require.NoError(t, err)

	_, err = h.store.ClaimAnalysis(ctx, c.ID)
	require.NoError(t, err)
	res, err := h.svc.Retrigger(ctx, c.ID, "Bearer u1")
	require.NoError(t, err)
	assert.Equal(t, RetriggerInProgress, res.State)

	require.NoError(t, h.store.ReleaseClaim(ctx, c.ID, ""))
	res, err = h.svc.Retrigger(ctx, c.ID, "Bearer u1")
	require.NoError(t, err)
	assert.Equal(t, RetriggerStarted, res.State)
	h.dispatcher.Wait()

	res, err = h.svc.Retrigger(ctx, c.ID, "Bearer u1")
	require.NoError(t, err)
	assert.Equal(t, RetriggerAvailable, res.State)
	require.NotNil(t, res.Analysis)

	_, err = h.svc.Retrigger(ctx, "missing", "")
	assert.ErrorIs(t, err, store.ErrContractNotFound)
}

func TestVerifyUser(t *testing.T) {
	h := newHarness(t, nil)

	u, err := h.svc.VerifyUser(context.Background(), "Bearer u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)

	_, err = h.svc.VerifyUser(context.Background(), "")
	assert.ErrorIs(t, err, clients.ErrAuthentication)
}

func TestDispatcher_ErrorHookAndCancel(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	d := NewDispatcher(base, zaptest.NewLogger(t), nil)

	var (
		mu     sync.Mutex
		failed []string
	)
	d.OnError(func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failed = append(failed, name)
	})

	reqCtx, reqCancel := context.WithCancel(context.Background())
	reqCancel()
	detached := make(chan error, 1)
	d.Go(reqCtx, "survives-request", func(ctx context.Context) error {
		detached <- ctx.Err()
		return nil
	})
	assert.NoError(t, <-detached)
	d.Go(context.Background(), "boom", func(context.Context) error {
		return errors.New("boom")
	})
	d.Go(context.Background(), "until-shutdown", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	d.Go(context.Background(), "panics", func(context.Context) error {
		panic("oops")
	})

	cancel()
	d.Wait()

	assert.Equal(t, []string{"boom"}, failed)
}

func TestSweeper_RunOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	c, _, err := h.store.SaveContract(ctx, store.NewContract{Owner: "u1", Content: "k", ContentHash: ContentHash("k")})
	require.NoError(t, err)
	_, err = h.store.ClaimAnalysis(ctx, c.ID)
	require.NoError(t, err)

	sw := NewSweeper(h.store, time.Hour, h.auditor, nil, zaptest.NewLogger(t))
	n, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	sw.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := h.store.GetContract(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, got.Status)
	assert.False(t, got.AnalysisStarted)
}

func TestSweeper_Schedule(t *testing.T) {
	h := newHarness(t, nil)
	sw := NewSweeper(h.store, time.Hour, nil, nil, zaptest.NewLogger(t))

	assert.Error(t, sw.Start(context.Background(), "not a schedule"))
	require.NoError(t, sw.Start(context.Background(), "@every 1h"))
	sw.Stop()
}

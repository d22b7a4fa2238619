// Package contracts orchestrates contract submission and analysis: duplicate
// detection, the asynchronous analysis pipeline with its claim gate and
// retries, and the read side that joins contracts with their analyses.
package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ericksa/contractd/internal/analysis"
	"github.com/ericksa/contractd/internal/audit"
	"github.com/ericksa/contractd/internal/clients"
	"github.com/ericksa/contractd/internal/metrics"
	"github.com/ericksa/contractd/internal/model"
	"github.com/ericksa/contractd/internal/store"
	"go.uber.org/zap"
)

// ErrValidation marks missing or malformed input.
var ErrValidation = errors.New("validation failed")

const (
	MessageCreated     = "contract saved, analysis started"
	MessageDuplicate   = "duplicate"
	MessageResubmitted = "resubmitted"
)

// Repository is the storage the service needs. *store.Store implements it.
type Repository interface {
	SaveContract(ctx context.Context, in store.NewContract) (*model.Contract, store.Outcome, error)
	GetContract(ctx context.Context, id string) (*model.Contract, error)
	ListContracts(ctx context.Context, owner string, limit int) ([]model.Contract, error)
	CountContracts(ctx context.Context, owner string) (int, error)
	ClaimAnalysis(ctx context.Context, id string) (*model.Contract, error)
	ReleaseClaim(ctx context.Context, id, errMsg string) error
	MarkAnalysisFailed(ctx context.Context, id, errMsg string) error
	RecordAnalysisError(ctx context.Context, id, errMsg string) error
	SaveAnalysis(ctx context.Context, contractID string, result model.Result) (*model.Analysis, error)
	ListAnalyses(ctx context.Context, contractID string) ([]model.Analysis, error)
	ListAnalysesFor(ctx context.Context, contractIDs []string) (map[string][]model.Analysis, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, contractID, token string) (json.RawMessage, error)
}

type UserVerifier interface {
	VerifyUser(ctx context.Context, token string) (*model.User, error)
}

type Options struct {
	MaxAttempts int
	BackoffUnit time.Duration
	ListLimit   int
}

func DefaultOptions() Options {
	return Options{MaxAttempts: 3, BackoffUnit: time.Second, ListLimit: 50}
}

type Service struct {
	repo       Repository
	ai         Analyzer
	auth       UserVerifier
	dispatcher *Dispatcher
	auditor    *audit.Auditor
	metrics    *metrics.Collector
	logger     *zap.Logger
	opts       Options
}

type Deps struct {
	Repo       Repository
	AI         Analyzer
	Auth       UserVerifier
	Dispatcher *Dispatcher
	Auditor    *audit.Auditor
	Metrics    *metrics.Collector
	Logger     *zap.Logger
}

func NewService(d Deps, opts Options) *Service {
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.BackoffUnit < 0 {
		opts.BackoffUnit = def.BackoffUnit
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = def.ListLimit
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Dispatcher == nil {
		d.Dispatcher = NewDispatcher(context.Background(), d.Logger, d.Metrics)
	}
	return &Service{
		repo:       d.Repo,
		ai:         d.AI,
		auth:       d.Auth,
		dispatcher: d.Dispatcher,
		auditor:    d.Auditor,
		metrics:    d.Metrics,
		logger:     d.Logger,
		opts:       opts,
	}
}

// VerifyUser resolves a token through the auth service.
func (s *Service) VerifyUser(ctx context.Context, token string) (*model.User, error) {
	if strings.TrimSpace(token) == "" {
		return nil, fmt.Errorf("%w: missing token", clients.ErrAuthentication)
	}
	return s.auth.VerifyUser(ctx, token)
}

type SaveResult struct {
	Record      *model.Contract `json:"record"`
	IsDuplicate bool            `json:"isDuplicate"`
	Message     string          `json:"message"`
}

// SaveContract stores text for ownerID and starts its analysis in the
// background. Duplicates are returned as successful results and never
// trigger analysis.
func (s *Service) SaveContract(ctx context.Context, text, ownerID, token string) (*SaveResult, error) {
	return s.saveContract(ctx, text, ownerID, token, "")
}

// SaveUploadedContract is SaveContract for extracted file text whose original
// is kept at sourceObject.
func (s *Service) SaveUploadedContract(ctx context.Context, text, ownerID, token, sourceObject string) (*SaveResult, error) {
	return s.saveContract(ctx, text, ownerID, token, sourceObject)
}

func (s *Service) saveContract(ctx context.Context, text, ownerID, token, sourceObject string) (*SaveResult, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: contract text is required", ErrValidation)
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrValidation)
	}

	c, outcome, err := s.repo.SaveContract(ctx, store.NewContract{
		Owner:        ownerID,
		Content:      text,
		ContentHash:  ContentHash(text),
		SourceObject: sourceObject,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save contract: %w", err)
	}
	s.metrics.ContractSubmitted(outcome.String())

	if outcome == store.OutcomeDuplicate {
		s.auditor.Log(ctx, c.ID, audit.ActionDuplicate, "owner "+ownerID, nil)
		return &SaveResult{Record: c, IsDuplicate: true, Message: MessageDuplicate}, nil
	}

	s.auditor.Log(ctx, c.ID, audit.ActionSubmit, outcome.String(), nil)
	s.dispatchAnalysis(ctx, c.ID, token)

	msg := MessageCreated
	if outcome == store.OutcomeResubmitted {
		msg = MessageResubmitted
	}
	return &SaveResult{Record: c, Message: msg}, nil
}

func (s *Service) dispatchAnalysis(ctx context.Context, id, token string) {
	s.dispatcher.Go(ctx, "analyze:"+id, func(ctx context.Context) error {
		return s.AnalyzeContract(ctx, id, token)
	})
}

// TriggerAnalysis claims the contract and calls the AI service, retrying
// failed calls with linear backoff. A nil result with a nil error means
// another caller holds the claim and nothing was done.
//
// A failed attempt releases its claim so the next attempt can take it again.
// When every attempt has failed the contract is marked failed and the last
// error is returned.
func (s *Service) TriggerAnalysis(ctx context.Context, id, token string) (json.RawMessage, error) {
	logger := s.logger.With(zap.String("contract_id", id))
	var lastErr error

retry:
	for attempt := 1; attempt <= s.opts.MaxAttempts; attempt++ {
		claimed, err := s.repo.ClaimAnalysis(ctx, id)
		switch {
		case err != nil:
			lastErr = err
			logger.Warn("failed to claim contract", zap.Int("attempt", attempt), zap.Error(err))
		case claimed == nil:
			logger.Debug("analysis already claimed, skipping", zap.Int("attempt", attempt))
			s.metrics.AnalysisAttempt(metrics.OutcomeSkipped, 0)
			return nil, nil
		default:
			start := time.Now()
			raw, err := s.ai.Analyze(ctx, id, token)
			detail := fmt.Sprintf("attempt %d of %d", attempt, s.opts.MaxAttempts)
			s.auditor.Log(ctx, id, audit.ActionAnalysisAttempt, detail, err)
			if err == nil {
				s.metrics.AnalysisAttempt(metrics.OutcomeSuccess, time.Since(start))
				return raw, nil
			}
			s.metrics.AnalysisAttempt(metrics.OutcomeFailure, time.Since(start))
			lastErr = err
			logger.Warn("analysis attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", s.opts.MaxAttempts),
				zap.Error(err))
			if rerr := s.repo.ReleaseClaim(context.WithoutCancel(ctx), id, err.Error()); rerr != nil {
				logger.Error("failed to release claim", zap.Error(rerr))
			}
		}

		if attempt < s.opts.MaxAttempts {
			backoff := time.Duration(attempt) * s.opts.BackoffUnit
			select {
			case <-ctx.Done():
				lastErr = ctx.Err()
				break retry
			case <-time.After(backoff):
			}
		}
	}

	msg := lastErr.Error()
	if err := s.repo.MarkAnalysisFailed(context.WithoutCancel(ctx), id, msg); err != nil {
		logger.Error("failed to mark analysis failed", zap.Error(err))
	}
	s.metrics.AnalysisFailed()
	s.auditor.Log(ctx, id, audit.ActionAnalysisFailed, "retries exhausted", lastErr)

	var de *clients.DownstreamError
	if errors.As(lastErr, &de) {
		return nil, de
	}
	return nil, &clients.DownstreamError{Err: lastErr}
}

// AnalyzeContract runs the whole pipeline for one contract: trigger,
// normalize, persist. Errors are recorded on the contract as well as returned.
func (s *Service) AnalyzeContract(ctx context.Context, id, token string) error {
	raw, err := s.TriggerAnalysis(ctx, id, token)
	if err != nil {
		return err
	}
	if raw == nil {
		return nil
	}

	a, err := s.repo.SaveAnalysis(ctx, id, analysis.Normalize(raw))
	if err != nil {
		if rerr := s.repo.RecordAnalysisError(context.WithoutCancel(ctx), id, err.Error()); rerr != nil {
			s.logger.Error("failed to record analysis error", zap.String("contract_id", id), zap.Error(rerr))
		}
		return fmt.Errorf("failed to save analysis: %w", err)
	}
	s.metrics.AnalysisSaved()
	s.auditor.Log(ctx, id, audit.ActionAnalysisSaved, "risk "+string(a.RiskLevel), nil)
	s.logger.Info("analysis saved",
		zap.String("contract_id", id),
		zap.String("analysis_id", a.ID),
		zap.String("risk_level", string(a.RiskLevel)))
	return nil
}

// SaveAnalysis normalizes data and stores it as the contract's analysis.
func (s *Service) SaveAnalysis(ctx context.Context, contractID string, data any) (*AnalysisView, error) {
	if contractID == "" {
		return nil, fmt.Errorf("%w: contract id is required", ErrValidation)
	}
	a, err := s.repo.SaveAnalysis(ctx, contractID, analysis.NormalizeValue(data))
	if err != nil {
		return nil, err
	}
	s.metrics.AnalysisSaved()
	s.auditor.Log(ctx, contractID, audit.ActionAnalysisSaved, "manual", nil)
	v := newAnalysisView(*a)
	return &v, nil
}

// Retrigger states for RetriggerResult.
const (
	RetriggerAvailable  = "available"
	RetriggerInProgress = "in_progress"
	RetriggerStarted    = "started"
)

type RetriggerResult struct {
	State    string        `json:"state"`
	Message  string        `json:"message"`
	Analysis *AnalysisView `json:"analysis,omitempty"`
}

// Retrigger returns the stored analysis if there is one, reports a claim in
// flight, or starts a new analysis in the background.
func (s *Service) Retrigger(ctx context.Context, id, token string) (*RetriggerResult, error) {
	c, err := s.repo.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	analyses, err := s.repo.ListAnalyses(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(analyses) > 0 {
		v := newAnalysisView(analyses[0])
		return &RetriggerResult{State: RetriggerAvailable, Message: "analysis already available", Analysis: &v}, nil
	}
	if c.AnalysisStarted {
		return &RetriggerResult{State: RetriggerInProgress, Message: "analysis in progress"}, nil
	}
	s.dispatchAnalysis(ctx, id, token)
	return &RetriggerResult{State: RetriggerStarted, Message: "analysis started"}, nil
}

// History returns the audit trail of a contract, newest first.
func (s *Service) History(ctx context.Context, id string, limit int) ([]audit.AuditEntry, error) {
	if _, err := s.repo.GetContract(ctx, id); err != nil {
		return nil, err
	}
	return s.auditor.GetLogs(ctx, id, limit)
}

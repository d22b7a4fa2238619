package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ericksa/contractd/internal/api"
	"github.com/ericksa/contractd/internal/archive"
	"github.com/ericksa/contractd/internal/audit"
	"github.com/ericksa/contractd/internal/clients"
	"github.com/ericksa/contractd/internal/config"
	"github.com/ericksa/contractd/internal/contracts"
	"github.com/ericksa/contractd/internal/metrics"
	"github.com/ericksa/contractd/internal/middleware"
	"github.com/ericksa/contractd/internal/store"
	"github.com/ericksa/contractd/pkg/mcp"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// app holds every long-lived component, built once from the configuration.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Store
	auditor    *audit.Auditor
	metrics    *metrics.Collector
	dispatcher *contracts.Dispatcher
	service    *contracts.Service
	sweeper    *contracts.Sweeper
	archive    api.Archiver
	ai         *clients.AIClient
	mcp        *mcp.Handler
}

// newApp opens and migrates the database and wires the service graph.
// Background analysis jobs stop when jobs is cancelled.
func newApp(ctx, jobs context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	st, err := store.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	auditor := audit.NewAuditor(st.DB(), st.Driver(), logger)
	if err := auditor.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}

	m := metrics.NewCollector()
	dispatcher := contracts.NewDispatcher(jobs, logger, m)
	dispatcher.OnError(func(name string, err error) {
		auditor.Log(context.Background(), name, audit.ActionJobFailed, "", err)
	})

	ai := clients.NewAIClient(cfg.AI.ServiceURL, cfg.AI.Timeout, clients.BreakerConfig(cfg.AI.Breaker), logger)
	svc := contracts.NewService(contracts.Deps{
		Repo:       st,
		AI:         ai,
		Auth:       clients.NewAuthClient(cfg.Auth.ServiceURL, cfg.Auth.Timeout),
		Dispatcher: dispatcher,
		Auditor:    auditor,
		Metrics:    m,
		Logger:     logger,
	}, contracts.Options{
		MaxAttempts: cfg.AI.MaxAttempts,
		BackoffUnit: cfg.AI.BackoffUnit,
		ListLimit:   cfg.Analysis.ListLimit,
	})

	a := &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		auditor:    auditor,
		metrics:    m,
		dispatcher: dispatcher,
		service:    svc,
		ai:         ai,
		sweeper:    contracts.NewSweeper(st, cfg.Analysis.StaleAfter, auditor, m, logger),
	}

	if cfg.MinIO.Enabled {
		arch, err := archive.New(archive.Config{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			Bucket:    cfg.MinIO.Bucket,
			Region:    cfg.MinIO.Region,
			UseSSL:    cfg.MinIO.UseSSL,
		})
		if err != nil {
			// Uploads still work without archiving.
			logger.Warn("failed to initialize upload archive", zap.Error(err))
		} else {
			if err := arch.EnsureBucket(ctx); err != nil {
				logger.Warn("failed to ensure archive bucket", zap.String("bucket", cfg.MinIO.Bucket), zap.Error(err))
			}
			a.archive = arch
		}
	}

	if cfg.MCP.Enabled {
		a.mcp = mcp.NewHandler(svc, auditor, m, logger)
	}
	return a, nil
}

func (a *app) handler() http.Handler {
	deps := api.Deps{
		Service: a.service,
		DB:      a.store,
		Archive: a.archive,
		Breaker: a.ai,
		Config:  a.cfg,
		Metrics: a.metrics,
		Logger:  a.logger,
	}
	if a.mcp != nil {
		deps.MCP = a.mcp
	}
	srv := api.New(deps)

	if a.mcp != nil {
		guard := middleware.BearerToken(a.cfg.MCP.Token)
		srv.Router().Handle("/tools/{tool}", guard(http.HandlerFunc(a.executeToolHandler))).Methods(http.MethodPost)
	}
	return srv
}

// executeToolHandler runs one MCP tool over plain HTTP.
func (a *app) executeToolHandler(w http.ResponseWriter, r *http.Request) {
	var args map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
		http.Error(w, fmt.Sprintf("invalid arguments: %v", err), http.StatusBadRequest)
		return
	}
	argsJSON, _ := json.Marshal(args)

	result, err := a.mcp.ExecuteTool(r.Context(), mux.Vars(r)["tool"], argsJSON)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(result)
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close database", zap.Error(err))
	}
}

// Package api exposes the contract service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/ericksa/contractd/internal/config"
	"github.com/ericksa/contractd/internal/contracts"
	"github.com/ericksa/contractd/internal/metrics"
	"github.com/ericksa/contractd/internal/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const defaultMaxUploadSize = 10 << 20

type Pinger interface {
	Ping(ctx context.Context) error
}

// Archiver stores uploaded originals. *archive.Archiver implements it.
type Archiver interface {
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	PresignedURL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// BreakerReporter exposes the AI circuit breaker state. *clients.AIClient
// implements it.
type BreakerReporter interface {
	BreakerState() string
}

type Deps struct {
	Service *contracts.Service
	DB      Pinger
	Archive Archiver        // optional
	Breaker BreakerReporter // optional
	Config  *config.Config
	Metrics *metrics.Collector
	MCP     http.Handler // optional, mounted at Config.MCP.Path
	Logger  *zap.Logger
}

type Server struct {
	svc      *contracts.Service
	db       Pinger
	archive  Archiver
	breaker  BreakerReporter
	cfg      *config.Config
	metrics  *metrics.Collector
	mcp      http.Handler
	logger   *zap.Logger
	validate *validator.Validate
	router   *mux.Router
}

func New(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	s := &Server{
		svc:      d.Service,
		db:       d.DB,
		archive:  d.Archive,
		breaker:  d.Breaker,
		cfg:      d.Config,
		metrics:  d.Metrics,
		mcp:      d.MCP,
		logger:   d.Logger,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		router:   mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := s.router
	var origins []string
	if s.cfg != nil {
		origins = s.cfg.Server.CORSOrigins
	}
	middleware.Register(r, s.logger, s.metrics, origins)

	r.HandleFunc("/health", s.health).Methods(http.MethodGet)
	r.HandleFunc("/ready", s.ready).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	if s.cfg != nil {
		config.NewConfigAPI(s.cfg).Register(r)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/contracts", s.submitContract).Methods(http.MethodPost)
	api.HandleFunc("/contracts/save", s.submitContract).Methods(http.MethodPost)
	api.HandleFunc("/contracts", s.listContracts).Methods(http.MethodGet)
	api.HandleFunc("/contracts/all", s.listContracts).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{id}", s.getContract).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{id}/info", s.getContract).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{id}/analysis", s.saveAnalysis).Methods(http.MethodPost)
	api.HandleFunc("/contracts/{id}/analyze", s.retrigger).Methods(http.MethodPost)
	api.HandleFunc("/contracts/{id}/history", s.history).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{id}/source", s.sourceFile).Methods(http.MethodGet)
	api.HandleFunc("/contracts/{id}/source/url", s.sourceURL).Methods(http.MethodGet)
	api.HandleFunc("/upload", s.upload).Methods(http.MethodPost)

	if s.mcp != nil && s.cfg != nil && s.cfg.MCP.Enabled {
		r.PathPrefix(s.cfg.MCP.Path).Handler(middleware.BearerToken(s.cfg.MCP.Token)(s.mcp))
	}
}

func (s *Server) maxUploadSize() int64 {
	if s.cfg == nil || s.cfg.Server.MaxUploadSize <= 0 {
		return defaultMaxUploadSize
	}
	return s.cfg.Server.MaxUploadSize
}

package config

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/mux"
)

const redacted = "***"

// ConfigAPI serves a redacted, read-only view of the running configuration
// and validates candidate configurations.
type ConfigAPI struct {
	cfg    *Config
	mu     sync.RWMutex
	router *mux.Router
}

func NewConfigAPI(cfg *Config) *ConfigAPI {
	api := &ConfigAPI{
		cfg:    cfg,
		router: mux.NewRouter(),
	}
	api.routes()
	return api
}

func (api *ConfigAPI) Router() *mux.Router {
	return api.router
}

// Register mounts the endpoints on an existing router.
func (api *ConfigAPI) Register(r *mux.Router) {
	r.HandleFunc("/configure", api.getConfig).Methods("GET")
	r.HandleFunc("/configure/", api.getConfig).Methods("GET")
	r.HandleFunc("/configure/validate", api.validateConfig).Methods("POST")
	r.HandleFunc("/configure/{section}", api.getSection).Methods("GET")
}

func (api *ConfigAPI) routes() {
	api.Register(api.router)
}

func (api *ConfigAPI) getConfig(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	writeJSON(w, http.StatusOK, api.safeConfigCopy())
}

func (api *ConfigAPI) validateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		http.Error(w, fmt.Sprintf("invalid config payload: %v", err), http.StatusBadRequest)
		return
	}
	if err := cfg.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("invalid configuration: %v", err), http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"valid": true, "message": "configuration is valid"})
}

func (api *ConfigAPI) getSection(w http.ResponseWriter, r *http.Request) {
	api.mu.RLock()
	defer api.mu.RUnlock()

	safe := api.safeConfigCopy()
	section := mux.Vars(r)["section"]
	var out interface{}

	switch section {
	case "server":
		out = safe.Server
	case "auth":
		out = safe.Auth
	case "ai":
		out = safe.AI
	case "database":
		out = safe.Database
	case "analysis":
		out = safe.Analysis
	case "minio":
		out = safe.MinIO
	case "log":
		out = safe.Log
	case "mcp":
		out = safe.MCP
	default:
		http.Error(w, fmt.Sprintf("unknown section: %s", section), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (api *ConfigAPI) safeConfigCopy() *Config {
	copyCfg := *api.cfg
	copyCfg.Server.CORSOrigins = append([]string(nil), api.cfg.Server.CORSOrigins...)
	if copyCfg.MinIO.AccessKey != "" {
		copyCfg.MinIO.AccessKey = redacted
	}
	if copyCfg.MinIO.SecretKey != "" {
		copyCfg.MinIO.SecretKey = redacted
	}
	if copyCfg.MCP.Token != "" {
		copyCfg.MCP.Token = redacted
	}
	if copyCfg.Database.Driver == "postgres" && copyCfg.Database.DSN != "" {
		copyCfg.Database.DSN = redacted
	}
	return &copyCfg
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

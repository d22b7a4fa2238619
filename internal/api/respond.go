package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ericksa/contractd/internal/clients"
	"github.com/ericksa/contractd/internal/contracts"
	"github.com/ericksa/contractd/internal/extract"
	"github.com/ericksa/contractd/internal/middleware"
	"github.com/ericksa/contractd/internal/store"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"request_id": middleware.RequestIDFromContext(r.Context()),
		"error": map[string]any{
			"code": code, "message": message,
		},
	})
}

// writeServiceError maps errors coming out of the service layer to a status.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var ve validator.ValidationErrors
	switch {
	case errors.Is(err, contracts.ErrValidation), errors.As(err, &ve):
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
	case errors.Is(err, extract.ErrUnsupportedFormat):
		writeError(w, r, http.StatusBadRequest, "unsupported_format", err.Error())
	case errors.Is(err, clients.ErrAuthentication):
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "authentication failed")
	case errors.Is(err, store.ErrContractNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", "contract not found")
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.RequestIDFromContext(r.Context())),
			zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

package api

import (
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/ericksa/contractd/internal/model"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// sourceContract resolves the caller's contract that has an archived original.
// Contracts of other owners answer 404 like unknown ids.
func (s *Server) sourceContract(w http.ResponseWriter, r *http.Request) (*model.Contract, bool) {
	user, _, err := s.authorize(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	view, err := s.svc.GetContractWithAnalyses(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return nil, false
	}
	if view.Contract.Owner != user.ID {
		writeError(w, r, http.StatusNotFound, "not_found", "contract not found")
		return nil, false
	}
	if s.archive == nil || view.Contract.SourceObject == "" {
		writeError(w, r, http.StatusNotFound, "not_found", "no source file for this contract")
		return nil, false
	}
	return view.Contract, true
}

// sourceFile streams the archived original of an uploaded contract.
func (s *Server) sourceFile(w http.ResponseWriter, r *http.Request) {
	c, ok := s.sourceContract(w, r)
	if !ok {
		return
	}
	data, err := s.archive.Get(r.Context(), c.SourceObject)
	if err != nil {
		s.logger.Warn("failed to read archived source", zap.String("contract_id", c.ID), zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "archive_unavailable", "source file unavailable")
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(c.SourceObject)+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// sourceURL returns a temporary download link for the archived original.
// ?expires takes seconds.
func (s *Server) sourceURL(w http.ResponseWriter, r *http.Request) {
	c, ok := s.sourceContract(w, r)
	if !ok {
		return
	}
	expiry := time.Duration(queryInt(r, "expires")) * time.Second
	link, err := s.archive.PresignedURL(r.Context(), c.SourceObject, expiry)
	if err != nil {
		s.logger.Warn("failed to sign source url", zap.String("contract_id", c.ID), zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "archive_unavailable", "source file unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": link, "sourceObject": c.SourceObject})
}

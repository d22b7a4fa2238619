package api

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ericksa/contractd/internal/clients"
	"github.com/ericksa/contractd/internal/contracts"
	"github.com/ericksa/contractd/internal/model"
	"github.com/gorilla/mux"
)

type submitRequest struct {
	Text string `json:"text" validate:"required"`
}

// contractList carries one page in data and the owner's stored total.
type contractList struct {
	Data  []contracts.ContractSummary `json:"data"`
	Count int                         `json:"count"`
	Total int                         `json:"total"`
}

// authorize resolves the caller from the Authorization header.
func (s *Server) authorize(r *http.Request) (*model.User, string, error) {
	token := r.Header.Get("Authorization")
	if strings.TrimSpace(token) == "" {
		return nil, "", fmt.Errorf("%w: no auth token provided", clients.ErrAuthentication)
	}
	user, err := s.svc.VerifyUser(r.Context(), token)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Server) submitContract(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := readJSON(r, &req); err != nil && err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	if err := s.validate.Struct(req); err != nil || strings.TrimSpace(req.Text) == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "text is required")
		return
	}
	if strings.TrimSpace(r.Header.Get("Authorization")) == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "auth token is required")
		return
	}

	user, token, err := s.authorize(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.SaveContract(r.Context(), req.Text, user.ID, token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) listContracts(w http.ResponseWriter, r *http.Request) {
	user, _, err := s.authorize(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	list, err := s.svc.ListUserContracts(r.Context(), user.ID, queryInt(r, "limit"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	total, err := s.svc.CountUserContracts(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, contractList{Data: list, Count: len(list), Total: total})
}

func (s *Server) getContract(w http.ResponseWriter, r *http.Request) {
	view, err := s.svc.GetContractWithAnalyses(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) saveAnalysis(w http.ResponseWriter, r *http.Request) {
	var data any
	if err := readJSON(r, &data); err != nil && err != io.EOF {
		writeError(w, r, http.StatusBadRequest, "invalid_json", "request body must be JSON")
		return
	}
	a, err := s.svc.SaveAnalysis(r.Context(), mux.Vars(r)["id"], data)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// retrigger answers 200 when an analysis already exists and 202 otherwise.
func (s *Server) retrigger(w http.ResponseWriter, r *http.Request) {
	_, token, err := s.authorize(r)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	res, err := s.svc.Retrigger(r.Context(), mux.Vars(r)["id"], token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusAccepted
	if res.State == contracts.RetriggerAvailable {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	entries, err := s.svc.History(r.Context(), mux.Vars(r)["id"], queryInt(r, "limit"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": entries, "count": len(entries)})
}

func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}

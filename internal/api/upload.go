package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ericksa/contractd/internal/archive"
	"github.com/ericksa/contractd/internal/contracts"
	"github.com/ericksa/contractd/internal/extract"
	"go.uber.org/zap"
)

const uploadField = "contract"

type uploadResponse struct {
	ExtractedText string                `json:"extractedText"`
	SourceObject  string                `json:"sourceObject,omitempty"`
	Contract      *contracts.SaveResult `json:"contract,omitempty"`
}

// upload extracts the text of a multipart file. With ?save=true the text is
// also submitted as a contract for the authenticated caller. Only uploads of
// authenticated callers are archived.
func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	limit := s.maxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "too_large", fmt.Sprintf("file exceeds %d bytes", limit))
			return
		}
		writeError(w, r, http.StatusBadRequest, "validation_error", "no file received")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(uploadField)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "no file received")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "failed to read file")
		return
	}

	mediaType := extract.DetectType(header.Filename, header.Header.Get("Content-Type"), data)
	text, err := extract.Text(mediaType, data)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	save, _ := strconv.ParseBool(r.URL.Query().Get("save"))
	var owner, token string
	if save || strings.TrimSpace(r.Header.Get("Authorization")) != "" {
		user, tok, err := s.authorize(r)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		owner, token = user.ID, tok
	}

	resp := uploadResponse{ExtractedText: text}
	if s.archive != nil && owner != "" {
		key, err := s.archive.Put(r.Context(), archive.ObjectKey(owner, header.Filename), data, mediaType, map[string]string{
			"content-hash": contracts.ContentHash(text),
		})
		if err != nil {
			// The text is still usable without the original.
			s.logger.Warn("failed to archive upload", zap.String("filename", header.Filename), zap.Error(err))
		} else {
			resp.SourceObject = key
		}
	}

	s.logger.Info("text extracted from upload",
		zap.String("filename", header.Filename),
		zap.String("media_type", mediaType),
		zap.Int("chars", len(text)))

	if !save {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	res, err := s.svc.SaveUploadedContract(r.Context(), text, owner, token, resp.SourceObject)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	resp.Contract = res
	writeJSON(w, http.StatusCreated, resp)
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Lllllllleong/pdfrenderer/internal/models"
)

const (
	badRequestMessage = "Missing bucket/name/hubId/contentId"
	redactedMessage   = "render failed"
)

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodyBytes)

	var req models.ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		// an unreadable body is treated as one with every field missing
		s.writeError(w, http.StatusBadRequest, badRequestMessage)
		return
	}

	if _, err := s.processor.Process(r.Context(), &req); err != nil {
		switch {
		case errors.Is(err, models.ErrBadRequest):
			s.writeError(w, http.StatusBadRequest, badRequestMessage)
		case errors.Is(err, models.ErrLeaseHeld):
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			msg := err.Error()
			if s.config.RedactErrors {
				msg = redactedMessage
			}
			s.writeError(w, http.StatusInternalServerError, msg)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, models.ProcessResponse{OK: true})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, models.ErrorResponse{Error: message})
}

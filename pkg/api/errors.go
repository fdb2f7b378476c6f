package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/speedrun-hq/speedrun-batcher/pkg/ledger"
	"github.com/speedrun-hq/speedrun-batcher/pkg/models"
)

// Error codes returned in models.ErrorResponse
const (
	CodeInvalidRequest = "invalid_request"
	CodeNotFound       = "not_found"
	CodeForbidden      = "forbidden"
	CodeConflict       = "conflict"
	CodeRateLimited    = "rate_limited"
	CodeInternal       = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message, Code: code})
}

// writeEngineError maps an engine error onto its HTTP status
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case ledger.IsValidationError(err):
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
	case errors.Is(err, ledger.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	case ledger.IsConflictError(err):
		writeError(w, http.StatusConflict, CodeConflict, err.Error())
	default:
		s.logger.Error("Request failed: %v", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

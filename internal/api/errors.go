package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/targetd/internal/device"
	"github.com/nerrad567/targetd/internal/runconfig"
	"github.com/nerrad567/targetd/internal/selection"
)

// ErrorBody is the JSON body of every error response. Clients branch on
// Code; Message is for people.
type ErrorBody struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeUnauthorised = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeValidation   = "validation_error"
	ErrCodeInternal     = "internal_error"

	// ErrCodeTargetsNotReady means the active run configuration has not been
	// reconciled against a loaded device list yet. Retry shortly.
	ErrCodeTargetsNotReady = "targets_not_ready"
	ErrCodeNoActiveConfig  = "no_active_run_config"
	ErrCodeNoTargets       = "no_targets_selected"
	ErrCodeConfigNotFound  = "run_config_not_found"
	ErrCodeConfigExists    = "run_config_exists"
)

// domainErrors maps package sentinels to responses. The first match wins.
var domainErrors = []struct {
	err    error
	status int
	code   string
}{
	{runconfig.ErrNotFound, http.StatusNotFound, ErrCodeConfigNotFound},
	{runconfig.ErrDuplicate, http.StatusConflict, ErrCodeConfigExists},
	{runconfig.ErrInvalid, http.StatusUnprocessableEntity, ErrCodeValidation},
	{device.ErrInvalidTargetID, http.StatusUnprocessableEntity, ErrCodeValidation},
	{selection.ErrInvalidRunConfig, http.StatusUnprocessableEntity, ErrCodeValidation},
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorBody{Status: status, Code: code, Message: message})
}

// writeDomainError answers with the status and code registered for err in
// domainErrors. Anything else is a 500 carrying only fallback, so internal
// details stay in the log; known is false in that case.
func writeDomainError(w http.ResponseWriter, err error, fallback string) (known bool) {
	for _, d := range domainErrors {
		if errors.Is(err, d.err) {
			writeError(w, d.status, d.code, err.Error())
			return true
		}
	}
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, fallback)
	return false
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorised, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

func writeNotReady(w http.ResponseWriter) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeTargetsNotReady, "targets are not resolved yet")
}

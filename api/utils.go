package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"responder/core"

	googleuuid "github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// sanitizeErrorMessage removes sensitive information from error messages before sending to clients
func sanitizeErrorMessage(message string) string {
	// Remove database connection strings
	message = regexp.MustCompile(`(?:sqlite|postgres|mysql|redis)://[^\s"']+`).ReplaceAllString(message, "[DATABASE_CONNECTION]")

	// Remove file paths (Unix and Windows style)
	message = regexp.MustCompile(`(?:[A-Za-z]:\\|/)(?:[^\\/:*?"<>|\s]+[\\/ ])*[^\\/:*?"<>|\s]+`).ReplaceAllString(message, "[FILE_PATH]")

	// Redact private IP addresses; public IPs stay visible for debugging
	// external action targets
	message = regexp.MustCompile(`\b(?:10|127)(?:\.\d{1,3}){3}(?::\d{1,5})?\b`).ReplaceAllString(message, "[PRIVATE_IP]")
	message = regexp.MustCompile(`\b172\.(?:1[6-9]|2[0-9]|3[01])(?:\.\d{1,3}){2}(?::\d{1,5})?\b`).ReplaceAllString(message, "[PRIVATE_IP]")
	message = regexp.MustCompile(`\b192\.168(?:\.\d{1,3}){2}(?::\d{1,5})?\b`).ReplaceAllString(message, "[PRIVATE_IP]")

	// Remove credentials and secrets
	message = regexp.MustCompile(`(?i)(password|secret|token|key|credential|auth)[:=]\s*["']?[^"'\s]+["']?`).ReplaceAllString(message, "$1=[REDACTED]")

	if len(message) > core.MaxErrorMessageLength {
		message = message[:core.MaxErrorMessageLength-3] + "..."
	}
	return message
}

// errorResponse is the JSON error body.
type errorResponse struct {
	Error  string            `json:"error"`
	Fields []core.FieldError `json:"fields,omitempty"`
}

// writeError writes an error response to the client and logs it with proper sanitization
func writeError(w http.ResponseWriter, statusCode int, message string, err error, logger *zap.SugaredLogger) {
	// Log the full error internally, unsanitized
	if err != nil && logger != nil {
		logger.Errorw(message,
			"error", err.Error(),
			"status_code", statusCode,
		)
	} else if logger != nil {
		logger.Errorw(message,
			"status_code", statusCode,
		)
	}

	body := errorResponse{Error: sanitizeErrorMessage(message)}
	var validationErr *core.ValidationError
	if errors.As(err, &validationErr) {
		body.Fields = validationErr.Errors
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(body)
}

// writeServiceError maps the service error taxonomy onto HTTP status codes.
func writeServiceError(w http.ResponseWriter, err error, logger *zap.SugaredLogger) {
	switch {
	case core.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error(), err, logger)
	case core.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error(), err, logger)
	case core.IsConflict(err), core.IsInvalidState(err):
		writeError(w, http.StatusConflict, err.Error(), err, logger)
	case core.IsTimeout(err):
		writeError(w, http.StatusRequestTimeout, err.Error(), err, logger)
	default:
		writeError(w, http.StatusInternalServerError, "internal server error", err, logger)
	}
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, payload interface{}, logger *zap.SugaredLogger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil && logger != nil {
		logger.Errorw("Failed to encode response", "error", err)
	}
}

// decodeJSONBody decodes a request body with a size cap, rejecting unknown
// fields so typos surface as 400s instead of silently dropped options.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, core.MaxRequestBodySize)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// validateUUID validates that a string is a valid UUID of any version.
func validateUUID(id string) error {
	if _, err := googleuuid.Parse(id); err != nil {
		return fmt.Errorf("invalid UUID format: %s", id)
	}
	return nil
}

// accountID extracts the account path parameter.
func accountID(r *http.Request) string {
	return mux.Vars(r)["account_id"]
}

// pathID extracts the id path parameter.
func pathID(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// getRealIP returns the client IP, honoring X-Forwarded-For only when the
// service sits behind a trusted proxy.
func getRealIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			return strings.TrimSpace(parts[0])
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return realIP
		}
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	return host
}

// Package web holds the JSON envelope, request decoding and error mapping shared by the HTTP
// handlers of every bounded context.
package web

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/Abhaysoft-inc/library-management-app-sub000/internal/apperr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the body of every API response.
type Envelope struct {
	Success bool     `json:"success"`
	Message string   `json:"message,omitempty"`
	Data    any      `json:"data,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// JSON writes v as the response body with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// OK writes a successful envelope.
func OK(w http.ResponseWriter, status int, message string, data any) {
	JSON(w, status, Envelope{Success: true, Message: message, Data: data})
}

// Error maps err to a status code and writes a failure envelope. Unclassified errors are
// logged and reported as a generic internal error.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := StatusOf(kind)
	if kind == apperr.KindInternal {
		slog.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	JSON(w, status, Envelope{
		Success: false,
		Message: apperr.MessageOf(err),
		Errors:  apperr.FieldsOf(err),
	})
}

// StatusOf returns the HTTP status for an error kind.
func StatusOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindForbidden:
		return http.StatusForbidden
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Decode reads a JSON body into v and validates it. An empty body is treated as an empty
// object so requests whose fields are all optional may omit it. Unknown fields are ignored,
// which is how server-owned fields such as a registration's role are dropped.
func Decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return apperr.Validation("invalid request body", err.Error())
	}
	return Validate(v)
}

// Page reads the page and limit query parameters.
func Page(r *http.Request) (page, limit int) {
	page = queryInt(r, "page", 1)
	limit = queryInt(r, "limit", 20)
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

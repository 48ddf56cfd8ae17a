// internal/api/handler/handler.go
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"puzzlebounty/internal/auth"
	"puzzlebounty/internal/util"
)

// DefaultTimeout bounds every request. Rail calls carry their own shorter
// timeout inside the services.
const DefaultTimeout = 60 * time.Second

const maxBodyBytes = 1 << 20

var errUnauthenticated = errors.New("unauthenticated")

// responder holds the JSON helpers shared by all handlers.
type responder struct {
	logger *slog.Logger
}

// Helper function to send JSON responses.
func (h responder) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("Failed to marshal JSON response", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}

// Helper function to send error responses as {"code", "error"}.
func (h responder) respondWithError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errUnauthenticated) {
		h.respondWithJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Error: err.Error()})
		return
	}
	code := util.Code(err)
	message := err.Error()
	status := StatusForCode(code)
	if status == http.StatusInternalServerError {
		h.logger.Error("Unhandled service error", "error", err, "method", r.Method, "path", r.URL.Path)
		message = "Internal server error"
	}
	h.respondWithJSON(w, status, errorBody{Code: code, Error: message})
}

// decode reads a JSON body into dst. Any failure is a validation error.
func (h responder) decode(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", util.ErrInvalidInput, err)
	}
	return nil
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

// StatusForCode maps a util.Code value to its HTTP status.
func StatusForCode(code string) int {
	switch code {
	case "validation_error", "invalid_destination":
		return http.StatusBadRequest
	case "insufficient_funds":
		return http.StatusPaymentRequired
	case "forbidden":
		return http.StatusForbidden
	case "not_found":
		return http.StatusNotFound
	case "already_processed", "duplicate_resource", "conflict", "pending_settlement":
		return http.StatusConflict
	case "verification_mismatch":
		return http.StatusUnprocessableEntity
	case "rail_unavailable":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func currentUser(r *http.Request) (int64, error) {
	userID, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		return 0, errUnauthenticated
	}
	return userID, nil
}

// pagination parses limit and offset query parameters.
func pagination(r *http.Request) (int, int) {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20 // Default limit
	}
	if limit > 100 {
		limit = 100
	}
	offset, err := strconv.Atoi(r.URL.Query().Get("offset"))
	if err != nil || offset < 0 {
		offset = 0
	}
	return limit, offset
}

package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/efreitasn/brokerx/internal/domain"
)

// WriteJSON writes a JSON response with the given status code and data.
// Sets Content-Type to application/json before writing the status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data) // Write error intentionally ignored in response helper
}

// errorResponse is the standard error response format.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteError writes a standard error response with the given status code,
// error code, and human-readable message.
func WriteError(w http.ResponseWriter, status int, errorCode, message string) {
	WriteJSON(w, status, errorResponse{
		Error:   errorCode,
		Message: message,
	})
}

// ParseJSON decodes the request body as JSON into v.
// It validates that the Content-Type header is application/json and
// returns an error for missing/incorrect content type or malformed JSON.
func ParseJSON(r *http.Request, v any) error {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(ct, "application/json") {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Request body must be valid JSON with Content-Type: application/json")
	}

	return nil
}

// WriteServiceError maps a service error to its HTTP response.
func WriteServiceError(w http.ResponseWriter, err error) {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		WriteError(w, http.StatusBadRequest, "validation_error", validationErr.Message)
		return
	}
	var rejectErr *domain.RejectError
	if errors.As(err, &rejectErr) {
		WriteError(w, http.StatusUnprocessableEntity, string(rejectErr.Reason), rejectErr.Error())
		return
	}

	switch {
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrOrderNotFound),
		errors.Is(err, domain.ErrInstrumentNotFound),
		errors.Is(err, domain.ErrWebhookNotFound):
		WriteError(w, http.StatusNotFound, notFoundCode(err), err.Error())
	case errors.Is(err, domain.ErrAccountExists):
		WriteError(w, http.StatusConflict, "account_already_exists", err.Error())
	case errors.Is(err, domain.ErrOrderNotCancellable):
		WriteError(w, http.StatusConflict, "order_not_cancellable", err.Error())
	case errors.Is(err, domain.ErrOverloaded), errors.Is(err, domain.ErrUnavailable):
		w.Header().Set("Retry-After", "1")
		WriteError(w, http.StatusServiceUnavailable, "try_again", "The service is busy, retry the request")
	default:
		WriteError(w, http.StatusInternalServerError, "internal_error", "An unexpected error occurred")
	}
}

func notFoundCode(err error) string {
	for _, target := range []error{
		domain.ErrAccountNotFound,
		domain.ErrOrderNotFound,
		domain.ErrInstrumentNotFound,
		domain.ErrWebhookNotFound,
	} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "not_found"
}

// money is an amount in cents that encodes as a JSON number in dollars
// with exactly two decimal places.
type money int64

func (m money) MarshalJSON() ([]byte, error) {
	return []byte(domain.DecimalFromCents(int64(m)).StringFixed(2)), nil
}

func moneyPtr(c *int64) *money {
	if c == nil {
		return nil
	}
	m := money(*c)
	return &m
}

func timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/DimensionCoin/credits"
)

type errorResponse struct {
	Error  string       `json:"error"`
	Fields []fieldError `json:"fields,omitempty"`
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// statusFor maps engine errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, credits.ErrInsufficientCreditsOrNotFound):
		return http.StatusPaymentRequired
	case errors.Is(err, credits.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, credits.ErrDuplicateKey):
		return http.StatusConflict
	case credits.IsClientError(err):
		return http.StatusBadRequest
	case credits.IsRetryable(err), errors.Is(err, credits.ErrStoreClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// publicMessage never distinguishes a missing record from a short balance
// on consumption.
func publicMessage(err error) string {
	switch {
	case errors.Is(err, credits.ErrInsufficientCreditsOrNotFound):
		return "insufficient credits"
	case errors.Is(err, credits.ErrUserNotFound):
		return "user not found"
	case errors.Is(err, credits.ErrDuplicateKey):
		return "email already in use"
	case errors.Is(err, credits.ErrTooManySelections):
		return "too many selections"
	case errors.Is(err, credits.ErrInvalidAmount):
		return "amount must be positive"
	case credits.IsClientError(err):
		return "invalid request"
	case credits.IsRetryable(err), errors.Is(err, credits.ErrStoreClosed):
		return "service unavailable"
	default:
		return "internal server error"
	}
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func respondValidation(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		respondError(w, http.StatusBadRequest, "invalid request")
		return
	}
	fields := make([]fieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, fieldError{Field: fe.Field(), Message: msgForTag(fe)})
	}
	respondJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: fields})
}

func msgForTag(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "max":
		return fmt.Sprintf("%s must be at most %s long", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation for tag: %s", field, fe.Tag())
	}
}

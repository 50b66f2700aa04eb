package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/eventra/backend/internal/ledger"
)

// ErrorResponse is the error body returned by every endpoint.
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared request validation.
type ValidationHelper struct {
	validator *validator.Validate
}

// NewValidationHelper creates a new validation helper.
func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

// ValidateStruct validates a struct and returns validation errors.
func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// DecodeAndValidate decodes the request body into dst and validates it.
func (vh *ValidationHelper) DecodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return vh.validator.Struct(dst)
}

// SendErrorResponse sends a JSON error response.
func SendErrorResponse(w http.ResponseWriter, message string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message}
	var validationErrs validator.ValidationErrors
	if errors.As(validationErr, &validationErrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range validationErrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

// SendJSONResponse sends a JSON success response.
func SendJSONResponse(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// SendLedgerError maps a ledger error onto an HTTP status and sends it.
func SendLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		SendErrorResponse(w, "amount must be a positive integer", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		SendErrorResponse(w, "insufficient funds", http.StatusBadRequest, nil)
	case errors.Is(err, ledger.ErrNotFound):
		SendErrorResponse(w, "transaction not found", http.StatusNotFound, nil)
	case errors.Is(err, ledger.ErrInvalidTransition):
		SendErrorResponse(w, "transaction state does not allow this operation", http.StatusConflict, nil)
	case errors.Is(err, ledger.ErrStoreUnavailable):
		SendErrorResponse(w, "service temporarily unavailable, retry later", http.StatusServiceUnavailable, nil)
	case errors.Is(err, ledger.ErrInconsistent):
		SendErrorResponse(w, "account is under review, contact support", http.StatusInternalServerError, nil)
	default:
		SendErrorResponse(w, "internal server error", http.StatusInternalServerError, nil)
	}
}

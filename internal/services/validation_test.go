package services

import (
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/eventra/backend/internal/ledger"
)

func TestValidationHelper(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid request", func(t *testing.T) {
		req := MutateBalanceRequest{Amount: 100, PaymentMethod: "card"}
		assert.NoError(t, vh.ValidateStruct(req))
	})

	t.Run("missing required fields", func(t *testing.T) {
		req := MutateBalanceRequest{}
		assert.Error(t, vh.ValidateStruct(req))
	})

	t.Run("negative amount", func(t *testing.T) {
		req := MutateBalanceRequest{Amount: -1, PaymentMethod: "card"}
		assert.Error(t, vh.ValidateStruct(req))
	})
}

func TestSendErrorResponseIncludesValidationDetails(t *testing.T) {
	vh := NewValidationHelper()
	err := vh.ValidateStruct(MutateBalanceRequest{})

	rec := httptest.NewRecorder()
	SendErrorResponse(rec, "invalid request", 400, err)

	var body ErrorResponse
	assert.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "invalid request", body.Error)
	assert.Contains(t, body.Details, "Amount")
	assert.Contains(t, body.Details, "PaymentMethod")
}

func TestSendLedgerErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{ledger.ErrInvalidAmount, 400},
		{ledger.ErrInsufficientFunds, 400},
		{ledger.ErrNotFound, 404},
		{ledger.ErrInvalidTransition, 409},
		{ledger.ErrStoreUnavailable, 503},
		{ledger.ErrInconsistent, 500},
		{assert.AnError, 500},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		SendLedgerError(rec, tc.err)
		assert.Equal(t, tc.code, rec.Code, "error %v", tc.err)
	}
}

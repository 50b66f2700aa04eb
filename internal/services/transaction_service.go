package services

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eventra/backend/internal/ledger"
	"github.com/eventra/backend/internal/middleware"
	"github.com/eventra/backend/internal/models"
)

// TransactionService exposes transaction reads and the refund operation.
type TransactionService struct {
	ledger *ledger.Ledger
}

// NewTransactionService wires the transaction endpoints to the ledger facade.
func NewTransactionService(l *ledger.Ledger) *TransactionService {
	return &TransactionService{ledger: l}
}

// ListTransactionsResponse pages through a user's history.
type ListTransactionsResponse struct {
	Transactions []models.Transaction `json:"transactions"`
	Limit        int                  `json:"limit"`
	Offset       int                  `json:"offset"`
}

func (s *TransactionService) load(w http.ResponseWriter, r *http.Request) (*models.Transaction, bool) {
	txnID, err := uuid.Parse(chi.URLParam(r, "txnId"))
	if err != nil {
		SendErrorResponse(w, "invalid transaction id", http.StatusBadRequest, nil)
		return nil, false
	}
	txn, err := s.ledger.GetTransaction(r.Context(), txnID)
	if err != nil {
		SendLedgerError(w, err)
		return nil, false
	}
	authID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "authentication required", http.StatusUnauthorized, nil)
		return nil, false
	}
	if txn.UserID != authID {
		// Do not leak existence of other users' transactions.
		SendErrorResponse(w, "transaction not found", http.StatusNotFound, nil)
		return nil, false
	}
	return txn, true
}

// GetTransaction loads one transaction
// @Summary Get a transaction
// @Tags transactions
// @Produce json
// @Param txnId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} ErrorResponse
// @Router /transactions/{txnId} [get]
func (s *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, ok := s.load(w, r)
	if !ok {
		return
	}
	SendJSONResponse(w, http.StatusOK, txn)
}

// ListTransactions pages through a user's transactions, newest first
// @Summary List a user's transactions
// @Tags transactions
// @Produce json
// @Param userId path string true "User ID"
// @Param limit query int false "Page size (max 100)"
// @Param offset query int false "Page offset"
// @Param status query string false "Filter by status"
// @Success 200 {object} ListTransactionsResponse
// @Router /users/{userId}/transactions [get]
func (s *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	var page ledger.Page
	if v := r.URL.Query().Get("limit"); v != "" {
		page.Limit, _ = strconv.Atoi(v)
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		page.Offset, _ = strconv.Atoi(v)
	}
	page = page.Normalize()

	var status *models.TransactionStatus
	if v := r.URL.Query().Get("status"); v != "" {
		st := models.TransactionStatus(v)
		if !st.Valid() {
			SendErrorResponse(w, "invalid status filter", http.StatusBadRequest, nil)
			return
		}
		status = &st
	}

	txns, err := s.ledger.ListTransactions(r.Context(), userID, page, status)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	SendJSONResponse(w, http.StatusOK, ListTransactionsResponse{
		Transactions: txns,
		Limit:        page.Limit,
		Offset:       page.Offset,
	})
}

// RefundTransaction reverses a successful transaction
// @Summary Refund a transaction
// @Tags transactions
// @Produce json
// @Param txnId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 409 {object} ErrorResponse
// @Router /transactions/{txnId}/refund [put]
func (s *TransactionService) RefundTransaction(w http.ResponseWriter, r *http.Request) {
	txn, ok := s.load(w, r)
	if !ok {
		return
	}

	refunded, err := s.ledger.Refund(r.Context(), txn.ID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	SendJSONResponse(w, http.StatusOK, refunded)
}

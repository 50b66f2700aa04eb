package services

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"

	"github.com/eventra/backend/internal/ledger"
	"github.com/eventra/backend/internal/middleware"
)

// BalanceService exposes the balance endpoints: add funds, withdraw funds,
// read the balance, and generate a deposit QR code.
type BalanceService struct {
	ledger    *ledger.Ledger
	redis     *redis.Client
	validator *ValidationHelper
}

// NewBalanceService wires the balance endpoints to the ledger facade.
func NewBalanceService(l *ledger.Ledger, redisClient *redis.Client) *BalanceService {
	return &BalanceService{
		ledger:    l,
		redis:     redisClient,
		validator: NewValidationHelper(),
	}
}

// MutateBalanceRequest is the body of add and withdraw calls. Amount is in
// minor currency units.
type MutateBalanceRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	PaymentMethod string `json:"payment_method" validate:"required,max=64"`
	Reference     string `json:"reference" validate:"max=128"`
	Description   string `json:"description" validate:"max=256"`
	TicketID      string `json:"ticket_id" validate:"omitempty,uuid"`
}

// BalanceResponse is the body of balance reads.
type BalanceResponse struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

// pathUser extracts {userId} and enforces that it matches the authenticated
// user. Writing to someone else's balance is forbidden.
func pathUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := uuid.Parse(chi.URLParam(r, "userId"))
	if err != nil {
		SendErrorResponse(w, "invalid user id", http.StatusBadRequest, nil)
		return uuid.Nil, false
	}
	authID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		SendErrorResponse(w, "authentication required", http.StatusUnauthorized, nil)
		return uuid.Nil, false
	}
	if authID != userID {
		SendErrorResponse(w, "forbidden", http.StatusForbidden, nil)
		return uuid.Nil, false
	}
	return userID, true
}

// AddFunds credits the user's balance
// @Summary Add funds to a user balance
// @Tags balance
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param request body MutateBalanceRequest true "Deposit details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Router /users/{userId}/balance/add [post]
func (s *BalanceService) AddFunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	var req MutateBalanceRequest
	if err := s.validator.DecodeAndValidate(r, &req); err != nil {
		SendErrorResponse(w, "invalid request", http.StatusBadRequest, err)
		return
	}

	txn, err := s.ledger.Deposit(r.Context(), userID, req.Amount, req.PaymentMethod, req.Reference, req.Description)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	SendJSONResponse(w, http.StatusCreated, txn)
}

// WithdrawFunds debits the user's balance
// @Summary Withdraw funds from a user balance
// @Tags balance
// @Accept json
// @Produce json
// @Param userId path string true "User ID"
// @Param request body MutateBalanceRequest true "Charge details"
// @Success 201 {object} models.Transaction
// @Failure 400 {object} ErrorResponse
// @Router /users/{userId}/balance/withdraw [post]
func (s *BalanceService) WithdrawFunds(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	var req MutateBalanceRequest
	if err := s.validator.DecodeAndValidate(r, &req); err != nil {
		SendErrorResponse(w, "invalid request", http.StatusBadRequest, err)
		return
	}

	var ticketID *uuid.UUID
	if req.TicketID != "" {
		id, err := uuid.Parse(req.TicketID)
		if err != nil {
			SendErrorResponse(w, "invalid ticket id", http.StatusBadRequest, nil)
			return
		}
		ticketID = &id
	}

	txn, err := s.ledger.Charge(r.Context(), userID, ticketID, req.Amount, req.PaymentMethod, req.Reference, req.Description)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	SendJSONResponse(w, http.StatusCreated, txn)
}

// GetBalance reads the current balance
// @Summary Get a user balance
// @Tags balance
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} BalanceResponse
// @Router /users/{userId}/balance [get]
func (s *BalanceService) GetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	amount, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		SendLedgerError(w, err)
		return
	}
	SendJSONResponse(w, http.StatusOK, BalanceResponse{UserID: userID.String(), Amount: amount})
}

// DepositQRResponse carries a deposit payment reference and its QR rendering.
type DepositQRResponse struct {
	Reference string `json:"reference"`
	QRImage   string `json:"qr_image"` // base64 PNG
	ExpiresAt int64  `json:"expires_at"`
}

const depositQRTTL = 5 * time.Minute

// DepositQR issues a short-lived payment reference for the user and renders
// it as a QR code a payment terminal can scan. Completing the payment lands
// through the webhook with this reference as the idempotency key.
// @Summary Generate a deposit QR code
// @Tags balance
// @Produce json
// @Param userId path string true "User ID"
// @Success 200 {object} DepositQRResponse
// @Router /users/{userId}/balance/deposit-qr [get]
func (s *BalanceService) DepositQR(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUser(w, r)
	if !ok {
		return
	}

	reference := fmt.Sprintf("dep-%s", uuid.New())
	expiresAt := time.Now().Add(depositQRTTL)

	if s.redis != nil {
		payload, _ := json.Marshal(map[string]any{
			"user_id":   userID.String(),
			"reference": reference,
		})
		if err := s.redis.Set(r.Context(), "deposit:qr:"+reference, payload, depositQRTTL).Err(); err != nil {
			SendErrorResponse(w, "could not issue deposit reference", http.StatusServiceUnavailable, nil)
			return
		}
	}

	qr, err := qrcode.New(reference, qrcode.Medium)
	if err != nil {
		SendErrorResponse(w, "could not render QR code", http.StatusInternalServerError, nil)
		return
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		SendErrorResponse(w, "could not render QR code", http.StatusInternalServerError, nil)
		return
	}

	SendJSONResponse(w, http.StatusOK, DepositQRResponse{
		Reference: reference,
		QRImage:   base64.StdEncoding.EncodeToString(buf.Bytes()),
		ExpiresAt: expiresAt.Unix(),
	})
}

package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/eventra/backend/internal/ledger"
	"github.com/eventra/backend/internal/models"
)

// WebhookService ingests payment-provider callbacks. Providers re-deliver
// aggressively, so processing is idempotent on (payment_method, reference):
// a replay returns the already-recorded transaction unchanged.
type WebhookService struct {
	ledger    *ledger.Ledger
	secret    []byte
	validator *ValidationHelper
	log       *logrus.Entry
}

// NewWebhookService wires the webhook endpoint. secret signs the payload via
// HMAC-SHA256; requests without a valid signature are rejected.
func NewWebhookService(l *ledger.Ledger, secret string, logger *logrus.Logger) *WebhookService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &WebhookService{
		ledger:    l,
		secret:    []byte(secret),
		validator: NewValidationHelper(),
		log:       logger.WithField("component", "webhook_service"),
	}
}

// PaymentWebhookRequest is the provider callback payload.
type PaymentWebhookRequest struct {
	UserID            string `json:"user_id" validate:"required,uuid"`
	Amount            int64  `json:"amount" validate:"required,gt=0"`
	Kind              string `json:"kind" validate:"required,oneof=deposit charge"`
	PaymentMethod     string `json:"payment_method" validate:"required,max=64"`
	ExternalReference string `json:"external_reference" validate:"required,max=128"`
	Description       string `json:"description" validate:"max=256"`
	TicketID          string `json:"ticket_id" validate:"omitempty,uuid"`
}

const signatureHeader = "X-Webhook-Signature"

// HandlePayment processes one provider callback
// @Summary Ingest a payment provider webhook
// @Tags webhooks
// @Accept json
// @Produce json
// @Param X-Webhook-Signature header string true "Hex HMAC-SHA256 of the body"
// @Param request body PaymentWebhookRequest true "Provider event"
// @Success 200 {object} models.Transaction
// @Failure 401 {object} ErrorResponse
// @Router /webhooks/payment [post]
func (s *WebhookService) HandlePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		SendErrorResponse(w, "could not read request body", http.StatusBadRequest, nil)
		return
	}

	if !s.verifySignature(body, r.Header.Get(signatureHeader)) {
		s.log.Warn("webhook rejected: bad signature")
		SendErrorResponse(w, "invalid signature", http.StatusUnauthorized, nil)
		return
	}

	var req PaymentWebhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		SendErrorResponse(w, "invalid request body", http.StatusBadRequest, nil)
		return
	}
	if err := s.validator.ValidateStruct(req); err != nil {
		SendErrorResponse(w, "invalid request", http.StatusBadRequest, err)
		return
	}

	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		SendErrorResponse(w, "invalid user id", http.StatusBadRequest, nil)
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

	var txn *models.Transaction
	switch models.TransactionKind(req.Kind) {
	case models.KindDeposit:
		txn, err = s.ledger.Deposit(r.Context(), userID, req.Amount, req.PaymentMethod, req.ExternalReference, req.Description)
	case models.KindCharge:
		txn, err = s.ledger.Charge(r.Context(), userID, ticketID, req.Amount, req.PaymentMethod, req.ExternalReference, req.Description)
	}
	if err != nil {
		SendLedgerError(w, err)
		return
	}

	SendJSONResponse(w, http.StatusOK, txn)
}

// verifySignature checks the hex HMAC-SHA256 of body against the header
// value in constant time.
func (s *WebhookService) verifySignature(body []byte, header string) bool {
	if len(s.secret) == 0 || header == "" {
		return false
	}
	sig, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

package services

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/eventra/backend/internal/ledger"
	"github.com/eventra/backend/internal/middleware"
)

const (
	testJWTSecret     = "test-jwt-secret"
	testWebhookSecret = "test-webhook-secret"
)

type testEnv struct {
	router chi.Router
	ledger *ledger.Ledger
	store  *ledger.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	viper.Set("jwt.secret_key", testJWTSecret)

	store := ledger.NewMemoryStore()
	led := ledger.New(store, ledger.Config{})

	balanceService := NewBalanceService(led, nil)
	transactionService := NewTransactionService(led)
	webhookService := NewWebhookService(led, testWebhookSecret, nil)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/payment", webhookService.HandlePayment)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware)

			r.Get("/users/{userId}/balance", balanceService.GetBalance)
			r.Post("/users/{userId}/balance/add", balanceService.AddFunds)
			r.Post("/users/{userId}/balance/withdraw", balanceService.WithdrawFunds)
			r.Get("/users/{userId}/balance/deposit-qr", balanceService.DepositQR)

			r.Get("/users/{userId}/transactions", transactionService.ListTransactions)
			r.Get("/transactions/{txnId}", transactionService.GetTransaction)
			r.Put("/transactions/{txnId}/refund", transactionService.RefundTransaction)
		})
	})

	return &testEnv{router: r, ledger: led, store: store}
}

func bearerToken(t *testing.T, userID uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID.String(),
	})
	signed, err := token.SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return "Bearer " + signed
}

func (e *testEnv) do(t *testing.T, method, path string, asUser *uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if asUser != nil {
		req.Header.Set("Authorization", bearerToken(t, *asUser))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) doWebhook(t *testing.T, body any, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payment", bytes.NewReader(payload))
	if sign {
		mac := hmac.New(sha256.New, []byte(testWebhookSecret))
		mac.Write(payload)
		req.Header.Set("X-Webhook-Signature", hex.EncodeToString(mac.Sum(nil)))
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

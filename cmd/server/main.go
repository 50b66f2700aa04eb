package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/eventra/backend/docs"
	"github.com/eventra/backend/internal/config"
	"github.com/eventra/backend/internal/database"
	"github.com/eventra/backend/internal/events"
	"github.com/eventra/backend/internal/ledger"
	"github.com/eventra/backend/internal/metrics"
	mW "github.com/eventra/backend/internal/middleware"
	"github.com/eventra/backend/internal/services"
)

// @title Eventra Ledger API
// @version 1.0
// @description Per-user balances and transactions for the event platform
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https

func main() {
	log := logrus.StandardLogger()
	log.SetFormatter(&logrus.JSONFormatter{})

	config.Load()

	docs.SwaggerInfo.Host = "localhost:" + config.GetServerConfig().Port

	db := database.InitDatabase()
	defer db.Close()

	redisClient := database.InitRedis()
	if redisClient != nil {
		defer redisClient.Close()
	}

	ledgerMetrics := metrics.New(nil)

	var publisher ledger.EventPublisher
	amqpCfg := config.GetAMQPConfig()
	if amqpCfg.Enabled {
		p, err := events.NewPublisher(amqpCfg.URL, log)
		if err != nil {
			log.Warnf("event publisher unavailable, continuing without events: %v", err)
		} else {
			defer p.Close()
			publisher = p
		}
	}

	ledgerCfg := config.GetLedgerConfig()
	led := ledger.New(ledger.NewPostgresStore(db), ledger.Config{
		OperationTimeout: ledgerCfg.OperationTimeout,
		Retry: ledger.RetryPolicy{
			Attempts: ledgerCfg.RetryAttempts,
			Backoff:  ledgerCfg.RetryBackoff,
		},
		CacheTTL:  ledgerCfg.CacheTTL,
		Cache:     redisClient,
		Observer:  ledgerMetrics,
		Publisher: publisher,
		Logger:    log,
	})

	reconciler := ledger.NewReconciler(db, ledger.ReconcilerConfig{
		PendingTimeout: ledgerCfg.PendingTimeout,
		BatchSize:      ledgerCfg.ReconcilerBatchSize,
		Schedule:       ledgerCfg.ReconcilerSchedule,
		Logger:         log,
		Observer:       ledgerMetrics.ObserveReconcilerSweep,
	})
	if err := reconciler.Start(context.Background()); err != nil {
		log.Fatalf("failed to start reconciler: %v", err)
	}
	defer reconciler.Stop()

	balanceService := services.NewBalanceService(led, redisClient)
	transactionService := services.NewTransactionService(led)
	webhookService := services.NewWebhookService(led, config.GetWebhookConfig().Secret, log)

	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Signature"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		// Provider callbacks authenticate via payload signature, not JWT.
		r.Post("/webhooks/payment", webhookService.HandlePayment)

		r.Group(func(r chi.Router) {
			r.Use(mW.AuthMiddleware)

			r.Get("/users/{userId}/balance", balanceService.GetBalance)
			r.Post("/users/{userId}/balance/add", balanceService.AddFunds)
			r.Post("/users/{userId}/balance/withdraw", balanceService.WithdrawFunds)
			r.Get("/users/{userId}/balance/deposit-qr", balanceService.DepositQR)

			r.Get("/users/{userId}/transactions", transactionService.ListTransactions)
			r.Get("/transactions/{txnId}", transactionService.GetTransaction)
			r.Put("/transactions/{txnId}/refund", transactionService.RefundTransaction)
		})
	})

	serverCfg := config.GetServerConfig()
	server := &http.Server{
		Addr:         ":" + serverCfg.Port,
		Handler:      r,
		ReadTimeout:  serverCfg.ReadTimeout,
		WriteTimeout: serverCfg.WriteTimeout,
		IdleTimeout:  serverCfg.IdleTimeout,
	}

	go func() {
		log.Infof("server starting on :%s", serverCfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("server forced to shutdown: %v", err)
	}

	log.Info("server stopped")
}

// Package app собирает сервис из хранилища, провайдера, воркеров и
// ops HTTP-сервера и управляет их жизненным циклом.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/checkout/internal/health"
	"github.com/vladislavdragonenkov/checkout/internal/notify"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/version"
)

// Config описывает настройки запуска приложения.
type Config struct {
	MetricsAddr string

	// PostgresDSN пустой — используется in-memory хранилище (dev/demo).
	PostgresDSN string

	// StripeSecretKey пустой — используется mock-провайдер (dev/demo).
	StripeSecretKey  string
	StripeSuccessURL string
	StripeCancelURL  string
	Currency         string

	// KafkaBrokers пустой — уведомления пишутся в лог.
	KafkaBrokers string
	KafkaTopic   string

	PollInterval      time.Duration
	BatchSize         int
	Concurrency       int
	ReconcileInterval time.Duration
	ReconcileAge      time.Duration
}

// DefaultConfig возвращает базовые настройки.
func DefaultConfig() Config {
	return Config{
		MetricsAddr:       ":9090",
		Currency:          "usd",
		KafkaTopic:        notify.DefaultTopic,
		PollInterval:      1 * time.Second,
		BatchSize:         10,
		Concurrency:       4,
		ReconcileInterval: 1 * time.Hour,
		ReconcileAge:      24 * time.Hour,
	}
}

// Run собирает зависимости, запускает воркеры и ops HTTP-сервер
// и блокируется до отмены ctx.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")
	logger.Info(version.String())

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	outboxWorker := outbox.NewWorker(deps.Outbox, deps.Processor,
		outbox.WithPollInterval(cfg.PollInterval),
		outbox.WithBatchSize(cfg.BatchSize),
		outbox.WithConcurrency(cfg.Concurrency),
	)
	reconciler := reconcile.NewWorker(
		deps.Outbox, deps.Orders, deps.Payments, deps.Provider, deps.Notifier,
		reconcile.WithInterval(cfg.ReconcileInterval),
		reconcile.WithAgeThreshold(cfg.ReconcileAge),
		reconcile.WithMetrics(deps.Metrics),
	)

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("outbox", healthcheck.NewOutboxChecker(deps.Outbox, 1))
	if deps.PGStore != nil {
		healthHandler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return deps.PGStore.Ping(pingCtx)
		}))
	}

	srv := startOpsServer(ctx, cfg.MetricsAddr, logger, healthHandler, deps.Webhook)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		outboxWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем воркеры")
	wg.Wait()
	shutdownHTTP(srv, logger)

	return ctx.Err()
}

// startOpsServer запускает HTTP-обработчики метрик, health checks и
// webhook-приёмника провайдера.
func startOpsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler, webhookHandler *webhook.Handler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/webhooks/provider", providerWebhookEndpoint(logger, webhookHandler))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// providerWebhookEndpoint принимает push-уведомления провайдера и передаёт
// их обработчику. Подпись запроса проверяет внешний слой (reverse proxy).
func providerWebhookEndpoint(logger *log.Entry, handler *webhook.Handler) http.HandlerFunc {
	type webhookBody struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string `json:"id"`
				PaymentIntent string `json:"payment_intent"`
				Metadata      struct {
					OrderID   string `json:"order_id"`
					PaymentID string `json:"payment_id"`
				} `json:"metadata"`
				LastPaymentError struct {
					Message string `json:"message"`
				} `json:"last_payment_error"`
			} `json:"object"`
		} `json:"data"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		var body webhookBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			logger.WithError(err).Warn("failed to decode provider webhook")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		event := domain.ProviderEvent{
			ID:        body.ID,
			Type:      body.Type,
			SessionID: body.Data.Object.ID,
			IntentID:  body.Data.Object.PaymentIntent,
			PaymentID: body.Data.Object.Metadata.PaymentID,
			OrderID:   body.Data.Object.Metadata.OrderID,
			Message:   body.Data.Object.LastPaymentError.Message,
		}
		if event.IntentID == "" && body.Type == domain.ProviderEventIntentFailed {
			event.IntentID = body.Data.Object.ID
		}

		if err := handler.HandleProviderWebhook(event); err != nil {
			logger.WithError(err).WithField("event_id", event.ID).
				Error("failed to handle provider webhook")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops shutdown with error")
	}
}

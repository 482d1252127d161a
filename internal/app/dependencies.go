package app

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
	"github.com/vladislavdragonenkov/checkout/internal/notify"
	"github.com/vladislavdragonenkov/checkout/internal/provider"
	"github.com/vladislavdragonenkov/checkout/internal/provider/stripe"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/session"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

// Dependencies содержит собранные зависимости приложения.
type Dependencies struct {
	Products domain.ProductRepository
	Orders   domain.OrderRepository
	Payments domain.PaymentRepository
	Outbox   domain.OutboxRepository

	Provider domain.PaymentProvider
	Notifier domain.Notifier
	Metrics  *metrics.DispatchMetrics

	Processor *session.Processor
	Checkout  *checkout.Service
	Webhook   *webhook.Handler

	PGStore       *postgres.Store
	KafkaNotifier *notify.KafkaNotifier

	Logger *log.Entry
}

// NewDependencies собирает зависимости по конфигурации. Пустой PostgresDSN
// даёт in-memory хранилище, пустой StripeSecretKey — mock-провайдер,
// пустой KafkaBrokers — лог вместо брокера.
func NewDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*Dependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	deps := &Dependencies{Logger: logger}

	if cfg.PostgresDSN != "" {
		store, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		deps.PGStore = store
		deps.Products = postgres.NewProductRepository(store)
		deps.Orders = postgres.NewOrderRepository(store)
		deps.Payments = postgres.NewPaymentRepository(store)
		deps.Outbox = postgres.NewOutboxRepository(store)
		logger.Info("using postgres storage")
	} else {
		store := memory.NewStore()
		deps.Products = memory.NewProductRepository(store)
		deps.Orders = memory.NewOrderRepository(store)
		deps.Payments = memory.NewPaymentRepository(store)
		deps.Outbox = memory.NewOutboxRepository(store)
		logger.Warn("postgres dsn is not set, using in-memory storage")
	}

	if cfg.StripeSecretKey != "" {
		deps.Provider = stripe.New(cfg.StripeSecretKey,
			stripe.WithRedirectURLs(cfg.StripeSuccessURL, cfg.StripeCancelURL))
		logger.Info("using stripe payment provider")
	} else {
		deps.Provider = provider.NewMock()
		logger.Warn("stripe key is not set, using mock payment provider")
	}

	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		notifier, err := notify.NewKafkaNotifier(brokers, cfg.KafkaTopic)
		if err != nil {
			logger.WithError(err).Warn("failed to create kafka notifier, falling back to log")
			deps.Notifier = notify.NewLogNotifier()
		} else {
			deps.KafkaNotifier = notifier
			deps.Notifier = notifier
			logger.WithField("brokers", brokers).Info("kafka notifier initialized")
		}
	} else {
		deps.Notifier = notify.NewLogNotifier()
	}

	deps.Metrics = metrics.NewDispatchMetrics()
	deps.Processor = session.NewProcessor(
		deps.Orders, deps.Payments, deps.Products, deps.Outbox,
		deps.Provider, deps.Notifier,
		session.WithCurrency(cfg.Currency),
		session.WithMetrics(deps.Metrics),
	)
	deps.Checkout = checkout.NewService(
		deps.Products, deps.Orders, deps.Payments, deps.Outbox,
		deps.Processor, deps.Provider,
	)
	deps.Webhook = webhook.NewHandler(deps.Payments)

	return deps, nil
}

// Close освобождает ресурсы зависимостей.
func (d *Dependencies) Close() {
	if d.KafkaNotifier != nil {
		if err := d.KafkaNotifier.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close kafka notifier")
		}
	}
	if d.PGStore != nil {
		if err := d.PGStore.Close(); err != nil {
			d.Logger.WithError(err).Warn("failed to close postgres store")
		}
	}
}

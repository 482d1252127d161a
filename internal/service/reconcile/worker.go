// Package reconcile разрешает dead-letter события сверкой с провайдером:
// подтверждённые платежи остаются webhook-у, брошенные заказы отменяются
// с возвратом остатков.
package reconcile

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	defaultInterval     = 1 * time.Hour
	defaultAgeThreshold = 24 * time.Hour
	defaultBatchSize    = 20
)

// Причины разрешения dead-letter событий.
const (
	ResolutionProviderSucceeded = "provider says succeeded"
	ResolutionAutoRestored      = "auto restored"
	ResolutionAlreadyRestored   = "already restored"
	ResolutionOrderNotFound     = "order not found"
	ResolutionPayloadUnreadable = "payload unreadable"
)

// Options задаёт параметры reconciler-а.
type Options struct {
	Logger       *log.Entry
	Metrics      *metrics.DispatchMetrics
	Interval     time.Duration
	AgeThreshold time.Duration
	BatchSize    int
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics задаёт метрики обработки.
func WithMetrics(m *metrics.DispatchMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithInterval задаёт период между свипами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithAgeThreshold задаёт минимальный возраст dead-letter события для свипа.
func WithAgeThreshold(threshold time.Duration) Option {
	return func(opts *Options) {
		opts.AgeThreshold = threshold
	}
}

// WithBatchSize задаёт размер батча свипа.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// Worker периодически разрешает зависшие dead-letter события.
type Worker struct {
	outbox   domain.OutboxRepository
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	provider domain.PaymentProvider
	notifier domain.Notifier

	logger       *log.Entry
	metrics      *metrics.DispatchMetrics
	interval     time.Duration
	ageThreshold time.Duration
	batchSize    int
}

// NewWorker создаёт reconciler.
func NewWorker(
	outbox domain.OutboxRepository,
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	provider domain.PaymentProvider,
	notifier domain.Notifier,
	options ...Option,
) *Worker {
	opts := Options{
		Interval:     defaultInterval,
		AgeThreshold: defaultAgeThreshold,
		BatchSize:    defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "dead-letter-reconciler")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.AgeThreshold < 0 {
		opts.AgeThreshold = 0
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	return &Worker{
		outbox:       outbox,
		orders:       orders,
		payments:     payments,
		provider:     provider,
		notifier:     notifier,
		logger:       logger,
		metrics:      opts.Metrics,
		interval:     opts.Interval,
		ageThreshold: opts.AgeThreshold,
		batchSize:    opts.BatchSize,
	}
}

// Run запускает периодические свипы до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce разрешает один батч dead-letter событий старше порога.
func (w *Worker) SweepOnce(ctx context.Context) {
	events, err := w.outbox.PullDeadLetters(time.Now().Add(-w.ageThreshold), w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull dead letter events")
		return
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return
		}
		w.reconcile(event)
	}
}

func (w *Worker) reconcile(event domain.OutboxEvent) {
	logger := w.logger.WithField("outbox_id", event.ID)

	payload, err := event.SessionPayload()
	if err != nil {
		logger.WithError(err).Warn("dead letter payload unreadable, resolving")
		w.resolve(event, payload, ResolutionPayloadUnreadable)
		return
	}
	logger = logger.WithField("order_id", payload.OrderID)

	// Сначала истина провайдера: подтверждённый платёж нельзя трогать,
	// остатки не возвращаются, терминальный статус поставит webhook.
	payment, err := w.payments.Get(payload.PaymentID)
	if err != nil && !errors.Is(err, domain.ErrPaymentNotFound) {
		logger.WithError(err).Warn("failed to load payment, skipping until next sweep")
		return
	}
	if err == nil && payment.ProviderIntentID != "" {
		intent, err := w.provider.RetrieveIntent(payment.ProviderIntentID)
		if err != nil {
			logger.WithError(err).Warn("provider unavailable, skipping until next sweep")
			return
		}
		if intent.Status == domain.IntentStatusSucceeded || intent.Status == domain.IntentStatusRequiresCapture {
			logger.WithField("intent_status", intent.Status).
				Info("provider reports successful intent, resolving without restore")
			w.resolve(event, payload, ResolutionProviderSucceeded)
			return
		}
	}

	order, err := w.orders.Get(payload.OrderID)
	if errors.Is(err, domain.ErrOrderNotFound) {
		w.resolve(event, payload, ResolutionOrderNotFound)
		return
	}
	if err != nil {
		logger.WithError(err).Warn("failed to load order, skipping until next sweep")
		return
	}
	if order.StockRestored {
		w.resolve(event, payload, ResolutionAlreadyRestored)
		return
	}

	if err := w.outbox.ResolveWithRestore(event.ID, order.ID, ResolutionAutoRestored); err != nil {
		logger.WithError(err).Error("failed to resolve dead letter with restore")
		return
	}
	logger.Info("dead letter resolved, stock restored, order canceled")
	w.afterResolve(event, payload, ResolutionAutoRestored)
}

func (w *Worker) resolve(event domain.OutboxEvent, payload domain.SessionPayload, resolution string) {
	if err := w.outbox.Resolve(event.ID, resolution); err != nil {
		w.logger.WithError(err).WithField("outbox_id", event.ID).
			Error("failed to resolve dead letter")
		return
	}
	w.afterResolve(event, payload, resolution)
}

func (w *Worker) afterResolve(event domain.OutboxEvent, payload domain.SessionPayload, resolution string) {
	if w.metrics != nil {
		w.metrics.RecordReconciled(resolution)
	}
	if w.notifier == nil {
		return
	}
	if err := w.notifier.NotifyDeadLetterResolved(domain.DeadLetterNotice{
		OutboxID:   event.ID,
		OrderID:    payload.OrderID,
		PaymentID:  payload.PaymentID,
		Reason:     event.DeadLetterReason,
		Resolution: resolution,
	}); err != nil {
		w.logger.WithError(err).WithField("outbox_id", event.ID).
			Warn("failed to notify about dead letter resolution")
	}
}

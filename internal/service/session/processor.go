// Package session превращает захваченное outbox-событие в платёжную сессию
// внешнего провайдера и ведёт учёт попыток, dead-letter и компенсаций.
package session

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/metrics"
)

const (
	defaultCurrency         = "usd"
	defaultRetrieveAttempts = 5
	defaultRetrieveDelay    = 500 * time.Millisecond
	defaultMaxAttempts      = 3
)

// Options задаёт параметры процессора.
type Options struct {
	Logger           *log.Entry
	Metrics          *metrics.DispatchMetrics
	Currency         string
	RetrieveAttempts int
	RetrieveDelay    time.Duration
	MaxAttempts      int32
}

// Option настраивает Processor.
type Option func(*Options)

// WithLogger задаёт logger процессора.
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

// WithCurrency задаёт валюту платёжных сессий.
func WithCurrency(currency string) Option {
	return func(opts *Options) {
		opts.Currency = currency
	}
}

// WithRetrieveRetry задаёт параметры цикла дочитывания intent id из сессии.
func WithRetrieveRetry(attempts int, delay time.Duration) Option {
	return func(opts *Options) {
		opts.RetrieveAttempts = attempts
		opts.RetrieveDelay = delay
	}
}

// WithMaxAttempts задаёт порог dead-letter по счётчику попыток события.
func WithMaxAttempts(maxAttempts int32) Option {
	return func(opts *Options) {
		opts.MaxAttempts = maxAttempts
	}
}

// Processor обрабатывает события CREATE_PAYMENT_SESSION.
type Processor struct {
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	products domain.ProductRepository
	outbox   domain.OutboxRepository
	provider domain.PaymentProvider
	notifier domain.Notifier

	logger           *log.Entry
	metrics          *metrics.DispatchMetrics
	currency         string
	retrieveAttempts int
	retrieveDelay    time.Duration
	maxAttempts      int32
}

// NewProcessor создаёт процессор платёжных сессий.
func NewProcessor(
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	products domain.ProductRepository,
	outbox domain.OutboxRepository,
	provider domain.PaymentProvider,
	notifier domain.Notifier,
	options ...Option,
) *Processor {
	opts := Options{
		Currency:         defaultCurrency,
		RetrieveAttempts: defaultRetrieveAttempts,
		RetrieveDelay:    defaultRetrieveDelay,
		MaxAttempts:      defaultMaxAttempts,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "session-processor")
	}
	if opts.RetrieveAttempts <= 0 {
		opts.RetrieveAttempts = defaultRetrieveAttempts
	}
	if opts.RetrieveDelay < 0 {
		opts.RetrieveDelay = 0
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	return &Processor{
		orders:           orders,
		payments:         payments,
		products:         products,
		outbox:           outbox,
		provider:         provider,
		notifier:         notifier,
		logger:           logger,
		metrics:          opts.Metrics,
		currency:         opts.Currency,
		retrieveAttempts: opts.RetrieveAttempts,
		retrieveDelay:    opts.RetrieveDelay,
		maxAttempts:      opts.MaxAttempts,
	}
}

// Process создаёт платёжную сессию для захваченного события и атомарно
// сохраняет результат. Возвращаемая ошибка типа CompensatedError означает,
// что провал уже скомпенсирован и повторять обработку не нужно.
func (p *Processor) Process(event domain.OutboxEvent) (domain.Session, error) {
	if event.Topic != domain.TopicCreatePaymentSession {
		// Незнакомый топик не ошибка: событие закрывается, чтобы не
		// крутиться в очереди вечно.
		p.logger.WithFields(log.Fields{
			"outbox_id": event.ID,
			"topic":     event.Topic,
		}).Warn("skipping event with unsupported topic")
		if err := p.outbox.Complete(event.ID); err != nil {
			return domain.Session{}, fmt.Errorf("complete unsupported event: %w", err)
		}
		return domain.Session{}, nil
	}

	payload, err := event.SessionPayload()
	if err != nil {
		return domain.Session{}, err
	}

	payment, err := p.payments.Get(payload.PaymentID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load payment: %w", err)
	}
	if payment.Status != domain.PaymentStatusUnpaid {
		// Платёж уже покинул unpaid (webhook, компенсация, reconciler):
		// событие закрывается без обращения к провайдеру.
		p.logger.WithFields(log.Fields{
			"outbox_id":  event.ID,
			"payment_id": payment.ID,
			"status":     payment.Status,
		}).Info("payment already left unpaid state, completing event")
		if err := p.outbox.Complete(event.ID); err != nil {
			return domain.Session{}, fmt.Errorf("complete stale event: %w", err)
		}
		return domain.Session{}, nil
	}

	order, err := p.orders.Get(payload.OrderID)
	if err != nil {
		return domain.Session{}, fmt.Errorf("load order: %w", err)
	}

	lineItems := p.buildLineItems(order)

	// Intent-first: предпочтительный поток. Провал не фатален, сессия
	// умеет создать intent самостоятельно.
	intentID := ""
	intent, err := p.provider.CreateIntent(domain.IntentRequest{
		AmountCents: order.AmountCents,
		Currency:    p.currency,
		OrderID:     order.ID,
		PaymentID:   payment.ID,
	})
	if err != nil {
		p.logger.WithError(err).WithField("payment_id", payment.ID).
			Warn("intent creation failed, falling back to session-first flow")
	} else {
		intentID = intent.ID
		// Best-effort: авторитетная запись происходит вместе с сессией.
		if saveErr := p.payments.SaveIntentID(payment.ID, intent.ID); saveErr != nil {
			p.logger.WithError(saveErr).WithField("payment_id", payment.ID).
				Warn("failed to persist intent id, will be recovered from session")
		}
	}

	sess, err := p.provider.CreateSession(domain.SessionRequest{
		IntentID:      intentID,
		Currency:      p.currency,
		LineItems:     lineItems,
		CustomerEmail: payload.BuyerEmail,
		OrderID:       order.ID,
		PaymentID:     payment.ID,
	})
	if err != nil {
		// Ничего внешнего ещё не создано (intent без сессии отменять
		// не обязательно: его нечем оплатить), компенсация не нужна.
		return domain.Session{}, fmt.Errorf("create session: %w", err)
	}

	if sess.IntentID == "" {
		sess.IntentID = p.awaitSessionIntent(sess)
	}
	if sess.IntentID == "" {
		sess.IntentID = intentID
	}

	if err := p.outbox.CompleteWithSession(event.ID, payment.ID, sess); err != nil {
		return domain.Session{}, p.compensate(order, payment, sess, err)
	}

	p.logger.WithFields(log.Fields{
		"outbox_id":  event.ID,
		"order_id":   order.ID,
		"session_id": sess.ID,
	}).Info("payment session created")

	return sess, nil
}

// Dispatch — единая точка входа для синхронного вызывающего и воркера:
// обрабатывает захваченное событие и ведёт учёт попыток и dead-letter.
// Событие должно быть уже захвачено вызывающим.
func (p *Processor) Dispatch(event domain.OutboxEvent) (domain.Session, error) {
	started := time.Now()
	sess, err := p.Process(event)
	if p.metrics != nil {
		p.metrics.RecordDispatchDuration(time.Since(started))
	}
	if err == nil {
		if p.metrics != nil {
			p.metrics.RecordDispatchSucceeded()
		}
		return sess, nil
	}

	if domain.IsCompensated(err) {
		// Компенсация закрыла вопрос: lease снимается, попытки не растут.
		if p.metrics != nil {
			p.metrics.RecordDispatchCompensated()
		}
		if relErr := p.outbox.Release(event.ID); relErr != nil {
			p.logger.WithError(relErr).WithField("outbox_id", event.ID).
				Warn("failed to release claim after compensation")
		}
		return domain.Session{}, err
	}

	if p.metrics != nil {
		p.metrics.RecordDispatchFailed()
	}

	attempts, recErr := p.outbox.RecordFailure(event.ID, err.Error())
	if recErr != nil {
		p.logger.WithError(recErr).WithField("outbox_id", event.ID).
			Warn("failed to record dispatch failure")
	}

	if recErr == nil && attempts >= p.maxAttempts {
		p.deadLetter(event, attempts, err)
	}

	if relErr := p.outbox.Release(event.ID); relErr != nil {
		p.logger.WithError(relErr).WithField("outbox_id", event.ID).
			Warn("failed to release claim after failure")
	}

	return domain.Session{}, err
}

// compensate отменяет провайдерский intent после провала финальной
// транзакции. Успешная отмена возвращает остатки и помечает заказ failed;
// неуспешная переводит заказ и платёж в pending_reconcile.
func (p *Processor) compensate(order domain.Order, payment domain.Payment, sess domain.Session, dbErr error) error {
	logger := p.logger.WithFields(log.Fields{
		"order_id":   order.ID,
		"payment_id": payment.ID,
		"session_id": sess.ID,
	})
	logger.WithError(dbErr).Error("failed to persist session, compensating")

	intentID := sess.IntentID
	if intentID == "" {
		intentID = payment.ProviderIntentID
	}

	if intentID != "" {
		if cancelErr := p.provider.CancelIntent(intentID); cancelErr != nil {
			logger.WithError(cancelErr).Error("intent cancellation failed, marking pending_reconcile")
			if markErr := p.orders.MarkPendingReconcile(order.ID, payment.ID, dbErr.Error()); markErr != nil {
				logger.WithError(markErr).Error("failed to mark pending_reconcile")
			}
			return fmt.Errorf("persist session: %w", dbErr)
		}
	}

	if failErr := p.orders.FailWithRestore(order.ID, payment.ID, dbErr.Error()); failErr != nil {
		logger.WithError(failErr).Error("failed to fail order after cancellation")
		return fmt.Errorf("persist session: %w", dbErr)
	}

	logger.Info("compensation applied: intent canceled, stock restored")
	return &domain.CompensatedError{Err: dbErr}
}

// awaitSessionIntent дочитывает intent id из сессии с фиксированной
// задержкой. Число попыток ограничено, чтобы не блокировать слот воркера.
func (p *Processor) awaitSessionIntent(sess domain.Session) string {
	for attempt := 1; attempt <= p.retrieveAttempts; attempt++ {
		if attempt > 1 && p.retrieveDelay > 0 {
			time.Sleep(p.retrieveDelay)
		}

		fetched, err := p.provider.RetrieveSession(sess.ID)
		if err != nil {
			p.logger.WithError(err).WithFields(log.Fields{
				"session_id": sess.ID,
				"attempt":    attempt,
			}).Warn("failed to retrieve session")
			continue
		}
		if fetched.IntentID != "" {
			return fetched.IntentID
		}
	}

	p.logger.WithField("session_id", sess.ID).
		Warn("session intent id not available after retries")
	return ""
}

func (p *Processor) deadLetter(event domain.OutboxEvent, attempts int32, cause error) {
	reason := fmt.Sprintf("exhausted after %d attempts: %v", attempts, cause)

	payload, err := event.SessionPayload()
	if err != nil {
		p.logger.WithError(err).WithField("outbox_id", event.ID).
			Warn("dead-lettering event with unreadable payload")
	}

	applied, err := p.outbox.MarkDeadLetter(event.ID, payload.OrderID, payload.PaymentID, reason)
	if err != nil {
		p.logger.WithError(err).WithField("outbox_id", event.ID).
			Error("failed to mark event dead letter")
		return
	}
	if !applied {
		return
	}

	if p.metrics != nil {
		p.metrics.RecordDeadLetter()
	}
	p.logger.WithFields(log.Fields{
		"outbox_id": event.ID,
		"order_id":  payload.OrderID,
		"attempts":  attempts,
	}).Error("outbox event dead-lettered")

	if p.notifier == nil {
		return
	}
	if notifyErr := p.notifier.NotifyDeadLetter(domain.DeadLetterNotice{
		OutboxID:  event.ID,
		OrderID:   payload.OrderID,
		PaymentID: payload.PaymentID,
		Reason:    reason,
	}); notifyErr != nil {
		p.logger.WithError(notifyErr).WithField("outbox_id", event.ID).
			Warn("failed to notify about dead letter")
	}
}

func (p *Processor) buildLineItems(order domain.Order) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(order.Items))
	for _, item := range order.Items {
		name := item.ProductID
		if product, err := p.products.Get(item.ProductID); err == nil {
			name = product.Name
		}
		items = append(items, domain.LineItem{
			Name:       name,
			PriceCents: item.PriceCents,
			Quantity:   item.Quantity,
		})
	}
	return items
}

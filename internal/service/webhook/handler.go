// Package webhook обрабатывает входящие push-уведомления платёжного
// провайдера с дедупликацией по provider_event_id.
package webhook

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Handler переводит платежи и заказы в терминальные статусы по событиям
// провайдера. Каждый переход защищён условным обновлением, поэтому повторная
// доставка того же события — no-op.
type Handler struct {
	payments domain.PaymentRepository
	logger   *log.Entry
}

// NewHandler создаёт обработчик webhook-событий.
func NewHandler(payments domain.PaymentRepository) *Handler {
	return &Handler{
		payments: payments,
		logger:   log.WithField("component", "webhook-handler"),
	}
}

// HandleProviderWebhook применяет событие провайдера. Незнакомые типы
// событий пропускаются без ошибки.
func (h *Handler) HandleProviderWebhook(event domain.ProviderEvent) error {
	logger := h.logger.WithFields(log.Fields{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	payment, err := h.resolvePayment(event)
	if err != nil {
		if errors.Is(err, domain.ErrPaymentNotFound) {
			logger.Warn("webhook references unknown payment, ignoring")
			return nil
		}
		return err
	}
	logger = logger.WithField("payment_id", payment.ID)

	switch event.Type {
	case domain.ProviderEventSessionCompleted, domain.ProviderEventSessionAsyncSucceeded:
		applied, err := h.payments.MarkPaid(payment.ID, event.ID)
		if err != nil {
			return fmt.Errorf("mark payment paid: %w", err)
		}
		if !applied {
			logger.Info("duplicate webhook event, skipping")
			return nil
		}
		logger.Info("payment marked paid")
		return nil

	case domain.ProviderEventIntentFailed, domain.ProviderEventSessionExpired:
		message := event.Message
		if message == "" {
			message = event.Type
		}
		applied, err := h.payments.MarkFailed(payment.ID, event.ID, message)
		if err != nil {
			return fmt.Errorf("mark payment failed: %w", err)
		}
		if !applied {
			logger.Info("duplicate webhook event, skipping")
			return nil
		}
		logger.Info("payment marked failed, stock restored")
		return nil

	default:
		logger.Debug("unrecognized webhook event type, ignoring")
		return nil
	}
}

// resolvePayment находит платёж по metadata события либо по провайдерским
// идентификаторам: сначала session id, затем intent id.
func (h *Handler) resolvePayment(event domain.ProviderEvent) (domain.Payment, error) {
	if event.PaymentID != "" {
		payment, err := h.payments.Get(event.PaymentID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			return domain.Payment{}, fmt.Errorf("load payment: %w", err)
		}
	}
	if event.SessionID != "" {
		payment, err := h.payments.FindBySessionID(event.SessionID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			return domain.Payment{}, fmt.Errorf("find payment by session: %w", err)
		}
	}
	if event.IntentID != "" {
		payment, err := h.payments.FindByIntentID(event.IntentID)
		if err == nil {
			return payment, nil
		}
		if !errors.Is(err, domain.ErrPaymentNotFound) {
			return domain.Payment{}, fmt.Errorf("find payment by intent: %w", err)
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

package notify

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// LogNotifier пишет уведомления в лог. Используется, когда брокеры Kafka
// не сконфигурированы.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier поверх logrus.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: log.WithField("component", "log-notifier")}
}

func (n *LogNotifier) NotifyDeadLetter(notice domain.DeadLetterNotice) error {
	n.logger.WithFields(log.Fields{
		"outbox_id":  notice.OutboxID,
		"order_id":   notice.OrderID,
		"payment_id": notice.PaymentID,
		"reason":     notice.Reason,
	}).Warn("outbox event moved to dead letter")
	return nil
}

func (n *LogNotifier) NotifyDeadLetterResolved(notice domain.DeadLetterNotice) error {
	n.logger.WithFields(log.Fields{
		"outbox_id":  notice.OutboxID,
		"order_id":   notice.OrderID,
		"resolution": notice.Resolution,
	}).Info("dead letter resolved")
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)

// Package notify доставляет операторам уведомления о dead-letter событиях.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// DefaultTopic — топик Kafka для уведомлений о dead-letter событиях.
const DefaultTopic = "checkout.deadletter.events"

// KafkaNotifier публикует уведомления в Kafka через sync producer.
type KafkaNotifier struct {
	producer sarama.SyncProducer
	topic    string
	logger   *log.Entry
}

// NewKafkaNotifier создаёт producer с идемпотентной доставкой.
func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1 // Для идемпотентности

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	if topic == "" {
		topic = DefaultTopic
	}

	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		logger:   log.WithField("component", "kafka-notifier"),
	}, nil
}

type deadLetterMessage struct {
	Kind       string    `json:"kind"`
	OutboxID   string    `json:"outbox_id"`
	OrderID    string    `json:"order_id"`
	PaymentID  string    `json:"payment_id,omitempty"`
	Reason     string    `json:"reason"`
	Resolution string    `json:"resolution,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NotifyDeadLetter публикует уведомление о новом dead-letter событии.
func (n *KafkaNotifier) NotifyDeadLetter(notice domain.DeadLetterNotice) error {
	return n.publish(deadLetterMessage{
		Kind:       "dead_letter",
		OutboxID:   notice.OutboxID,
		OrderID:    notice.OrderID,
		PaymentID:  notice.PaymentID,
		Reason:     notice.Reason,
		OccurredAt: time.Now().UTC(),
	})
}

// NotifyDeadLetterResolved публикует уведомление о разрешении dead-letter.
func (n *KafkaNotifier) NotifyDeadLetterResolved(notice domain.DeadLetterNotice) error {
	return n.publish(deadLetterMessage{
		Kind:       "dead_letter_resolved",
		OutboxID:   notice.OutboxID,
		OrderID:    notice.OrderID,
		PaymentID:  notice.PaymentID,
		Reason:     notice.Reason,
		Resolution: notice.Resolution,
		OccurredAt: time.Now().UTC(),
	})
}

func (n *KafkaNotifier) publish(msg deadLetterMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notice: %w", err)
	}

	partition, offset, err := n.producer.SendMessage(&sarama.ProducerMessage{
		Topic:     n.topic,
		Key:       sarama.StringEncoder(msg.OutboxID),
		Value:     sarama.ByteEncoder(data),
		Timestamp: time.Now(),
	})
	if err != nil {
		n.logger.WithError(err).WithFields(log.Fields{
			"topic":     n.topic,
			"outbox_id": msg.OutboxID,
		}).Error("failed to send notice to kafka")
		return fmt.Errorf("failed to send notice: %w", err)
	}

	n.logger.WithFields(log.Fields{
		"topic":     n.topic,
		"outbox_id": msg.OutboxID,
		"partition": partition,
		"offset":    offset,
	}).Debug("notice sent to kafka")

	return nil
}

// Close закрывает producer.
func (n *KafkaNotifier) Close() error {
	if err := n.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

var _ domain.Notifier = (*KafkaNotifier)(nil)

package notify

import (
	"encoding/json"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func newMockKafkaNotifier(t *testing.T, producer sarama.SyncProducer) *KafkaNotifier {
	t.Helper()
	return &KafkaNotifier{
		producer: producer,
		topic:    DefaultTopic,
		logger:   log.WithField("component", "kafka-notifier-test"),
	}
}

func TestKafkaNotifier_NotifyDeadLetter(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(raw []byte) error {
		var msg deadLetterMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		if msg.Kind != "dead_letter" {
			t.Errorf("expected kind dead_letter, got %q", msg.Kind)
		}
		if msg.OutboxID != "outbox-1" || msg.OrderID != "order-1" {
			t.Errorf("unexpected message ids: %+v", msg)
		}
		if msg.Reason != "exhausted after 3 attempts" {
			t.Errorf("unexpected reason %q", msg.Reason)
		}
		if msg.OccurredAt.IsZero() {
			t.Error("expected occurred_at to be set")
		}
		return nil
	})

	notifier := newMockKafkaNotifier(t, mockProducer)
	err := notifier.NotifyDeadLetter(domain.DeadLetterNotice{
		OutboxID:  "outbox-1",
		OrderID:   "order-1",
		PaymentID: "payment-1",
		Reason:    "exhausted after 3 attempts",
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestKafkaNotifier_NotifyDeadLetterResolved(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(raw []byte) error {
		var msg deadLetterMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return err
		}
		if msg.Kind != "dead_letter_resolved" {
			t.Errorf("expected kind dead_letter_resolved, got %q", msg.Kind)
		}
		if msg.Resolution != "auto restored" {
			t.Errorf("unexpected resolution %q", msg.Resolution)
		}
		return nil
	})

	notifier := newMockKafkaNotifier(t, mockProducer)
	err := notifier.NotifyDeadLetterResolved(domain.DeadLetterNotice{
		OutboxID:   "outbox-1",
		OrderID:    "order-1",
		Reason:     "exhausted after 3 attempts",
		Resolution: "auto restored",
	})
	if err != nil {
		t.Fatalf("notify failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestKafkaNotifier_ProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	notifier := newMockKafkaNotifier(t, mockProducer)
	err := notifier.NotifyDeadLetter(domain.DeadLetterNotice{
		OutboxID: "outbox-2",
		OrderID:  "order-2",
		Reason:   "boom",
	})
	if err == nil {
		t.Fatal("expected producer error")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

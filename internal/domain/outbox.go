package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OutboxTopic определяет тип работы, закодированной в outbox-событии.
type OutboxTopic string

const (
	// TopicCreatePaymentSession — создать платёжную сессию у внешнего провайдера.
	TopicCreatePaymentSession OutboxTopic = "CREATE_PAYMENT_SESSION"
)

// SessionPayload — типизированный payload события CREATE_PAYMENT_SESSION.
// Новые топики добавляют собственные варианты; неизвестные топики
// обработчик пропускает, не считая их ошибкой.
type SessionPayload struct {
	OrderID    string `json:"order_id"`
	PaymentID  string `json:"payment_id"`
	BuyerEmail string `json:"buyer_email,omitempty"`
}

// OutboxEvent — единица работы transactional outbox. Создаётся в одной
// транзакции с изменением состояния, которое она описывает.
type OutboxEvent struct {
	ID        string
	Topic     OutboxTopic
	Payload   []byte
	Processed bool
	Attempts  int32
	Error     string
	// ClaimedAt/ClaimedBy — поля lease: условное обновление по ним
	// заменяет внешний lock-сервис.
	ClaimedAt            *time.Time
	ClaimedBy            string
	DeadLetter           bool
	DeadLetterAt         *time.Time
	DeadLetterReason     string
	DeadLetterResolvedAt *time.Time
	CreatedAt            time.Time
	ProcessedAt          *time.Time
}

// NewSessionEvent создаёт outbox-событие CREATE_PAYMENT_SESSION.
func NewSessionEvent(payload SessionPayload) (OutboxEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, fmt.Errorf("marshal session payload: %w", err)
	}
	return OutboxEvent{
		Topic:   TopicCreatePaymentSession,
		Payload: raw,
	}, nil
}

// SessionPayload декодирует payload события CREATE_PAYMENT_SESSION.
func (e *OutboxEvent) SessionPayload() (SessionPayload, error) {
	if e.Topic != TopicCreatePaymentSession {
		return SessionPayload{}, fmt.Errorf("%w: topic %s", ErrUnsupportedTopic, e.Topic)
	}

	var payload SessionPayload
	if err := json.Unmarshal(e.Payload, &payload); err != nil {
		return SessionPayload{}, fmt.Errorf("unmarshal session payload: %w", err)
	}
	if payload.OrderID == "" || payload.PaymentID == "" {
		return SessionPayload{}, ErrPayloadIncomplete
	}

	return payload, nil
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount         int
	OldestPendingAt      time.Time
	DeadLetterUnresolved int
}

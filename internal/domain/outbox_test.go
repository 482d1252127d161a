package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestNewSessionEvent_RoundTrip(t *testing.T) {
	event, err := domain.NewSessionEvent(domain.SessionPayload{
		OrderID:    "o1",
		PaymentID:  "pay1",
		BuyerEmail: "buyer@example.com",
	})
	if err != nil {
		t.Fatalf("new session event failed: %v", err)
	}
	if event.Topic != domain.TopicCreatePaymentSession {
		t.Fatalf("unexpected topic %s", event.Topic)
	}

	payload, err := event.SessionPayload()
	if err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if payload.OrderID != "o1" || payload.PaymentID != "pay1" || payload.BuyerEmail != "buyer@example.com" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestSessionPayload_UnsupportedTopic(t *testing.T) {
	event := domain.OutboxEvent{Topic: "SEND_EMAIL", Payload: []byte(`{}`)}

	_, err := event.SessionPayload()
	if !errors.Is(err, domain.ErrUnsupportedTopic) {
		t.Fatalf("expected ErrUnsupportedTopic, got %v", err)
	}
}

func TestSessionPayload_Incomplete(t *testing.T) {
	event := domain.OutboxEvent{
		Topic:   domain.TopicCreatePaymentSession,
		Payload: []byte(`{"order_id":"o1"}`),
	}

	_, err := event.SessionPayload()
	if !errors.Is(err, domain.ErrPayloadIncomplete) {
		t.Fatalf("expected ErrPayloadIncomplete, got %v", err)
	}
}

func TestIsCompensated(t *testing.T) {
	inner := errors.New("save session failed")
	err := &domain.CompensatedError{Err: inner}

	if !domain.IsCompensated(err) {
		t.Fatal("expected CompensatedError to be detected")
	}
	if !errors.Is(err, inner) {
		t.Fatal("expected Unwrap to reach the inner error")
	}
	if domain.IsCompensated(inner) {
		t.Fatal("plain error must not be treated as compensated")
	}
}

package postgres

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestPaymentRepository_PostgresMarkPaidDedup(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	order, payment, _ := seedCheckoutAggregate(t, store, 2, 2)
	payments := NewPaymentRepository(store)

	applied, err := payments.MarkPaid(payment.ID, "evt-1")
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	if !applied {
		t.Fatal("expected first event to apply")
	}

	applied, err = payments.MarkPaid(payment.ID, "evt-1")
	if err != nil {
		t.Fatalf("duplicate mark paid: %v", err)
	}
	if applied {
		t.Fatal("expected duplicate to be a no-op")
	}

	// Конфликтующее событие с другим id тоже проигрывает первому.
	applied, err = payments.MarkFailed(payment.ID, "evt-2", "late failure")
	if err != nil {
		t.Fatalf("conflicting mark failed: %v", err)
	}
	if applied {
		t.Fatal("first webhook must win")
	}

	got, _ := payments.Get(payment.ID)
	if got.Status != domain.PaymentStatusPaid || got.ProviderEventID != "evt-1" {
		t.Fatalf("unexpected payment state: %+v", got)
	}

	orders := NewOrderRepository(store)
	gotOrder, _ := orders.Get(order.ID)
	if gotOrder.Status != domain.OrderStatusPaid {
		t.Fatalf("expected order paid, got %s", gotOrder.Status)
	}
	// Остатки оплаченного заказа остаются зарезервированными.
	products := NewProductRepository(store)
	product, _ := products.Get(order.Items[0].ProductID)
	if product.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", product.Quantity)
	}
}

func TestPaymentRepository_PostgresMarkFailedRestoresStock(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	order, payment, _ := seedCheckoutAggregate(t, store, 3, 2)
	payments := NewPaymentRepository(store)

	applied, err := payments.MarkFailed(payment.ID, "evt-1", "card declined")
	if err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if !applied {
		t.Fatal("expected event to apply")
	}

	got, _ := payments.Get(payment.ID)
	if got.Status != domain.PaymentStatusFailed || got.ErrorMessage != "card declined" {
		t.Fatalf("unexpected payment state: %+v", got)
	}

	products := NewProductRepository(store)
	product, _ := products.Get(order.Items[0].ProductID)
	if product.Quantity != 3 {
		t.Fatalf("expected quantity restored to 3, got %d", product.Quantity)
	}

	// Dedup-метка и возврат остатков фиксируются одной транзакцией:
	// раз provider_event_id записан, остатки уже возвращены. Повторная
	// доставка того же события ничего не меняет.
	if got.ProviderEventID != "evt-1" {
		t.Fatalf("expected provider event recorded with restore, got %q", got.ProviderEventID)
	}
	orders := NewOrderRepository(store)
	gotOrder, _ := orders.Get(order.ID)
	if gotOrder.Status != domain.OrderStatusFailed || !gotOrder.StockRestored {
		t.Fatalf("unexpected order state: %+v", gotOrder)
	}

	applied, err = payments.MarkFailed(payment.ID, "evt-1", "card declined")
	if err != nil {
		t.Fatalf("redelivered mark failed: %v", err)
	}
	if applied {
		t.Fatal("expected redelivery to be a no-op")
	}
	product, _ = products.Get(order.Items[0].ProductID)
	if product.Quantity != 3 {
		t.Fatalf("expected quantity unchanged at 3, got %d", product.Quantity)
	}
}

func TestPaymentRepository_PostgresSaveIntentID(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	_, payment, _ := seedCheckoutAggregate(t, store, 2, 1)
	payments := NewPaymentRepository(store)

	if err := payments.SaveIntentID(payment.ID, "pi_saved"); err != nil {
		t.Fatalf("save intent id: %v", err)
	}

	found, err := payments.FindByIntentID("pi_saved")
	if err != nil {
		t.Fatalf("find by intent id: %v", err)
	}
	if found.ID != payment.ID {
		t.Fatalf("expected payment %s, got %s", payment.ID, found.ID)
	}

	if _, err := payments.FindByIntentID("pi_unknown"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

func TestPaymentRepository_PostgresNotFound(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)

	payments := NewPaymentRepository(store)
	if _, err := payments.Get("missing-payment"); !errors.Is(err, domain.ErrPaymentNotFound) {
		t.Fatalf("expected ErrPaymentNotFound, got %v", err)
	}
}

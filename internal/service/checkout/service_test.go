package checkout

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/notify"
	"github.com/vladislavdragonenkov/checkout/internal/provider"
	"github.com/vladislavdragonenkov/checkout/internal/service/session"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

type testEnv struct {
	store    *memory.Store
	products domain.ProductRepository
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	outbox   domain.OutboxRepository
	provider *provider.Mock
	service  *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := memory.NewStore()
	env := &testEnv{
		store:    store,
		products: memory.NewProductRepository(store),
		orders:   memory.NewOrderRepository(store),
		payments: memory.NewPaymentRepository(store),
		outbox:   memory.NewOutboxRepository(store),
		provider: provider.NewMock(),
	}
	processor := session.NewProcessor(
		env.orders, env.payments, env.products, env.outbox,
		env.provider, notify.NewMockNotifier(),
		session.WithRetrieveRetry(2, 0),
	)
	env.service = NewService(env.products, env.orders, env.payments, env.outbox, processor, env.provider)
	return env
}

func (e *testEnv) seedProduct(t *testing.T, id string, price int64, quantity int32) {
	t.Helper()
	_, err := e.products.Create(domain.Product{ID: id, Name: "product " + id, PriceCents: price, Quantity: quantity})
	if err != nil {
		t.Fatalf("seed product failed: %v", err)
	}
}

func TestCreateOrder_ReturnsPaymentURL(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedProduct(t, "p1", 500, 2)

	result, err := env.service.CreateOrder(OrderInput{
		BuyerID: "buyer-1",
		Items:   []ItemInput{{ProductID: "p1", Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if result.Queued {
		t.Fatalf("expected inline session, got queued: %v", result.QueuedReason)
	}
	if result.PaymentURL == "" {
		t.Fatal("expected payment url")
	}

	order, err := env.orders.Get(result.OrderID)
	if err != nil {
		t.Fatalf("get order failed: %v", err)
	}
	if order.AmountCents != 1000 {
		t.Fatalf("expected amount 1000, got %d", order.AmountCents)
	}
	product, _ := env.products.Get("p1")
	if product.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", product.Quantity)
	}

	stats, _ := env.outbox.Stats()
	if stats.PendingCount != 0 {
		t.Fatalf("expected empty backlog after inline dispatch, got %d", stats.PendingCount)
	}
}

func TestCreateOrder_ProviderDownLeavesEventQueued(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedProduct(t, "p1", 500, 2)
	env.provider.SessionErr = domain.ErrProviderUnavailable

	result, err := env.service.CreateOrder(OrderInput{
		BuyerID: "buyer-1",
		Items:   []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if !result.Queued {
		t.Fatal("expected order to be queued")
	}
	if !errors.Is(result.QueuedReason, domain.ErrProviderUnavailable) {
		t.Fatalf("expected provider error as reason, got %v", result.QueuedReason)
	}

	// Заказ создан, остаток зарезервирован, событие ждёт воркера.
	if _, err := env.orders.Get(result.OrderID); err != nil {
		t.Fatalf("order must exist: %v", err)
	}
	pending, err := env.outbox.PullUnclaimed(10)
	if err != nil {
		t.Fatalf("pull unclaimed failed: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending event, got %d", len(pending))
	}
}

func TestCreateOrder_ValidationErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedProduct(t, "p1", 500, 1)

	cases := []struct {
		name  string
		input OrderInput
		want  error
	}{
		{
			name:  "empty order",
			input: OrderInput{BuyerID: "buyer-1"},
			want:  domain.ErrOrderEmpty,
		},
		{
			name:  "missing buyer",
			input: OrderInput{Items: []ItemInput{{ProductID: "p1", Quantity: 1}}},
			want:  domain.ErrBuyerRequired,
		},
		{
			name:  "zero quantity",
			input: OrderInput{BuyerID: "buyer-1", Items: []ItemInput{{ProductID: "p1", Quantity: 0}}},
			want:  domain.ErrItemQtyInvalid,
		},
		{
			name:  "unknown product",
			input: OrderInput{BuyerID: "buyer-1", Items: []ItemInput{{ProductID: "ghost", Quantity: 1}}},
			want:  domain.ErrProductNotFound,
		},
		{
			name:  "insufficient stock",
			input: OrderInput{BuyerID: "buyer-1", Items: []ItemInput{{ProductID: "p1", Quantity: 5}}},
			want:  domain.ErrInsufficientStock,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.CreateOrder(tc.input)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	if env.provider.SessionCalls != 0 {
		t.Fatal("provider must not be called for rejected orders")
	}
}

func TestCreateOrderPayLater_NoOutboxEvent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedProduct(t, "p1", 500, 2)

	result, err := env.service.CreateOrderPayLater(OrderInput{
		BuyerID: "buyer-1",
		Items:   []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}
	if result.PaymentURL != "" {
		t.Fatal("pay-later order must not have a payment url")
	}

	stats, _ := env.outbox.Stats()
	if stats.PendingCount != 0 {
		t.Fatalf("expected no outbox events, got %d", stats.PendingCount)
	}
	if env.provider.SessionCalls != 0 {
		t.Fatal("provider must not be called")
	}
}

func TestInitiatePayment_CreatesSession(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedProduct(t, "p1", 500, 2)

	created, err := env.service.CreateOrderPayLater(OrderInput{
		BuyerID: "buyer-1",
		Items:   []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	result, err := env.service.InitiatePayment(created.OrderID, created.PaymentID, InitiateOptions{BuyerEmail: "buyer@example.com"})
	if err != nil {
		t.Fatalf("initiate payment failed: %v", err)
	}
	if result.Queued {
		t.Fatalf("expected inline session, got queued: %v", result.QueuedReason)
	}
	if result.PaymentURL == "" {
		t.Fatal("expected payment url")
	}

	// Повторный вызов идемпотентно возвращает сохранённый URL.
	sessionCalls := env.provider.SessionCalls
	repeat, err := env.service.InitiatePayment(created.OrderID, created.PaymentID, InitiateOptions{})
	if err != nil {
		t.Fatalf("repeated initiate failed: %v", err)
	}
	if repeat.PaymentURL != result.PaymentURL {
		t.Fatalf("expected same url, got %q and %q", result.PaymentURL, repeat.PaymentURL)
	}
	if env.provider.SessionCalls != sessionCalls {
		t.Fatal("repeated initiate must not call the provider")
	}
}

func TestInitiatePayment_InvalidState(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedProduct(t, "p1", 500, 2)

	created, err := env.service.CreateOrderPayLater(OrderInput{
		BuyerID: "buyer-1",
		Items:   []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	if _, err := env.service.InitiatePayment("other-order", created.PaymentID, InitiateOptions{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for wrong order, got %v", err)
	}

	if _, err := env.payments.MarkPaid(created.PaymentID, "evt-1"); err != nil {
		t.Fatalf("mark paid failed: %v", err)
	}
	if _, err := env.service.InitiatePayment(created.OrderID, created.PaymentID, InitiateOptions{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for paid payment, got %v", err)
	}
}

func TestGetPaymentStatus_FallsBackToProvider(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seedProduct(t, "p1", 500, 2)

	created, err := env.service.CreateOrder(OrderInput{
		BuyerID: "buyer-1",
		Items:   []ItemInput{{ProductID: "p1", Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create order failed: %v", err)
	}

	status, err := env.service.GetPaymentStatus(created.PaymentID)
	if err != nil {
		t.Fatalf("get status failed: %v", err)
	}
	if status.Status != domain.PaymentStatusUnpaid {
		t.Fatalf("expected unpaid, got %s", status.Status)
	}
	if status.PaymentURL != created.PaymentURL {
		t.Fatalf("expected url %q, got %q", created.PaymentURL, status.PaymentURL)
	}
}

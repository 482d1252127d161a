package integration

import (
	"context"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/notify"
	"github.com/vladislavdragonenkov/checkout/internal/provider"
	"github.com/vladislavdragonenkov/checkout/internal/service/checkout"
	"github.com/vladislavdragonenkov/checkout/internal/service/outbox"
	"github.com/vladislavdragonenkov/checkout/internal/service/reconcile"
	"github.com/vladislavdragonenkov/checkout/internal/service/session"
	"github.com/vladislavdragonenkov/checkout/internal/service/webhook"
	"github.com/vladislavdragonenkov/checkout/internal/storage/memory"
)

// CheckoutLifecycleTestSuite тестирует полный жизненный цикл заказа:
// создание с резервированием, платёжную сессию, webhook и эскалацию
// провалов через dead-letter к reconciler-у.
type CheckoutLifecycleTestSuite struct {
	suite.Suite

	products domain.ProductRepository
	orders   domain.OrderRepository
	payments domain.PaymentRepository
	outbox   domain.OutboxRepository

	provider *provider.Mock
	notifier *notify.MockNotifier

	processor *session.Processor
	service   *checkout.Service
	webhook   *webhook.Handler
}

func (s *CheckoutLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel) // Уменьшаем шум в тестах
	logger := baseLogger.WithField("component", "integration-test")

	store := memory.NewStore()
	s.products = memory.NewProductRepository(store)
	s.orders = memory.NewOrderRepository(store)
	s.payments = memory.NewPaymentRepository(store)
	s.outbox = memory.NewOutboxRepository(store)

	s.provider = provider.NewMock()
	s.notifier = notify.NewMockNotifier()

	s.processor = session.NewProcessor(
		s.orders, s.payments, s.products, s.outbox,
		s.provider, s.notifier,
		session.WithLogger(logger),
		session.WithRetrieveRetry(2, 0),
		session.WithMaxAttempts(3),
	)
	s.service = checkout.NewService(s.products, s.orders, s.payments, s.outbox, s.processor, s.provider)
	s.webhook = webhook.NewHandler(s.payments)

	_, err := s.products.Create(domain.Product{ID: "laptop", Name: "Laptop Pro", PriceCents: 199900, Quantity: 3})
	require.NoError(s.T(), err)
	_, err = s.products.Create(domain.Product{ID: "mouse", Name: "Wireless Mouse", PriceCents: 4999, Quantity: 10})
	require.NoError(s.T(), err)
}

func (s *CheckoutLifecycleTestSuite) TestSuccessfulCheckout() {
	// 1. Создаём заказ: остатки резервируются, сессия создаётся синхронно.
	result, err := s.service.CreateOrder(checkout.OrderInput{
		BuyerID:    "customer-123",
		BuyerEmail: "customer@example.com",
		Items: []checkout.ItemInput{
			{ProductID: "laptop", Quantity: 1},
			{ProductID: "mouse", Quantity: 2},
		},
	})
	require.NoError(s.T(), err)
	require.False(s.T(), result.Queued)
	require.NotEmpty(s.T(), result.PaymentURL)

	order, err := s.orders.Get(result.OrderID)
	require.NoError(s.T(), err)
	require.Equal(s.T(), int64(199900+2*4999), order.AmountCents)

	laptop, _ := s.products.Get("laptop")
	require.Equal(s.T(), int32(2), laptop.Quantity)

	// 2. Провайдер подтверждает оплату webhook-ом.
	payment, err := s.payments.Get(result.PaymentID)
	require.NoError(s.T(), err)
	require.NotEmpty(s.T(), payment.ProviderIntentID)

	err = s.webhook.HandleProviderWebhook(domain.ProviderEvent{
		ID:        "evt-paid",
		Type:      domain.ProviderEventSessionCompleted,
		PaymentID: result.PaymentID,
	})
	require.NoError(s.T(), err)

	order, _ = s.orders.Get(result.OrderID)
	require.Equal(s.T(), domain.OrderStatusPaid, order.Status)

	// 3. Повторная доставка webhook безвредна.
	err = s.webhook.HandleProviderWebhook(domain.ProviderEvent{
		ID:        "evt-paid",
		Type:      domain.ProviderEventSessionCompleted,
		PaymentID: result.PaymentID,
	})
	require.NoError(s.T(), err)
	order, _ = s.orders.Get(result.OrderID)
	require.Equal(s.T(), domain.OrderStatusPaid, order.Status)
}

func (s *CheckoutLifecycleTestSuite) TestProviderOutageRecoveredByWorker() {
	// Синхронная попытка проваливается, событие остаётся воркеру.
	s.provider.SessionErr = domain.ErrProviderUnavailable

	result, err := s.service.CreateOrder(checkout.OrderInput{
		BuyerID: "customer-123",
		Items:   []checkout.ItemInput{{ProductID: "mouse", Quantity: 1}},
	})
	require.NoError(s.T(), err)
	require.True(s.T(), result.Queued)

	// Провайдер восстановился, следующий poll воркера закрывает событие.
	s.provider.SessionErr = nil
	worker := outbox.NewWorker(s.outbox, s.processor,
		outbox.WithWorkerID("integration-worker"),
		outbox.WithConcurrency(1),
	)
	worker.ProcessOnce(context.Background())
	worker.Wait()

	stats, err := s.outbox.Stats()
	require.NoError(s.T(), err)
	require.Zero(s.T(), stats.PendingCount)

	payment, err := s.payments.Get(result.PaymentID)
	require.NoError(s.T(), err)
	require.NotEmpty(s.T(), payment.PaymentURL)
}

func (s *CheckoutLifecycleTestSuite) TestExhaustedRetriesEscalateToReconciler() {
	s.provider.SessionErr = domain.ErrProviderUnavailable
	s.provider.IntentStatus = "requires_payment_method"

	result, err := s.service.CreateOrder(checkout.OrderInput{
		BuyerID: "customer-123",
		Items:   []checkout.ItemInput{{ProductID: "laptop", Quantity: 1}},
	})
	require.NoError(s.T(), err)
	require.True(s.T(), result.Queued)

	// Ещё две попытки воркера исчерпывают лимит.
	worker := outbox.NewWorker(s.outbox, s.processor,
		outbox.WithWorkerID("integration-worker"),
		outbox.WithConcurrency(1),
	)
	for i := 0; i < 2; i++ {
		worker.ProcessOnce(context.Background())
		worker.Wait()
	}

	require.Equal(s.T(), 1, s.notifier.DeadLetterCount())
	order, _ := s.orders.Get(result.OrderID)
	require.Equal(s.T(), domain.OrderStatusPendingReconcile, order.Status)

	laptop, _ := s.products.Get("laptop")
	require.Equal(s.T(), int32(2), laptop.Quantity, "stock stays reserved until reconciliation")

	// Reconciler: intent так и не оплачен, заказ брошен, остатки возвращаются.
	reconciler := reconcile.NewWorker(s.outbox, s.orders, s.payments, s.provider, s.notifier,
		reconcile.WithAgeThreshold(0),
	)
	time.Sleep(5 * time.Millisecond)
	reconciler.SweepOnce(context.Background())

	order, _ = s.orders.Get(result.OrderID)
	require.Equal(s.T(), domain.OrderStatusCanceled, order.Status)
	laptop, _ = s.products.Get("laptop")
	require.Equal(s.T(), int32(3), laptop.Quantity)
	require.Len(s.T(), s.notifier.Resolved, 1)
}

func (s *CheckoutLifecycleTestSuite) TestInsufficientStockRejectedAtomically() {
	_, err := s.service.CreateOrder(checkout.OrderInput{
		BuyerID: "customer-123",
		Items:   []checkout.ItemInput{{ProductID: "laptop", Quantity: 5}},
	})
	require.ErrorIs(s.T(), err, domain.ErrInsufficientStock)

	laptop, _ := s.products.Get("laptop")
	require.Equal(s.T(), int32(3), laptop.Quantity)

	stats, _ := s.outbox.Stats()
	require.Zero(s.T(), stats.PendingCount)
}

func TestCheckoutLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutLifecycleTestSuite))
}

// Package checkout реализует агрегат заказ/платёж: атомарное создание заказа
// с резервированием остатков и постановкой работы в transactional outbox.
package checkout

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
	"github.com/vladislavdragonenkov/checkout/internal/service/session"
)

// ItemInput — позиция создаваемого заказа.
type ItemInput struct {
	ProductID string
	Quantity  int32
}

// OrderInput — параметры создания заказа.
type OrderInput struct {
	BuyerID    string
	BuyerEmail string
	Items      []ItemInput
}

// OrderResult — итог создания заказа. Queued=true означает, что платёжную
// сессию создаст асинхронный воркер; QueuedReason объясняет, почему
// синхронная попытка не удалась.
type OrderResult struct {
	OrderID      string
	PaymentID    string
	PaymentURL   string
	Queued       bool
	QueuedReason error
}

// PaymentStatusResult — текущее состояние платежа для вызывающего.
type PaymentStatusResult struct {
	Status     domain.PaymentStatus
	PaymentURL string
}

// Service — агрегат заказ/платёж.
type Service struct {
	products  domain.ProductRepository
	orders    domain.OrderRepository
	payments  domain.PaymentRepository
	outbox    domain.OutboxRepository
	processor *session.Processor
	provider  domain.PaymentProvider
	logger    *log.Entry
}

// NewService создаёт сервис заказов.
func NewService(
	products domain.ProductRepository,
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	outbox domain.OutboxRepository,
	processor *session.Processor,
	provider domain.PaymentProvider,
) *Service {
	return &Service{
		products:  products,
		orders:    orders,
		payments:  payments,
		outbox:    outbox,
		processor: processor,
		provider:  provider,
		logger:    log.WithField("component", "checkout-service"),
	}
}

// CreateOrder атомарно резервирует остатки, создаёт заказ, платёж и
// outbox-событие, затем пытается создать платёжную сессию синхронно.
// При неудаче синхронной попытки событие остаётся в очереди воркера.
func (s *Service) CreateOrder(input OrderInput) (OrderResult, error) {
	order, payment, err := s.buildAggregate(input)
	if err != nil {
		return OrderResult{}, err
	}

	event, err := domain.NewSessionEvent(domain.SessionPayload{
		OrderID:    order.ID,
		PaymentID:  payment.ID,
		BuyerEmail: input.BuyerEmail,
	})
	if err != nil {
		return OrderResult{}, err
	}

	if err := s.orders.CreateWithReservation(order, payment, &event); err != nil {
		if domain.IsUserError(err) {
			return OrderResult{}, err
		}
		return OrderResult{}, fmt.Errorf("create order: %w", err)
	}

	result := OrderResult{OrderID: order.ID, PaymentID: payment.ID}

	// Inline fast path: захват только что созданного события синтетическим
	// идентификатором. Провал любого шага оставляет событие воркеру.
	claimedBy := inlineClaimID()
	if err := s.outbox.ClaimOne(event.ID, claimedBy); err != nil {
		s.logger.WithError(err).WithField("outbox_id", event.ID).
			Warn("inline claim failed, leaving event to the worker")
		result.Queued = true
		result.QueuedReason = err
		return result, nil
	}
	event.ClaimedBy = claimedBy

	sess, err := s.processor.Dispatch(event)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":  order.ID,
			"outbox_id": event.ID,
		}).Warn("inline session creation failed")
		result.Queued = true
		result.QueuedReason = err
		return result, nil
	}

	result.PaymentURL = sess.URL
	return result, nil
}

// CreateOrderPayLater — то же резервирование и создание заказа, но без
// outbox-события: платёж откладывается до явного вызова InitiatePayment.
func (s *Service) CreateOrderPayLater(input OrderInput) (OrderResult, error) {
	order, payment, err := s.buildAggregate(input)
	if err != nil {
		return OrderResult{}, err
	}

	if err := s.orders.CreateWithReservation(order, payment, nil); err != nil {
		if domain.IsUserError(err) {
			return OrderResult{}, err
		}
		return OrderResult{}, fmt.Errorf("create order: %w", err)
	}

	return OrderResult{OrderID: order.ID, PaymentID: payment.ID}, nil
}

// InitiateOptions — параметры отложенной инициации платежа.
type InitiateOptions struct {
	BuyerEmail string
}

// InitiatePayment запускает создание платёжной сессии для существующего
// платежа. Повторный вызов с уже созданными провайдерскими ресурсами
// идемпотентно возвращает сохранённый URL.
func (s *Service) InitiatePayment(orderID, paymentID string, opts InitiateOptions) (OrderResult, error) {
	payment, err := s.payments.Get(paymentID)
	if err != nil {
		return OrderResult{}, err
	}
	if payment.OrderID != orderID {
		return OrderResult{}, domain.ErrInvalidState
	}
	if payment.Status != domain.PaymentStatusUnpaid {
		return OrderResult{}, domain.ErrInvalidState
	}
	if payment.HasProviderResources() {
		return OrderResult{
			OrderID:    orderID,
			PaymentID:  paymentID,
			PaymentURL: payment.PaymentURL,
		}, nil
	}

	event, err := domain.NewSessionEvent(domain.SessionPayload{
		OrderID:    orderID,
		PaymentID:  paymentID,
		BuyerEmail: opts.BuyerEmail,
	})
	if err != nil {
		return OrderResult{}, err
	}

	// Событие создаётся сразу захваченным: асинхронный воркер никогда
	// не конкурирует с синхронным вызывающим за эту единицу работы.
	now := time.Now().UTC()
	event.ClaimedAt = &now
	event.ClaimedBy = inlineClaimID()

	event, err = s.outbox.Enqueue(event)
	if err != nil {
		return OrderResult{}, fmt.Errorf("enqueue session event: %w", err)
	}

	result := OrderResult{OrderID: orderID, PaymentID: paymentID}

	sess, err := s.processor.Dispatch(event)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id":  orderID,
			"outbox_id": event.ID,
		}).Warn("inline session creation failed")
		result.Queued = true
		result.QueuedReason = err
		return result, nil
	}

	result.PaymentURL = sess.URL
	return result, nil
}

// GetPaymentStatus возвращает статус платежа. Если URL сессии не был
// сохранён, он дочитывается у провайдера.
func (s *Service) GetPaymentStatus(paymentID string) (PaymentStatusResult, error) {
	payment, err := s.payments.Get(paymentID)
	if err != nil {
		return PaymentStatusResult{}, err
	}

	result := PaymentStatusResult{
		Status:     payment.Status,
		PaymentURL: payment.PaymentURL,
	}
	if result.PaymentURL == "" && payment.ProviderSessionID != "" && s.provider != nil {
		if sess, err := s.provider.RetrieveSession(payment.ProviderSessionID); err == nil {
			result.PaymentURL = sess.URL
		} else {
			s.logger.WithError(err).WithField("payment_id", paymentID).
				Warn("failed to retrieve session url from provider")
		}
	}

	return result, nil
}

// buildAggregate валидирует вход, снимает снимки цен и собирает заказ
// с платежом. Остатки резервирует репозиторий.
func (s *Service) buildAggregate(input OrderInput) (domain.Order, domain.Payment, error) {
	if len(input.Items) == 0 {
		return domain.Order{}, domain.Payment{}, domain.ErrOrderEmpty
	}
	if input.BuyerID == "" {
		return domain.Order{}, domain.Payment{}, domain.ErrBuyerRequired
	}
	for _, item := range input.Items {
		if item.Quantity <= 0 {
			return domain.Order{}, domain.Payment{}, domain.ErrItemQtyInvalid
		}
	}

	ids := make([]string, 0, len(input.Items))
	seen := make(map[string]bool, len(input.Items))
	for _, item := range input.Items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.products.List(ids)
	if err != nil {
		return domain.Order{}, domain.Payment{}, fmt.Errorf("load products: %w", err)
	}
	byID := make(map[string]domain.Product, len(products))
	for _, product := range products {
		byID[product.ID] = product
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return domain.Order{}, domain.Payment{}, domain.ErrProductNotFound
		}
	}

	orderID := uuid.NewString()
	now := time.Now().UTC()

	var total int64
	items := make([]domain.OrderItem, 0, len(input.Items))
	for _, item := range input.Items {
		product := byID[item.ProductID]
		if product.PriceCents < 0 {
			return domain.Order{}, domain.Payment{}, domain.ErrItemPriceInvalid
		}
		total += product.PriceCents * int64(item.Quantity)
		items = append(items, domain.OrderItem{
			ID:         uuid.NewString(),
			OrderID:    orderID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			PriceCents: product.PriceCents,
			CreatedAt:  now,
		})
	}

	order := domain.Order{
		ID:          orderID,
		BuyerID:     input.BuyerID,
		Status:      domain.OrderStatusUnpaid,
		AmountCents: total,
		Items:       items,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payment := domain.Payment{
		ID:          uuid.NewString(),
		OrderID:     orderID,
		AmountCents: total,
		Status:      domain.PaymentStatusUnpaid,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	return order, payment, nil
}

func inlineClaimID() string {
	return "inline-" + uuid.NewString()
}

package memory

import (
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// orderRepository — in-memory реализация OrderRepository.
type orderRepository struct {
	store *Store
}

// NewOrderRepository создаёт in-memory реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{store: store}
}

func (r *orderRepository) CreateWithReservation(order domain.Order, payment domain.Payment, event *domain.OutboxEvent) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	// Суммируем количество по товарам: дубликаты позиций одного товара
	// резервируются один раз общей суммой.
	needed := make(map[string]int32)
	for _, item := range order.Items {
		needed[item.ProductID] += item.Quantity
	}

	for productID := range needed {
		if _, ok := r.store.products[productID]; !ok {
			return domain.ErrProductNotFound
		}
	}

	// Сначала проверяем весь резерв, потом применяем: нехватка по любому
	// товару означает нулевой side effect (all-or-nothing).
	for productID, qty := range needed {
		if r.store.products[productID].Quantity < qty {
			return domain.ErrInsufficientStock
		}
	}
	for productID, qty := range needed {
		r.store.products[productID].Quantity -= qty
	}

	now := time.Now().UTC()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.UpdatedAt = now
	for i := range order.Items {
		if order.Items[i].ID == "" {
			order.Items[i].ID = uuid.NewString()
		}
		order.Items[i].OrderID = order.ID
		if order.Items[i].CreatedAt.IsZero() {
			order.Items[i].CreatedAt = now
		}
	}
	stored := copyOrder(&order)
	r.store.orders[order.ID] = &stored

	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = now
	}
	payment.UpdatedAt = now
	storedPayment := payment
	r.store.payments[payment.ID] = &storedPayment

	if event != nil {
		if event.ID == "" {
			event.ID = uuid.NewString()
		}
		if event.CreatedAt.IsZero() {
			event.CreatedAt = now
		}
		storedEvent := copyEvent(event)
		r.store.outbox[event.ID] = &storedEvent
	}

	return nil
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return copyOrder(order), nil
}

func (r *orderRepository) RestoreStock(orderID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	return r.store.restoreStockLocked(orderID)
}

func (r *orderRepository) FailWithRestore(orderID, paymentID, errMessage string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if _, err := r.store.restoreStockLocked(orderID); err != nil {
		return err
	}
	order.Status = domain.OrderStatusFailed
	order.UpdatedAt = time.Now().UTC()

	if payment, ok := r.store.payments[paymentID]; ok {
		payment.Status = domain.PaymentStatusFailed
		payment.ErrorMessage = errMessage
		payment.UpdatedAt = order.UpdatedAt
	}

	return nil
}

func (r *orderRepository) MarkPendingReconcile(orderID, paymentID, errMessage string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	order, ok := r.store.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	order.Status = domain.OrderStatusPendingReconcile
	order.UpdatedAt = time.Now().UTC()

	if payment, ok := r.store.payments[paymentID]; ok {
		payment.Status = domain.PaymentStatusPendingReconcile
		payment.ErrorMessage = errMessage
		payment.UpdatedAt = order.UpdatedAt
	}

	return nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)

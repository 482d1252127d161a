package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Store — общее in-memory состояние всех репозиториев. Один мьютекс на
// всё хранилище даёт ту же атомарность композитных операций, что и
// транзакция в PostgreSQL; используется в тестах и dev-режиме.
type Store struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	orders   map[string]*domain.Order
	payments map[string]*domain.Payment
	outbox   map[string]*domain.OutboxEvent
}

// NewStore создаёт пустое in-memory хранилище.
func NewStore() *Store {
	return &Store{
		products: make(map[string]*domain.Product),
		orders:   make(map[string]*domain.Order),
		payments: make(map[string]*domain.Payment),
		outbox:   make(map[string]*domain.OutboxEvent),
	}
}

// restoreStockLocked идемпотентно возвращает остатки заказа на склад.
// Вызывается строго под s.mu. Возвращает true, если возврат выполнен
// именно этим вызовом.
func (s *Store) restoreStockLocked(orderID string) (bool, error) {
	order, ok := s.orders[orderID]
	if !ok {
		return false, domain.ErrOrderNotFound
	}
	if order.StockRestored {
		return false, nil
	}

	for _, item := range order.Items {
		if product, ok := s.products[item.ProductID]; ok {
			product.Quantity += item.Quantity
		}
	}
	order.StockRestored = true

	return true, nil
}

func copyOrder(order *domain.Order) domain.Order {
	result := *order
	result.Items = make([]domain.OrderItem, len(order.Items))
	copy(result.Items, order.Items)
	return result
}

func copyEvent(event *domain.OutboxEvent) domain.OutboxEvent {
	result := *event
	result.Payload = append([]byte(nil), event.Payload...)
	if event.ClaimedAt != nil {
		claimedAt := *event.ClaimedAt
		result.ClaimedAt = &claimedAt
	}
	if event.DeadLetterAt != nil {
		deadLetterAt := *event.DeadLetterAt
		result.DeadLetterAt = &deadLetterAt
	}
	if event.DeadLetterResolvedAt != nil {
		resolvedAt := *event.DeadLetterResolvedAt
		result.DeadLetterResolvedAt = &resolvedAt
	}
	if event.ProcessedAt != nil {
		processedAt := *event.ProcessedAt
		result.ProcessedAt = &processedAt
	}
	return result
}

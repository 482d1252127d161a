package memory

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// outboxRepository — in-memory реализация OutboxRepository с теми же
// CAS-семантиками lease, что и условные UPDATE в PostgreSQL.
type outboxRepository struct {
	store *Store
}

// NewOutboxRepository создаёт in-memory реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{store: store}
}

func (r *outboxRepository) Enqueue(event domain.OutboxEvent) (domain.OutboxEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	stored := copyEvent(&event)
	r.store.outbox[event.ID] = &stored

	return event, nil
}

func (r *outboxRepository) Get(id string) (domain.OutboxEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[id]
	if !ok {
		return domain.OutboxEvent{}, domain.ErrOutboxNotFound
	}
	return copyEvent(event), nil
}

func (r *outboxRepository) PullUnclaimed(limit int) ([]domain.OutboxEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}

	candidates := make([]*domain.OutboxEvent, 0, limit)
	for _, event := range r.store.outbox {
		if event.Processed || event.DeadLetter || event.ClaimedAt != nil {
			continue
		}
		candidates = append(candidates, event)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	result := make([]domain.OutboxEvent, 0, len(candidates))
	for _, event := range candidates {
		result = append(result, copyEvent(event))
	}
	return result, nil
}

func (r *outboxRepository) Claim(ids []string, claimedBy string) ([]domain.OutboxEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	now := time.Now().UTC()
	won := make([]domain.OutboxEvent, 0, len(ids))
	for _, id := range ids {
		event, ok := r.store.outbox[id]
		if !ok || event.Processed || event.DeadLetter || event.ClaimedAt != nil {
			// Проигрыш гонки за строку — ожидаемое поведение.
			continue
		}
		claimedAt := now
		event.ClaimedAt = &claimedAt
		event.ClaimedBy = claimedBy
		won = append(won, copyEvent(event))
	}
	return won, nil
}

func (r *outboxRepository) ClaimOne(id, claimedBy string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[id]
	if !ok {
		return domain.ErrOutboxNotFound
	}
	if event.Processed || event.DeadLetter || event.ClaimedAt != nil {
		return domain.ErrOutboxClaimLost
	}
	claimedAt := time.Now().UTC()
	event.ClaimedAt = &claimedAt
	event.ClaimedBy = claimedBy
	return nil
}

func (r *outboxRepository) Release(id string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[id]
	if !ok {
		return domain.ErrOutboxNotFound
	}
	event.ClaimedAt = nil
	event.ClaimedBy = ""
	return nil
}

func (r *outboxRepository) CompleteWithSession(eventID, paymentID string, session domain.Session) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[eventID]
	if !ok {
		return domain.ErrOutboxNotFound
	}
	payment, ok := r.store.payments[paymentID]
	if !ok {
		return domain.ErrPaymentNotFound
	}

	if session.IntentID != "" {
		payment.ProviderIntentID = session.IntentID
	}
	payment.ProviderSessionID = session.ID
	payment.PaymentURL = session.URL
	payment.UpdatedAt = time.Now().UTC()

	r.completeLocked(event)
	return nil
}

func (r *outboxRepository) Complete(eventID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[eventID]
	if !ok {
		return domain.ErrOutboxNotFound
	}
	r.completeLocked(event)
	return nil
}

func (r *outboxRepository) completeLocked(event *domain.OutboxEvent) {
	now := time.Now().UTC()
	event.Processed = true
	event.ProcessedAt = &now
	event.ClaimedAt = nil
	event.ClaimedBy = ""
}

func (r *outboxRepository) RecordFailure(eventID, errMessage string) (int32, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[eventID]
	if !ok {
		return 0, domain.ErrOutboxNotFound
	}
	event.Attempts++
	event.Error = errMessage
	return event.Attempts, nil
}

func (r *outboxRepository) MarkDeadLetter(eventID, orderID, paymentID, reason string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[eventID]
	if !ok {
		return false, domain.ErrOutboxNotFound
	}
	if event.DeadLetter {
		return false, nil
	}
	now := time.Now().UTC()
	event.DeadLetter = true
	event.DeadLetterAt = &now
	event.DeadLetterReason = reason

	if order, ok := r.store.orders[orderID]; ok {
		order.Status = domain.OrderStatusPendingReconcile
		order.UpdatedAt = now
	}
	if payment, ok := r.store.payments[paymentID]; ok {
		payment.Status = domain.PaymentStatusPendingReconcile
		payment.ErrorMessage = reason
		payment.UpdatedAt = now
	}

	return true, nil
}

func (r *outboxRepository) PullDeadLetters(olderThan time.Time, limit int) ([]domain.OutboxEvent, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if limit <= 0 {
		limit = 20
	}

	candidates := make([]*domain.OutboxEvent, 0, limit)
	for _, event := range r.store.outbox {
		if !event.DeadLetter || event.DeadLetterResolvedAt != nil {
			continue
		}
		if event.DeadLetterAt == nil || !event.DeadLetterAt.Before(olderThan) {
			continue
		}
		candidates = append(candidates, event)
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].DeadLetterAt.Before(*candidates[j].DeadLetterAt)
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	result := make([]domain.OutboxEvent, 0, len(candidates))
	for _, event := range candidates {
		result = append(result, copyEvent(event))
	}
	return result, nil
}

func (r *outboxRepository) Resolve(eventID, reason string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[eventID]
	if !ok {
		return domain.ErrOutboxNotFound
	}
	r.resolveLocked(event, reason)
	return nil
}

func (r *outboxRepository) ResolveWithRestore(eventID, orderID, reason string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	event, ok := r.store.outbox[eventID]
	if !ok {
		return domain.ErrOutboxNotFound
	}

	if _, err := r.store.restoreStockLocked(orderID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if order, ok := r.store.orders[orderID]; ok {
		order.Status = domain.OrderStatusCanceled
		order.UpdatedAt = now
		for _, payment := range r.store.payments {
			if payment.OrderID == orderID {
				payment.Status = domain.PaymentStatusFailed
				payment.UpdatedAt = now
			}
		}
	}

	r.resolveLocked(event, reason)
	return nil
}

func (r *outboxRepository) resolveLocked(event *domain.OutboxEvent, reason string) {
	now := time.Now().UTC()
	event.DeadLetter = false
	event.DeadLetterResolvedAt = &now
	event.DeadLetterReason = reason
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	var stats domain.OutboxStats
	for _, event := range r.store.outbox {
		if event.DeadLetter && event.DeadLetterResolvedAt == nil {
			stats.DeadLetterUnresolved++
			continue
		}
		if event.Processed || event.DeadLetter {
			continue
		}
		stats.PendingCount++
		if stats.OldestPendingAt.IsZero() || event.CreatedAt.Before(stats.OldestPendingAt) {
			stats.OldestPendingAt = event.CreatedAt
		}
	}
	return stats, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

package memory

import (
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// paymentRepository — in-memory реализация PaymentRepository.
type paymentRepository struct {
	store *Store
}

// NewPaymentRepository создаёт in-memory реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{store: store}
}

func (r *paymentRepository) Get(id string) (domain.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	payment, ok := r.store.payments[id]
	if !ok {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return *payment, nil
}

func (r *paymentRepository) FindByIntentID(intentID string) (domain.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if intentID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	for _, payment := range r.store.payments {
		if payment.ProviderIntentID == intentID {
			return *payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

func (r *paymentRepository) FindBySessionID(sessionID string) (domain.Payment, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	if sessionID == "" {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	for _, payment := range r.store.payments {
		if payment.ProviderSessionID == sessionID {
			return *payment, nil
		}
	}
	return domain.Payment{}, domain.ErrPaymentNotFound
}

func (r *paymentRepository) SaveIntentID(paymentID, intentID string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	payment, ok := r.store.payments[paymentID]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	payment.ProviderIntentID = intentID
	payment.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *paymentRepository) MarkPaid(paymentID, providerEventID string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	payment, ok := r.store.payments[paymentID]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	// Первый webhook выигрывает: повторная доставка того же события — no-op.
	if payment.ProviderEventID != "" {
		return false, nil
	}
	payment.ProviderEventID = providerEventID
	payment.Status = domain.PaymentStatusPaid
	payment.UpdatedAt = time.Now().UTC()

	if order, ok := r.store.orders[payment.OrderID]; ok {
		order.Status = domain.OrderStatusPaid
		order.UpdatedAt = payment.UpdatedAt
	}

	return true, nil
}

func (r *paymentRepository) MarkFailed(paymentID, providerEventID, errMessage string) (bool, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	payment, ok := r.store.payments[paymentID]
	if !ok {
		return false, domain.ErrPaymentNotFound
	}
	if payment.ProviderEventID != "" {
		return false, nil
	}
	payment.ProviderEventID = providerEventID
	payment.Status = domain.PaymentStatusFailed
	payment.ErrorMessage = errMessage
	payment.UpdatedAt = time.Now().UTC()

	if _, err := r.store.restoreStockLocked(payment.OrderID); err != nil && err != domain.ErrOrderNotFound {
		return false, err
	}
	if order, ok := r.store.orders[payment.OrderID]; ok {
		order.Status = domain.OrderStatusFailed
		order.UpdatedAt = payment.UpdatedAt
	}

	return true, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)

// Package provider содержит заглушку платёжного провайдера для тестов
// и для запуска сервиса без ключей Stripe.
package provider

import (
	"fmt"
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// Mock — конфигурируемая заглушка domain.PaymentProvider.
// Нулевое значение отрабатывает успешный сценарий.
type Mock struct {
	mu sync.Mutex

	IntentErr          error
	SessionErr         error
	RetrieveSessionErr error
	CancelErr          error
	RetrieveIntentErr  error

	// RetrieveFailures — сколько первых вызовов RetrieveSession вернёт
	// ошибку до успеха (проверка retry-цикла).
	RetrieveFailures int

	// IntentStatus возвращается RetrieveIntent (по умолчанию succeeded).
	IntentStatus string

	IntentCalls          int
	SessionCalls         int
	RetrieveSessionCalls int
	CancelCalls          int
	RetrieveIntentCalls  int

	LastIntentReq  domain.IntentRequest
	LastSessionReq domain.SessionRequest
	CanceledIntent string

	seq int
}

// NewMock возвращает mock с успешным сценарием по умолчанию.
func NewMock() *Mock {
	return &Mock{IntentStatus: domain.IntentStatusSucceeded}
}

func (m *Mock) CreateIntent(req domain.IntentRequest) (domain.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.IntentCalls++
	m.LastIntentReq = req
	if m.IntentErr != nil {
		return domain.Intent{}, m.IntentErr
	}
	m.seq++
	return domain.Intent{
		ID:     fmt.Sprintf("pi_mock_%d", m.seq),
		Status: "requires_payment_method",
	}, nil
}

func (m *Mock) CreateSession(req domain.SessionRequest) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SessionCalls++
	m.LastSessionReq = req
	if m.SessionErr != nil {
		return domain.Session{}, m.SessionErr
	}
	m.seq++
	intentID := req.IntentID
	if intentID == "" {
		intentID = fmt.Sprintf("pi_mock_%d", m.seq)
	}
	return domain.Session{
		ID:       fmt.Sprintf("cs_mock_%d", m.seq),
		URL:      fmt.Sprintf("https://pay.mock/cs_mock_%d", m.seq),
		IntentID: intentID,
	}, nil
}

func (m *Mock) RetrieveSession(id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RetrieveSessionCalls++
	if m.RetrieveSessionErr != nil {
		return domain.Session{}, m.RetrieveSessionErr
	}
	if m.RetrieveFailures > 0 {
		m.RetrieveFailures--
		return domain.Session{}, domain.ErrProviderUnavailable
	}
	return domain.Session{
		ID:  id,
		URL: "https://pay.mock/" + id,
	}, nil
}

func (m *Mock) CancelIntent(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.CancelCalls++
	if m.CancelErr != nil {
		return m.CancelErr
	}
	m.CanceledIntent = id
	return nil
}

func (m *Mock) RetrieveIntent(id string) (domain.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.RetrieveIntentCalls++
	if m.RetrieveIntentErr != nil {
		return domain.Intent{}, m.RetrieveIntentErr
	}
	status := m.IntentStatus
	if status == "" {
		status = domain.IntentStatusSucceeded
	}
	return domain.Intent{ID: id, Status: status}, nil
}

var _ domain.PaymentProvider = (*Mock)(nil)

package notify

import (
	"sync"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

// MockNotifier — конфигурируемая заглушка Notifier для тестов.
type MockNotifier struct {
	mu sync.Mutex

	NotifyErr error

	DeadLetters []domain.DeadLetterNotice
	Resolved    []domain.DeadLetterNotice
}

// NewMockNotifier возвращает mock с успешным сценарием по умолчанию.
func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) NotifyDeadLetter(notice domain.DeadLetterNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NotifyErr != nil {
		return m.NotifyErr
	}
	m.DeadLetters = append(m.DeadLetters, notice)
	return nil
}

func (m *MockNotifier) NotifyDeadLetterResolved(notice domain.DeadLetterNotice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.NotifyErr != nil {
		return m.NotifyErr
	}
	m.Resolved = append(m.Resolved, notice)
	return nil
}

// DeadLetterCount возвращает число принятых уведомлений (потокобезопасно).
func (m *MockNotifier) DeadLetterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.DeadLetters)
}

var _ domain.Notifier = (*MockNotifier)(nil)

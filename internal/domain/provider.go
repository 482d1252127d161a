package domain

// IntentRequest — параметры создания payment intent у провайдера.
// OrderID и PaymentID уходят в metadata каждого вызова, чтобы провайдера
// и логи можно было сопоставить без обращения к базе.
type IntentRequest struct {
	AmountCents int64
	Currency    string
	OrderID     string
	PaymentID   string
}

// Intent — ресурс payment intent на стороне провайдера.
type Intent struct {
	ID     string
	Status string
}

// Статусы intent, как их сообщает провайдер.
const (
	IntentStatusSucceeded       = "succeeded"
	IntentStatusRequiresCapture = "requires_capture"
	IntentStatusCanceled        = "canceled"
)

// LineItem — позиция checkout-сессии. Цена берётся из снимка OrderItem,
// имя — из текущего каталога.
type LineItem struct {
	Name       string
	PriceCents int64
	Quantity   int32
}

// SessionRequest — параметры создания checkout-сессии.
// Если IntentID пуст, провайдер создаёт intent самостоятельно (session-first flow).
type SessionRequest struct {
	IntentID      string
	Currency      string
	LineItems     []LineItem
	CustomerEmail string
	OrderID       string
	PaymentID     string
}

// Session — checkout-сессия провайдера.
type Session struct {
	ID       string
	URL      string
	IntentID string
}

// PaymentProvider описывает внешний платёжный провайдер.
type PaymentProvider interface {
	CreateIntent(req IntentRequest) (Intent, error)
	CreateSession(req SessionRequest) (Session, error)
	RetrieveSession(id string) (Session, error)
	CancelIntent(id string) error
	RetrieveIntent(id string) (Intent, error)
}

// Типы входящих webhook-событий провайдера.
const (
	ProviderEventSessionCompleted      = "checkout.session.completed"
	ProviderEventSessionAsyncSucceeded = "checkout.session.async_payment_succeeded"
	ProviderEventIntentFailed          = "payment_intent.payment_failed"
	ProviderEventSessionExpired        = "checkout.session.expired"
)

// ProviderEvent — входящее push-уведомление провайдера.
// PaymentID и OrderID извлекаются из metadata, проставленной при создании
// intent/сессии.
type ProviderEvent struct {
	ID        string
	Type      string
	SessionID string
	IntentID  string
	PaymentID string
	OrderID   string
	Message   string
}

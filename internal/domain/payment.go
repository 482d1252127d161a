package domain

import "time"

// PaymentStatus описывает состояние платежа.
type PaymentStatus string

const (
	// PaymentStatusUnpaid — платёж создан, сессия провайдера ещё не оплачена.
	PaymentStatusUnpaid PaymentStatus = "unpaid"
	// PaymentStatusPaid — провайдер подтвердил оплату (терминальный статус).
	PaymentStatusPaid PaymentStatus = "paid"
	// PaymentStatusFailed — оплата не состоялась, остатки возвращены
	// (терминальный статус: повторная оплата идёт новым заказом).
	PaymentStatusFailed PaymentStatus = "failed"
	// PaymentStatusCanceled — платёж отменён (терминальный статус).
	PaymentStatusCanceled PaymentStatus = "canceled"
	// PaymentStatusPendingReconcile — истинное состояние неизвестно, ждёт reconciler.
	PaymentStatusPendingReconcile PaymentStatus = "pending_reconcile"
)

// Payment описывает платёж, связанный с заказом.
type Payment struct {
	ID          string
	OrderID     string
	AmountCents int64
	Status      PaymentStatus
	// ProviderIntentID и ProviderSessionID — идентификаторы ресурсов
	// на стороне платёжного провайдера.
	ProviderIntentID  string
	ProviderSessionID string
	PaymentURL        string
	// ProviderEventID — ключ дедупликации webhook-событий.
	// Записывается ровно один раз: первый webhook выигрывает.
	ProviderEventID string
	Attempts        int32
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Validate проверяет корректность полей платежа и возвращает ошибки, если они есть.
func (p *Payment) Validate() []error {
	var errs []error

	if p.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if p.AmountCents < 0 {
		errs = append(errs, ErrPaymentAmountNegative)
	}

	return errs
}

// IsTerminal сообщает, достиг ли платёж конечного статуса.
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusPaid || s == PaymentStatusCanceled
}

// HasProviderResources сообщает, создан ли уже intent или сессия у провайдера.
func (p *Payment) HasProviderResources() bool {
	return p.ProviderIntentID != "" || p.ProviderSessionID != ""
}

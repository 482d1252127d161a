package domain

import (
	"errors"
	"fmt"
)

var (
	// Ошибка пустого списка позиций заказа.
	ErrOrderEmpty = errors.New("order must contain at least one item")
	// Ошибка отсутствующего идентификатора покупателя.
	ErrBuyerRequired = errors.New("buyer_id is required")
	// Ошибка отсутствующего имени товара.
	ErrProductNameRequired = errors.New("product name is required")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("amount_cents must be non-negative")
	// Ошибка отрицательного остатка товара.
	ErrQuantityNegative = errors.New("product quantity must be non-negative")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrItemQtyInvalid = errors.New("item quantity must be greater than zero")
	// Ошибка, если цена позиции отрицательная.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// Ошибка несоответствия суммы заказа и сумм позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// Ошибка отрицательной суммы платежа.
	ErrPaymentAmountNegative = errors.New("payment amount must be non-negative")
	// Ошибка отсутствующего идентификатора заказа в платеже.
	ErrOrderIDRequired = errors.New("order_id is required")

	// ErrProductNotFound возвращается, если товар из заказа не существует.
	ErrProductNotFound = errors.New("product not found")
	// ErrInsufficientStock возвращается, когда условный декремент остатка
	// не затронул ни одной строки: остатка не хватает.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentNotFound возвращается, если платёж не найден в репозитории.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrOutboxNotFound возвращается, если outbox-событие не найдено.
	ErrOutboxNotFound = errors.New("outbox event not found")
	// ErrInvalidState — платёж или заказ уже в терминальном либо
	// конфликтующем статусе; повтор не поможет.
	ErrInvalidState = errors.New("payment is not in a valid state for this operation")
	// ErrOutboxClaimLost — условное обновление lease не выиграло гонку:
	// событие уже захвачено другим воркером.
	ErrOutboxClaimLost = errors.New("outbox claim lost to another worker")
	// ErrUnsupportedTopic — событие с незнакомым топиком; пропускается.
	ErrUnsupportedTopic = errors.New("unsupported outbox topic")
	// ErrPayloadIncomplete — payload события не содержит обязательных полей.
	ErrPayloadIncomplete = errors.New("outbox payload is incomplete")
	// ErrProviderUnavailable — временная ошибка платёжного провайдера.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)

// CompensatedError сообщает вызывающему, что обработка события провалилась,
// но компенсация уже завершена: провайдерский intent отменён, остатки
// возвращены, заказ и платёж помечены failed. Счётчик попыток при такой
// ошибке не увеличивается.
type CompensatedError struct {
	Err error
}

func (e *CompensatedError) Error() string {
	return fmt.Sprintf("processing failed, compensation applied: %v", e.Err)
}

func (e *CompensatedError) Unwrap() error {
	return e.Err
}

// IsCompensated проверяет, является ли ошибка уже скомпенсированной.
func IsCompensated(err error) bool {
	var ce *CompensatedError
	return errors.As(err, &ce)
}

// IsUserError проверяет, относится ли ошибка к классу пользовательских:
// такие ошибки возвращаются вызывающему и не ретраятся.
func IsUserError(err error) bool {
	return errors.Is(err, ErrOrderEmpty) ||
		errors.Is(err, ErrProductNotFound) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidState)
}

package domain

import "time"

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusUnpaid — заказ создан, остатки зарезервированы, оплата не выполнена.
	OrderStatusUnpaid OrderStatus = "unpaid"
	// OrderStatusPaid — оплата подтверждена платёжным провайдером.
	OrderStatusPaid OrderStatus = "paid"
	// OrderStatusFailed — оплата не состоялась, остатки возвращены.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusCanceled — заказ отменён (в том числе автоматически reconciler-ом).
	OrderStatusCanceled OrderStatus = "canceled"
	// OrderStatusPendingReconcile — внешний ресурс, возможно, существует;
	// истинное состояние выясняет reconciler или оператор.
	OrderStatusPendingReconcile OrderStatus = "pending_reconcile"
)

// OrderItem представляет одну позицию заказа.
// PriceCents — снимок цены товара на момент оформления: он никогда
// не перечитывается из каталога, поэтому сумма заказа стабильна.
type OrderItem struct {
	ID         string
	OrderID    string
	ProductID  string
	Quantity   int32
	PriceCents int64
	CreatedAt  time.Time
}

// Order агрегирует состояние заказа и его позиции.
type Order struct {
	ID          string
	BuyerID     string
	Status      OrderStatus
	AmountCents int64
	// StockRestored монотонно переходит из false в true и служит
	// единственным источником истины для идемпотентного возврата остатков.
	StockRestored bool
	Items         []OrderItem
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.BuyerID == "" {
		errs = append(errs, ErrBuyerRequired)
	}
	if len(o.Items) == 0 {
		errs = append(errs, ErrOrderEmpty)
	}
	if o.AmountCents < 0 {
		errs = append(errs, ErrAmountNegative)
	}

	// Сверяем сумму заказа с суммой позиций: qty * price.
	var calc int64
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			errs = append(errs, ErrItemQtyInvalid)
		}
		if item.PriceCents < 0 {
			errs = append(errs, ErrItemPriceInvalid)
		}
		calc += int64(item.Quantity) * item.PriceCents
	}
	if calc != o.AmountCents {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// IsTerminal сообщает, достиг ли заказ конечного статуса.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusPaid || s == OrderStatusCanceled
}

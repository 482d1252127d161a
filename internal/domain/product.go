package domain

import "time"

// Product описывает товар каталога с текущим остатком на складе.
// Поле Quantity изменяется только условными декрементами/инкрементами,
// поэтому оно никогда не становится отрицательным.
type Product struct {
	ID         string
	Name       string
	PriceCents int64
	Quantity   int32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Validate проверяет базовые инварианты товара и возвращает список замечаний.
func (p *Product) Validate() []error {
	var errs []error

	if p.Name == "" {
		errs = append(errs, ErrProductNameRequired)
	}
	if p.PriceCents < 0 {
		errs = append(errs, ErrItemPriceInvalid)
	}
	if p.Quantity < 0 {
		errs = append(errs, ErrQuantityNegative)
	}

	return errs
}

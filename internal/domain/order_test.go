package domain_test

import (
	"errors"
	"testing"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

func TestOrderValidateInvariants_Valid(t *testing.T) {
	order := domain.Order{
		ID:          "o1",
		BuyerID:     "buyer-1",
		Status:      domain.OrderStatusUnpaid,
		AmountCents: 1500,
		Items: []domain.OrderItem{
			{ID: "i1", OrderID: "o1", ProductID: "p1", Quantity: 3, PriceCents: 500},
		},
	}

	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("expected no violations, got %v", errs)
	}
}

func TestOrderValidateInvariants_Violations(t *testing.T) {
	cases := []struct {
		name  string
		order domain.Order
		want  error
	}{
		{
			name:  "empty order",
			order: domain.Order{BuyerID: "buyer-1"},
			want:  domain.ErrOrderEmpty,
		},
		{
			name: "missing buyer",
			order: domain.Order{
				AmountCents: 100,
				Items:       []domain.OrderItem{{ProductID: "p1", Quantity: 1, PriceCents: 100}},
			},
			want: domain.ErrBuyerRequired,
		},
		{
			name: "zero quantity item",
			order: domain.Order{
				BuyerID: "buyer-1",
				Items:   []domain.OrderItem{{ProductID: "p1", Quantity: 0, PriceCents: 100}},
			},
			want: domain.ErrItemQtyInvalid,
		},
		{
			name: "amount mismatch",
			order: domain.Order{
				BuyerID:     "buyer-1",
				AmountCents: 999,
				Items:       []domain.OrderItem{{ProductID: "p1", Quantity: 2, PriceCents: 100}},
			},
			want: domain.ErrAmountMismatch,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			errs := tc.order.ValidateInvariants()
			for _, err := range errs {
				if errors.Is(err, tc.want) {
					return
				}
			}
			t.Fatalf("expected %v among violations, got %v", tc.want, errs)
		})
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	if !domain.OrderStatusPaid.IsTerminal() || !domain.OrderStatusCanceled.IsTerminal() {
		t.Fatal("paid and canceled must be terminal")
	}
	if domain.OrderStatusUnpaid.IsTerminal() || domain.OrderStatusPendingReconcile.IsTerminal() {
		t.Fatal("unpaid and pending_reconcile must not be terminal")
	}
}

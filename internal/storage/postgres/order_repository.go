package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type orderRepository struct {
	db    *sql.DB
	store *Store
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB(), store: store}
}

func (r *orderRepository) CreateWithReservation(order domain.Order, payment domain.Payment, event *domain.OutboxEvent) error {
	return r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		// Дубликаты позиций одного товара резервируются общей суммой.
		needed := make(map[string]int32)
		for _, item := range order.Items {
			needed[item.ProductID] += item.Quantity
		}

		for productID, qty := range needed {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)
			`, productID).Scan(&exists); err != nil {
				return fmt.Errorf("check product %s: %w", productID, err)
			}
			if !exists {
				return domain.ErrProductNotFound
			}

			// Условный декремент: ноль затронутых строк означает нехватку
			// остатка; транзакция откатывается целиком.
			res, err := tx.ExecContext(ctx, `
				UPDATE products
				SET quantity = quantity - $2,
				    updated_at = $3
				WHERE id = $1 AND quantity >= $2
			`, productID, qty, time.Now().UTC())
			if err != nil {
				return fmt.Errorf("reserve stock for %s: %w", productID, err)
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("rows affected for reserve %s: %w", productID, err)
			}
			if affected == 0 {
				return domain.ErrInsufficientStock
			}
		}

		now := time.Now().UTC()
		if order.CreatedAt.IsZero() {
			order.CreatedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, buyer_id, status, amount_cents, stock_restored, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, order.ID, order.BuyerID, string(order.Status), order.AmountCents, order.StockRestored, order.CreatedAt, now); err != nil {
			return fmt.Errorf("insert order: %w", err)
		}

		for _, item := range order.Items {
			if item.ID == "" {
				item.ID = uuid.NewString()
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, quantity, price_cents, created_at)
				VALUES ($1,$2,$3,$4,$5,$6)
			`, item.ID, order.ID, item.ProductID, item.Quantity, item.PriceCents, now); err != nil {
				return fmt.Errorf("insert order item: %w", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO payments (id, order_id, amount_cents, status, attempts, created_at, updated_at)
			VALUES ($1,$2,$3,$4,0,$5,$6)
		`, payment.ID, order.ID, payment.AmountCents, string(payment.Status), now, now); err != nil {
			return fmt.Errorf("insert payment: %w", err)
		}

		if event != nil {
			if event.ID == "" {
				event.ID = uuid.NewString()
			}
			if event.CreatedAt.IsZero() {
				event.CreatedAt = now
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO outbox_events (id, topic, payload, processed, attempts, claimed_at, claimed_by, created_at)
				VALUES ($1,$2,$3,FALSE,0,$4,NULLIF($5,''),$6)
			`, event.ID, string(event.Topic), event.Payload, event.ClaimedAt, event.ClaimedBy, event.CreatedAt); err != nil {
				return fmt.Errorf("insert outbox event: %w", err)
			}
		}

		return nil
	})
}

func (r *orderRepository) Get(id string) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		order  domain.Order
		status string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, buyer_id, status, amount_cents, stock_restored, created_at, updated_at
		FROM orders
		WHERE id = $1
	`, id).Scan(
		&order.ID, &order.BuyerID, &status, &order.AmountCents,
		&order.StockRestored, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}
	order.Status = domain.OrderStatus(status)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, order_id, product_id, quantity, price_cents, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.OrderItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.ProductID,
			&item.Quantity, &item.PriceCents, &item.CreatedAt,
		); err != nil {
			return domain.Order{}, fmt.Errorf("scan order item: %w", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return domain.Order{}, fmt.Errorf("iterate order items: %w", err)
	}

	return order, nil
}

func (r *orderRepository) RestoreStock(orderID string) (bool, error) {
	var restored bool
	err := r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		var err error
		restored, err = restoreStockTx(ctx, tx, orderID)
		return err
	})
	return restored, err
}

func (r *orderRepository) FailWithRestore(orderID, paymentID, errMessage string) error {
	return r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		if _, err := restoreStockTx(ctx, tx, orderID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
		`, orderID, string(domain.OrderStatusFailed), now); err != nil {
			return fmt.Errorf("mark order failed: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payments SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1
		`, paymentID, string(domain.PaymentStatusFailed), errMessage, now); err != nil {
			return fmt.Errorf("mark payment failed: %w", err)
		}
		return nil
	})
}

func (r *orderRepository) MarkPendingReconcile(orderID, paymentID, errMessage string) error {
	return r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
		`, orderID, string(domain.OrderStatusPendingReconcile), now); err != nil {
			return fmt.Errorf("mark order pending_reconcile: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payments SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1
		`, paymentID, string(domain.PaymentStatusPendingReconcile), errMessage, now); err != nil {
			return fmt.Errorf("mark payment pending_reconcile: %w", err)
		}
		return nil
	})
}

// restoreStockTx идемпотентно возвращает остатки заказа внутри транзакции.
// CAS по флагу stock_restored: выигрывает ровно один вызов, остальные
// видят ноль затронутых строк и ничего не меняют.
func restoreStockTx(ctx context.Context, tx *sql.Tx, orderID string) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET stock_restored = TRUE,
		    updated_at = $2
		WHERE id = $1 AND stock_restored = FALSE
	`, orderID, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("flip stock_restored: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected for stock_restored: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)
		`, orderID).Scan(&exists); err != nil {
			return false, fmt.Errorf("check order: %w", err)
		}
		if !exists {
			return false, domain.ErrOrderNotFound
		}
		return false, nil
	}

	// Группировка обязательна: UPDATE ... FROM применяет к строке только
	// одно совпадение, а заказ может содержать несколько позиций товара.
	if _, err := tx.ExecContext(ctx, `
		UPDATE products p
		SET quantity = p.quantity + oi.total,
		    updated_at = $2
		FROM (
			SELECT product_id, SUM(quantity) AS total
			FROM order_items
			WHERE order_id = $1
			GROUP BY product_id
		) oi
		WHERE oi.product_id = p.id
	`, orderID, time.Now().UTC()); err != nil {
		return false, fmt.Errorf("restore product quantities: %w", err)
	}

	return true, nil
}

var _ domain.OrderRepository = (*orderRepository)(nil)

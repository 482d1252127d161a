package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

type paymentRepository struct {
	db    *sql.DB
	store *Store
}

// NewPaymentRepository создаёт PostgreSQL-реализацию PaymentRepository.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB(), store: store}
}

const paymentColumns = `
	id, order_id, amount_cents, status,
	COALESCE(provider_intent_id, ''), COALESCE(provider_session_id, ''),
	COALESCE(payment_url, ''), COALESCE(provider_event_id, ''),
	attempts, COALESCE(error_message, ''), created_at, updated_at
`

func scanPayment(row *sql.Row) (domain.Payment, error) {
	var (
		p      domain.Payment
		status string
	)
	err := row.Scan(
		&p.ID, &p.OrderID, &p.AmountCents, &status,
		&p.ProviderIntentID, &p.ProviderSessionID,
		&p.PaymentURL, &p.ProviderEventID,
		&p.Attempts, &p.ErrorMessage, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Payment{}, err
	}
	p.Status = domain.PaymentStatus(status)
	return p, nil
}

func (r *paymentRepository) Get(id string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payment, err := scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) FindByIntentID(intentID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payment, err := scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE provider_intent_id = $1
	`, intentID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment by intent: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) FindBySessionID(sessionID string) (domain.Payment, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	payment, err := scanPayment(r.db.QueryRowContext(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE provider_session_id = $1
	`, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Payment{}, domain.ErrPaymentNotFound
		}
		return domain.Payment{}, fmt.Errorf("select payment by session: %w", err)
	}
	return payment, nil
}

func (r *paymentRepository) SaveIntentID(paymentID, intentID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE payments
		SET provider_intent_id = $2,
		    updated_at = $3
		WHERE id = $1
	`, paymentID, intentID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("save intent id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for intent id: %w", err)
	}
	if affected == 0 {
		return domain.ErrPaymentNotFound
	}
	return nil
}

func (r *paymentRepository) MarkPaid(paymentID, providerEventID string) (bool, error) {
	return r.markTerminal(paymentID, providerEventID,
		domain.PaymentStatusPaid, domain.OrderStatusPaid, "", false)
}

func (r *paymentRepository) MarkFailed(paymentID, providerEventID, errMessage string) (bool, error) {
	return r.markTerminal(paymentID, providerEventID,
		domain.PaymentStatusFailed, domain.OrderStatusFailed, errMessage, true)
}

// markTerminal — условный переход платежа и заказа по webhook-событию,
// вместе с возвратом остатков для провального исхода. Всё в одной
// транзакции: откат любого шага откатывает и dedup-метку, иначе повторная
// доставка webhook увидит provider_event_id занятым и остатки потеряются.
// Условие provider_event_id IS NULL гарантирует first-write-wins: второй
// webhook по тому же платежу видит ноль затронутых строк.
func (r *paymentRepository) markTerminal(
	paymentID, providerEventID string,
	paymentStatus domain.PaymentStatus,
	orderStatus domain.OrderStatus,
	errMessage string,
	restoreStock bool,
) (bool, error) {
	var applied bool
	err := r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET status = $2,
			    provider_event_id = $3,
			    error_message = NULLIF($4, ''),
			    updated_at = $5
			WHERE id = $1 AND provider_event_id IS NULL
		`, paymentID, string(paymentStatus), providerEventID, errMessage, now)
		if err != nil {
			return fmt.Errorf("update payment: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for payment: %w", err)
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM payments WHERE id = $1)
			`, paymentID).Scan(&exists); err != nil {
				return fmt.Errorf("check payment: %w", err)
			}
			if !exists {
				return domain.ErrPaymentNotFound
			}
			return nil
		}
		applied = true

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders o
			SET status = $2, updated_at = $3
			FROM payments p
			WHERE p.id = $1 AND o.id = p.order_id
		`, paymentID, string(orderStatus), now); err != nil {
			return fmt.Errorf("update order: %w", err)
		}

		if !restoreStock {
			return nil
		}
		var orderID string
		if err := tx.QueryRowContext(ctx, `
			SELECT order_id FROM payments WHERE id = $1
		`, paymentID).Scan(&orderID); err != nil {
			return fmt.Errorf("select order id: %w", err)
		}
		// Возврат идемпотентен через stock_restored CAS: повторный провал
		// того же заказа ничего не изменит.
		_, err = restoreStockTx(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)

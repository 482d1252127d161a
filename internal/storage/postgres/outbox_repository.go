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

type outboxRepository struct {
	db    *sql.DB
	store *Store
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB(), store: store}
}

const outboxColumns = `
	id, topic, payload, processed, attempts, COALESCE(error, ''),
	claimed_at, COALESCE(claimed_by, ''),
	dead_letter, dead_letter_at, COALESCE(dead_letter_reason, ''),
	dead_letter_resolved_at, created_at, processed_at
`

type outboxScanner interface {
	Scan(dest ...any) error
}

func scanOutboxEvent(row outboxScanner) (domain.OutboxEvent, error) {
	var (
		e     domain.OutboxEvent
		topic string
	)
	err := row.Scan(
		&e.ID, &topic, &e.Payload, &e.Processed, &e.Attempts, &e.Error,
		&e.ClaimedAt, &e.ClaimedBy,
		&e.DeadLetter, &e.DeadLetterAt, &e.DeadLetterReason,
		&e.DeadLetterResolvedAt, &e.CreatedAt, &e.ProcessedAt,
	)
	if err != nil {
		return domain.OutboxEvent{}, err
	}
	e.Topic = domain.OutboxTopic(topic)
	return e, nil
}

func (r *outboxRepository) Enqueue(event domain.OutboxEvent) (domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_events (id, topic, payload, processed, attempts, claimed_at, claimed_by, created_at)
		VALUES ($1,$2,$3,FALSE,0,$4,NULLIF($5,''),$6)
	`, event.ID, string(event.Topic), event.Payload, event.ClaimedAt, event.ClaimedBy, event.CreatedAt)
	if err != nil {
		return domain.OutboxEvent{}, fmt.Errorf("insert outbox event: %w", err)
	}
	return event, nil
}

func (r *outboxRepository) Get(id string) (domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	event, err := scanOutboxEvent(r.db.QueryRowContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.OutboxEvent{}, domain.ErrOutboxNotFound
		}
		return domain.OutboxEvent{}, fmt.Errorf("select outbox event: %w", err)
	}
	return event, nil
}

func (r *outboxRepository) PullUnclaimed(limit int) ([]domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE processed = FALSE AND claimed_at IS NULL AND dead_letter = FALSE
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("select unclaimed events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func (r *outboxRepository) Claim(ids []string, claimedBy string) ([]domain.OutboxEvent, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	now := time.Now().UTC()
	for _, id := range ids {
		// Гонка за строку решается условием claimed_at IS NULL:
		// проигравший просто не захватывает её.
		if _, err := r.db.ExecContext(ctx, `
			UPDATE outbox_events
			SET claimed_at = $2, claimed_by = $3
			WHERE id = $1 AND claimed_at IS NULL
			  AND processed = FALSE AND dead_letter = FALSE
		`, id, now, claimedBy); err != nil {
			return nil, fmt.Errorf("claim event %s: %w", id, err)
		}
	}

	// claimedBy уникален для каждого захвата, поэтому достаточно
	// перечитать строки по нему.
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE claimed_by = $1 AND processed = FALSE AND dead_letter = FALSE
		ORDER BY created_at, id
	`, claimedBy)
	if err != nil {
		return nil, fmt.Errorf("select claimed events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func (r *outboxRepository) ClaimOne(id, claimedBy string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET claimed_at = $2, claimed_by = $3
		WHERE id = $1 AND claimed_at IS NULL
		  AND processed = FALSE AND dead_letter = FALSE
	`, id, time.Now().UTC(), claimedBy)
	if err != nil {
		return fmt.Errorf("claim event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for claim: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `
			SELECT EXISTS (SELECT 1 FROM outbox_events WHERE id = $1)
		`, id).Scan(&exists); err != nil {
			return fmt.Errorf("check event: %w", err)
		}
		if !exists {
			return domain.ErrOutboxNotFound
		}
		return domain.ErrOutboxClaimLost
	}
	return nil
}

func (r *outboxRepository) Release(id string) error {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET claimed_at = NULL, claimed_by = NULL
		WHERE id = $1 AND processed = FALSE
	`, id); err != nil {
		return fmt.Errorf("release event: %w", err)
	}
	return nil
}

func (r *outboxRepository) CompleteWithSession(eventID, paymentID string, session domain.Session) error {
	return r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET provider_session_id = $2,
			    payment_url = $3,
			    provider_intent_id = COALESCE(NULLIF($4, ''), provider_intent_id),
			    updated_at = $5
			WHERE id = $1
		`, paymentID, session.ID, session.URL, session.IntentID, now); err != nil {
			return fmt.Errorf("save session on payment: %w", err)
		}
		return completeEventTx(ctx, tx, eventID, now)
	})
}

func (r *outboxRepository) Complete(eventID string) error {
	return r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		return completeEventTx(ctx, tx, eventID, time.Now().UTC())
	})
}

func completeEventTx(ctx context.Context, tx *sql.Tx, eventID string, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE outbox_events
		SET processed = TRUE, processed_at = $2
		WHERE id = $1
	`, eventID, now)
	if err != nil {
		return fmt.Errorf("complete event: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for complete: %w", err)
	}
	if affected == 0 {
		return domain.ErrOutboxNotFound
	}
	return nil
}

func (r *outboxRepository) RecordFailure(eventID, errMessage string) (int32, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var attempts int32
	err := r.db.QueryRowContext(ctx, `
		UPDATE outbox_events
		SET attempts = attempts + 1, error = $2
		WHERE id = $1
		RETURNING attempts
	`, eventID, errMessage).Scan(&attempts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, domain.ErrOutboxNotFound
		}
		return 0, fmt.Errorf("record failure: %w", err)
	}
	return attempts, nil
}

func (r *outboxRepository) MarkDeadLetter(eventID, orderID, paymentID, reason string) (bool, error) {
	var applied bool
	err := r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		now := time.Now().UTC()
		res, err := tx.ExecContext(ctx, `
			UPDATE outbox_events
			SET dead_letter = TRUE,
			    dead_letter_at = $2,
			    dead_letter_reason = $3
			WHERE id = $1 AND dead_letter = FALSE
		`, eventID, now, reason)
		if err != nil {
			return fmt.Errorf("mark dead letter: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for dead letter: %w", err)
		}
		if affected == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM outbox_events WHERE id = $1)
			`, eventID).Scan(&exists); err != nil {
				return fmt.Errorf("check event: %w", err)
			}
			if !exists {
				return domain.ErrOutboxNotFound
			}
			return nil
		}
		applied = true

		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
		`, orderID, string(domain.OrderStatusPendingReconcile), now); err != nil {
			return fmt.Errorf("mark order pending_reconcile: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payments SET status = $2, error_message = $3, updated_at = $4 WHERE id = $1
		`, paymentID, string(domain.PaymentStatusPendingReconcile), reason, now); err != nil {
			return fmt.Errorf("mark payment pending_reconcile: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

func (r *outboxRepository) PullDeadLetters(olderThan time.Time, limit int) ([]domain.OutboxEvent, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+outboxColumns+`
		FROM outbox_events
		WHERE dead_letter = TRUE
		  AND dead_letter_resolved_at IS NULL
		  AND dead_letter_at < $1
		ORDER BY dead_letter_at, id
		LIMIT $2
	`, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("select dead letters: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

func (r *outboxRepository) Resolve(eventID, reason string) error {
	return r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		return resolveEventTx(ctx, tx, eventID, reason)
	})
}

func (r *outboxRepository) ResolveWithRestore(eventID, orderID, reason string) error {
	return r.store.withinTx(func(ctx context.Context, tx *sql.Tx) error {
		if _, err := restoreStockTx(ctx, tx, orderID); err != nil {
			return err
		}
		now := time.Now().UTC()
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1
		`, orderID, string(domain.OrderStatusCanceled), now); err != nil {
			return fmt.Errorf("cancel order: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE payments
			SET status = $2, updated_at = $3
			WHERE order_id = $1 AND status <> $4
		`, orderID, string(domain.PaymentStatusFailed), now, string(domain.PaymentStatusPaid)); err != nil {
			return fmt.Errorf("fail payments: %w", err)
		}
		return resolveEventTx(ctx, tx, eventID, reason)
	})
}

func resolveEventTx(ctx context.Context, tx *sql.Tx, eventID, reason string) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE outbox_events
		SET dead_letter = FALSE,
		    dead_letter_resolved_at = $2,
		    dead_letter_reason = $3
		WHERE id = $1 AND dead_letter = TRUE
	`, eventID, time.Now().UTC(), reason)
	if err != nil {
		return fmt.Errorf("resolve dead letter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected for resolve: %w", err)
	}
	if affected == 0 {
		return domain.ErrOutboxNotFound
	}
	return nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE processed = FALSE AND dead_letter = FALSE),
			MIN(created_at) FILTER (WHERE processed = FALSE AND dead_letter = FALSE),
			COUNT(*) FILTER (WHERE dead_letter = TRUE AND dead_letter_resolved_at IS NULL)
		FROM outbox_events
	`).Scan(&stats.PendingCount, &oldest, &stats.DeadLetterUnresolved)
	if err != nil {
		return domain.OutboxStats{}, fmt.Errorf("select outbox stats: %w", err)
	}
	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time
	}
	return stats, nil
}

func collectEvents(rows *sql.Rows) ([]domain.OutboxEvent, error) {
	var events []domain.OutboxEvent
	for rows.Next() {
		event, err := scanOutboxEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox events: %w", err)
	}
	return events, nil
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)

// dlq-requeue — операторский инструмент: показывает неразрешённые
// dead-letter события и возвращает их в очередь воркера (сброс dead-letter
// флагов и счётчика попыток). По умолчанию dry-run.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/storage/postgres"
)

const defaultLimit = 50

type config struct {
	dsn       string
	limit     int
	olderThan time.Duration
	execute   bool
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	if err := run(context.Background(), cfg); err != nil {
		fail("dlq requeue failed: %v", err)
	}
}

func readConfig() (config, error) {
	var cfg config

	flag.StringVar(&cfg.dsn, "dsn", "", "PostgreSQL DSN (fallback: CHECKOUT_POSTGRES_DSN)")
	flag.IntVar(&cfg.limit, "limit", defaultLimit, "max number of dead letter events to scan/requeue")
	flag.DurationVar(&cfg.olderThan, "older-than", 0, "only events dead-lettered more than this long ago")
	flag.BoolVar(&cfg.execute, "execute", false, "execute requeue; default is dry-run")
	flag.Parse()

	if strings.TrimSpace(cfg.dsn) == "" {
		cfg.dsn = strings.TrimSpace(os.Getenv("CHECKOUT_POSTGRES_DSN"))
	}
	if cfg.dsn == "" {
		return config{}, fmt.Errorf("CHECKOUT_POSTGRES_DSN (or -dsn) is required")
	}
	if cfg.limit <= 0 {
		return config{}, fmt.Errorf("limit must be > 0")
	}
	if cfg.olderThan < 0 {
		return config{}, fmt.Errorf("older-than must be >= 0")
	}

	return cfg, nil
}

func run(ctx context.Context, cfg config) error {
	mode := "dry-run"
	if cfg.execute {
		mode = "execute"
	}
	log.WithFields(log.Fields{
		"mode":       mode,
		"limit":      cfg.limit,
		"older_than": cfg.olderThan,
	}).Info("starting dlq requeue")

	store, err := postgres.Open(ctx, cfg.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	db := store.DB()
	rows, err := db.QueryContext(ctx, `
		SELECT id, COALESCE(dead_letter_reason, ''), dead_letter_at, attempts
		FROM outbox_events
		WHERE dead_letter = TRUE
		  AND dead_letter_resolved_at IS NULL
		  AND dead_letter_at <= $1
		ORDER BY dead_letter_at
		LIMIT $2
	`, time.Now().Add(-cfg.olderThan), cfg.limit)
	if err != nil {
		return fmt.Errorf("select dead letters: %w", err)
	}
	defer rows.Close()

	type deadLetter struct {
		id       string
		reason   string
		at       sql.NullTime
		attempts int32
	}

	var candidates []deadLetter
	for rows.Next() {
		var dl deadLetter
		if err := rows.Scan(&dl.id, &dl.reason, &dl.at, &dl.attempts); err != nil {
			return fmt.Errorf("scan dead letter: %w", err)
		}
		candidates = append(candidates, dl)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate dead letters: %w", err)
	}

	requeued := 0
	for _, dl := range candidates {
		fields := log.Fields{
			"outbox_id": dl.id,
			"reason":    dl.reason,
			"attempts":  dl.attempts,
		}
		if dl.at.Valid {
			fields["dead_letter_at"] = dl.at.Time.Format(time.RFC3339)
		}

		if !cfg.execute {
			log.WithFields(fields).Info("dlq requeue candidate")
			requeued++
			continue
		}

		// Условие dead_letter = TRUE защищает от гонки с reconciler-ом:
		// уже разрешённое событие не возвращается в очередь.
		res, err := db.ExecContext(ctx, `
			UPDATE outbox_events
			SET dead_letter = FALSE,
			    dead_letter_at = NULL,
			    dead_letter_reason = NULL,
			    attempts = 0,
			    error = NULL,
			    claimed_at = NULL,
			    claimed_by = NULL
			WHERE id = $1 AND dead_letter = TRUE AND dead_letter_resolved_at IS NULL
		`, dl.id)
		if err != nil {
			return fmt.Errorf("requeue event %s: %w", dl.id, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected for %s: %w", dl.id, err)
		}
		if affected == 0 {
			log.WithFields(fields).Warn("event resolved concurrently, skipping")
			continue
		}

		log.WithFields(fields).Info("dead letter requeued")
		requeued++
	}

	log.WithFields(log.Fields{
		"mode":     mode,
		"scanned":  len(candidates),
		"requeued": requeued,
	}).Info("dlq requeue finished")

	return nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

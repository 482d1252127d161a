// Package outbox реализует цикл воркера над transactional outbox: опрос,
// условный групповой захват и конкурентная передача событий процессору.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/checkout/internal/domain"
)

const (
	defaultPollInterval = 1 * time.Second
	defaultBatchSize    = 10
	defaultConcurrency  = 4
	defaultDrainTimeout = 30 * time.Second
)

var (
	outboxDispatchResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_outbox_dispatch_results_total",
		Help: "Total number of worker dispatch results grouped by outcome.",
	}, []string{"result"})
	outboxPendingRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_pending_records",
		Help: "Current number of pending events in transactional outbox.",
	})
	outboxOldestPendingAge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_oldest_pending_age_seconds",
		Help: "Age in seconds of the oldest pending outbox event.",
	})
	outboxDeadLetterRecords = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "checkout_outbox_dead_letter_records",
		Help: "Current number of unresolved dead letter events.",
	})
)

// Dispatcher обрабатывает захваченное событие и ведёт учёт попыток.
type Dispatcher interface {
	Dispatch(event domain.OutboxEvent) (domain.Session, error)
}

// WorkerOptions задаёт параметры outbox worker.
type WorkerOptions struct {
	Logger       *log.Entry
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	DrainTimeout time.Duration
	WorkerID     string
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) {
		opts.Logger = logger
	}
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.PollInterval = interval
	}
}

// WithBatchSize задаёт размер батча из outbox.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) {
		opts.BatchSize = batchSize
	}
}

// WithConcurrency задаёт число одновременных dispatch-ей.
func WithConcurrency(concurrency int) Option {
	return func(opts *WorkerOptions) {
		opts.Concurrency = concurrency
	}
}

// WithDrainTimeout задаёт предел ожидания in-flight работ при остановке.
func WithDrainTimeout(timeout time.Duration) Option {
	return func(opts *WorkerOptions) {
		opts.DrainTimeout = timeout
	}
}

// WithWorkerID задаёт идентификатор воркера для lease-полей.
func WithWorkerID(id string) Option {
	return func(opts *WorkerOptions) {
		opts.WorkerID = id
	}
}

// Worker передаёт незахваченные события процессору платёжных сессий.
type Worker struct {
	repo       domain.OutboxRepository
	dispatcher Dispatcher

	logger       *log.Entry
	pollInterval time.Duration
	batchSize    int
	concurrency  int
	drainTimeout time.Duration
	workerID     string

	inflight sync.WaitGroup
	slots    chan struct{}
}

// NewWorker создаёт outbox worker.
func NewWorker(repo domain.OutboxRepository, dispatcher Dispatcher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval: defaultPollInterval,
		BatchSize:    defaultBatchSize,
		Concurrency:  defaultConcurrency,
		DrainTimeout: defaultDrainTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-worker")
	}

	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.WorkerID == "" {
		opts.WorkerID = "worker-" + uuid.NewString()
	}

	return &Worker{
		repo:         repo,
		dispatcher:   dispatcher,
		logger:       logger.WithField("worker_id", opts.WorkerID),
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		concurrency:  opts.Concurrency,
		drainTimeout: opts.DrainTimeout,
		workerID:     opts.WorkerID,
		slots:        make(chan struct{}, opts.Concurrency),
	}
}

// Run запускает периодический polling outbox до отмены ctx. После отмены
// новые батчи не захватываются, in-flight обработка дорабатывает в пределах
// drain timeout.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.dispatcher == nil {
		w.logger.Warn("outbox worker is disabled: repo or dispatcher is nil")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.ProcessOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			w.drain()
			return
		case <-ticker.C:
			w.ProcessOnce(ctx)
		}
	}
}

// ProcessOnce выполняет один polling-цикл: захват батча и передача
// выигранных событий процессору.
func (w *Worker) ProcessOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	w.refreshBacklogMetrics()

	events, err := w.repo.PullUnclaimed(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull unclaimed outbox events")
		return
	}
	if len(events) == 0 {
		return
	}

	ids := make([]string, 0, len(events))
	for _, event := range events {
		ids = append(ids, event.ID)
	}

	// Групповой захват помечен уникальным идентификатором батча: перечитка
	// по нему возвращает ровно те строки, которые выиграл этот воркер.
	claimedBy := w.workerID + "/" + uuid.NewString()
	claimed, err := w.repo.Claim(ids, claimedBy)
	if err != nil {
		w.logger.WithError(err).Warn("failed to claim outbox events")
		return
	}
	if len(claimed) == 0 {
		return
	}

	for _, event := range claimed {
		if ctx.Err() != nil {
			// Захваченное, но не начатое событие возвращается в очередь.
			if relErr := w.repo.Release(event.ID); relErr != nil {
				w.logger.WithError(relErr).WithField("outbox_id", event.ID).
					Warn("failed to release event on shutdown")
			}
			continue
		}

		w.slots <- struct{}{}
		w.inflight.Add(1)
		go func(event domain.OutboxEvent) {
			defer w.inflight.Done()
			defer func() { <-w.slots }()
			w.dispatch(event)
		}(event)
	}
}

func (w *Worker) dispatch(event domain.OutboxEvent) {
	_, err := w.dispatcher.Dispatch(event)
	if err == nil {
		outboxDispatchResults.WithLabelValues("processed").Inc()
		return
	}
	if domain.IsCompensated(err) {
		outboxDispatchResults.WithLabelValues("compensated").Inc()
		w.logger.WithError(err).WithField("outbox_id", event.ID).
			Warn("event failed, compensation applied")
		return
	}

	outboxDispatchResults.WithLabelValues("failed").Inc()
	w.logger.WithError(err).WithField("outbox_id", event.ID).
		Error("event dispatch failed")
}

// Wait блокируется до завершения всех in-flight dispatch-ей. Используется
// вместе с ProcessOnce для одноразовых прогонов.
func (w *Worker) Wait() {
	w.inflight.Wait()
}

// drain дожидается in-flight обработок в пределах drain timeout.
func (w *Worker) drain() {
	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("outbox worker drained")
	case <-time.After(w.drainTimeout):
		w.logger.Warn("outbox worker drain timed out, abandoning in-flight work")
	}
}

func (w *Worker) refreshBacklogMetrics() {
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to collect outbox backlog stats")
		return
	}

	outboxPendingRecords.Set(float64(stats.PendingCount))
	outboxDeadLetterRecords.Set(float64(stats.DeadLetterUnresolved))
	if stats.PendingCount == 0 || stats.OldestPendingAt.IsZero() {
		outboxOldestPendingAge.Set(0)
		return
	}

	age := time.Since(stats.OldestPendingAt).Seconds()
	if age < 0 {
		age = 0
	}
	outboxOldestPendingAge.Set(age)
}

// Package worker consumes ledger events and mirrors the ledger into an
// external exporter.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"grouply/internal/amqp"
	"grouply/internal/core"
	"grouply/internal/export"
	"grouply/internal/log"
	"grouply/internal/metrics"
	"grouply/internal/services"
	"grouply/internal/storage"
)

// Export outcomes reported to metrics.
const (
	OutcomeExported  = "exported"
	OutcomeDiscarded = "discarded"
	OutcomeFailed    = "failed"
)

const maxReconnectDelay = 30 * time.Second

// Ledger is the read side the worker needs from the ledger service.
type Ledger interface {
	GetExpense(ctx context.Context, id string) (core.Expense, error)
	GetPayment(ctx context.Context, id string) (core.Payment, error)
	GetBalances(ctx context.Context, groupID string) ([]services.BalanceView, error)
	ListParticipants(ctx context.Context) ([]core.Participant, error)
}

// Consumer delivers ledger events until ctx is done or the broker goes away.
type Consumer interface {
	ConsumeLedgerEvents(ctx context.Context, prefetch int, handler func(context.Context, *amqp.LedgerEvent) error) error
}

// ExportWorker writes each recorded expense or payment to the exporter and
// then refreshes the group's balance block.
type ExportWorker struct {
	ledger   Ledger
	consumer Consumer
	exporter export.Exporter
	metrics  *metrics.Metrics
	logger   *log.Logger
	prefetch int
	interval time.Duration

	mu     sync.Mutex
	groups map[string]struct{}

	// sleep is swapped in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewExportWorker(ledger Ledger, consumer Consumer, exporter export.Exporter, m *metrics.Metrics, logger *log.Logger, prefetch int) *ExportWorker {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if prefetch <= 0 {
		prefetch = 10
	}
	return &ExportWorker{
		ledger:   ledger,
		consumer: consumer,
		exporter: exporter,
		metrics:  m,
		logger:   logger.WithComponent(log.ComponentWorker),
		prefetch: prefetch,
		groups:   make(map[string]struct{}),
		sleep:    sleepCtx,
	}
}

// WithReconcileInterval makes Run rewrite the balance block of every group
// seen so far each d. Zero disables it.
func (w *ExportWorker) WithReconcileInterval(d time.Duration) *ExportWorker {
	w.interval = d
	return w
}

// HandleEvent exports the record the event names. Records that no longer
// exist and unknown event types are discarded rather than redelivered.
func (w *ExportWorker) HandleEvent(ctx context.Context, ev *amqp.LedgerEvent) error {
	w.logger.DebugContext(ctx, "Processing ledger event",
		log.FieldEventType, ev.Type,
		"id", ev.ID,
		log.FieldGroupID, ev.GroupID)

	var groupID string
	var err error
	switch ev.Type {
	case amqp.EventExpenseRecorded:
		groupID, err = w.exportExpense(ctx, ev.ID)
	case amqp.EventPaymentRecorded:
		groupID, err = w.exportPayment(ctx, ev.ID)
	default:
		w.metrics.EventExported(OutcomeDiscarded)
		return fmt.Errorf("%w: unknown event type %q", amqp.ErrDiscard, ev.Type)
	}

	if errors.Is(err, storage.ErrNotFound) {
		w.metrics.EventExported(OutcomeDiscarded)
		w.logger.WarnContext(ctx, "Discarding event for missing record",
			log.FieldEventType, ev.Type,
			"id", ev.ID)
		return fmt.Errorf("%w: %w", amqp.ErrDiscard, err)
	}
	if err == nil {
		err = w.refreshBalances(ctx, groupID)
	}
	if err != nil {
		w.metrics.EventExported(OutcomeFailed)
		return err
	}

	w.metrics.EventExported(OutcomeExported)
	w.logger.InfoContext(ctx, "Exported ledger event",
		log.FieldEventType, ev.Type,
		"id", ev.ID,
		log.FieldGroupID, groupID)
	return nil
}

func (w *ExportWorker) exportExpense(ctx context.Context, id string) (string, error) {
	e, err := w.ledger.GetExpense(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load expense %s: %w", id, err)
	}
	roster, err := w.roster(ctx)
	if err != nil {
		return "", err
	}

	names := make([]string, len(e.Shares))
	for i, s := range e.Shares {
		names[i] = roster.Name(s.ParticipantID)
	}
	rec := export.ExpenseRecord{Expense: e, PayerName: roster.Name(e.PayerID), ShareNames: names}
	if err := w.exporter.ExportExpense(ctx, rec); err != nil {
		return "", fmt.Errorf("export expense %s: %w", id, err)
	}
	return e.GroupID, nil
}

func (w *ExportWorker) exportPayment(ctx context.Context, id string) (string, error) {
	p, err := w.ledger.GetPayment(ctx, id)
	if err != nil {
		return "", fmt.Errorf("load payment %s: %w", id, err)
	}
	roster, err := w.roster(ctx)
	if err != nil {
		return "", err
	}

	rec := export.PaymentRecord{Payment: p, FromName: roster.Name(p.FromID), ToName: roster.Name(p.ToID)}
	if err := w.exporter.ExportPayment(ctx, rec); err != nil {
		return "", fmt.Errorf("export payment %s: %w", id, err)
	}
	return p.GroupID, nil
}

func (w *ExportWorker) roster(ctx context.Context) (core.Roster, error) {
	participants, err := w.ledger.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	return core.NewRoster(participants), nil
}

func (w *ExportWorker) refreshBalances(ctx context.Context, groupID string) error {
	w.mu.Lock()
	w.groups[groupID] = struct{}{}
	w.mu.Unlock()

	balances, err := w.ledger.GetBalances(ctx, groupID)
	if err != nil {
		return fmt.Errorf("load balances for %s: %w", groupID, err)
	}
	lines := make([]export.BalanceLine, len(balances))
	for i, b := range balances {
		lines[i] = export.BalanceLine{ParticipantID: b.ParticipantID, Name: b.Name, Net: b.Net}
	}
	if err := w.exporter.WriteBalances(ctx, groupID, lines); err != nil {
		return fmt.Errorf("write balances for %s: %w", groupID, err)
	}
	return nil
}

// ReconcileBalances rewrites the balance block of every group exported since
// start. It returns the first error after trying every group.
func (w *ExportWorker) ReconcileBalances(ctx context.Context) error {
	w.mu.Lock()
	groups := make([]string, 0, len(w.groups))
	for g := range w.groups {
		groups = append(groups, g)
	}
	w.mu.Unlock()
	sort.Strings(groups)

	var first error
	for _, g := range groups {
		if err := w.refreshBalances(ctx, g); err != nil {
			w.logger.ErrorContext(ctx, "Balance reconcile failed", log.FieldGroupID, g, log.FieldError, err)
			if first == nil {
				first = err
			}
		}
	}
	if len(groups) > 0 {
		w.logger.DebugContext(ctx, "Balances reconciled", "groups", len(groups))
	}
	return first
}

func (w *ExportWorker) reconcileLoop(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = w.ReconcileBalances(ctx)
		}
	}
}

// Run consumes events until ctx is cancelled, resubscribing with backoff
// whenever the consumer stops.
func (w *ExportWorker) Run(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Export worker started", "prefetch", w.prefetch, "reconcile_interval", w.interval)
	if w.interval > 0 {
		go w.reconcileLoop(ctx)
	}

	for attempt := 0; ; attempt++ {
		started := time.Now()
		err := w.consumer.ConsumeLedgerEvents(ctx, w.prefetch, w.HandleEvent)
		if ctx.Err() != nil {
			w.logger.InfoContext(ctx, "Export worker stopped")
			return nil
		}
		// A consumer that ran for a while was healthy; start the backoff over.
		if time.Since(started) > maxReconnectDelay {
			attempt = 0
		}
		delay := reconnectDelay(attempt)
		w.logger.WarnContext(ctx, "Consumer stopped, resubscribing",
			log.FieldError, err,
			"attempt", attempt+1,
			"delay", delay)
		if err := w.sleep(ctx, delay); err != nil {
			w.logger.InfoContext(ctx, "Export worker stopped")
			return nil
		}
	}
}

func reconnectDelay(attempt int) time.Duration {
	if attempt >= 5 {
		return maxReconnectDelay
	}
	d := time.Second << uint(attempt)
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grouply/internal/amqp"
	"grouply/internal/core"
	exportmem "grouply/internal/export/memory"
	"grouply/internal/log"
	"grouply/internal/metrics"
	"grouply/internal/services"
	"grouply/internal/storage/memory"
)

type fixture struct {
	ledger   *services.LedgerService
	exporter *exportmem.Exporter
	reg      *prometheus.Registry
	worker   *ExportWorker
}

func newFixture(t *testing.T, consumer Consumer) *fixture {
	t.Helper()
	store := memory.New(
		core.Participant{ID: "A", Name: "Alice"},
		core.Participant{ID: "B", Name: "Bob"},
		core.Participant{ID: "C", Name: "Charlie"},
	)
	ledger := services.NewLedgerService(store, services.WithLogger(log.Discard()))
	exporter := exportmem.New()
	reg := prometheus.NewRegistry()
	w := NewExportWorker(ledger, consumer, exporter, metrics.New(reg), log.Discard(), 0)
	return &fixture{ledger: ledger, exporter: exporter, reg: reg, worker: w}
}

func exportedCount(t *testing.T, reg *prometheus.Registry, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "grouply_events_exported_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "outcome" && lp.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestHandleEvent_ExpenseExportsRowAndBalances(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	e, err := f.ledger.RecordExpense(ctx, services.ExpenseDraft{
		GroupID:     "trip",
		PayerID:     "A",
		Amount:      core.Cents(300),
		Description: "Dinner",
		SplitMode:   core.SplitEqual,
		Shares:      []core.ShareInput{{ParticipantID: "A"}, {ParticipantID: "B"}, {ParticipantID: "C"}},
	})
	require.NoError(t, err)

	err = f.worker.HandleEvent(ctx, amqp.NewLedgerEvent(amqp.EventExpenseRecorded, e.ID, "trip"))
	require.NoError(t, err)

	rows := f.exporter.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, e.ID, rows[0][1])
	assert.Equal(t, "Alice", rows[0][4])
	assert.Equal(t, "Alice 1.00; Bob 1.00; Charlie 1.00", rows[0][5])

	lines := f.exporter.Balances("trip")
	require.Len(t, lines, 3)
	nets := map[string]int64{}
	for _, l := range lines {
		nets[l.ParticipantID] = l.Net.Cents
	}
	assert.Equal(t, map[string]int64{"A": -200, "B": 100, "C": 100}, nets)
	assert.Equal(t, 1.0, exportedCount(t, f.reg, OutcomeExported))
}

func TestHandleEvent_PaymentUsesNames(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.ledger.RecordPayment(ctx, services.PaymentDraft{GroupID: "trip", FromID: "B", ToID: "A", Amount: core.Cents(500)})
	require.NoError(t, err)

	require.NoError(t, f.worker.HandleEvent(ctx, amqp.NewLedgerEvent(amqp.EventPaymentRecorded, p.ID, "trip")))

	rows := f.exporter.Rows()
	require.Len(t, rows, 1)
	assert.Equal(t, "Bob", rows[0][4])
	assert.Equal(t, "Alice", rows[0][5])
	assert.Equal(t, "5.00", rows[0][6])
}

func TestHandleEvent_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.ledger.RecordPayment(ctx, services.PaymentDraft{GroupID: "trip", FromID: "B", ToID: "A", Amount: core.Cents(500)})
	require.NoError(t, err)

	ev := amqp.NewLedgerEvent(amqp.EventPaymentRecorded, p.ID, "trip")
	require.NoError(t, f.worker.HandleEvent(ctx, ev))
	require.NoError(t, f.worker.HandleEvent(ctx, ev))

	assert.Len(t, f.exporter.Rows(), 1)
	assert.Len(t, f.exporter.Balances("trip"), 2)
}

func TestHandleEvent_MissingRecordIsDiscarded(t *testing.T) {
	f := newFixture(t, nil)

	err := f.worker.HandleEvent(context.Background(), amqp.NewLedgerEvent(amqp.EventExpenseRecorded, "gone", "trip"))
	require.Error(t, err)
	assert.ErrorIs(t, err, amqp.ErrDiscard)
	assert.Empty(t, f.exporter.Rows())
	assert.Equal(t, 1.0, exportedCount(t, f.reg, OutcomeDiscarded))
}

func TestHandleEvent_UnknownTypeIsDiscarded(t *testing.T) {
	f := newFixture(t, nil)

	err := f.worker.HandleEvent(context.Background(), &amqp.LedgerEvent{Type: "group.renamed", ID: "x", GroupID: "trip"})
	assert.ErrorIs(t, err, amqp.ErrDiscard)
}

func TestHandleEvent_ExporterFailureIsRetried(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.exporter.Err = errors.New("quota exceeded")

	p, err := f.ledger.RecordPayment(ctx, services.PaymentDraft{GroupID: "trip", FromID: "B", ToID: "A", Amount: core.Cents(500)})
	require.NoError(t, err)

	err = f.worker.HandleEvent(ctx, amqp.NewLedgerEvent(amqp.EventPaymentRecorded, p.ID, "trip"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, amqp.ErrDiscard)
	assert.ErrorContains(t, err, "quota exceeded")
	assert.Equal(t, 1.0, exportedCount(t, f.reg, OutcomeFailed))
}

// flakyConsumer fails a fixed number of times, then blocks until cancelled.
type flakyConsumer struct {
	failures int32
	calls    atomic.Int32
}

func (c *flakyConsumer) ConsumeLedgerEvents(ctx context.Context, _ int, _ func(context.Context, *amqp.LedgerEvent) error) error {
	if c.calls.Add(1) <= c.failures {
		return errors.New("connection reset")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_ResubscribesUntilCancelled(t *testing.T) {
	consumer := &flakyConsumer{failures: 3}
	f := newFixture(t, consumer)

	var delays []time.Duration
	f.worker.sleep = func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	require.Eventually(t, func() bool { return consumer.calls.Load() == 4 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
}

func TestReconnectDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{12, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := reconnectDelay(tt.attempt); got != tt.want {
			t.Errorf("reconnectDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestReconcileBalances_RewritesSeenGroups(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.ledger.RecordPayment(ctx, services.PaymentDraft{GroupID: "trip", FromID: "B", ToID: "A", Amount: core.Cents(500)})
	require.NoError(t, err)
	require.NoError(t, f.worker.HandleEvent(ctx, amqp.NewLedgerEvent(amqp.EventPaymentRecorded, p.ID, "trip")))

	// A payment the worker never heard about still shows up after reconcile.
	_, err = f.ledger.RecordPayment(ctx, services.PaymentDraft{GroupID: "trip", FromID: "C", ToID: "A", Amount: core.Cents(100)})
	require.NoError(t, err)
	require.NoError(t, f.worker.ReconcileBalances(ctx))

	assert.Len(t, f.exporter.Balances("trip"), 3)
	assert.Empty(t, f.exporter.Balances("other"))
}

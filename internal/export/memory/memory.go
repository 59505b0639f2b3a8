// Package memory is a recording exporter for tests and local runs.
package memory

import (
	"context"
	"sync"

	"grouply/internal/export"
)

type Exporter struct {
	mu       sync.Mutex
	rows     [][]any
	seen     map[string]struct{}
	balances map[string][]export.BalanceLine
	// Err, when set, is returned by every call.
	Err error
}

var _ export.Exporter = (*Exporter)(nil)

func New() *Exporter {
	return &Exporter{
		seen:     make(map[string]struct{}),
		balances: make(map[string][]export.BalanceLine),
	}
}

func (x *Exporter) ExportExpense(_ context.Context, rec export.ExpenseRecord) error {
	return x.append(rec.Expense.ID, export.ExpenseRow(rec))
}

func (x *Exporter) ExportPayment(_ context.Context, rec export.PaymentRecord) error {
	return x.append(rec.Payment.ID, export.PaymentRow(rec))
}

func (x *Exporter) append(id string, row []any) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return x.Err
	}
	if _, dup := x.seen[id]; dup {
		return nil
	}
	x.seen[id] = struct{}{}
	x.rows = append(x.rows, row)
	return nil
}

func (x *Exporter) WriteBalances(_ context.Context, groupID string, lines []export.BalanceLine) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.Err != nil {
		return x.Err
	}
	x.balances[groupID] = append([]export.BalanceLine(nil), lines...)
	return nil
}

// Rows returns the exported ledger rows in export order.
func (x *Exporter) Rows() [][]any {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([][]any(nil), x.rows...)
}

func (x *Exporter) Balances(groupID string) []export.BalanceLine {
	x.mu.Lock()
	defer x.mu.Unlock()
	return append([]export.BalanceLine(nil), x.balances[groupID]...)
}

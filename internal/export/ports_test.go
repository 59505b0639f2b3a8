package export

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"grouply/internal/core"
)

func TestExpenseRow(t *testing.T) {
	e := core.Expense{
		ID:          "e1",
		GroupID:     "trip",
		PayerID:     "a",
		Amount:      core.Cents(1001),
		Description: "Pizza",
		SplitMode:   core.SplitEqual,
		CreatedAt:   time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC),
		Shares: []core.Share{
			{ParticipantID: "a", Amount: core.Cents(501)},
			{ParticipantID: "b", Amount: core.Cents(500)},
		},
	}
	row := ExpenseRow(ExpenseRecord{Expense: e, PayerName: "Alice", ShareNames: []string{"Alice"}})

	assert.Equal(t, []any{
		KindExpense, "e1", "trip", "2026-02-03T04:05:06Z", "Alice",
		"Alice 5.01; b 5.00", "10.01", "Pizza", "EQUAL",
	}, row)
	assert.Len(t, row, len(LedgerHeader))
}

func TestPaymentRow(t *testing.T) {
	p := core.Payment{ID: "p1", GroupID: "trip", FromID: "b", ToID: "a", Amount: core.Cents(500),
		CreatedAt: time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC)}
	row := PaymentRow(PaymentRecord{Payment: p, FromName: "Bob", ToName: "Alice"})

	assert.Equal(t, KindPayment, row[0])
	assert.Equal(t, "Bob", row[4])
	assert.Equal(t, "5.00", row[6])
	assert.Len(t, row, len(LedgerHeader))
}

func TestMergeBalanceBlock(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := [][]any{
		BalanceHeader,
		{"trip", "a", "Alice", "-5.00", "old"},
		{"trip", "b", "Bob", "5.00", "old"},
		{"flat", "c", "Charlie", "0.00", "old"},
	}
	fresh := BalanceRows("trip", []BalanceLine{{ParticipantID: "a", Name: "Alice", Net: core.Cents(0)}}, at)

	got := MergeBalanceBlock(existing, "trip", fresh)

	assert.Equal(t, [][]any{
		BalanceHeader,
		{"trip", "a", "Alice", "0.00", "2026-01-01T00:00:00Z"},
		{"flat", "c", "Charlie", "0.00", "old"},
	}, got)
}

func TestMergeBalanceBlockAppendsNewGroup(t *testing.T) {
	fresh := [][]any{{"new", "a", "Alice", "1.00", "now"}}

	got := MergeBalanceBlock(nil, "new", fresh)
	assert.Equal(t, fresh, got)

	got = MergeBalanceBlock([][]any{{"old", "x", "X", "0.00", "t"}}, "new", fresh)
	assert.Len(t, got, 2)
	assert.Equal(t, "new", got[1][0])
}

// Package export defines the outbound port the export worker writes ledger
// records to, and the row layout shared by its implementations.
package export

import (
	"context"
	"fmt"
	"strings"
	"time"

	"grouply/internal/core"
)

type (
	ExpenseRecord struct {
		Expense   core.Expense
		PayerName string
		// ShareNames is parallel to Expense.Shares.
		ShareNames []string
	}

	PaymentRecord struct {
		Payment  core.Payment
		FromName string
		ToName   string
	}

	BalanceLine struct {
		ParticipantID string
		Name          string
		Net           core.Money
	}

	// Exporter mirrors the ledger into an external system. Implementations
	// must tolerate the same record being exported twice.
	Exporter interface {
		ExportExpense(ctx context.Context, rec ExpenseRecord) error
		ExportPayment(ctx context.Context, rec PaymentRecord) error
		WriteBalances(ctx context.Context, groupID string, lines []BalanceLine) error
	}
)

// Row kinds in the first column of a ledger row.
const (
	KindExpense = "expense"
	KindPayment = "payment"
)

// LedgerHeader names the ledger row columns.
var LedgerHeader = []any{"Kind", "ID", "Group", "Date", "From", "To", "Amount", "Description", "Split"}

// ExpenseRow lays out an expense. The To column lists every share as
// "name amount".
func ExpenseRow(rec ExpenseRecord) []any {
	e := rec.Expense
	parts := make([]string, len(e.Shares))
	for i, s := range e.Shares {
		name := s.ParticipantID
		if i < len(rec.ShareNames) && rec.ShareNames[i] != "" {
			name = rec.ShareNames[i]
		}
		parts[i] = name + " " + s.Amount.String()
	}
	return []any{
		KindExpense,
		e.ID,
		e.GroupID,
		e.CreatedAt.UTC().Format(time.RFC3339),
		rec.PayerName,
		strings.Join(parts, "; "),
		e.Amount.String(),
		e.Description,
		string(e.SplitMode),
	}
}

func PaymentRow(rec PaymentRecord) []any {
	p := rec.Payment
	return []any{
		KindPayment,
		p.ID,
		p.GroupID,
		p.CreatedAt.UTC().Format(time.RFC3339),
		rec.FromName,
		rec.ToName,
		p.Amount.String(),
		"",
		"",
	}
}

// BalanceRows lays out a group's balances, one row per participant.
func BalanceRows(groupID string, lines []BalanceLine, at time.Time) [][]any {
	rows := make([][]any, len(lines))
	for i, l := range lines {
		rows[i] = []any{groupID, l.ParticipantID, l.Name, l.Net.String(), at.UTC().Format(time.RFC3339)}
	}
	return rows
}

// MergeBalanceBlock replaces every row of groupID in existing with rows and
// keeps other groups' rows in place. The header row, if present, stays first.
func MergeBalanceBlock(existing [][]any, groupID string, rows [][]any) [][]any {
	out := make([][]any, 0, len(existing)+len(rows))
	inserted := false
	for i, row := range existing {
		if i == 0 && isHeader(row) {
			out = append(out, row)
			continue
		}
		if len(row) > 0 && toString(row[0]) == groupID {
			if !inserted {
				out = append(out, rows...)
				inserted = true
			}
			continue
		}
		out = append(out, row)
	}
	if !inserted {
		out = append(out, rows...)
	}
	return out
}

// BalanceHeader names the balance sheet columns.
var BalanceHeader = []any{"Group", "Participant", "Name", "Net", "Updated"}

func isHeader(row []any) bool {
	return len(row) > 0 && toString(row[0]) == toString(BalanceHeader[0])
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// Package storage defines the append-only ledger ports and the SQLite
// implementation behind them.
package storage

import (
	"context"
	"errors"

	"grouply/internal/core"
)

// ErrNotFound is returned when a record id does not exist.
var ErrNotFound = errors.New("not found")

// Ports for the ledger store. Appends are atomic per record: a reader either
// sees an expense with all its shares or does not see it at all.
type (
	ExpenseAppender interface {
		AppendExpense(ctx context.Context, e core.Expense) error
	}

	PaymentAppender interface {
		AppendPayment(ctx context.Context, p core.Payment) error
	}

	// LedgerReader returns a group's log. Expenses are newest first.
	LedgerReader interface {
		ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error)
		ListPayments(ctx context.Context, groupID string) ([]core.Payment, error)
		GetExpense(ctx context.Context, id string) (core.Expense, error)
		GetPayment(ctx context.Context, id string) (core.Payment, error)
	}

	RosterReader interface {
		ListParticipants(ctx context.Context) ([]core.Participant, error)
		GetParticipant(ctx context.Context, id string) (core.Participant, error)
	}

	RosterWriter interface {
		AddParticipant(ctx context.Context, p core.Participant) error
	}

	// LedgerStore is everything the ledger service needs from persistence.
	LedgerStore interface {
		ExpenseAppender
		PaymentAppender
		LedgerReader
		RosterReader
		RosterWriter
		Ping(ctx context.Context) error
		Close() error
	}
)

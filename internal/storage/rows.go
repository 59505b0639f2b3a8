package storage

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"grouply/internal/core"
)

// EncodeWeight stores a share weight as its exact decimal text.
func EncodeWeight(w *decimal.Decimal) sql.NullString {
	if w == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: w.String(), Valid: true}
}

func DecodeWeight(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, fmt.Errorf("decode weight %q: %w", s.String, err)
	}
	return &d, nil
}

// AttachShares assigns shares to their expenses, keeping each expense's share
// order. Shares for unknown expense ids are ignored.
func AttachShares(expenses []core.Expense, shares []core.Share) {
	idx := make(map[string]int, len(expenses))
	for i, e := range expenses {
		idx[e.ID] = i
	}
	for _, s := range shares {
		if i, ok := idx[s.ExpenseID]; ok {
			expenses[i].Shares = append(expenses[i].Shares, s)
		}
	}
}

// SortExpensesNewestFirst orders by creation time, then id, both descending.
func SortExpensesNewestFirst(expenses []core.Expense) {
	sort.SliceStable(expenses, func(i, j int) bool {
		if !expenses[i].CreatedAt.Equal(expenses[j].CreatedAt) {
			return expenses[i].CreatedAt.After(expenses[j].CreatedAt)
		}
		return expenses[i].ID > expenses[j].ID
	})
}

// ScanExpenses reads id, group_id, payer_id, amount_cents, description,
// split_mode, created_at rows and closes them.
func ScanExpenses(rows *sql.Rows) ([]core.Expense, error) {
	defer rows.Close()
	var out []core.Expense
	for rows.Next() {
		var (
			e       core.Expense
			mode    string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.GroupID, &e.PayerID, &e.Amount.Cents, &e.Description, &mode, &created); err != nil {
			return nil, fmt.Errorf("scan expense: %w", err)
		}
		e.SplitMode = core.SplitMode(mode)
		e.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expenses: %w", err)
	}
	return out, nil
}

// ScanShares reads expense_id, participant_id, weight, amount_cents rows.
func ScanShares(rows *sql.Rows) ([]core.Share, error) {
	defer rows.Close()
	var out []core.Share
	for rows.Next() {
		var (
			s      core.Share
			weight sql.NullString
		)
		if err := rows.Scan(&s.ExpenseID, &s.ParticipantID, &weight, &s.Amount.Cents); err != nil {
			return nil, fmt.Errorf("scan share: %w", err)
		}
		w, err := DecodeWeight(weight)
		if err != nil {
			return nil, err
		}
		s.Weight = w
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate shares: %w", err)
	}
	return out, nil
}

func ScanPayments(rows *sql.Rows) ([]core.Payment, error) {
	defer rows.Close()
	var out []core.Payment
	for rows.Next() {
		var (
			p       core.Payment
			created int64
		)
		if err := rows.Scan(&p.ID, &p.GroupID, &p.FromID, &p.ToID, &p.Amount.Cents, &created); err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		p.CreatedAt = time.UnixMicro(created).UTC()
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}
	return out, nil
}

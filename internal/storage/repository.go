package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"grouply/internal/core"

	_ "modernc.org/sqlite"
)

// SQLiteRepository is the file-backed ledger store.
type SQLiteRepository struct {
	db *sql.DB
}

var _ LedgerStore = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer connection keeps appends serialised without SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// AppendExpense stores the expense and its shares in one transaction.
func (r *SQLiteRepository) AppendExpense(ctx context.Context, e core.Expense) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin expense tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, group_id, payer_id, amount_cents, description, split_mode, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.GroupID, e.PayerID, e.Amount.Cents, e.Description, string(e.SplitMode), e.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	for i, s := range e.Shares {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO expense_shares (expense_id, participant_id, position, weight, amount_cents)
			 VALUES (?, ?, ?, ?, ?)`,
			e.ID, s.ParticipantID, i, EncodeWeight(s.Weight), s.Amount.Cents)
		if err != nil {
			return fmt.Errorf("insert share for %s: %w", s.ParticipantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expense: %w", err)
	}

	slog.DebugContext(ctx, "Expense saved to SQLite",
		"id", e.ID,
		"group_id", e.GroupID,
		"amount_cents", e.Amount.Cents,
		"shares", len(e.Shares))
	return nil
}

func (r *SQLiteRepository) AppendPayment(ctx context.Context, p core.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (id, group_id, from_id, to_id, amount_cents, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.GroupID, p.FromID, p.ToID, p.Amount.Cents, p.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}

	slog.DebugContext(ctx, "Payment saved to SQLite",
		"id", p.ID,
		"group_id", p.GroupID,
		"amount_cents", p.Amount.Cents)
	return nil
}

// ListExpenses reads the group's expenses and shares inside one read
// transaction so both queries see the same snapshot.
func (r *SQLiteRepository) ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, group_id, payer_id, amount_cents, description, split_mode, created_at
		 FROM expenses WHERE group_id = ? ORDER BY created_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	expenses, err := ScanExpenses(rows)
	if err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT s.expense_id, s.participant_id, s.weight, s.amount_cents
		 FROM expense_shares s JOIN expenses e ON e.id = s.expense_id
		 WHERE e.group_id = ? ORDER BY s.expense_id, s.position`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query shares: %w", err)
	}
	shares, err := ScanShares(rows)
	if err != nil {
		return nil, err
	}

	AttachShares(expenses, shares)
	return expenses, nil
}

func (r *SQLiteRepository) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, group_id, payer_id, amount_cents, description, split_mode, created_at
		 FROM expenses WHERE id = ?`, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("query expense %s: %w", id, err)
	}
	expenses, err := ScanExpenses(rows)
	if err != nil {
		return core.Expense{}, err
	}
	if len(expenses) == 0 {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, ErrNotFound)
	}

	rows, err = r.db.QueryContext(ctx,
		`SELECT expense_id, participant_id, weight, amount_cents
		 FROM expense_shares WHERE expense_id = ? ORDER BY position`, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("query shares for %s: %w", id, err)
	}
	shares, err := ScanShares(rows)
	if err != nil {
		return core.Expense{}, err
	}
	AttachShares(expenses, shares)
	return expenses[0], nil
}

func (r *SQLiteRepository) ListPayments(ctx context.Context, groupID string) ([]core.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, group_id, from_id, to_id, amount_cents, created_at
		 FROM payments WHERE group_id = ? ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	return ScanPayments(rows)
}

func (r *SQLiteRepository) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, group_id, from_id, to_id, amount_cents, created_at
		 FROM payments WHERE id = ?`, id)
	if err != nil {
		return core.Payment{}, fmt.Errorf("query payment %s: %w", id, err)
	}
	payments, err := ScanPayments(rows)
	if err != nil {
		return core.Payment{}, err
	}
	if len(payments) == 0 {
		return core.Payment{}, fmt.Errorf("payment %s: %w", id, ErrNotFound)
	}
	return payments[0], nil
}

func (r *SQLiteRepository) ListParticipants(ctx context.Context) ([]core.Participant, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, email FROM participants ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var out []core.Participant
	for rows.Next() {
		var p core.Participant
		if err := rows.Scan(&p.ID, &p.Name, &p.Email); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) GetParticipant(ctx context.Context, id string) (core.Participant, error) {
	var p core.Participant
	err := r.db.QueryRowContext(ctx, `SELECT id, name, email FROM participants WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Participant{}, fmt.Errorf("participant %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return core.Participant{}, fmt.Errorf("get participant %s: %w", id, err)
	}
	return p, nil
}

func (r *SQLiteRepository) AddParticipant(ctx context.Context, p core.Participant) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO participants (id, name, email, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.Name, p.Email, time.Now().UnixMicro())
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

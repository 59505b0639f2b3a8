// Package postgres implements the ledger store on PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"grouply/internal/core"
	"grouply/internal/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type Store struct {
	db *sql.DB
}

var _ storage.LedgerStore = (*Store)(nil)

// New wraps an open database. The schema is assumed to exist.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn, applies migrations and returns a ready store.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// Migrate applies the embedded schema. It does not close db.
func Migrate(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create postgres driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create iofs source: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	if version, dirty, err := m.Version(); err == nil {
		slog.Debug("Postgres schema ready", "version", version, "dirty", dirty)
	}
	return nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) AppendExpense(ctx context.Context, e core.Expense) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin expense tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, group_id, payer_id, amount_cents, description, split_mode, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.GroupID, e.PayerID, e.Amount.Cents, e.Description, string(e.SplitMode), e.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert expense: %w", err)
	}

	for i, sh := range e.Shares {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO expense_shares (expense_id, participant_id, position, weight, amount_cents)
			 VALUES ($1, $2, $3, $4, $5)`,
			e.ID, sh.ParticipantID, i, storage.EncodeWeight(sh.Weight), sh.Amount.Cents)
		if err != nil {
			return fmt.Errorf("insert share for %s: %w", sh.ParticipantID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit expense: %w", err)
	}
	slog.DebugContext(ctx, "Expense saved to Postgres", "id", e.ID, "group_id", e.GroupID, "shares", len(e.Shares))
	return nil
}

func (s *Store) AppendPayment(ctx context.Context, p core.Payment) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, group_id, from_id, to_id, amount_cents, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		p.ID, p.GroupID, p.FromID, p.ToID, p.Amount.Cents, p.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (s *Store) ListExpenses(ctx context.Context, groupID string) ([]core.Expense, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id, group_id, payer_id, amount_cents, description, split_mode, created_at
		 FROM expenses WHERE group_id = $1 ORDER BY created_at DESC, id DESC`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query expenses: %w", err)
	}
	expenses, err := storage.ScanExpenses(rows)
	if err != nil {
		return nil, err
	}

	rows, err = tx.QueryContext(ctx,
		`SELECT s.expense_id, s.participant_id, s.weight::text, s.amount_cents
		 FROM expense_shares s JOIN expenses e ON e.id = s.expense_id
		 WHERE e.group_id = $1 ORDER BY s.expense_id, s.position`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query shares: %w", err)
	}
	shares, err := storage.ScanShares(rows)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit read tx: %w", err)
	}

	storage.AttachShares(expenses, shares)
	return expenses, nil
}

func (s *Store) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, payer_id, amount_cents, description, split_mode, created_at
		 FROM expenses WHERE id = $1`, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("query expense %s: %w", id, err)
	}
	expenses, err := storage.ScanExpenses(rows)
	if err != nil {
		return core.Expense{}, err
	}
	if len(expenses) == 0 {
		return core.Expense{}, fmt.Errorf("expense %s: %w", id, storage.ErrNotFound)
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT expense_id, participant_id, weight::text, amount_cents
		 FROM expense_shares WHERE expense_id = $1 ORDER BY position`, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("query shares for %s: %w", id, err)
	}
	shares, err := storage.ScanShares(rows)
	if err != nil {
		return core.Expense{}, err
	}
	storage.AttachShares(expenses, shares)
	return expenses[0], nil
}

func (s *Store) ListPayments(ctx context.Context, groupID string) ([]core.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, from_id, to_id, amount_cents, created_at
		 FROM payments WHERE group_id = $1 ORDER BY created_at, id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	return storage.ScanPayments(rows)
}

func (s *Store) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, from_id, to_id, amount_cents, created_at
		 FROM payments WHERE id = $1`, id)
	if err != nil {
		return core.Payment{}, fmt.Errorf("query payment %s: %w", id, err)
	}
	payments, err := storage.ScanPayments(rows)
	if err != nil {
		return core.Payment{}, err
	}
	if len(payments) == 0 {
		return core.Payment{}, fmt.Errorf("payment %s: %w", id, storage.ErrNotFound)
	}
	return payments[0], nil
}

func (s *Store) ListParticipants(ctx context.Context) ([]core.Participant, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, email FROM participants ORDER BY name, id`)
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

func (s *Store) GetParticipant(ctx context.Context, id string) (core.Participant, error) {
	var p core.Participant
	err := s.db.QueryRowContext(ctx, `SELECT id, name, email FROM participants WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Participant{}, fmt.Errorf("participant %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return core.Participant{}, fmt.Errorf("get participant %s: %w", id, err)
	}
	return p, nil
}

func (s *Store) AddParticipant(ctx context.Context, p core.Participant) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO participants (id, name, email) VALUES ($1, $2, $3)`,
		p.ID, p.Name, p.Email)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

// Package memory is an in-process ledger store for development and tests.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"grouply/internal/core"
	"grouply/internal/storage"
)

type Store struct {
	mu           sync.RWMutex
	participants map[string]core.Participant
	expenses     []core.Expense
	payments     []core.Payment
}

var _ storage.LedgerStore = (*Store)(nil)

func New(participants ...core.Participant) *Store {
	s := &Store{participants: make(map[string]core.Participant)}
	for _, p := range participants {
		s.participants[p.ID] = p
	}
	return s
}

// NewFromFile loads a roster with one "id,name" per line. Blank lines and
// lines starting with # are skipped. A missing file yields an empty roster.
func NewFromFile(path string) *Store {
	s := New()
	f, err := os.Open(path)
	if err != nil {
		return s
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, name, ok := strings.Cut(line, ",")
		if !ok {
			name = id
		}
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if _, dup := s.participants[id]; dup || id == "" {
			continue
		}
		s.participants[id] = core.Participant{ID: id, Name: name}
	}
	return s
}

func (s *Store) AppendExpense(_ context.Context, e core.Expense) error {
	if err := e.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.expenses {
		if existing.ID == e.ID {
			return fmt.Errorf("expense %s already exists", e.ID)
		}
	}
	s.expenses = append(s.expenses, cloneExpense(e))
	return nil
}

func (s *Store) AppendPayment(_ context.Context, p core.Payment) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.payments {
		if existing.ID == p.ID {
			return fmt.Errorf("payment %s already exists", p.ID)
		}
	}
	s.payments = append(s.payments, p)
	return nil
}

func (s *Store) ListExpenses(_ context.Context, groupID string) ([]core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Expense
	for _, e := range s.expenses {
		if e.GroupID == groupID {
			out = append(out, cloneExpense(e))
		}
	}
	storage.SortExpensesNewestFirst(out)
	return out, nil
}

func (s *Store) ListPayments(_ context.Context, groupID string) ([]core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Payment
	for _, p := range s.payments {
		if p.GroupID == groupID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) GetExpense(_ context.Context, id string) (core.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, e := range s.expenses {
		if e.ID == id {
			return cloneExpense(e), nil
		}
	}
	return core.Expense{}, fmt.Errorf("expense %s: %w", id, storage.ErrNotFound)
}

func (s *Store) GetPayment(_ context.Context, id string) (core.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return core.Payment{}, fmt.Errorf("payment %s: %w", id, storage.ErrNotFound)
}

func (s *Store) ListParticipants(_ context.Context) ([]core.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Participant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetParticipant(_ context.Context, id string) (core.Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[id]
	if !ok {
		return core.Participant{}, fmt.Errorf("participant %s: %w", id, storage.ErrNotFound)
	}
	return p, nil
}

func (s *Store) AddParticipant(_ context.Context, p core.Participant) error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("participant id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.participants[p.ID]; exists {
		return fmt.Errorf("participant %s already exists", p.ID)
	}
	s.participants[p.ID] = p
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }
func (s *Store) Close() error               { return nil }

func cloneExpense(e core.Expense) core.Expense {
	shares := make([]core.Share, len(e.Shares))
	for i, sh := range e.Shares {
		sh.ExpenseID = e.ID
		if sh.Weight != nil {
			w := *sh.Weight
			sh.Weight = &w
		}
		shares[i] = sh
	}
	e.Shares = shares
	return e
}

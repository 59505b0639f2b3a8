package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"grouply/internal/amqp"
	"grouply/internal/core"
	"grouply/internal/log"
	"grouply/internal/metrics"
	"grouply/internal/storage"
)

// Publisher announces appended records. Publishing is best effort.
type Publisher interface {
	PublishLedgerEvent(ctx context.Context, ev *amqp.LedgerEvent) error
}

type (
	ExpenseDraft struct {
		GroupID     string
		PayerID     string
		Amount      core.Money
		Description string
		SplitMode   core.SplitMode
		Shares      []core.ShareInput
	}

	PaymentDraft struct {
		GroupID string
		FromID  string
		ToID    string
		Amount  core.Money
	}

	BalanceView struct {
		ParticipantID string
		Name          string
		Net           core.Money
		Settled       bool
	}

	ShareView struct {
		ParticipantID string
		Name          string
		Weight        *decimal.Decimal
		Amount        core.Money
	}

	ExpenseView struct {
		ID          string
		GroupID     string
		PayerID     string
		PayerName   string
		Amount      core.Money
		Description string
		SplitMode   core.SplitMode
		CreatedAt   time.Time
		Shares      []ShareView
	}

	SettlementView struct {
		FromID   string
		FromName string
		ToID     string
		ToName   string
		Amount   core.Money
	}
)

// LedgerService records expenses and payments for groups and derives their
// balances and settlement plans. Derived state is never stored.
type LedgerService struct {
	store     storage.LedgerStore
	roster    storage.RosterReader
	publisher Publisher
	planner   core.Planner
	metrics   *metrics.Metrics
	logger    *log.Logger
	events    *log.StructuredLogger
	now       func() time.Time
	newID     func() string

	reads singleflight.Group
}

type Option func(*LedgerService)

// WithRoster routes participant lookups through r, typically a cache.RosterCache.
func WithRoster(r storage.RosterReader) Option {
	return func(s *LedgerService) { s.roster = r }
}

func WithPublisher(p Publisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

func WithPlanner(p core.Planner) Option {
	return func(s *LedgerService) { s.planner = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *LedgerService) { s.metrics = m }
}

func WithLogger(l *log.Logger) Option {
	return func(s *LedgerService) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(s *LedgerService) { s.newID = f }
}

func NewLedgerService(store storage.LedgerStore, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:   store,
		roster:  store,
		planner: core.PlanSettlements,
		logger:  log.New(log.DefaultConfig()),
		now:     time.Now,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent(log.ComponentLedger)
	s.events = log.NewStructuredLogger(s.logger)
	return s
}

// RecordExpense validates and allocates the draft, then appends it.
func (s *LedgerService) RecordExpense(ctx context.Context, d ExpenseDraft) (core.Expense, error) {
	e, err := s.buildExpense(ctx, d)
	if err != nil {
		s.metrics.ValidationFailed(err)
		return core.Expense{}, err
	}

	if err := s.store.AppendExpense(ctx, e); err != nil {
		return core.Expense{}, fmt.Errorf("append expense: %w", err)
	}
	s.reads.Forget(e.GroupID)

	s.metrics.ExpenseRecorded(e.SplitMode)
	s.events.LogExpenseRecorded(ctx, e)
	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventExpenseRecorded, e.ID, e.GroupID))
	return e, nil
}

func (s *LedgerService) buildExpense(ctx context.Context, d ExpenseDraft) (core.Expense, error) {
	if !d.Amount.IsPositive() {
		return core.Expense{}, fmt.Errorf("%w: %w: %s", core.ErrInvalidSplit, core.ErrNonPositiveAmount, d.Amount)
	}

	ids := make([]string, 0, len(d.Shares)+1)
	ids = append(ids, d.PayerID)
	for _, sh := range d.Shares {
		ids = append(ids, sh.ParticipantID)
	}
	if err := s.requireParticipants(ctx, ids); err != nil {
		return core.Expense{}, err
	}

	shares, err := core.Allocate(d.Amount, d.SplitMode, d.Shares)
	if err != nil {
		return core.Expense{}, err
	}

	e := core.Expense{
		ID:          s.newID(),
		GroupID:     d.GroupID,
		PayerID:     d.PayerID,
		Amount:      d.Amount,
		Description: d.Description,
		SplitMode:   d.SplitMode,
		Shares:      shares,
		CreatedAt:   s.now().UTC(),
	}
	for i := range e.Shares {
		e.Shares[i].ExpenseID = e.ID
	}
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	return e, nil
}

// RecordPayment appends a direct transfer. Partial and over-payments are allowed.
func (s *LedgerService) RecordPayment(ctx context.Context, d PaymentDraft) (core.Payment, error) {
	p := core.Payment{
		ID:        s.newID(),
		GroupID:   d.GroupID,
		FromID:    d.FromID,
		ToID:      d.ToID,
		Amount:    d.Amount,
		CreatedAt: s.now().UTC(),
	}
	if err := p.Validate(); err != nil {
		s.metrics.ValidationFailed(err)
		return core.Payment{}, err
	}
	if err := s.requireParticipants(ctx, []string{p.FromID, p.ToID}); err != nil {
		s.metrics.ValidationFailed(err)
		return core.Payment{}, err
	}

	if err := s.store.AppendPayment(ctx, p); err != nil {
		return core.Payment{}, fmt.Errorf("append payment: %w", err)
	}
	s.reads.Forget(p.GroupID)

	s.metrics.PaymentRecorded()
	s.events.LogPaymentRecorded(ctx, p)
	s.publish(ctx, amqp.NewLedgerEvent(amqp.EventPaymentRecorded, p.ID, p.GroupID))
	return p, nil
}

// requireParticipants fails with ErrUnknownParticipant for the first unknown id.
func (s *LedgerService) requireParticipants(ctx context.Context, ids []string) error {
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := s.roster.GetParticipant(ctx, id); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("%w: %q", core.ErrUnknownParticipant, id)
			}
			return fmt.Errorf("look up participant %s: %w", id, err)
		}
	}
	return nil
}

func (s *LedgerService) publish(ctx context.Context, ev *amqp.LedgerEvent) {
	if s.publisher == nil {
		return
	}
	// The record is committed; a cancelled request must not drop its event.
	if err := s.publisher.PublishLedgerEvent(context.WithoutCancel(ctx), ev); err != nil {
		s.metrics.PublishFailed()
		s.logger.WarnContext(ctx, "Failed to publish ledger event",
			log.FieldEventType, ev.Type,
			"id", ev.ID,
			log.FieldGroupID, ev.GroupID,
			log.FieldError, err.Error())
	}
}

type snapshot struct {
	expenses []core.Expense
	payments []core.Payment
	roster   core.Roster
}

// load fetches the group's log and the roster concurrently. Concurrent loads
// of the same group share one fetch; nothing is kept once it returns. Appends
// forget the in-flight fetch, so a load that starts after a write returns
// sees it.
func (s *LedgerService) load(ctx context.Context, groupID string) (*snapshot, error) {
	// The shared fetch outlives any single caller; each caller still stops
	// waiting when its own ctx ends.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.reads.DoChan(groupID, func() (any, error) {
		var snap snapshot
		g, gctx := errgroup.WithContext(fetchCtx)
		g.Go(func() error {
			var err error
			snap.expenses, err = s.store.ListExpenses(gctx, groupID)
			if err != nil {
				return fmt.Errorf("list expenses: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			var err error
			snap.payments, err = s.store.ListPayments(gctx, groupID)
			if err != nil {
				return fmt.Errorf("list payments: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			participants, err := s.roster.ListParticipants(gctx)
			if err != nil {
				return fmt.Errorf("list participants: %w", err)
			}
			snap.roster = core.NewRoster(participants)
			return nil
		})
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return &snap, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*snapshot), nil
	}
}

func (s *LedgerService) balances(ctx context.Context, groupID string) ([]core.Balance, core.Roster, error) {
	snap, err := s.load(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	// References were checked on append; an id missing now is shown as Unknown.
	balances, err := core.Aggregate(nil, snap.expenses, snap.payments)
	if err != nil {
		return nil, nil, fmt.Errorf("aggregate %s: %w", groupID, err)
	}
	return balances, snap.roster, nil
}

// GetBalances derives every participant's net position in the group.
func (s *LedgerService) GetBalances(ctx context.Context, groupID string) ([]BalanceView, error) {
	defer s.metrics.ObserveRead(log.OpBalances, time.Now())

	balances, roster, err := s.balances(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]BalanceView, len(balances))
	for i, b := range balances {
		out[i] = BalanceView{
			ParticipantID: b.ParticipantID,
			Name:          roster.Name(b.ParticipantID),
			Net:           b.Net,
			Settled:       b.Net.IsZero(),
		}
	}
	return out, nil
}

// GetSuggestedSettlements plans transfers that bring every balance to zero.
func (s *LedgerService) GetSuggestedSettlements(ctx context.Context, groupID string) ([]core.SettlementSuggestion, error) {
	plan, _, err := s.settlements(ctx, groupID)
	return plan, err
}

// GetSettlementViews is GetSuggestedSettlements with display names attached.
func (s *LedgerService) GetSettlementViews(ctx context.Context, groupID string) ([]SettlementView, error) {
	plan, roster, err := s.settlements(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]SettlementView, len(plan))
	for i, t := range plan {
		out[i] = SettlementView{
			FromID:   t.FromID,
			FromName: roster.Name(t.FromID),
			ToID:     t.ToID,
			ToName:   roster.Name(t.ToID),
			Amount:   t.Amount,
		}
	}
	return out, nil
}

func (s *LedgerService) settlements(ctx context.Context, groupID string) ([]core.SettlementSuggestion, core.Roster, error) {
	defer s.metrics.ObserveRead(log.OpSettlements, time.Now())

	balances, roster, err := s.balances(ctx, groupID)
	if err != nil {
		return nil, nil, err
	}
	plan := s.planner(balances)
	s.metrics.PlanComputed(len(plan))
	s.logger.DebugContext(ctx, "Settlement plan computed",
		log.FieldGroupID, groupID,
		log.FieldTransferCount, len(plan))
	if plan == nil {
		plan = []core.SettlementSuggestion{}
	}
	return plan, roster, nil
}

// ListExpenses returns the group's expenses newest first with display names.
func (s *LedgerService) ListExpenses(ctx context.Context, groupID string) ([]ExpenseView, error) {
	defer s.metrics.ObserveRead(log.OpList, time.Now())

	snap, err := s.load(ctx, groupID)
	if err != nil {
		return nil, err
	}
	out := make([]ExpenseView, len(snap.expenses))
	for i, e := range snap.expenses {
		shares := make([]ShareView, len(e.Shares))
		for j, sh := range e.Shares {
			shares[j] = ShareView{
				ParticipantID: sh.ParticipantID,
				Name:          snap.roster.Name(sh.ParticipantID),
				Weight:        sh.Weight,
				Amount:        sh.Amount,
			}
		}
		out[i] = ExpenseView{
			ID:          e.ID,
			GroupID:     e.GroupID,
			PayerID:     e.PayerID,
			PayerName:   snap.roster.Name(e.PayerID),
			Amount:      e.Amount,
			Description: e.Description,
			SplitMode:   e.SplitMode,
			CreatedAt:   e.CreatedAt,
			Shares:      shares,
		}
	}
	return out, nil
}

func (s *LedgerService) ListParticipants(ctx context.Context) ([]core.Participant, error) {
	participants, err := s.roster.ListParticipants(ctx)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	if participants == nil {
		participants = []core.Participant{}
	}
	return participants, nil
}

// GetExpense and GetPayment load single records for the export worker.
func (s *LedgerService) GetExpense(ctx context.Context, id string) (core.Expense, error) {
	return s.store.GetExpense(ctx, id)
}

func (s *LedgerService) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	return s.store.GetPayment(ctx, id)
}

// Ready reports whether the backing store answers.
func (s *LedgerService) Ready(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close releases the store and, when it has one, the publisher.
func (s *LedgerService) Close() error {
	var errs []error
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	if c, ok := s.publisher.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("publisher: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close ledger service: %w", err)
	}
	return nil
}

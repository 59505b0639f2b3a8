package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	SplitEqual      SplitMode = "EQUAL"
	SplitRatio      SplitMode = "RATIO"
	SplitPercentage SplitMode = "PERCENTAGE"
)

// UnknownParticipantName is shown for ids the roster cannot resolve.
const UnknownParticipantName = "Unknown"

type (
	SplitMode string

	Participant struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email,omitempty"`
	}

	// ShareInput is one caller-supplied split line. Weight is nil for EQUAL.
	ShareInput struct {
		ParticipantID string
		Weight        *decimal.Decimal
	}

	Share struct {
		ExpenseID     string
		ParticipantID string
		Weight        *decimal.Decimal
		Amount        Money
	}

	Expense struct {
		ID          string
		GroupID     string
		PayerID     string
		Amount      Money
		Description string
		SplitMode   SplitMode
		Shares      []Share
		CreatedAt   time.Time
	}

	Payment struct {
		ID        string
		GroupID   string
		FromID    string
		ToID      string
		Amount    Money
		CreatedAt time.Time
	}

	// Balance is derived. Positive Net owes the group, negative is owed.
	Balance struct {
		ParticipantID string
		Net           Money
	}

	SettlementSuggestion struct {
		FromID string
		ToID   string
		Amount Money
	}

	// Roster resolves participant ids. A nil Roster skips reference checks.
	Roster map[string]Participant
)

// ParseSplitMode accepts the mode names case-insensitively.
func ParseSplitMode(s string) (SplitMode, error) {
	switch m := SplitMode(strings.ToUpper(strings.TrimSpace(s))); m {
	case SplitEqual, SplitRatio, SplitPercentage:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unsupported split mode %q", ErrInvalidSplit, s)
	}
}

func (m SplitMode) Valid() bool {
	switch m {
	case SplitEqual, SplitRatio, SplitPercentage:
		return true
	}
	return false
}

// NewRoster indexes participants by id.
func NewRoster(participants []Participant) Roster {
	r := make(Roster, len(participants))
	for _, p := range participants {
		r[p.ID] = p
	}
	return r
}

func (r Roster) Has(id string) bool {
	_, ok := r[id]
	return ok
}

// Name returns the display name or UnknownParticipantName.
func (r Roster) Name(id string) string {
	if p, ok := r[id]; ok && p.Name != "" {
		return p.Name
	}
	return UnknownParticipantName
}

// Require fails with ErrUnknownParticipant for the first id not in the roster.
func (r Roster) Require(ids ...string) error {
	if r == nil {
		return nil
	}
	for _, id := range ids {
		if !r.Has(id) {
			return fmt.Errorf("%w: %q", ErrUnknownParticipant, id)
		}
	}
	return nil
}

func (e Expense) Validate() error {
	if strings.TrimSpace(e.GroupID) == "" {
		return fmt.Errorf("%w: missing group id", ErrInvalidSplit)
	}
	if strings.TrimSpace(e.PayerID) == "" {
		return fmt.Errorf("%w: missing payer id", ErrInvalidSplit)
	}
	if !e.Amount.IsPositive() {
		return fmt.Errorf("%w: %w: %s", ErrInvalidSplit, ErrNonPositiveAmount, e.Amount)
	}
	if len(e.Description) > 500 {
		return fmt.Errorf("%w: description too long (max 500 characters)", ErrInvalidSplit)
	}
	if !e.SplitMode.Valid() {
		return fmt.Errorf("%w: unsupported split mode %q", ErrInvalidSplit, e.SplitMode)
	}
	if len(e.Shares) == 0 {
		return fmt.Errorf("%w: no participants", ErrInvalidSplit)
	}
	var sum Money
	for _, s := range e.Shares {
		sum = sum.Add(s.Amount)
	}
	if sum != e.Amount {
		return fmt.Errorf("%w: shares sum to %s, expected %s", ErrInvalidSplit, sum, e.Amount)
	}
	return nil
}

func (p Payment) Validate() error {
	if strings.TrimSpace(p.GroupID) == "" {
		return fmt.Errorf("%w: missing group id", ErrInvalidSplit)
	}
	if strings.TrimSpace(p.FromID) == "" || strings.TrimSpace(p.ToID) == "" {
		return fmt.Errorf("%w: missing payment party", ErrUnknownParticipant)
	}
	if p.FromID == p.ToID {
		return ErrSelfPayment
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositiveAmount, p.Amount)
	}
	return nil
}

// ParticipantIDs lists the payer followed by every share owner.
func (e Expense) ParticipantIDs() []string {
	ids := make([]string, 0, len(e.Shares)+1)
	ids = append(ids, e.PayerID)
	for _, s := range e.Shares {
		ids = append(ids, s.ParticipantID)
	}
	return ids
}

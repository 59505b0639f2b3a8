package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

var one = decimal.New(1, 0)

// Allocate derives one share per participant from an expense amount and a
// split mode. Shares come back in input order and sum exactly to amount.
//
// EQUAL ignores supplied weights. RATIO and PERCENTAGE need a positive weight
// on every line; percentages are normalized by their declared sum, so they do
// not have to add up to 100.
func Allocate(amount Money, mode SplitMode, parts []ShareInput) ([]Share, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidSplit, ErrNonPositiveAmount, amount)
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: unsupported split mode %q", ErrInvalidSplit, mode)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrInvalidSplit)
	}

	weights := make([]Weight, len(parts))
	for i, p := range parts {
		if p.ParticipantID == "" {
			return nil, fmt.Errorf("%w: share %d has no participant", ErrInvalidSplit, i)
		}
		w := Weight{ID: p.ParticipantID, Value: one}
		if mode != SplitEqual {
			if p.Weight == nil {
				return nil, fmt.Errorf("%w: missing %s weight for %q", ErrInvalidSplit, mode, p.ParticipantID)
			}
			w.Value = *p.Weight
		}
		weights[i] = w
	}

	amounts, err := AllocateProportionally(amount, weights)
	if err != nil {
		return nil, err
	}

	shares := make([]Share, len(parts))
	for i, p := range parts {
		shares[i] = Share{ParticipantID: p.ParticipantID, Amount: amounts[i]}
		if mode != SplitEqual {
			w := *p.Weight
			shares[i].Weight = &w
		}
	}
	return shares, nil
}

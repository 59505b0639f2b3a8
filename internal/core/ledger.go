package core

import "sort"

// Aggregate folds a group's expenses and payments into net balances.
//
// The payer of an expense is credited the full amount and each share owner is
// debited their share. A payment credits its sender and debits its receiver.
// The fold is plain summation, so input order never changes the result.
// Balances are returned for every participant that appears, sorted by id.
//
// When roster is non-nil every referenced id must be in it.
func Aggregate(roster Roster, expenses []Expense, payments []Payment) ([]Balance, error) {
	totals := make(map[string]int64)

	for _, e := range expenses {
		if err := roster.Require(e.ParticipantIDs()...); err != nil {
			return nil, err
		}
		totals[e.PayerID] -= e.Amount.Cents
		for _, s := range e.Shares {
			totals[s.ParticipantID] += s.Amount.Cents
		}
	}
	for _, p := range payments {
		if err := roster.Require(p.FromID, p.ToID); err != nil {
			return nil, err
		}
		totals[p.FromID] -= p.Amount.Cents
		totals[p.ToID] += p.Amount.Cents
	}

	balances := make([]Balance, 0, len(totals))
	for id, net := range totals {
		balances = append(balances, Balance{ParticipantID: id, Net: Money{Cents: net}})
	}
	sort.Slice(balances, func(i, j int) bool {
		return balances[i].ParticipantID < balances[j].ParticipantID
	})
	return balances, nil
}

// TotalNet sums balances. It is zero for any ledger built from balanced records.
func TotalNet(balances []Balance) Money {
	var sum Money
	for _, b := range balances {
		sum = sum.Add(b.Net)
	}
	return sum
}

// ApplySettlements returns balances after every suggestion is executed as a payment.
func ApplySettlements(balances []Balance, plan []SettlementSuggestion) []Balance {
	idx := make(map[string]int, len(balances))
	out := make([]Balance, len(balances))
	for i, b := range balances {
		out[i] = b
		idx[b.ParticipantID] = i
	}
	for _, s := range plan {
		if i, ok := idx[s.FromID]; ok {
			out[i].Net = out[i].Net.Sub(s.Amount)
		}
		if i, ok := idx[s.ToID]; ok {
			out[i].Net = out[i].Net.Add(s.Amount)
		}
	}
	return out
}

package core

import (
	"container/heap"
	"math/bits"
)

// MinimalPlanLimit bounds the participant count PlanMinimalSettlements solves
// exactly. The search is exponential; larger groups use the greedy plan.
const MinimalPlanLimit = 12

const (
	StrategyGreedy  = "greedy"
	StrategyMinimal = "minimal"
)

// Planner turns a balance snapshot into suggested transfers.
type Planner func(balances []Balance) []SettlementSuggestion

// PlannerFor maps a strategy name to its planner, defaulting to greedy.
func PlannerFor(strategy string) Planner {
	if strategy == StrategyMinimal {
		return PlanMinimalSettlements
	}
	return PlanSettlements
}

type party struct {
	id     string
	amount int64 // outstanding, always positive
}

// partyHeap pops the largest amount first, ties by ascending id.
type partyHeap []*party

func (h partyHeap) Len() int { return len(h) }
func (h partyHeap) Less(i, j int) bool {
	if h[i].amount != h[j].amount {
		return h[i].amount > h[j].amount
	}
	return h[i].id < h[j].id
}
func (h partyHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *partyHeap) Push(x any)   { *h = append(*h, x.(*party)) }
func (h *partyHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	*h = old[:n-1]
	return p
}

// PlanSettlements is the greedy settlement policy: the largest debtor pays the
// largest creditor min(debt, credit) until one side runs out. Ties go to the
// lower participant id. Each step clears at least one participant, so n
// non-zero balances need at most n-1 transfers. The input is never modified.
func PlanSettlements(balances []Balance) []SettlementSuggestion {
	debtors, creditors := partition(balances)
	heap.Init(&debtors)
	heap.Init(&creditors)

	var plan []SettlementSuggestion
	for debtors.Len() > 0 && creditors.Len() > 0 {
		d := heap.Pop(&debtors).(*party)
		c := heap.Pop(&creditors).(*party)

		amt := min(d.amount, c.amount)
		plan = append(plan, SettlementSuggestion{FromID: d.id, ToID: c.id, Amount: Money{Cents: amt}})

		d.amount -= amt
		c.amount -= amt
		if d.amount >= SettledThreshold {
			heap.Push(&debtors, d)
		}
		if c.amount >= SettledThreshold {
			heap.Push(&creditors, c)
		}
	}
	return plan
}

func partition(balances []Balance) (debtors, creditors partyHeap) {
	for _, b := range balances {
		switch {
		case b.Net.Cents >= SettledThreshold:
			debtors = append(debtors, &party{id: b.ParticipantID, amount: b.Net.Cents})
		case -b.Net.Cents >= SettledThreshold:
			creditors = append(creditors, &party{id: b.ParticipantID, amount: -b.Net.Cents})
		}
	}
	return debtors, creditors
}

// PlanMinimalSettlements finds a plan with the fewest possible transfers.
//
// A group of n non-zero balances split into g disjoint zero-sum subgroups can
// be settled in n-g transfers, so the search maximises g over all partitions
// and then settles each subgroup greedily. Inputs above MinimalPlanLimit, or
// that do not sum to zero, fall back to PlanSettlements.
func PlanMinimalSettlements(balances []Balance) []SettlementSuggestion {
	var open []Balance
	for _, b := range balances {
		if !b.Net.IsZero() {
			open = append(open, b)
		}
	}
	n := len(open)
	if n == 0 {
		return nil
	}
	if n > MinimalPlanLimit || !TotalNet(open).IsZero() {
		return PlanSettlements(balances)
	}

	full := 1<<n - 1
	sums := make([]int64, full+1)
	for mask := 1; mask <= full; mask++ {
		low := bits.TrailingZeros(uint(mask))
		sums[mask] = sums[mask&(mask-1)] + open[low].Net.Cents
	}

	// groups[mask] is the most zero-sum subgroups mask splits into; pick[mask]
	// is the subgroup holding mask's lowest member in that split.
	groups := make([]int, full+1)
	pick := make([]int, full+1)
	for mask := 1; mask <= full; mask++ {
		if sums[mask] != 0 {
			continue
		}
		low := mask & -mask
		rest := mask ^ low
		groups[mask], pick[mask] = 1, mask
		for sub := rest; sub > 0; sub = (sub - 1) & rest {
			s := sub | low
			if s == mask || sums[s] != 0 {
				continue
			}
			if g := 1 + groups[mask^s]; g > groups[mask] {
				groups[mask], pick[mask] = g, s
			}
		}
	}

	var plan []SettlementSuggestion
	for mask := full; mask != 0; {
		s := pick[mask]
		var sub []Balance
		for i := 0; i < n; i++ {
			if s&(1<<i) != 0 {
				sub = append(sub, open[i])
			}
		}
		plan = append(plan, PlanSettlements(sub)...)
		mask ^= s
	}
	return plan
}

// Package core holds the money type and the pure ledger computations:
// share allocation, balance aggregation and settlement planning.
//
// Amounts are integer minor units (cents). Decimal text only appears at the
// boundary, through ParseMoney and Money.String.
package core

import (
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SettledThreshold is the smallest absolute amount, in minor units, that still
// counts as outstanding. Balances below half a cent read as settled, and with
// whole cents that leaves every non-zero amount outstanding.
const SettledThreshold int64 = 1

// Money is an amount in minor units.
type Money struct {
	Cents int64
}

// Weight is one participant's proportional claim on an allocated total.
type Weight struct {
	ID    string
	Value decimal.Decimal
}

var maxCents = decimal.New(math.MaxInt64, 0)

func Cents(c int64) Money { return Money{Cents: c} }

// ParseMoney converts a decimal string to minor units.
//
// Both dot (12.34) and comma (12,34) separators are accepted. Anything past the
// second decimal is rounded half-up. The sign is preserved; callers decide
// whether negative or zero amounts are acceptable.
//
//	ParseMoney("12.34")  -> 1234
//	ParseMoney("12,345") -> 1235
//	ParseMoney("-3")     -> -300
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Money{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if strings.Count(s, ",") > 0 && strings.Contains(s, ".") {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "eE") {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	cents := d.Round(2).Shift(2)
	if cents.Abs().GreaterThan(maxCents) {
		return Money{}, fmt.Errorf("%w: %q out of range", ErrInvalidAmount, s)
	}
	return Money{Cents: cents.IntPart()}, nil
}

// MustParseMoney is ParseMoney for literals known to be valid.
func MustParseMoney(s string) Money {
	m, err := ParseMoney(s)
	if err != nil {
		panic(err)
	}
	return m
}

func (m Money) Add(o Money) Money { return Money{Cents: m.Cents + o.Cents} }
func (m Money) Sub(o Money) Money { return Money{Cents: m.Cents - o.Cents} }
func (m Money) Neg() Money        { return Money{Cents: -m.Cents} }

func (m Money) Abs() Money {
	if m.Cents < 0 {
		return m.Neg()
	}
	return m
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m.Cents < o.Cents:
		return -1
	case m.Cents > o.Cents:
		return 1
	}
	return 0
}

// IsZero reports whether the amount is within the settled tolerance.
func (m Money) IsZero() bool {
	return m.Abs().Cents < SettledThreshold
}

func (m Money) IsPositive() bool { return m.Cents > 0 }

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with exactly two decimals.
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(m.String())), nil
}

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (m *Money) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		unq, err := strconv.Unquote(s)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, s)
		}
		s = unq
	}
	parsed, err := ParseMoney(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Weights are scaled to integers before allocation, so their precision and
// magnitude are bounded: at most MaxWeightScale fractional digits and an
// exponent of at most MaxWeightExponent.
const (
	MaxWeightScale    = 18
	MaxWeightExponent = 36
)

// CheckWeight rejects weights that are not positive or whose digits fall
// outside the supported range.
func CheckWeight(w decimal.Decimal) error {
	if w.Sign() <= 0 {
		return fmt.Errorf("%w: weight must be positive", ErrInvalidSplit)
	}
	exp := w.Exponent()
	if exp < -MaxWeightScale || exp > MaxWeightExponent {
		return fmt.Errorf("%w: weight exponent %d out of range", ErrInvalidSplit, exp)
	}
	// 10^54 needs 180 bits; BitLen avoids formatting a huge coefficient.
	if w.Coefficient().BitLen() > 180 {
		return fmt.Errorf("%w: weight has too many digits", ErrInvalidSplit)
	}
	return nil
}

// AllocateProportionally splits total across weights using the largest
// remainder method. Each share starts as total*w/sum(w) truncated to whole
// minor units; the leftover units then go one each to the largest fractional
// remainders, ties by ascending id. The result is in input order and sums to
// total exactly.
func AllocateProportionally(total Money, weights []Weight) ([]Money, error) {
	if total.Cents < 0 {
		return nil, fmt.Errorf("%w: cannot allocate %s", ErrNonPositiveAmount, total)
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: no participants", ErrInvalidSplit)
	}

	// Bring every weight to a common exponent so they become exact integers.
	scale := int32(0)
	seen := make(map[string]struct{}, len(weights))
	for _, w := range weights {
		if _, dup := seen[w.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate participant %q", ErrInvalidSplit, w.ID)
		}
		seen[w.ID] = struct{}{}
		if err := CheckWeight(w.Value); err != nil {
			return nil, fmt.Errorf("%w (participant %q)", err, w.ID)
		}
		if exp := w.Value.Exponent(); -exp > scale {
			scale = -exp
		}
	}

	ints := make([]*big.Int, len(weights))
	sum := new(big.Int)
	for i, w := range weights {
		ints[i] = scaledInt(w.Value, scale)
		sum.Add(sum, ints[i])
	}

	t := big.NewInt(total.Cents)
	out := make([]Money, len(weights))
	rems := make([]*big.Int, len(weights))
	assigned := int64(0)
	for i, wi := range ints {
		num := new(big.Int).Mul(t, wi)
		q, r := new(big.Int).QuoRem(num, sum, new(big.Int))
		out[i] = Money{Cents: q.Int64()}
		rems[i] = r
		assigned += out[i].Cents
	}

	leftover := total.Cents - assigned
	if leftover == 0 {
		return out, nil
	}
	order := make([]int, len(weights))
	for i := range order {
		order[i] = i
	}
	// All remainders share the denominator sum, so comparing numerators is exact.
	sort.SliceStable(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if c := rems[ia].Cmp(rems[ib]); c != 0 {
			return c > 0
		}
		return weights[ia].ID < weights[ib].ID
	})
	for k := int64(0); k < leftover; k++ {
		out[order[k]].Cents++
	}
	return out, nil
}

// scaledInt returns d*10^scale as an integer; scale covers every fractional digit of d.
func scaledInt(d decimal.Decimal, scale int32) *big.Int {
	c := d.Coefficient()
	if shift := d.Exponent() + scale; shift > 0 {
		c.Mul(c, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(shift)), nil))
	}
	return c
}

package core

import (
	"errors"
	"testing"
)

func TestParseSplitMode(t *testing.T) {
	cases := []struct {
		in   string
		want SplitMode
		ok   bool
	}{
		{"EQUAL", SplitEqual, true},
		{"ratio", SplitRatio, true},
		{" Percentage ", SplitPercentage, true},
		{"shares", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseSplitMode(tc.in)
		if tc.ok {
			if err != nil || got != tc.want {
				t.Errorf("ParseSplitMode(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
			}
			continue
		}
		if !errors.Is(err, ErrInvalidSplit) {
			t.Errorf("ParseSplitMode(%q) expected ErrInvalidSplit, got %v", tc.in, err)
		}
	}
}

func TestExpense_Validate(t *testing.T) {
	valid := Expense{
		GroupID:   "g1",
		PayerID:   "A",
		Amount:    Cents(1000),
		SplitMode: SplitEqual,
		Shares: []Share{
			{ParticipantID: "A", Amount: Cents(500)},
			{ParticipantID: "B", Amount: Cents(500)},
		},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid expense, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Expense)
		want   error
	}{
		{"missing group", func(e *Expense) { e.GroupID = " " }, ErrInvalidSplit},
		{"missing payer", func(e *Expense) { e.PayerID = "" }, ErrInvalidSplit},
		{"zero amount", func(e *Expense) { e.Amount = Cents(0) }, ErrNonPositiveAmount},
		{"bad mode", func(e *Expense) { e.SplitMode = "X" }, ErrInvalidSplit},
		{"no shares", func(e *Expense) { e.Shares = nil }, ErrInvalidSplit},
		{"leaking shares", func(e *Expense) { e.Shares[1].Amount = Cents(499) }, ErrInvalidSplit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid
			e.Shares = append([]Share(nil), valid.Shares...)
			tt.mutate(&e)
			if err := e.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestPayment_Validate(t *testing.T) {
	tests := []struct {
		name string
		p    Payment
		want error
	}{
		{"valid", Payment{GroupID: "g", FromID: "B", ToID: "A", Amount: Cents(1)}, nil},
		{"self payment", Payment{GroupID: "g", FromID: "A", ToID: "A", Amount: Cents(100)}, ErrSelfPayment},
		{"zero", Payment{GroupID: "g", FromID: "B", ToID: "A"}, ErrNonPositiveAmount},
		{"negative", Payment{GroupID: "g", FromID: "B", ToID: "A", Amount: Cents(-5)}, ErrNonPositiveAmount},
		{"missing party", Payment{GroupID: "g", FromID: "B", Amount: Cents(5)}, ErrUnknownParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRoster(t *testing.T) {
	r := NewRoster([]Participant{{ID: "A", Name: "Alice"}, {ID: "B", Name: "Bob"}})
	if r.Name("A") != "Alice" {
		t.Errorf("expected Alice, got %q", r.Name("A"))
	}
	if r.Name("Z") != UnknownParticipantName {
		t.Errorf("expected %q, got %q", UnknownParticipantName, r.Name("Z"))
	}
	if err := r.Require("A", "B"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := r.Require("A", "Z"); !errors.Is(err, ErrUnknownParticipant) {
		t.Errorf("expected ErrUnknownParticipant, got %v", err)
	}
	var none Roster
	if err := none.Require("anything"); err != nil {
		t.Errorf("nil roster should skip checks, got %v", err)
	}
}

func TestIsValidationError(t *testing.T) {
	for _, err := range []error{ErrInvalidSplit, ErrUnknownParticipant, ErrNonPositiveAmount, ErrInvalidAmount, ErrSelfPayment} {
		if !IsValidationError(err) {
			t.Errorf("%v should be a validation error", err)
		}
	}
	if IsValidationError(errors.New("disk full")) {
		t.Error("arbitrary errors are not validation errors")
	}
}

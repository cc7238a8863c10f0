package core

import (
	"errors"
	"strings"
	"testing"
)

func TestMoneyValidate(t *testing.T) {
	if err := (Money{Cents: 1}).Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	if err := (Money{Cents: 0}).Validate(); err == nil {
		t.Fatalf("expected error for zero")
	}
	if err := (Money{Cents: -5}).Validate(); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSplitPolicy(t *testing.T) {
	if err := PolicyUnset.Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("unset policy must be rejected, got %v", err)
	}
	if err := SplitPolicy("sometimes").Validate(); !errors.Is(err, ErrInvalidPolicy) {
		t.Fatalf("unknown policy must be rejected, got %v", err)
	}
	if !PayerIncluded.PayerParticipates() || PayerExcluded.PayerParticipates() {
		t.Fatalf("PayerParticipates mismatch")
	}
	if PolicyFromFlag(true) != PayerIncluded || PolicyFromFlag(false) != PayerExcluded {
		t.Fatalf("PolicyFromFlag mismatch")
	}

	cases := map[string]SplitPolicy{
		"payer_included": PayerIncluded,
		"TRUE":           PayerIncluded,
		" excluded ":     PayerExcluded,
		"false":          PayerExcluded,
	}
	for in, want := range cases {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePolicy(""); err == nil {
		t.Fatalf("expected error for empty policy")
	}
}

func TestExpenseRecordValidate(t *testing.T) {
	good := ExpenseRecord{
		ID:            "e1",
		Payer:         "alice",
		Amount:        Money{Cents: 900},
		Beneficiaries: []ParticipantID{"alice", "bob", "carol"},
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}

	shares := good
	shares.Split = SplitShares
	shares.Portions = map[ParticipantID]int64{"alice": 2, "bob": 1, "carol": 1}
	if err := shares.Validate(); err != nil {
		t.Fatalf("expected shares ok, got %v", err)
	}

	exact := good
	exact.Split = SplitExact
	exact.Portions = map[ParticipantID]int64{"alice": 0, "bob": 400, "carol": 500}
	if err := exact.Validate(); err != nil {
		t.Fatalf("expected exact ok, got %v", err)
	}

	bads := []struct {
		name string
		rec  ExpenseRecord
		want error
	}{
		{"zero amount", ExpenseRecord{Payer: "a", Amount: Money{}, Beneficiaries: []ParticipantID{"b"}}, ErrInvalidAmount},
		{"no payer", ExpenseRecord{Amount: Money{Cents: 1}, Beneficiaries: []ParticipantID{"b"}}, ErrEmptyParticipant},
		{"no beneficiaries", ExpenseRecord{Payer: "a", Amount: Money{Cents: 1}}, ErrInvalidSplit},
		{"blank beneficiary", ExpenseRecord{Payer: "a", Amount: Money{Cents: 1}, Beneficiaries: []ParticipantID{" "}}, ErrEmptyParticipant},
		{"unknown method", ExpenseRecord{Payer: "a", Amount: Money{Cents: 1}, Beneficiaries: []ParticipantID{"b"}, Split: "byItem"}, ErrInvalidSplit},
		{"equal with portions", ExpenseRecord{Payer: "a", Amount: Money{Cents: 1}, Beneficiaries: []ParticipantID{"b"}, Portions: map[ParticipantID]int64{"b": 1}}, ErrInvalidSplit},
		{"missing portion", ExpenseRecord{Payer: "a", Amount: Money{Cents: 1}, Beneficiaries: []ParticipantID{"b", "c"}, Split: SplitShares, Portions: map[ParticipantID]int64{"b": 1, "x": 1}}, ErrInvalidSplit},
		{"zero weight", ExpenseRecord{Payer: "a", Amount: Money{Cents: 1}, Beneficiaries: []ParticipantID{"b"}, Split: SplitShares, Portions: map[ParticipantID]int64{"b": 0}}, ErrInvalidSplit},
		{"negative exact", ExpenseRecord{Payer: "a", Amount: Money{Cents: 1}, Beneficiaries: []ParticipantID{"b"}, Split: SplitExact, Portions: map[ParticipantID]int64{"b": -1}}, ErrInvalidSplit},
	}
	for _, tc := range bads {
		if err := tc.rec.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	long := good
	long.Description = strings.Repeat("x", 201)
	if err := long.Validate(); err == nil {
		t.Fatalf("expected error for long description")
	}
}

func TestSortedUnique(t *testing.T) {
	in := []ParticipantID{"c", "a", "b", "a"}
	got := SortedUnique(in)
	want := []ParticipantID{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
	if in[0] != "c" {
		t.Fatalf("input was modified: %v", in)
	}
}

func TestBalanceMapHelpers(t *testing.T) {
	b := BalanceMap{"a": 600, "b": -300, "c": -300, "d": 0}
	if b.Sum() != 0 {
		t.Fatalf("expected zero sum, got %d", b.Sum())
	}
	if b.NonZero() != 3 {
		t.Fatalf("expected 3 non-zero, got %d", b.NonZero())
	}
	c := b.Clone()
	c["a"] = 0
	if b["a"] != 600 {
		t.Fatalf("clone shares storage with original")
	}
	if b.IsSettled() || !(BalanceMap{"x": 0}).IsSettled() {
		t.Fatalf("IsSettled mismatch")
	}
	ids := b.Participants()
	if len(ids) != 4 || ids[0] != "a" || ids[3] != "d" {
		t.Fatalf("unexpected participants order: %v", ids)
	}
}

func TestGroupHasMember(t *testing.T) {
	g := Group{Members: []ParticipantID{"a", "b"}}
	if !g.HasMember("a") || g.HasMember("z") {
		t.Fatalf("HasMember mismatch")
	}
}

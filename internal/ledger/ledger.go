// Package ledger folds expense records into net balances.
package ledger

import (
	"fmt"
	"math"

	"payup/internal/core"
	"payup/internal/split"
)

// Ledger computes balances for one split policy. It holds no records; every
// call works on the snapshot it is given.
type Ledger struct {
	policy core.SplitPolicy
}

// New returns a Ledger for policy. The policy must be set explicitly.
func New(policy core.SplitPolicy) (*Ledger, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return &Ledger{policy: policy}, nil
}

// ComputeBalances credits each payer with the amount paid and debits every
// sharer with its share. Every roster participant appears in the result,
// starting at zero. The whole computation fails on the first invalid record;
// no partial map is returned.
func (l *Ledger) ComputeBalances(records []core.ExpenseRecord, participants []core.ParticipantID) (core.BalanceMap, error) {
	balances := make(core.BalanceMap, len(participants))
	for _, p := range participants {
		if p == "" {
			return nil, fmt.Errorf("roster: %w", core.ErrEmptyParticipant)
		}
		balances[p] = 0
	}

	seen := make(map[string]struct{}, len(records))
	for i, rec := range records {
		if err := l.apply(balances, rec, seen); err != nil {
			return nil, fmt.Errorf("record %s: %w", recordRef(rec, i), err)
		}
	}

	if s := balances.Sum(); s != 0 {
		return nil, fmt.Errorf("%w: balances sum to %d", core.ErrUnbalancedLedger, s)
	}
	return balances, nil
}

// Shares returns what each sharer owes for a single record under the
// ledger's policy, without roster checks.
func (l *Ledger) Shares(rec core.ExpenseRecord) (map[core.ParticipantID]int64, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return split.ForRecord(rec, l.policy)
}

func (l *Ledger) apply(balances core.BalanceMap, rec core.ExpenseRecord, seen map[string]struct{}) error {
	if rec.ID != "" {
		if _, dup := seen[rec.ID]; dup {
			return core.ErrDuplicateRecord
		}
		seen[rec.ID] = struct{}{}
	}

	shares, err := l.Shares(rec)
	if err != nil {
		return err
	}

	if _, ok := balances[rec.Payer]; !ok {
		return fmt.Errorf("payer %s: %w", rec.Payer, core.ErrUnknownParticipant)
	}
	for id := range shares {
		if _, ok := balances[id]; !ok {
			return fmt.Errorf("beneficiary %s: %w", id, core.ErrUnknownParticipant)
		}
	}

	// Apply only after every check passed.
	next, err := addChecked(balances[rec.Payer], rec.Amount.Cents)
	if err != nil {
		return err
	}
	balances[rec.Payer] = next
	for id, owed := range shares {
		next, err := addChecked(balances[id], -owed)
		if err != nil {
			return err
		}
		balances[id] = next
	}
	return nil
}

// ComputeBalances is a convenience wrapper for one-off computations.
func ComputeBalances(policy core.SplitPolicy, records []core.ExpenseRecord, participants []core.ParticipantID) (core.BalanceMap, error) {
	l, err := New(policy)
	if err != nil {
		return nil, err
	}
	return l.ComputeBalances(records, participants)
}

// TotalSpent sums the amounts of non-settlement records.
func TotalSpent(records []core.ExpenseRecord) core.Money {
	var total int64
	for _, r := range records {
		if r.Settlement {
			continue
		}
		if next, err := addChecked(total, r.Amount.Cents); err == nil {
			total = next
		}
	}
	return core.Money{Cents: total}
}

func addChecked(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, fmt.Errorf("%w: balance overflow", core.ErrInvalidAmount)
	}
	return a + b, nil
}

func recordRef(rec core.ExpenseRecord, idx int) string {
	if rec.ID != "" {
		return rec.ID
	}
	return fmt.Sprintf("#%d", idx)
}

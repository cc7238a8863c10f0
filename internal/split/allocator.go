// Package split divides an expense amount into owed shares.
//
// Every function works in integer minor units and returns shares that sum
// exactly to the amount. Units that do not divide evenly are handed out one
// at a time in ascending participant order, so the same input always yields
// the same output.
package split

import (
	"fmt"
	"math"
	"math/bits"
	"sort"

	"payup/internal/core"
)

// Allocate splits amount equally among the beneficiaries, adding the payer
// as a sharer when payerParticipates is set. Duplicate beneficiaries count
// once. The first amount%n sharers in lexicographic order owe one extra unit.
func Allocate(amount int64, beneficiaries []core.ParticipantID, payerParticipates bool, payer core.ParticipantID) (map[core.ParticipantID]int64, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidAmount, amount)
	}

	ids := beneficiaries
	if payerParticipates {
		if payer == "" {
			return nil, fmt.Errorf("payer: %w", core.ErrEmptyParticipant)
		}
		ids = append(append(make([]core.ParticipantID, 0, len(beneficiaries)+1), beneficiaries...), payer)
	}
	sharers := core.SortedUnique(ids)
	for _, id := range sharers {
		if id == "" {
			return nil, fmt.Errorf("beneficiary: %w", core.ErrEmptyParticipant)
		}
	}

	n := int64(len(sharers))
	if n == 0 {
		return nil, core.ErrEmptyBeneficiaries
	}

	base := amount / n
	rem := amount % n
	shares := make(map[core.ParticipantID]int64, n)
	for i, id := range sharers {
		shares[id] = base
		if int64(i) < rem {
			shares[id]++
		}
	}
	return shares, nil
}

// AllocateShares splits amount proportionally to positive integer weights
// using the largest-remainder method. Leftover units go to the largest
// fractional remainders, ties broken by participant order.
func AllocateShares(amount int64, weights map[core.ParticipantID]int64) (map[core.ParticipantID]int64, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidAmount, amount)
	}
	if len(weights) == 0 {
		return nil, core.ErrEmptyBeneficiaries
	}

	var total int64
	for id, w := range weights {
		if id == "" {
			return nil, fmt.Errorf("beneficiary: %w", core.ErrEmptyParticipant)
		}
		if w <= 0 {
			return nil, fmt.Errorf("%w: weight %d for %s", core.ErrInvalidSplit, w, id)
		}
		if total > math.MaxInt64-w {
			return nil, fmt.Errorf("%w: weights overflow", core.ErrInvalidSplit)
		}
		total += w
	}

	type part struct {
		id  core.ParticipantID
		rem uint64
	}
	parts := make([]part, 0, len(weights))
	shares := make(map[core.ParticipantID]int64, len(weights))
	var allocated int64
	for id, w := range weights {
		// amount*w/total never exceeds amount, so the quotient fits in 64 bits.
		hi, lo := bits.Mul64(uint64(amount), uint64(w))
		q, r := bits.Div64(hi, lo, uint64(total))
		shares[id] = int64(q)
		allocated += int64(q)
		parts = append(parts, part{id: id, rem: r})
	}

	sort.Slice(parts, func(i, j int) bool {
		if parts[i].rem != parts[j].rem {
			return parts[i].rem > parts[j].rem
		}
		return parts[i].id < parts[j].id
	})
	for i := int64(0); i < amount-allocated; i++ {
		shares[parts[i].id]++
	}
	return shares, nil
}

// AllocateExact checks that the owed amounts add up to amount and returns a
// copy. Zero portions are allowed; negative ones are not.
func AllocateExact(amount int64, portions map[core.ParticipantID]int64) (map[core.ParticipantID]int64, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: %d", core.ErrInvalidAmount, amount)
	}
	if len(portions) == 0 {
		return nil, core.ErrEmptyBeneficiaries
	}
	shares := make(map[core.ParticipantID]int64, len(portions))
	var sum int64
	for id, v := range portions {
		if id == "" {
			return nil, fmt.Errorf("beneficiary: %w", core.ErrEmptyParticipant)
		}
		if v < 0 {
			return nil, fmt.Errorf("%w: portion %d for %s", core.ErrInvalidSplit, v, id)
		}
		if sum > math.MaxInt64-v {
			return nil, fmt.Errorf("%w: portions overflow", core.ErrInvalidSplit)
		}
		sum += v
		shares[id] = v
	}
	if sum != amount {
		return nil, fmt.Errorf("%w: portions sum to %d, amount is %d", core.ErrInvalidSplit, sum, amount)
	}
	return shares, nil
}

// ForRecord dispatches on the record's split method. The policy only affects
// equal splits.
func ForRecord(rec core.ExpenseRecord, policy core.SplitPolicy) (map[core.ParticipantID]int64, error) {
	switch rec.Split.Normalize() {
	case core.SplitEqual:
		if err := policy.Validate(); err != nil {
			return nil, err
		}
		return Allocate(rec.Amount.Cents, rec.Beneficiaries, policy.PayerParticipates(), rec.Payer)
	case core.SplitShares:
		return AllocateShares(rec.Amount.Cents, rec.Portions)
	case core.SplitExact:
		return AllocateExact(rec.Amount.Cents, rec.Portions)
	default:
		return nil, fmt.Errorf("%w: unknown method %q", core.ErrInvalidSplit, string(rec.Split))
	}
}

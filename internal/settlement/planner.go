// Package settlement turns net balances into payment instructions.
//
// Plan matches the largest remaining debtor with the largest remaining
// creditor until one side is exhausted. The result is not guaranteed to
// have the fewest possible transfers, but it never exceeds
// debtors+creditors-1 of them and replaying it zeroes every balance.
package settlement

import (
	"fmt"
	"math"
	"math/bits"
	"sort"
	"strconv"

	"payup/internal/core"
)

type position struct {
	id     core.ParticipantID
	amount int64
}

// Plan returns the transfers that settle balances. It returns
// core.ErrUnbalancedLedger, and no transfers, when the balances do not sum
// to zero. The result is never nil.
func Plan(balances core.BalanceMap) ([]core.Transfer, error) {
	var (
		credit, debit wide
		debtors       []position
		creditors     []position
	)
	for id, v := range balances {
		switch {
		case v == math.MinInt64:
			return nil, fmt.Errorf("%w: balance of %s out of range", core.ErrInvalidAmount, id)
		case v < 0:
			debit.add(uint64(-v))
			debtors = append(debtors, position{id: id, amount: -v})
		case v > 0:
			credit.add(uint64(v))
			creditors = append(creditors, position{id: id, amount: v})
		}
	}
	if credit != debit {
		return nil, fmt.Errorf("%w: credits %s, debits %s", core.ErrUnbalancedLedger, credit, debit)
	}

	sortPositions(debtors)
	sortPositions(creditors)

	transfers := make([]core.Transfer, 0, max(len(debtors)+len(creditors)-1, 0))
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]
		amt := min(d.amount, c.amount)
		if amt > 0 {
			transfers = append(transfers, core.Transfer{From: d.id, To: c.id, Amount: amt})
		}
		d.amount -= amt
		c.amount -= amt
		if d.amount == 0 {
			i++
		}
		if c.amount == 0 {
			j++
		}
	}
	return transfers, nil
}

// wide is an unsigned 128-bit accumulator, so that summing many large
// balances cannot wrap around.
type wide struct{ hi, lo uint64 }

func (w *wide) add(v uint64) {
	var carry uint64
	w.lo, carry = bits.Add64(w.lo, v, 0)
	w.hi += carry
}

func (w wide) String() string {
	if w.hi == 0 {
		return strconv.FormatUint(w.lo, 10)
	}
	return "overflow"
}

// sortPositions orders by amount descending, then identifier ascending.
func sortPositions(ps []position) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].amount != ps[j].amount {
			return ps[i].amount > ps[j].amount
		}
		return ps[i].id < ps[j].id
	})
}

// Replay applies transfers to a copy of balances: the payer's balance rises
// by the amount and the payee's falls by it. A correct plan replays to all
// zeros. The input map is not modified.
func Replay(balances core.BalanceMap, transfers []core.Transfer) (core.BalanceMap, error) {
	out := balances.Clone()
	for i, t := range transfers {
		if t.Amount <= 0 {
			return nil, fmt.Errorf("transfer %d: %w: %d", i, core.ErrInvalidAmount, t.Amount)
		}
		if t.From == t.To {
			return nil, fmt.Errorf("transfer %d: self transfer for %s", i, t.From)
		}
		from, ok := out[t.From]
		if !ok {
			return nil, fmt.Errorf("transfer %d: payer %s: %w", i, t.From, core.ErrUnknownParticipant)
		}
		to, ok := out[t.To]
		if !ok {
			return nil, fmt.Errorf("transfer %d: payee %s: %w", i, t.To, core.ErrUnknownParticipant)
		}
		if from > math.MaxInt64-t.Amount || to < math.MinInt64+t.Amount {
			return nil, fmt.Errorf("transfer %d: %w: balance overflow", i, core.ErrInvalidAmount)
		}
		out[t.From] = from + t.Amount
		out[t.To] = to - t.Amount
	}
	return out, nil
}

// Verify reports an error unless transfers settle balances completely.
func Verify(balances core.BalanceMap, transfers []core.Transfer) error {
	after, err := Replay(balances, transfers)
	if err != nil {
		return err
	}
	for _, id := range after.Participants() {
		if v := after[id]; v != 0 {
			return fmt.Errorf("%w: %s left at %d after settlement", core.ErrUnbalancedLedger, id, v)
		}
	}
	return nil
}

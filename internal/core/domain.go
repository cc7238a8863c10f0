package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// PolicyUnset is the zero value. Ledgers refuse it: whether the payer
	// takes part in an equal split must always be chosen explicitly.
	PolicyUnset   SplitPolicy = ""
	PayerIncluded SplitPolicy = "payer_included"
	PayerExcluded SplitPolicy = "payer_excluded"
)

const (
	SplitEqual  SplitMethod = "equal"
	SplitShares SplitMethod = "shares"
	SplitExact  SplitMethod = "exact"
)

const maxDescriptionLen = 200

type (
	// ParticipantID is an opaque, stable participant identifier.
	ParticipantID string

	// SplitPolicy decides whether the payer of an equal split is one of the
	// sharers even when not listed as a beneficiary.
	SplitPolicy string

	// SplitMethod selects how an expense amount is divided.
	SplitMethod string

	Money struct {
		Cents int64
	}

	// ExpenseRecord is an immutable "who paid, who shares" fact.
	//
	// Portions is only read for SplitShares (positive weights) and
	// SplitExact (owed amounts in cents); its keys must match the
	// beneficiary set.
	ExpenseRecord struct {
		ID            string
		Payer         ParticipantID
		Amount        Money
		Beneficiaries []ParticipantID
		Split         SplitMethod
		Portions      map[ParticipantID]int64
		Description   string
		Timestamp     time.Time
		// Settlement marks a repayment between members. The ledger treats
		// it like any other record; reports leave it out of spending totals.
		Settlement bool
	}

	// BalanceMap holds net positions in minor units. Positive means the
	// participant is owed money, negative means they owe money.
	BalanceMap map[ParticipantID]int64

	// Transfer is a single settlement instruction: From pays To.
	Transfer struct {
		From   ParticipantID
		To     ParticipantID
		Amount int64
	}
)

var (
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidSplit       = errors.New("invalid split")
	ErrEmptyBeneficiaries = fmt.Errorf("%w: no beneficiaries", ErrInvalidSplit)
	ErrUnknownParticipant = errors.New("unknown participant")
	ErrUnbalancedLedger   = errors.New("unbalanced ledger")
	ErrInvalidPolicy      = errors.New("invalid split policy")
	ErrDuplicateRecord    = errors.New("duplicate expense record")
	ErrEmptyParticipant   = errors.New("empty participant id")
	ErrDescriptionTooLong = errors.New("description too long")
)

// PolicyFromFlag maps the payerParticipatesInSplit flag to a policy.
func PolicyFromFlag(payerParticipates bool) SplitPolicy {
	if payerParticipates {
		return PayerIncluded
	}
	return PayerExcluded
}

// ParsePolicy accepts the canonical names plus the boolean spellings used by
// configuration files ("true"/"false").
func ParsePolicy(s string) (SplitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(PayerIncluded), "true", "included":
		return PayerIncluded, nil
	case string(PayerExcluded), "false", "excluded":
		return PayerExcluded, nil
	default:
		return PolicyUnset, fmt.Errorf("%w: %q", ErrInvalidPolicy, s)
	}
}

func (p SplitPolicy) Validate() error {
	switch p {
	case PayerIncluded, PayerExcluded:
		return nil
	case PolicyUnset:
		return fmt.Errorf("%w: policy must be set explicitly", ErrInvalidPolicy)
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, string(p))
	}
}

// PayerParticipates reports the flag value behind the policy.
func (p SplitPolicy) PayerParticipates() bool {
	return p == PayerIncluded
}

// Normalize maps the empty method to SplitEqual.
func (m SplitMethod) Normalize() SplitMethod {
	if m == "" {
		return SplitEqual
	}
	return m
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Validate checks the record in isolation. Roster membership is checked by
// the ledger, which knows the participant universe.
func (e ExpenseRecord) Validate() error {
	if err := e.Amount.Validate(); err != nil {
		return fmt.Errorf("%w: %d cents", err, e.Amount.Cents)
	}
	if strings.TrimSpace(string(e.Payer)) == "" {
		return fmt.Errorf("payer: %w", ErrEmptyParticipant)
	}
	if len(e.Beneficiaries) == 0 {
		return ErrEmptyBeneficiaries
	}
	for _, b := range e.Beneficiaries {
		if strings.TrimSpace(string(b)) == "" {
			return fmt.Errorf("beneficiary: %w", ErrEmptyParticipant)
		}
	}
	if len(e.Description) > maxDescriptionLen {
		return fmt.Errorf("%w (max %d characters)", ErrDescriptionTooLong, maxDescriptionLen)
	}

	switch e.Split.Normalize() {
	case SplitEqual:
		if len(e.Portions) > 0 {
			return fmt.Errorf("%w: equal split takes no portions", ErrInvalidSplit)
		}
	case SplitShares, SplitExact:
		sharers := SortedUnique(e.Beneficiaries)
		if len(e.Portions) != len(sharers) {
			return fmt.Errorf("%w: %d portions for %d beneficiaries", ErrInvalidSplit, len(e.Portions), len(sharers))
		}
		for _, id := range sharers {
			v, ok := e.Portions[id]
			if !ok {
				return fmt.Errorf("%w: no portion for %s", ErrInvalidSplit, id)
			}
			if v < 0 || (v == 0 && e.Split == SplitShares) {
				return fmt.Errorf("%w: portion %d for %s", ErrInvalidSplit, v, id)
			}
		}
	default:
		return fmt.Errorf("%w: unknown method %q", ErrInvalidSplit, string(e.Split))
	}
	return nil
}

// Sharers returns the deduplicated beneficiaries in ascending order.
func (e ExpenseRecord) Sharers() []ParticipantID {
	return SortedUnique(e.Beneficiaries)
}

// SortedUnique returns ids deduplicated and sorted lexicographically. The
// input slice is not modified.
func SortedUnique(ids []ParticipantID) []ParticipantID {
	out := make([]ParticipantID, 0, len(ids))
	seen := make(map[ParticipantID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Sum adds every balance. A BalanceMap built from a closed set of records
// always sums to zero.
func (b BalanceMap) Sum() int64 {
	var total int64
	for _, v := range b {
		total += v
	}
	return total
}

// Clone returns an independent copy.
func (b BalanceMap) Clone() BalanceMap {
	out := make(BalanceMap, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// NonZero counts participants that are not settled.
func (b BalanceMap) NonZero() int {
	n := 0
	for _, v := range b {
		if v != 0 {
			n++
		}
	}
	return n
}

// IsSettled reports whether every balance is zero.
func (b BalanceMap) IsSettled() bool {
	return b.NonZero() == 0
}

// Participants returns the map keys in ascending order.
func (b BalanceMap) Participants() []ParticipantID {
	ids := make([]ParticipantID, 0, len(b))
	for id := range b {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (t Transfer) String() string {
	return fmt.Sprintf("%s -> %s %s", t.From, t.To, FormatCents(t.Amount))
}

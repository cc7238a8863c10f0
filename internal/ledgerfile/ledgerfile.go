// Package ledgerfile reads standalone ledgers from YAML files so a plan can
// be computed without a server:
//
//	name: Weekend trip
//	policy: payer_included
//	participants: [alice, bob, carol]
//	expenses:
//	  - payer: alice
//	    amount: 90.00
//	    beneficiaries: [alice, bob, carol]
//	    description: Dinner
//	  - payer: bob
//	    amount: 30
//	    beneficiaries: [alice, bob]
//	    split: shares
//	    portions: {alice: 2, bob: 1}
//	settlements:
//	  - from: carol
//	    to: alice
//	    amount: 10
package ledgerfile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"payup/internal/core"
	"payup/internal/ledger"
	"payup/internal/settlement"
)

var ErrInvalidFile = errors.New("invalid ledger file")

// Scalar keeps the literal text of a YAML scalar, so 12.30 stays "12.30"
// instead of passing through a float.
type Scalar string

func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar value", node.Line)
	}
	*s = Scalar(node.Value)
	return nil
}

type document struct {
	Name         string            `yaml:"name"`
	Policy       string            `yaml:"policy"`
	Participants []string          `yaml:"participants"`
	Expenses     []expenseEntry    `yaml:"expenses"`
	Settlements  []settlementEntry `yaml:"settlements"`
}

type expenseEntry struct {
	ID            string            `yaml:"id"`
	Payer         string            `yaml:"payer"`
	Amount        Scalar            `yaml:"amount"`
	Beneficiaries []string          `yaml:"beneficiaries"`
	Split         string            `yaml:"split"`
	Portions      map[string]Scalar `yaml:"portions"`
	Description   string            `yaml:"description"`
	Date          time.Time         `yaml:"date"`
}

type settlementEntry struct {
	From   string    `yaml:"from"`
	To     string    `yaml:"to"`
	Amount Scalar    `yaml:"amount"`
	Note   string    `yaml:"note"`
	Date   time.Time `yaml:"date"`
}

// Ledger is a parsed file: a roster, a policy and the records in file order.
type Ledger struct {
	Name         string
	Policy       core.SplitPolicy
	Participants []core.ParticipantID
	Records      []core.ExpenseRecord
}

// Load reads and parses the file at path.
func Load(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	l, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("ledger %s: %w", path, err)
	}
	return l, nil
}

// Parse decodes a ledger document. Unknown keys are rejected so typos do not
// silently drop data.
func Parse(r io.Reader) (*Ledger, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var doc document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidFile)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidFile, err)
	}

	policy, err := core.ParsePolicy(doc.Policy)
	if err != nil {
		return nil, fmt.Errorf("policy: %w", err)
	}
	if len(doc.Participants) == 0 {
		return nil, fmt.Errorf("%w: participants list is empty", ErrInvalidFile)
	}

	l := &Ledger{
		Name:   strings.TrimSpace(doc.Name),
		Policy: policy,
	}
	for _, p := range doc.Participants {
		l.Participants = append(l.Participants, core.ParticipantID(strings.TrimSpace(p)))
	}
	l.Participants = core.SortedUnique(l.Participants)

	for i, e := range doc.Expenses {
		rec, err := e.record()
		if err != nil {
			return nil, fmt.Errorf("expense %d: %w", i+1, err)
		}
		l.Records = append(l.Records, rec)
	}
	for i, s := range doc.Settlements {
		rec, err := s.record()
		if err != nil {
			return nil, fmt.Errorf("settlement %d: %w", i+1, err)
		}
		l.Records = append(l.Records, rec)
	}
	return l, nil
}

func (e expenseEntry) record() (core.ExpenseRecord, error) {
	amount, err := core.ParseDecimalToCents(string(e.Amount))
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("amount %q: %w", e.Amount, err)
	}
	rec := core.ExpenseRecord{
		ID:          strings.TrimSpace(e.ID),
		Payer:       core.ParticipantID(strings.TrimSpace(e.Payer)),
		Amount:      core.Money{Cents: amount},
		Split:       core.SplitMethod(strings.ToLower(strings.TrimSpace(e.Split))).Normalize(),
		Description: strings.TrimSpace(e.Description),
		Timestamp:   e.Date,
	}
	for _, b := range e.Beneficiaries {
		rec.Beneficiaries = append(rec.Beneficiaries, core.ParticipantID(strings.TrimSpace(b)))
	}

	if len(e.Portions) > 0 {
		rec.Portions = make(map[core.ParticipantID]int64, len(e.Portions))
		for id, raw := range e.Portions {
			v, err := portion(rec.Split, string(raw))
			if err != nil {
				return core.ExpenseRecord{}, fmt.Errorf("portion for %s: %w", id, err)
			}
			rec.Portions[core.ParticipantID(strings.TrimSpace(id))] = v
		}
	}
	return rec, nil
}

// portion reads a weight for shares splits and a decimal amount for exact
// splits. Equal splits take no portions; the ledger rejects them.
func portion(method core.SplitMethod, raw string) (int64, error) {
	raw = strings.TrimSpace(raw)
	switch method {
	case core.SplitExact:
		return core.ParsePortionToCents(raw)
	default:
		w, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: weight %q is not an integer", core.ErrInvalidSplit, raw)
		}
		return w, nil
	}
}

func (s settlementEntry) record() (core.ExpenseRecord, error) {
	from := core.ParticipantID(strings.TrimSpace(s.From))
	to := core.ParticipantID(strings.TrimSpace(s.To))
	if from == to {
		return core.ExpenseRecord{}, fmt.Errorf("%w: settlement from %q to itself", ErrInvalidFile, from)
	}
	amount, err := core.ParseDecimalToCents(string(s.Amount))
	if err != nil {
		return core.ExpenseRecord{}, fmt.Errorf("amount %q: %w", s.Amount, err)
	}
	note := strings.TrimSpace(s.Note)
	if note == "" {
		note = fmt.Sprintf("Settlement %s -> %s", from, to)
	}
	return core.ExpenseRecord{
		Payer:         from,
		Amount:        core.Money{Cents: amount},
		Beneficiaries: []core.ParticipantID{to},
		Split:         core.SplitExact,
		Portions:      map[core.ParticipantID]int64{to: amount},
		Description:   note,
		Timestamp:     s.Date,
		Settlement:    true,
	}, nil
}

// Summarize computes balances and the settlement plan, and checks that
// replaying the plan settles every balance.
func (l *Ledger) Summarize(now time.Time) (core.Summary, error) {
	balances, err := ledger.ComputeBalances(l.Policy, l.Records, l.Participants)
	if err != nil {
		return core.Summary{}, err
	}
	transfers, err := settlement.Plan(balances)
	if err != nil {
		return core.Summary{}, err
	}
	if err := settlement.Verify(balances, transfers); err != nil {
		return core.Summary{}, err
	}
	return core.Summary{
		GroupKey:   l.Name,
		Records:    len(l.Records),
		TotalSpent: ledger.TotalSpent(l.Records),
		Balances:   balances,
		Transfers:  transfers,
		ComputedAt: now,
	}, nil
}

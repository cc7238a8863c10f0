package ledgerfile

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"payup/internal/core"
	"payup/internal/log"
)

const tripYAML = `
name: Weekend trip
policy: payer_included
participants: [alice, bob, carol, alice]
expenses:
  - id: dinner
    payer: alice
    amount: 90.00
    beneficiaries: [alice, bob, carol]
    description: Dinner
    date: 2024-05-01
  - payer: bob
    amount: "30"
    beneficiaries: [alice, bob]
    split: shares
    portions: {alice: 2, bob: 1}
settlements:
  - from: carol
    to: alice
    amount: 10
`

func TestParse(t *testing.T) {
	l, err := Parse(strings.NewReader(tripYAML))
	require.NoError(t, err)

	assert.Equal(t, "Weekend trip", l.Name)
	assert.Equal(t, core.PayerIncluded, l.Policy)
	assert.Equal(t, []core.ParticipantID{"alice", "bob", "carol"}, l.Participants)
	require.Len(t, l.Records, 3)

	dinner := l.Records[0]
	assert.Equal(t, "dinner", dinner.ID)
	assert.Equal(t, int64(9000), dinner.Amount.Cents)
	assert.Equal(t, core.SplitEqual, dinner.Split)
	assert.True(t, dinner.Timestamp.Equal(time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)), dinner.Timestamp)

	assert.Equal(t, map[core.ParticipantID]int64{"alice": 2, "bob": 1}, l.Records[1].Portions)

	settle := l.Records[2]
	assert.True(t, settle.Settlement)
	assert.Equal(t, core.SplitExact, settle.Split)
	assert.Equal(t, map[core.ParticipantID]int64{"alice": 1000}, settle.Portions)
	assert.Equal(t, "Settlement carol -> alice", settle.Description)
}

func TestSummarize(t *testing.T) {
	l, err := Parse(strings.NewReader(tripYAML))
	require.NoError(t, err)

	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)
	sum, err := l.Summarize(now)
	require.NoError(t, err)

	assert.Equal(t, core.BalanceMap{"alice": 3000, "bob": -1000, "carol": -2000}, sum.Balances)
	assert.Equal(t, []core.Transfer{
		{From: "carol", To: "alice", Amount: 2000},
		{From: "bob", To: "alice", Amount: 1000},
	}, sum.Transfers)
	assert.Equal(t, int64(12000), sum.TotalSpent.Cents)
	assert.Equal(t, 3, sum.Records)
	assert.Equal(t, now, sum.ComputedAt)
}

func TestSummarizeUnknownParticipant(t *testing.T) {
	l, err := Parse(strings.NewReader(`
policy: payer_excluded
participants: [alice, bob]
expenses:
  - payer: alice
    amount: 5
    beneficiaries: [mallory]
`))
	require.NoError(t, err)

	_, err = l.Summarize(time.Now())
	assert.ErrorIs(t, err, core.ErrUnknownParticipant)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{"empty", ``, ErrInvalidFile},
		{"unknown key", "policy: true\nparticipants: [a]\ncurrency: EUR\n", ErrInvalidFile},
		{"missing policy", "participants: [a]\n", core.ErrInvalidPolicy},
		{"bad policy", "policy: maybe\nparticipants: [a]\n", core.ErrInvalidPolicy},
		{"no participants", "policy: true\n", ErrInvalidFile},
		{"bad amount", "policy: true\nparticipants: [a]\nexpenses:\n  - {payer: a, amount: abc, beneficiaries: [a]}\n", core.ErrInvalidAmount},
		{"negative amount", "policy: true\nparticipants: [a]\nexpenses:\n  - {payer: a, amount: -3, beneficiaries: [a]}\n", core.ErrInvalidAmount},
		{"fractional weight", "policy: true\nparticipants: [a]\nexpenses:\n  - {payer: a, amount: 3, beneficiaries: [a], split: shares, portions: {a: 1.5}}\n", core.ErrInvalidSplit},
		{"malformed zero portion", "policy: true\nparticipants: [a]\nexpenses:\n  - {payer: a, amount: 3, beneficiaries: [a], split: exact, portions: {a: \"0.0.0\"}}\n", core.ErrInvalidAmount},
		{"settlement to self", "policy: true\nparticipants: [a]\nsettlements:\n  - {from: a, to: a, amount: 1}\n", ErrInvalidFile},
		{"amount is a list", "policy: true\nparticipants: [a]\nexpenses:\n  - {payer: a, amount: [1], beneficiaries: [a]}\n", ErrInvalidFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestExactPortions(t *testing.T) {
	l, err := Parse(strings.NewReader(`
policy: payer_excluded
participants: [a, b]
expenses:
  - {payer: a, amount: "12.50", beneficiaries: [a, b], split: exact, portions: {a: "0.00", b: "12,50"}}
`))
	require.NoError(t, err)
	assert.Equal(t, map[core.ParticipantID]int64{"a": 0, "b": 1250}, l.Records[0].Portions)

	sum, err := l.Summarize(time.Now())
	require.NoError(t, err)
	assert.Equal(t, []core.Transfer{{From: "b", To: "a", Amount: 1250}}, sum.Transfers)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tripYAML), 0o644))

	l, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, l.Records, 3)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteReport(t *testing.T) {
	l, err := Parse(strings.NewReader(tripYAML))
	require.NoError(t, err)
	sum, err := l.Summarize(time.Now())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, l.Name, sum))
	out := buf.String()
	assert.Contains(t, out, "Weekend trip: 3 records, 120.00 spent")
	assert.Contains(t, out, "-20.00")
	assert.Contains(t, out, "FROM")
	assert.NotContains(t, out, "All settled.")

	buf.Reset()
	require.NoError(t, WriteReport(&buf, "", core.Summary{Balances: core.BalanceMap{"a": 0}}))
	assert.Contains(t, buf.String(), "All settled.")
}

func TestWatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trip.yaml")
	require.NoError(t, os.WriteFile(path, []byte(tripYAML), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Ledger, 16)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, log.Discard(), func(l *Ledger, err error) {
			if err == nil {
				reloaded <- l
			}
		})
	}()

	updated := strings.Replace(tripYAML, "name: Weekend trip", "name: Long weekend", 1)
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	// Keep writing until the watcher, which starts asynchronously, sees a change.
	for {
		select {
		case l := <-reloaded:
			assert.Equal(t, "Long weekend", l.Name)
			cancel()
			require.NoError(t, <-done)
			return
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte(updated), 0o644))
		case <-deadline:
			t.Fatal("watcher did not report a reload")
		}
	}
}

package ledger

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"payup/internal/core"
)

var roster = []core.ParticipantID{"A", "B", "C"}

func expense(id string, payer core.ParticipantID, cents int64, beneficiaries ...core.ParticipantID) core.ExpenseRecord {
	return core.ExpenseRecord{
		ID:            id,
		Payer:         payer,
		Amount:        core.Money{Cents: cents},
		Beneficiaries: beneficiaries,
	}
}

func TestNewRejectsUnsetPolicy(t *testing.T) {
	_, err := New(core.PolicyUnset)
	require.ErrorIs(t, err, core.ErrInvalidPolicy)

	_, err = New(core.PayerExcluded)
	require.NoError(t, err)
}

func TestComputeBalancesPayerIncluded(t *testing.T) {
	l, err := New(core.PayerIncluded)
	require.NoError(t, err)

	got, err := l.ComputeBalances([]core.ExpenseRecord{expense("e1", "A", 900, "A", "B", "C")}, roster)
	require.NoError(t, err)
	require.Equal(t, core.BalanceMap{"A": 600, "B": -300, "C": -300}, got)
}

func TestComputeBalancesPayerExcluded(t *testing.T) {
	l, err := New(core.PayerExcluded)
	require.NoError(t, err)

	got, err := l.ComputeBalances([]core.ExpenseRecord{expense("e1", "A", 900, "B", "C")}, roster)
	require.NoError(t, err)
	require.Equal(t, core.BalanceMap{"A": 900, "B": -450, "C": -450}, got)
}

func TestComputeBalancesRosterStartsAtZero(t *testing.T) {
	got, err := ComputeBalances(core.PayerIncluded, nil, []core.ParticipantID{"A", "B", "D"})
	require.NoError(t, err)
	require.Equal(t, core.BalanceMap{"A": 0, "B": 0, "D": 0}, got)
}

func TestComputeBalancesRemainder(t *testing.T) {
	got, err := ComputeBalances(core.PayerExcluded, []core.ExpenseRecord{expense("e1", "C", 100, "A", "B", "C")}, roster)
	require.NoError(t, err)
	require.Equal(t, core.BalanceMap{"A": -34, "B": -33, "C": 67}, got)
	require.Zero(t, got.Sum())
}

func TestComputeBalancesErrors(t *testing.T) {
	cases := []struct {
		name    string
		records []core.ExpenseRecord
		want    error
	}{
		{"unknown payer", []core.ExpenseRecord{expense("e1", "Z", 100, "A")}, core.ErrUnknownParticipant},
		{"unknown beneficiary", []core.ExpenseRecord{expense("e1", "A", 100, "B", "Z")}, core.ErrUnknownParticipant},
		{"empty beneficiaries", []core.ExpenseRecord{expense("e1", "A", 100)}, core.ErrInvalidSplit},
		{"zero amount", []core.ExpenseRecord{expense("e1", "A", 0, "B")}, core.ErrInvalidAmount},
		{"duplicate id", []core.ExpenseRecord{expense("e1", "A", 100, "B"), expense("e1", "A", 100, "B")}, core.ErrDuplicateRecord},
		{"overflow", []core.ExpenseRecord{expense("e1", "A", math.MaxInt64, "B"), expense("e2", "A", 1, "B")}, core.ErrInvalidAmount},
		{"invalid after valid", []core.ExpenseRecord{expense("e1", "A", 100, "B"), expense("e2", "A", 100, "Q")}, core.ErrUnknownParticipant},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ComputeBalances(core.PayerExcluded, tc.records, roster)
			require.ErrorIs(t, err, tc.want)
			require.Nil(t, got)
		})
	}
}

func TestComputeBalancesErrorNamesRecord(t *testing.T) {
	_, err := ComputeBalances(core.PayerExcluded, []core.ExpenseRecord{expense("dinner", "Z", 100, "A")}, roster)
	require.ErrorContains(t, err, "record dinner")

	_, err = ComputeBalances(core.PayerExcluded, []core.ExpenseRecord{expense("", "A", 100, "B"), expense("", "Z", 100, "A")}, roster)
	require.ErrorContains(t, err, "record #1")
}

func TestComputeBalancesEmptyIDsAreNotDuplicates(t *testing.T) {
	got, err := ComputeBalances(core.PayerExcluded, []core.ExpenseRecord{expense("", "A", 100, "B"), expense("", "A", 100, "B")}, roster)
	require.NoError(t, err)
	require.Equal(t, core.BalanceMap{"A": 200, "B": -200, "C": 0}, got)
}

func TestComputeBalancesSplitMethods(t *testing.T) {
	shares := expense("s", "A", 1000, "B", "C")
	shares.Split = core.SplitShares
	shares.Portions = map[core.ParticipantID]int64{"B": 3, "C": 1}

	exact := expense("x", "B", 500, "A", "C")
	exact.Split = core.SplitExact
	exact.Portions = map[core.ParticipantID]int64{"A": 120, "C": 380}

	got, err := ComputeBalances(core.PayerIncluded, []core.ExpenseRecord{shares, exact}, roster)
	require.NoError(t, err)
	require.Equal(t, core.BalanceMap{"A": 880, "B": -250, "C": -630}, got)
}

func TestComputeBalancesConservationAndOrderIndependence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	people := []core.ParticipantID{"ann", "bob", "cat", "dan", "eve"}

	var records []core.ExpenseRecord
	for i := 0; i < 200; i++ {
		payer := people[rng.Intn(len(people))]
		var ben []core.ParticipantID
		for _, p := range people {
			if rng.Intn(2) == 0 {
				ben = append(ben, p)
			}
		}
		if len(ben) == 0 {
			ben = append(ben, people[rng.Intn(len(people))])
		}
		records = append(records, core.ExpenseRecord{
			Payer:         payer,
			Amount:        core.Money{Cents: 1 + rng.Int63n(100000)},
			Beneficiaries: ben,
		})
	}

	for _, policy := range []core.SplitPolicy{core.PayerIncluded, core.PayerExcluded} {
		first, err := ComputeBalances(policy, records, people)
		require.NoError(t, err)
		require.Zero(t, first.Sum())

		shuffled := append([]core.ExpenseRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		second, err := ComputeBalances(policy, shuffled, people)
		require.NoError(t, err)
		require.Equal(t, first, second)
	}
}

func TestTotalSpentSkipsSettlements(t *testing.T) {
	payment := expense("p", "B", 300, "A")
	payment.Settlement = true
	total := TotalSpent([]core.ExpenseRecord{expense("e1", "A", 900, "B"), payment})
	require.Equal(t, int64(900), total.Cents)
}

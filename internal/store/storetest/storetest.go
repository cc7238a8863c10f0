// Package storetest holds behaviour tests shared by every store.GroupStore
// implementation.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"payup/internal/core"
	"payup/internal/store"
)

// Run exercises a fresh store returned by open for each subtest.
func Run(t *testing.T, open func(t *testing.T) store.GroupStore) {
	t.Run("groups", func(t *testing.T) { testGroups(t, open(t)) })
	t.Run("expenses", func(t *testing.T) { testExpenses(t, open(t)) })
	t.Run("plans", func(t *testing.T) { testPlans(t, open(t)) })
}

func newGroup(key string) core.Group {
	return core.Group{
		Key:       key,
		Name:      "Trip",
		Policy:    core.PayerIncluded,
		Members:   []core.ParticipantID{"alice"},
		CreatedBy: "alice",
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testGroups(t *testing.T, s store.GroupStore) {
	ctx := context.Background()

	require.NoError(t, s.CreateGroup(ctx, newGroup("ABC123")))
	require.ErrorIs(t, s.CreateGroup(ctx, newGroup("ABC123")), store.ErrConflict)

	added, err := s.AddMember(ctx, "ABC123", "bob")
	require.NoError(t, err)
	require.True(t, added)

	added, err = s.AddMember(ctx, "ABC123", "bob")
	require.NoError(t, err)
	require.False(t, added)

	_, err = s.AddMember(ctx, "NOPE00", "bob")
	require.ErrorIs(t, err, store.ErrNotFound)

	g, err := s.GetGroup(ctx, "ABC123")
	require.NoError(t, err)
	require.Equal(t, "Trip", g.Name)
	require.Equal(t, core.PayerIncluded, g.Policy)
	require.Equal(t, []core.ParticipantID{"alice", "bob"}, g.Members)
	require.Equal(t, core.ParticipantID("alice"), g.CreatedBy)
	require.True(t, g.CreatedAt.Equal(newGroup("").CreatedAt))

	_, err = s.GetGroup(ctx, "NOPE00")
	require.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.CreateGroup(ctx, newGroup("AAA111")))
	keys, err := s.ListGroupKeys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"AAA111", "ABC123"}, keys)
}

func testExpenses(t *testing.T, s store.GroupStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, newGroup("G1")))

	base := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)
	later := core.ExpenseRecord{
		ID:            "e2",
		Payer:         "bob",
		Amount:        core.Money{Cents: 1000},
		Beneficiaries: []core.ParticipantID{"alice", "bob"},
		Split:         core.SplitShares,
		Portions:      map[core.ParticipantID]int64{"alice": 3, "bob": 1},
		Description:   "hotel",
		Timestamp:     base.Add(time.Hour),
	}
	earlier := core.ExpenseRecord{
		ID:            "e1",
		Payer:         "alice",
		Amount:        core.Money{Cents: 900},
		Beneficiaries: []core.ParticipantID{"bob"},
		Description:   "dinner",
		Timestamp:     base,
	}
	payment := core.ExpenseRecord{
		ID:            "s1",
		Payer:         "bob",
		Amount:        core.Money{Cents: 100},
		Beneficiaries: []core.ParticipantID{"alice"},
		Split:         core.SplitExact,
		Portions:      map[core.ParticipantID]int64{"alice": 100},
		Timestamp:     base.Add(2 * time.Hour),
		Settlement:    true,
	}

	require.NoError(t, s.AppendExpense(ctx, "G1", later))
	require.NoError(t, s.AppendExpense(ctx, "G1", earlier))
	require.NoError(t, s.AppendExpense(ctx, "G1", payment))
	require.ErrorIs(t, s.AppendExpense(ctx, "G1", earlier), store.ErrConflict)
	require.ErrorIs(t, s.AppendExpense(ctx, "NOPE", earlier), store.ErrNotFound)

	got, err := s.ListExpenses(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Equal(t, "e1", got[0].ID)
	require.Equal(t, "e2", got[1].ID)
	require.Equal(t, "s1", got[2].ID)

	require.Equal(t, core.ParticipantID("alice"), got[0].Payer)
	require.Equal(t, int64(900), got[0].Amount.Cents)
	require.Equal(t, []core.ParticipantID{"bob"}, got[0].Beneficiaries)
	require.Equal(t, core.SplitEqual, got[0].Split.Normalize())
	require.Empty(t, got[0].Portions)
	require.Equal(t, "dinner", got[0].Description)
	require.True(t, got[0].Timestamp.Equal(base))

	require.Equal(t, core.SplitShares, got[1].Split)
	require.Equal(t, map[core.ParticipantID]int64{"alice": 3, "bob": 1}, got[1].Portions)
	require.ElementsMatch(t, []core.ParticipantID{"alice", "bob"}, got[1].Beneficiaries)

	require.True(t, got[2].Settlement)
	require.Equal(t, core.SplitExact, got[2].Split)

	// Returned records are copies.
	got[1].Portions["alice"] = 99
	again, err := s.ListExpenses(ctx, "G1")
	require.NoError(t, err)
	require.Equal(t, int64(3), again[1].Portions["alice"])

	_, err = s.ListExpenses(ctx, "NOPE")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testPlans(t *testing.T, s store.GroupStore) {
	ctx := context.Background()
	require.NoError(t, s.CreateGroup(ctx, newGroup("G2")))

	_, err := s.LatestPlan(ctx, "G2")
	require.ErrorIs(t, err, store.ErrNotFound)

	computed := time.Date(2024, 5, 3, 8, 30, 0, 0, time.UTC)
	first := core.Summary{
		GroupKey:   "G2",
		Records:    1,
		TotalSpent: core.Money{Cents: 900},
		Balances:   core.BalanceMap{"alice": 600, "bob": -300, "carol": -300},
		Transfers: []core.Transfer{
			{From: "bob", To: "alice", Amount: 300},
			{From: "carol", To: "alice", Amount: 300},
		},
		ComputedAt: computed,
	}
	require.NoError(t, s.SavePlan(ctx, first))

	second := first
	second.Records = 2
	second.Balances = core.BalanceMap{"alice": 0, "bob": 0, "carol": 0}
	second.Transfers = []core.Transfer{}
	second.ComputedAt = computed.Add(time.Minute)
	require.NoError(t, s.SavePlan(ctx, second))

	got, err := s.LatestPlan(ctx, "G2")
	require.NoError(t, err)
	require.Equal(t, 2, got.Records)
	require.Equal(t, int64(900), got.TotalSpent.Cents)
	require.Equal(t, second.Balances, got.Balances)
	require.Empty(t, got.Transfers)
	require.True(t, got.ComputedAt.Equal(second.ComputedAt))

	require.NoError(t, s.SavePlan(ctx, first))
	got, err = s.LatestPlan(ctx, "G2")
	require.NoError(t, err)
	require.Equal(t, first.Transfers, got.Transfers)

	require.ErrorIs(t, s.SavePlan(ctx, core.Summary{GroupKey: "NOPE"}), store.ErrNotFound)
}

package storage

import (
	"context"
	"path/filepath"
	"testing"

	"payup/internal/core"
	"payup/internal/store"
	"payup/internal/store/storetest"
)

func openTemp(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "payup.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.GroupStore { return openTemp(t) })
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payup.db")
	if err := RunMigrations(path); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := RunMigrations(path); err != nil {
		t.Fatalf("second run: %v", err)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payup.db")
	ctx := context.Background()

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	g := core.Group{Key: "KEEP01", Name: "Flat", Policy: core.PayerExcluded, Members: []core.ParticipantID{"a", "b"}, CreatedBy: "a"}
	if err := repo.CreateGroup(ctx, g); err != nil {
		t.Fatalf("create: %v", err)
	}
	rec := core.ExpenseRecord{ID: "x", Payer: "a", Amount: core.Money{Cents: 500}, Beneficiaries: []core.ParticipantID{"b", "b"}}
	if err := repo.AppendExpense(ctx, "KEEP01", rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	repo.Close()

	repo, err = NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer repo.Close()

	got, err := repo.GetGroup(ctx, "KEEP01")
	if err != nil || got.Policy != core.PayerExcluded || len(got.Members) != 2 {
		t.Fatalf("unexpected group after reopen: %+v err=%v", got, err)
	}
	recs, err := repo.ListExpenses(ctx, "KEEP01")
	if err != nil || len(recs) != 1 {
		t.Fatalf("unexpected expenses after reopen: %+v err=%v", recs, err)
	}
	// Duplicate beneficiaries collapse on write.
	if len(recs[0].Beneficiaries) != 1 || recs[0].Beneficiaries[0] != "b" {
		t.Fatalf("unexpected beneficiaries: %v", recs[0].Beneficiaries)
	}
}

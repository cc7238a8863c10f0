package postgres

import (
	"context"
	"os"
	"testing"

	"payup/internal/store"
	"payup/internal/store/storetest"
)

// Set PAYUP_TEST_DATABASE_URL to run against a disposable database; every
// subtest truncates all tables.
func TestPostgresStore(t *testing.T) {
	url := os.Getenv("PAYUP_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("PAYUP_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := New(ctx, url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	storetest.Run(t, func(t *testing.T) store.GroupStore {
		if _, err := db.pool.Exec(ctx, `TRUNCATE expense_groups CASCADE`); err != nil {
			t.Fatalf("truncate: %v", err)
		}
		return db
	})
}

//go:build integration

package store_test

import (
	"testing"

	"github.com/liamcoop/prepbook/internal/testutil"
	"github.com/liamcoop/prepbook/store"
)

func TestPostgresStore(t *testing.T) {
	testStore(t, store.NewPostgresStore(testutil.PostgresDB(t)))
}

func TestMigrate_Idempotent(t *testing.T) {
	url := testutil.PostgresURL(t)

	if err := store.Migrate(url); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}

	m, err := store.NewMigrator(url)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil {
		t.Fatalf("Version() error = %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("Version() = %d, dirty=%v, want 1 and clean", version, dirty)
	}
}

package testfixtures

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/example/mess-attendance/internal/domain"
	"github.com/example/mess-attendance/internal/persistence"
	"github.com/example/mess-attendance/internal/persistence/memory"
	"github.com/example/mess-attendance/internal/persistence/sqlite"
)

// StoreHarness names a store implementation for table driven contract tests.
type StoreHarness struct {
	Name string
	Open func(tb testing.TB) persistence.Store
}

// Harnesses lists every store implementation.
func Harnesses() []StoreHarness {
	return []StoreHarness{
		{Name: "memory", Open: NewMemoryStore},
		{Name: "sqlite", Open: NewSQLiteStore},
	}
}

// NewSQLiteStore opens a migrated SQLite store in a temporary directory. The
// store is closed when the test finishes.
func NewSQLiteStore(tb testing.TB) persistence.Store {
	tb.Helper()

	path := filepath.Join(tb.TempDir(), "mess.db")
	storage, err := sqlite.Open(path)
	if err != nil {
		tb.Fatalf("failed to open storage: %v", err)
	}
	if err := storage.Migrate(context.Background()); err != nil {
		_ = storage.Close()
		tb.Fatalf("failed to migrate storage: %v", err)
	}
	tb.Cleanup(func() { _ = storage.Close() })
	return storage
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore(tb testing.TB) persistence.Store {
	tb.Helper()
	return memory.New()
}

// SeedUsers registers users with the given role.
func SeedUsers(tb testing.TB, store persistence.UserRepository, role domain.Role, ids ...string) {
	tb.Helper()
	for _, id := range ids {
		if err := store.UpsertUser(context.Background(), id, role); err != nil {
			tb.Fatalf("failed to seed user %s: %v", id, err)
		}
	}
}

// SeedSlots stores the given slots.
func SeedSlots(tb testing.TB, store persistence.MealSlotRepository, slots ...domain.MealSlot) {
	tb.Helper()
	for _, slot := range slots {
		if err := store.UpsertMealSlot(context.Background(), slot); err != nil {
			tb.Fatalf("failed to seed slot %s: %v", slot.MealType, err)
		}
	}
}

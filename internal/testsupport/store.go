package testsupport

import (
	"context"
	"testing"

	"digest/internal/config"
	"digest/internal/registry"
)

// MustOpenStore opens a registry.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// RegisterItems seeds pending items for tests using the provided store.
func RegisterItems(t testing.TB, store *registry.Store, ids ...string) {
	t.Helper()

	if err := store.Register(context.Background(), ids, nil); err != nil {
		t.Fatalf("store.Register: %v", err)
	}
}

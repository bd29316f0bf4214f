package testsupport

import (
	"context"
	"testing"

	"cinesync/internal/catalog"
	"cinesync/internal/config"
	"cinesync/internal/review"
)

// MustOpenCatalog opens the catalog described by cfg and registers cleanup.
func MustOpenCatalog(t testing.TB, cfg *config.Config) *catalog.Store {
	t.Helper()

	store, err := catalog.OpenFromConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// MustOpenReview opens the review store for cfg and registers cleanup.
func MustOpenReview(t testing.TB, cfg *config.Config) *review.Store {
	t.Helper()

	store, err := review.Open(cfg)
	if err != nil {
		t.Fatalf("review.Open: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

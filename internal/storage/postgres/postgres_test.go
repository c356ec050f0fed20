package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/swarmguard/fluxion/internal/storage/storagetest"
)

// TestConformance runs the shared storage conformance suite against a real
// Postgres instance named by FLUXION_TEST_POSTGRES_DSN. It is skipped
// otherwise; CI environments with a Postgres service container set this
// variable, mirroring the example pack's integration-test gating pattern.
func TestConformance(t *testing.T) {
	dsn := os.Getenv("FLUXION_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("FLUXION_TEST_POSTGRES_DSN not set; skipping postgres conformance suite")
	}
	ctx := context.Background()
	store, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres store: %v", err)
	}
	defer store.Close()
	storagetest.Run(t, store)
}

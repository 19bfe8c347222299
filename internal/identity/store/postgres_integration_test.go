//go:build integration

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"veriledger/pkg/testutil/containers"
)

// TestPostgresStoreSuite runs the same conformance suite as the in-memory
// store against a disposable Postgres container.
func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := containers.NewPostgresDB(t)

	suite.Run(t, &StoreSuite{newStore: func() Store {
		pg := NewPostgres(db)
		require.NoError(t, pg.EnsureSchema(ctx))
		_, err := db.ExecContext(ctx, "TRUNCATE identities")
		require.NoError(t, err)
		return pg
	}})
}

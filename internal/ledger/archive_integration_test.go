//go:build integration

package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"veriledger/pkg/testutil/containers"
)

// TestPostgresArchiveRoundTrip proves a chain survives a restart: blocks
// archived by one chain instance restore into a second one and still pass
// validation, which requires the stored timestamps to recompute the exact
// same digests.
func TestPostgresArchiveRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db := containers.NewPostgresDB(t)

	archive := NewPostgresArchive(db)
	require.NoError(t, archive.EnsureSchema(ctx))

	policy := NewProofOfWork(1)
	first, err := New(policy, WithArchive(archive))
	require.NoError(t, err)
	require.NoError(t, first.Load(ctx))

	for _, payload := range []string{"alpha", "beta", "gamma"} {
		_, err := first.Append(ctx, []byte(payload))
		require.NoError(t, err)
	}
	require.NoError(t, first.Validate())

	second, err := New(policy, WithArchive(archive))
	require.NoError(t, err)
	require.NoError(t, second.Load(ctx))

	require.Equal(t, first.Len(), second.Len())
	require.NoError(t, second.Validate())
	require.Equal(t, first.Tip().Hash, second.Tip().Hash)

	restored, ok := second.ByIndex(2)
	require.True(t, ok)
	require.Equal(t, []byte("beta"), restored.Payload)
}

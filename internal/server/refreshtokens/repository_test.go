package refreshtokens

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_RevokeAndPrune(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryRepository()
	now := time.Date(2024, 4, 10, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	ok, err := r.IsRevoked(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, r.Revoke(ctx, "t1", now.Add(time.Hour)))
	ok, _ = r.IsRevoked(ctx, "t1")
	assert.True(t, ok)

	now = now.Add(2 * time.Hour)
	require.NoError(t, r.Revoke(ctx, "t2", now.Add(time.Hour)))
	ok, _ = r.IsRevoked(ctx, "t1")
	assert.False(t, ok, "expired revocations are pruned")
	ok, _ = r.IsRevoked(ctx, "t2")
	assert.True(t, ok)
}

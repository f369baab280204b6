package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKV_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	kv := NewMemoryKV()
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.SetEx(ctx, "short", "v", time.Minute))
	require.NoError(t, kv.SetEx(ctx, "forever", "v", 0))

	now = now.Add(2 * time.Minute)

	_, ok, err := kv.Get(ctx, "short")
	require.NoError(t, err)
	assert.False(t, ok, "expired key must disappear")

	_, ok, err = kv.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, ok)
}

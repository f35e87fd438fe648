package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKeeper_Lifecycle(t *testing.T) {
	ctx := context.Background()
	k := NewMemoryKeeper(time.Hour)

	resp, err := k.Reserve(ctx, "user:pay-1")
	require.NoError(t, err)
	assert.Nil(t, resp)

	_, err = k.Reserve(ctx, "user:pay-1")
	assert.ErrorIs(t, err, ErrInProgress)

	want := Response{Status: 201, Body: json.RawMessage(`{"id":"x"}`)}
	require.NoError(t, k.Complete(ctx, "user:pay-1", want))

	resp, err = k.Reserve(ctx, "user:pay-1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, want.Status, resp.Status)
	assert.JSONEq(t, `{"id":"x"}`, string(resp.Body))
}

func TestMemoryKeeper_ReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	k := NewMemoryKeeper(0)

	_, err := k.Reserve(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, k.Release(ctx, "k"))

	resp, err := k.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestMemoryKeeper_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 10, 17, 0, 0, 0, 0, time.UTC)
	k := NewMemoryKeeper(time.Minute)
	k.now = func() time.Time { return now }

	require.NoError(t, k.Complete(ctx, "k", Response{Status: 200}))
	now = now.Add(2 * time.Minute)

	resp, err := k.Reserve(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, resp)
}

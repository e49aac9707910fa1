package twofactor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPartialTokenStore(t *testing.T) *PartialTokenStore {
	t.Helper()
	return NewPartialTokenStore(testConfig(), setupTestStorage(t))
}

func TestPartialTokenRedeem(t *testing.T) {
	store := newTestPartialTokenStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, 42, "10.0.0.1")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := store.Redeem(ctx, token, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)
}

func TestPartialTokenSingleUse(t *testing.T) {
	store := newTestPartialTokenStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, 42, "10.0.0.1")
	require.NoError(t, err)

	_, err = store.Redeem(ctx, token, "10.0.0.1")
	require.NoError(t, err)
	_, err = store.Redeem(ctx, token, "10.0.0.1")
	assert.ErrorIs(t, err, ErrPartialTokenInvalid)
}

func TestPartialTokenIPBound(t *testing.T) {
	store := newTestPartialTokenStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, 42, "10.0.0.1")
	require.NoError(t, err)

	_, err = store.Redeem(ctx, token, "192.168.1.1")
	assert.ErrorIs(t, err, ErrPartialTokenInvalid)

	// the mismatched attempt burned the token
	_, err = store.Redeem(ctx, token, "10.0.0.1")
	assert.ErrorIs(t, err, ErrPartialTokenInvalid)
}

func TestPartialTokenUnknown(t *testing.T) {
	store := newTestPartialTokenStore(t)
	ctx := context.Background()

	_, err := store.Redeem(ctx, "never-issued", "10.0.0.1")
	assert.ErrorIs(t, err, ErrPartialTokenInvalid)
}

func TestPartialTokenPeek(t *testing.T) {
	store := newTestPartialTokenStore(t)
	ctx := context.Background()

	token, err := store.Issue(ctx, 42, "10.0.0.1")
	require.NoError(t, err)

	// peeking does not consume
	userID, err := store.Peek(ctx, token, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)

	_, err = store.Peek(ctx, token, "192.168.1.1")
	assert.ErrorIs(t, err, ErrPartialTokenInvalid)

	userID, err = store.Redeem(ctx, token, "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)
}

package auth

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kinshiphq/kinship/internal/store"
)

func newTestIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTokenIssuer("0123456789abcdef0123456789abcdef", store.NewRedisStorage(client))
}

func TestTokenIssueAndParse(t *testing.T) {
	issuer := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, 42, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	claims, err := issuer.ParseAccessToken(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestTokenParseRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t)

	_, err := issuer.ParseAccessToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrTokenInvalid)
	_, err = issuer.ParseAccessToken("")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestTokenParseRejectsWrongKey(t *testing.T) {
	issuer := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, 42, "alice")
	require.NoError(t, err)

	other := NewTokenIssuer("another-master-key-entirely-here", issuer.refresh.Storage())
	_, err = other.ParseAccessToken(pair.AccessToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTokenSingleUse(t *testing.T) {
	issuer := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, 42, "alice")
	require.NoError(t, err)

	userID, err := issuer.Redeem(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, uint(42), userID)

	_, err = issuer.Redeem(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestRefreshTokenRevoke(t *testing.T) {
	issuer := newTestIssuer(t)
	ctx := context.Background()

	pair, err := issuer.Issue(ctx, 42, "alice")
	require.NoError(t, err)

	issuer.Revoke(ctx, pair.RefreshToken)
	_, err = issuer.Redeem(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	// revoking twice is harmless
	issuer.Revoke(ctx, pair.RefreshToken)
}

func TestRefreshTokenUnknown(t *testing.T) {
	issuer := newTestIssuer(t)

	_, err := issuer.Redeem(context.Background(), "never-issued")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

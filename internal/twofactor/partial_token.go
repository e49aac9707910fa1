package twofactor

import (
	"context"
	"log/slog"
	"time"

	"github.com/kinshiphq/kinship/internal/common"
	"github.com/kinshiphq/kinship/internal/store"
	"github.com/kinshiphq/kinship/params"
)

// partialTokenData is the server-side half of a pending login. The bearer
// token itself is never stored; its keyed hash is the cache key.
type partialTokenData struct {
	UserID   uint   `redis:"userId"`
	IP       string `redis:"ip"`
	IssuedAt int64  `redis:"issuedAt"`
}

// PartialTokenStore tracks logins that passed the password check but still
// owe a second factor. Tokens are single use: Redeem pops the entry whether
// or not the redeeming request is accepted, so a token can never be retried.
type PartialTokenStore struct {
	cfg   Config
	cache store.Store[partialTokenData]
}

func (s *PartialTokenStore) cacheKey(token string) string {
	return common.CalculateHash(s.cfg.MasterKey, "partial", token)
}

// Issue mints a fresh partial token bound to the caller's IP.
func (s *PartialTokenStore) Issue(ctx context.Context, userID uint, ip string) (string, error) {
	token, err := common.GenerateSecret(48)
	if err != nil {
		return "", err
	}
	data := partialTokenData{
		UserID:   userID,
		IP:       ip,
		IssuedAt: time.Now().Unix(),
	}
	if err := s.cache.Set(ctx, s.cacheKey(token), data, s.cfg.PartialTokenTTL); err != nil {
		return "", err
	}
	return token, nil
}

// Peek resolves the token without consuming it. Used by code resend, which
// must leave the pending login intact.
func (s *PartialTokenStore) Peek(ctx context.Context, token string, ip string) (uint, error) {
	data, err := s.cache.Get(ctx, s.cacheKey(token))
	if err != nil {
		return 0, ErrPartialTokenInvalid
	}
	if data.IP != ip {
		return 0, ErrPartialTokenInvalid
	}
	return data.UserID, nil
}

// Redeem consumes the token and returns the user it belongs to. The entry is
// removed before any check, so a mismatched IP burns the token instead of
// leaving it open for another try.
func (s *PartialTokenStore) Redeem(ctx context.Context, token string, ip string) (uint, error) {
	data, err := s.cache.Take(ctx, s.cacheKey(token))
	if err == store.ErrNotFound {
		return 0, ErrPartialTokenInvalid
	}
	if err != nil {
		slog.Error("Partial token lookup failed", "error", err)
		return 0, ErrPartialTokenInvalid
	}
	if data.IP != ip {
		slog.Warn("Partial token redeemed from different address", "user", data.UserID)
		return 0, ErrPartialTokenInvalid
	}
	return data.UserID, nil
}

func NewPartialTokenStore(cfg Config, storage store.Storage) *PartialTokenStore {
	return &PartialTokenStore{
		cfg:   cfg.withDefaults(),
		cache: store.New[partialTokenData](storage, params.PartialTokenKeyPrefix),
	}
}

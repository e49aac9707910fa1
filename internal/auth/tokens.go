package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kinshiphq/kinship/internal/common"
	"github.com/kinshiphq/kinship/internal/store"
	"github.com/kinshiphq/kinship/params"
)

var (
	ErrTokenInvalid = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
)

const refreshTokenKeyPrefix = "rt:"

// TokenClaims is the JWT payload for access tokens.
type TokenClaims struct {
	UserID   uint   `json:"uid"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// TokenPair is handed to the client after a fully authenticated login.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

type refreshData struct {
	UserID   uint  `redis:"userId"`
	IssuedAt int64 `redis:"issuedAt"`
}

// TokenIssuer signs short-lived access JWTs and manages single-use refresh
// tokens. Refresh tokens are opaque cache entries; redeeming one deletes it,
// so every refresh rotates the pair and a replayed token fails.
type TokenIssuer struct {
	masterKey string
	refresh   store.Store[refreshData]
}

func (i *TokenIssuer) signAccessToken(userID uint, username string, expiresAt time.Time) (string, error) {
	claims := TokenClaims{
		UserID:   userID,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(i.masterKey))
}

// Issue mints a fresh access/refresh pair.
func (i *TokenIssuer) Issue(ctx context.Context, userID uint, username string) (*TokenPair, error) {
	expiresAt := time.Now().Add(params.AccessTokenExpiration)
	accessToken, err := i.signAccessToken(userID, username, expiresAt)
	if err != nil {
		return nil, err
	}
	refreshToken, err := common.GenerateSecret(48)
	if err != nil {
		return nil, err
	}
	key := common.CalculateHash(i.masterKey, "refresh", refreshToken)
	data := refreshData{UserID: userID, IssuedAt: time.Now().Unix()}
	if err := i.refresh.Set(ctx, key, data, params.RefreshTokenExpiration); err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    expiresAt,
	}, nil
}

// Redeem consumes a refresh token and returns the owning user. Single use:
// the winner of a concurrent redeem gets the user, everyone else
// ErrTokenInvalid.
func (i *TokenIssuer) Redeem(ctx context.Context, refreshToken string) (uint, error) {
	key := common.CalculateHash(i.masterKey, "refresh", refreshToken)
	data, err := i.refresh.Take(ctx, key)
	if err == store.ErrNotFound {
		return 0, ErrTokenInvalid
	}
	if err != nil {
		return 0, err
	}
	return data.UserID, nil
}

// Revoke drops a refresh token at logout. Missing tokens are not an error.
func (i *TokenIssuer) Revoke(ctx context.Context, refreshToken string) {
	key := common.CalculateHash(i.masterKey, "refresh", refreshToken)
	_ = i.refresh.Delete(ctx, key)
}

// ParseAccessToken verifies the signature and expiry of an access JWT.
func (i *TokenIssuer) ParseAccessToken(tokenStr string) (*TokenClaims, error) {
	var claims TokenClaims
	token, err := jwt.ParseWithClaims(tokenStr, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(i.masterKey), nil
	})
	if errors.Is(err, jwt.ErrTokenExpired) {
		return nil, ErrTokenExpired
	}
	if err != nil {
		return nil, ErrTokenInvalid
	}
	if !token.Valid {
		return nil, ErrTokenInvalid
	}
	return &claims, nil
}

func NewTokenIssuer(masterKey string, storage store.Storage) *TokenIssuer {
	return &TokenIssuer{
		masterKey: masterKey,
		refresh:   store.New[refreshData](storage, refreshTokenKeyPrefix),
	}
}

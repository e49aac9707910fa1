package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kinshiphq/kinship/internal/common"
	"github.com/kinshiphq/kinship/internal/store"
	"github.com/kinshiphq/kinship/internal/users"
	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const (
	ProviderGoogle    = "google"
	googleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

var (
	ErrInvalidState     = errors.New("invalid or expired oauth state")
	ErrEmailNotVerified = errors.New("oauth email is not verified")
	ErrProviderRejected = errors.New("provider rejected the exchange")
)

type googleUserInfo struct {
	Subject       string `json:"sub"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
}

type stateData struct {
	Redirect string `redis:"redirect"`
}

// GoogleProvider runs the authorization-code flow against Google and
// resolves the identity to a local account. The state nonce lives in the
// cache with the same single-use pop as every other login artifact.
type GoogleProvider struct {
	oauthCfg *oauth2.Config
	states   store.Store[stateData]
	userSvc  *users.UserService
}

// AuthURL mints a state nonce and returns the provider redirect URL.
func (p *GoogleProvider) AuthURL(ctx context.Context, redirect string) (string, error) {
	state, err := common.GenerateSecret(32)
	if err != nil {
		return "", err
	}
	err = p.states.Set(ctx, state, stateData{Redirect: redirect}, params.OAuthStateExpiration)
	if err != nil {
		return "", err
	}
	return p.oauthCfg.AuthCodeURL(state, oauth2.AccessTypeOnline), nil
}

// Exchange consumes the state, trades the code for tokens and returns the
// linked (or freshly created) local user plus the post-login redirect.
func (p *GoogleProvider) Exchange(ctx context.Context, state, code string) (*model.User, string, error) {
	data, err := p.states.Take(ctx, state)
	if err != nil {
		return nil, "", ErrInvalidState
	}
	token, err := p.oauthCfg.Exchange(ctx, code)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrProviderRejected, err)
	}
	info, err := p.fetchUserInfo(ctx, token)
	if err != nil {
		return nil, "", err
	}
	if !info.EmailVerified {
		return nil, "", ErrEmailNotVerified
	}
	user, err := p.userSvc.GetOrCreateOAuthUser(ctx, ProviderGoogle, info.Subject, info.Email, info.Name, info.Picture)
	if err != nil {
		return nil, "", err
	}
	return user, data.Redirect, nil
}

func (p *GoogleProvider) fetchUserInfo(ctx context.Context, token *oauth2.Token) (*googleUserInfo, error) {
	client := p.oauthCfg.Client(ctx, token)
	resp, err := client.Get(googleUserInfoURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("userinfo endpoint returned status %d", resp.StatusCode)
	}
	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, err
	}
	return &info, nil
}

func NewGoogleProvider(clientID, clientSecret, redirectURL string, scopes []string, storage store.Storage, userSvc *users.UserService) *GoogleProvider {
	if len(scopes) == 0 {
		scopes = []string{"openid", "email", "profile"}
	}
	return &GoogleProvider{
		oauthCfg: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  redirectURL,
			Scopes:       scopes,
			Endpoint:     google.Endpoint,
		},
		states:  store.New[stateData](storage, params.OAuthStateKeyPrefix),
		userSvc: userSvc,
	}
}

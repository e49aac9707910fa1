package magiclink

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kinshiphq/kinship/internal/common"
	"github.com/kinshiphq/kinship/internal/mail"
	"github.com/kinshiphq/kinship/internal/store"
	"github.com/kinshiphq/kinship/internal/users"
	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
)

var ErrLinkInvalid = errors.New("invalid or expired sign-in link")

type linkData struct {
	UserID   uint  `redis:"userId"`
	IssuedAt int64 `redis:"issuedAt"`
}

// Service mails single-use sign-in links. The link token is a cache entry
// consumed on first redemption, valid or not, like every other login
// artifact.
type Service struct {
	masterKey string
	baseURL   string
	links     store.Store[linkData]
	userSvc   *users.UserService
	mailer    mail.MailSender
}

func (s *Service) cacheKey(token string) string {
	return common.CalculateHash(s.masterKey, "magiclink", token)
}

// Request mails a sign-in link to the address when an account exists. An
// unknown address is not an error, so the endpoint does not leak which
// emails are registered.
func (s *Service) Request(ctx context.Context, email string) error {
	user, err := s.userSvc.GetUserByEmail(ctx, email)
	if errors.Is(err, users.ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	token, err := common.GenerateSecret(48)
	if err != nil {
		return err
	}
	data := linkData{UserID: user.ID, IssuedAt: time.Now().Unix()}
	if err := s.links.Set(ctx, s.cacheKey(token), data, params.MagicLinkExpiration); err != nil {
		return err
	}
	loginURL := fmt.Sprintf("%s/login/magic?token=%s", s.baseURL, url.QueryEscape(token))
	return mail.SendMagicLink(s.mailer, user.Email, loginURL, int(params.MagicLinkExpiration.Minutes()))
}

// Redeem consumes the link token and returns its user.
func (s *Service) Redeem(ctx context.Context, token string) (*model.User, error) {
	data, err := s.links.Take(ctx, s.cacheKey(token))
	if err != nil {
		return nil, ErrLinkInvalid
	}
	user, err := s.userSvc.GetUserByID(ctx, data.UserID)
	if err != nil {
		return nil, ErrLinkInvalid
	}
	return user, nil
}

func NewService(masterKey, baseURL string, storage store.Storage, userSvc *users.UserService, mailer mail.MailSender) *Service {
	return &Service{
		masterKey: masterKey,
		baseURL:   baseURL,
		links:     store.New[linkData](storage, params.MagicLinkKeyPrefix),
		userSvc:   userSvc,
		mailer:    mailer,
	}
}

package users

import (
	"context"
	"errors"
	"net/mail"

	"github.com/kinshiphq/kinship/model"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type CreateUserOptions struct {
	Username string
	FullName string
	Email    string
	Picture  string
	Password string
}

type UserService struct {
	userRepo      UserRepository
	userOAuthRepo UserOAuthRepository
}

func (s *UserService) GetUserByID(ctx context.Context, userID uint) (*model.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrUserNotFound
	}
	user, err := s.userRepo.GetByEmail(ctx, email)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

func (s *UserService) GetUserByUsernameOrEmail(ctx context.Context, identifier string) (*model.User, error) {
	var (
		user *model.User
		err  error
	)
	if _, mailErr := mail.ParseAddress(identifier); mailErr == nil {
		user, err = s.userRepo.GetByEmail(ctx, identifier)
	} else {
		user, err = s.userRepo.GetByUsername(ctx, identifier)
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	return user, err
}

// Authenticate checks the password stage of a login. The 2FA stage, if
// enabled, is the caller's responsibility.
func (s *UserService) Authenticate(ctx context.Context, identifier string, password string) (*model.User, error) {
	if password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.GetUserByUsernameOrEmail(ctx, identifier)
	if errors.Is(err, ErrUserNotFound) {
		// burn a comparison anyway so user enumeration can't time the lookup
		bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000uGyyRD8kXP4Bw8vDvHUw3croS9dO9Jda"), []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if user.Disabled {
		return nil, ErrUserDisabled
	}
	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *UserService) CreateUser(ctx context.Context, opts CreateUserOptions) (*model.User, error) {
	if _, err := mail.ParseAddress(opts.Email); err != nil {
		return nil, err
	}
	if _, err := s.userRepo.GetByEmail(ctx, opts.Email); err == nil {
		return nil, ErrEmailRegistered
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if _, err := s.userRepo.GetByUsername(ctx, opts.Username); err == nil {
		return nil, ErrUsernameTaken
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Username: opts.Username,
		FullName: opts.FullName,
		Email:    opts.Email,
		Picture:  opts.Picture,
		Password: string(hashed),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailRegistered
		}
		return nil, err
	}
	return user, nil
}

// GetOrCreateOAuthUser resolves an external identity to a local account,
// linking by verified email when the account already exists.
func (s *UserService) GetOrCreateOAuthUser(ctx context.Context, provider, subject, email, fullName, picture string) (*model.User, error) {
	link, err := s.userOAuthRepo.GetBySubject(ctx, provider, subject)
	if err == nil {
		return s.GetUserByID(ctx, link.UserID)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	user, err := s.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		user, err = s.CreateUser(ctx, CreateUserOptions{
			Username: subject[:min(len(subject), 32)],
			FullName: fullName,
			Email:    email,
			Picture:  picture,
			Password: "",
		})
	}
	if err != nil {
		return nil, err
	}

	err = s.userOAuthRepo.Create(ctx, &model.UserOAuth{
		UserID:   user.ID,
		Provider: provider,
		Subject:  subject,
		Email:    email,
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) ChangePassword(ctx context.Context, userID uint, newPassword string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return s.userRepo.Updates(ctx, userID, map[string]interface{}{"password": string(hashed)})
}

func NewUserService(userRepo UserRepository, userOAuthRepo UserOAuthRepository) *UserService {
	return &UserService{
		userRepo:      userRepo,
		userOAuthRepo: userOAuthRepo,
	}
}

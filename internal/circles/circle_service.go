package circles

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/kinshiphq/kinship/internal/common"
	"github.com/kinshiphq/kinship/internal/mail"
	"github.com/kinshiphq/kinship/internal/users"
	"github.com/kinshiphq/kinship/model"
	"github.com/kinshiphq/kinship/params"
	"gorm.io/gorm"
)

func validRole(role string) bool {
	switch role {
	case model.CircleRoleOwner, model.CircleRoleAdult, model.CircleRoleChild:
		return true
	}
	return false
}

// CircleService owns circle membership: creation, invitations, roles and
// the child-profile upgrade path.
type CircleService struct {
	baseURL    string
	circleRepo CircleRepository
	userSvc    *users.UserService
	mailer     mail.MailSender
}

// CreateCircle creates the circle and enrolls the creator as owner in one
// transaction.
func (s *CircleService) CreateCircle(ctx context.Context, ownerID uint, name string) (*model.Circle, error) {
	circle := &model.Circle{Name: name, OwnerID: ownerID}
	err := s.circleRepo.Transaction(ctx, func(repo CircleRepository) error {
		if err := repo.Create(ctx, circle); err != nil {
			return err
		}
		return repo.AddMember(ctx, &model.CircleMember{
			CircleID: circle.ID,
			UserID:   ownerID,
			Role:     model.CircleRoleOwner,
		})
	})
	if err != nil {
		return nil, err
	}
	return circle, nil
}

func (s *CircleService) GetCircle(ctx context.Context, circleID uint) (*model.Circle, error) {
	circle, err := s.circleRepo.GetByID(ctx, circleID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCircleNotFound
	}
	return circle, err
}

func (s *CircleService) ListCircles(ctx context.Context, userID uint) ([]*model.Circle, error) {
	return s.circleRepo.ListByUser(ctx, userID)
}

// Membership returns the caller's membership row or ErrNotMember.
func (s *CircleService) Membership(ctx context.Context, circleID, userID uint) (*model.CircleMember, error) {
	member, err := s.circleRepo.GetMember(ctx, circleID, userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotMember
	}
	return member, err
}

func (s *CircleService) ListMembers(ctx context.Context, circleID, callerID uint) ([]*model.CircleMember, error) {
	if _, err := s.Membership(ctx, circleID, callerID); err != nil {
		return nil, err
	}
	return s.circleRepo.ListMembers(ctx, circleID)
}

// Invite mails a join token to the address. Only the owner can invite, and
// an existing member cannot be invited again.
func (s *CircleService) Invite(ctx context.Context, circleID, callerID uint, email, role string) (*model.CircleInvite, error) {
	if !validRole(role) || role == model.CircleRoleOwner {
		return nil, ErrUnknownRole
	}
	circle, err := s.GetCircle(ctx, circleID)
	if err != nil {
		return nil, err
	}
	if circle.OwnerID != callerID {
		return nil, ErrNotOwner
	}
	if existing, err := s.userSvc.GetUserByEmail(ctx, email); err == nil {
		if _, err := s.circleRepo.GetMember(ctx, circleID, existing.ID); err == nil {
			return nil, ErrAlreadyMember
		}
	}

	token, err := common.GenerateSecret(32)
	if err != nil {
		return nil, err
	}
	invite := &model.CircleInvite{
		CircleID:  circleID,
		Email:     email,
		Role:      role,
		Token:     token,
		InvitedBy: callerID,
		ExpiresAt: time.Now().Add(params.CircleInviteExpiration),
	}
	if err := s.circleRepo.CreateInvite(ctx, invite); err != nil {
		return nil, err
	}
	inviteURL := fmt.Sprintf("%s/invites/accept?token=%s", s.baseURL, url.QueryEscape(token))
	if err := mail.SendCircleInvite(s.mailer, email, circle.Name, inviteURL); err != nil {
		return nil, err
	}
	return invite, nil
}

// AcceptInvite joins the calling user to the circle. The token is single
// use; the accepted flag flips under compare-and-swap so a raced accept
// joins at most once.
func (s *CircleService) AcceptInvite(ctx context.Context, userID uint, token string) (*model.Circle, error) {
	invite, err := s.circleRepo.GetInviteByToken(ctx, token)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInviteInvalid
	}
	if err != nil {
		return nil, err
	}
	if invite.Accepted || invite.IsExpired() {
		return nil, ErrInviteInvalid
	}
	user, err := s.userSvc.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Email != invite.Email {
		return nil, ErrInviteEmailOther
	}

	err = s.circleRepo.Transaction(ctx, func(repo CircleRepository) error {
		accepted, err := repo.AcceptInvite(ctx, invite.ID)
		if err != nil {
			return err
		}
		if !accepted {
			return ErrInviteInvalid
		}
		return repo.AddMember(ctx, &model.CircleMember{
			CircleID: invite.CircleID,
			UserID:   userID,
			Role:     invite.Role,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.GetCircle(ctx, invite.CircleID)
}

// RemoveMember evicts a member. The owner can remove anyone but themselves;
// any other member may only remove themselves.
func (s *CircleService) RemoveMember(ctx context.Context, circleID, callerID, memberID uint) error {
	circle, err := s.GetCircle(ctx, circleID)
	if err != nil {
		return err
	}
	if memberID == circle.OwnerID {
		return ErrOwnerLeaving
	}
	if callerID != circle.OwnerID && callerID != memberID {
		return ErrNotOwner
	}
	removed, err := s.circleRepo.RemoveMember(ctx, circleID, memberID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotMember
	}
	return nil
}

// UpgradeChildProfile promotes a child member to an adult once the owner
// vouches for them. Only child members can be upgraded.
func (s *CircleService) UpgradeChildProfile(ctx context.Context, circleID, callerID, memberID uint) error {
	circle, err := s.GetCircle(ctx, circleID)
	if err != nil {
		return err
	}
	if callerID != circle.OwnerID {
		return ErrNotOwner
	}
	member, err := s.Membership(ctx, circleID, memberID)
	if err != nil {
		return err
	}
	if member.Role != model.CircleRoleChild {
		return ErrNotChildProfile
	}
	return s.circleRepo.UpdateMemberRole(ctx, circleID, memberID, model.CircleRoleAdult)
}

// CleanupExpiredInvites reclaims storage for lapsed invites.
func (s *CircleService) CleanupExpiredInvites(ctx context.Context) (int64, error) {
	return s.circleRepo.DeleteExpiredInvites(ctx)
}

func NewCircleService(baseURL string, circleRepo CircleRepository, userSvc *users.UserService, mailer mail.MailSender) *CircleService {
	return &CircleService{
		baseURL:    baseURL,
		circleRepo: circleRepo,
		userSvc:    userSvc,
		mailer:     mailer,
	}
}

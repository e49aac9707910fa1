package circles

import "errors"

var (
	ErrCircleNotFound   = errors.New("circle not found")
	ErrNotMember        = errors.New("not a member of this circle")
	ErrNotOwner         = errors.New("only the circle owner can do this")
	ErrAlreadyMember    = errors.New("user is already a member")
	ErrInviteInvalid    = errors.New("invalid or expired invite")
	ErrInviteEmailOther = errors.New("invite was issued for a different email")
	ErrOwnerLeaving     = errors.New("the owner cannot be removed from the circle")
	ErrUnknownRole      = errors.New("unknown circle role")
	ErrNotChildProfile  = errors.New("member is not a child profile")
)

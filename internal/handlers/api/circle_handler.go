package api

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kinshiphq/kinship/internal/circles"
	"github.com/kinshiphq/kinship/model"
)

type CircleHandler struct {
	circleSvc *circles.CircleService
}

type circleResponse struct {
	CircleID  uint   `json:"circleId,string"`
	Name      string `json:"name"`
	OwnerID   uint   `json:"ownerId,string"`
	CreatedAt string `json:"createdAt"`
}

func newCircleResponse(circle *model.Circle) circleResponse {
	return circleResponse{
		CircleID:  circle.ID,
		Name:      circle.Name,
		OwnerID:   circle.OwnerID,
		CreatedAt: circle.CreatedAt.Format(time.RFC3339),
	}
}

func parseIDParam(ctx *fiber.Ctx, name string) (uint, error) {
	id, err := strconv.ParseUint(ctx.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}

type createCircleRequest struct {
	Name string `json:"name"`
}

func (h *CircleHandler) PostCircle(ctx *fiber.Ctx) error {
	var req createCircleRequest
	if err := ctx.BodyParser(&req); err != nil || req.Name == "" {
		return fiber.ErrBadRequest
	}
	circle, err := h.circleSvc.CreateCircle(ctx.Context(), CurrentUserID(ctx), req.Name)
	if err != nil {
		return err
	}
	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(newCircleResponse(circle)))
}

func (h *CircleHandler) GetCircles(ctx *fiber.Ctx) error {
	list, err := h.circleSvc.ListCircles(ctx.Context(), CurrentUserID(ctx))
	if err != nil {
		return err
	}
	resp := make([]circleResponse, 0, len(list))
	for _, circle := range list {
		resp = append(resp, newCircleResponse(circle))
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"circles": resp}))
}

type memberResponse struct {
	UserID   uint   `json:"userId,string"`
	Role     string `json:"role"`
	JoinedAt string `json:"joinedAt"`
}

func (h *CircleHandler) GetMembers(ctx *fiber.Ctx) error {
	circleID, err := parseIDParam(ctx, "circleID")
	if err != nil {
		return err
	}
	members, err := h.circleSvc.ListMembers(ctx.Context(), circleID, CurrentUserID(ctx))
	if err != nil {
		return renderCircleError(ctx, err)
	}
	resp := make([]memberResponse, 0, len(members))
	for _, m := range members {
		resp = append(resp, memberResponse{
			UserID:   m.UserID,
			Role:     m.Role,
			JoinedAt: m.CreatedAt.Format(time.RFC3339),
		})
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"members": resp}))
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

func (h *CircleHandler) PostInvite(ctx *fiber.Ctx) error {
	circleID, err := parseIDParam(ctx, "circleID")
	if err != nil {
		return err
	}
	var req inviteRequest
	if err := ctx.BodyParser(&req); err != nil || req.Email == "" {
		return fiber.ErrBadRequest
	}
	invite, err := h.circleSvc.Invite(ctx.Context(), circleID, CurrentUserID(ctx), req.Email, req.Role)
	if err != nil {
		return renderCircleError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(fiber.Map{
		"email":     invite.Email,
		"role":      invite.Role,
		"expiresAt": invite.ExpiresAt.Format(time.RFC3339),
	}))
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

func (h *CircleHandler) PostAcceptInvite(ctx *fiber.Ctx) error {
	var req acceptInviteRequest
	if err := ctx.BodyParser(&req); err != nil || req.Token == "" {
		return fiber.ErrBadRequest
	}
	circle, err := h.circleSvc.AcceptInvite(ctx.Context(), CurrentUserID(ctx), req.Token)
	if err != nil {
		return renderCircleError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(newCircleResponse(circle)))
}

func (h *CircleHandler) DeleteMember(ctx *fiber.Ctx) error {
	circleID, err := parseIDParam(ctx, "circleID")
	if err != nil {
		return err
	}
	memberID, err := parseIDParam(ctx, "userID")
	if err != nil {
		return err
	}
	err = h.circleSvc.RemoveMember(ctx.Context(), circleID, CurrentUserID(ctx), memberID)
	if err != nil {
		return renderCircleError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func (h *CircleHandler) PostUpgradeMember(ctx *fiber.Ctx) error {
	circleID, err := parseIDParam(ctx, "circleID")
	if err != nil {
		return err
	}
	memberID, err := parseIDParam(ctx, "userID")
	if err != nil {
		return err
	}
	err = h.circleSvc.UpgradeChildProfile(ctx.Context(), circleID, CurrentUserID(ctx), memberID)
	if err != nil {
		return renderCircleError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func NewCircleHandler(circleSvc *circles.CircleService) *CircleHandler {
	return &CircleHandler{circleSvc: circleSvc}
}

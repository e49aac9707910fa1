package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kinshiphq/kinship/internal/keeps"
	"github.com/kinshiphq/kinship/internal/media"
	"github.com/kinshiphq/kinship/model"
)

type KeepHandler struct {
	keepSvc  *keeps.KeepService
	mediaSvc *media.MediaService
}

type assetResponse struct {
	AssetID     uint   `json:"assetId,string"`
	ContentType string `json:"contentType"`
	Status      string `json:"status"`
	SizeBytes   int64  `json:"sizeBytes,omitempty"`
}

type keepResponse struct {
	KeepID     uint            `json:"keepId,string"`
	CircleID   uint            `json:"circleId,string"`
	AuthorID   uint            `json:"authorId,string"`
	Type       string          `json:"type"`
	Title      string          `json:"title,omitempty"`
	Body       string          `json:"body,omitempty"`
	HappenedAt *string         `json:"happenedAt,omitempty"`
	Assets     []assetResponse `json:"assets,omitempty"`
	CreatedAt  string          `json:"createdAt"`
}

func newKeepResponse(keep *model.Keep) keepResponse {
	resp := keepResponse{
		KeepID:    keep.ID,
		CircleID:  keep.CircleID,
		AuthorID:  keep.AuthorID,
		Type:      keep.Type,
		Title:     keep.Title,
		Body:      keep.Body,
		CreatedAt: keep.CreatedAt.Format(time.RFC3339),
	}
	if keep.HappenedAt != nil {
		happened := keep.HappenedAt.Format(time.RFC3339)
		resp.HappenedAt = &happened
	}
	for _, asset := range keep.Assets {
		resp.Assets = append(resp.Assets, assetResponse{
			AssetID:     asset.ID,
			ContentType: asset.ContentType,
			Status:      asset.Status,
			SizeBytes:   asset.SizeBytes,
		})
	}
	return resp
}

func renderKeepError(ctx *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, keeps.ErrKeepNotFound), errors.Is(err, media.ErrAssetNotFound):
		return ctx.Status(fiber.StatusNotFound).JSON(
			NewErrorResponse(fiber.StatusNotFound, err.Error()))
	case errors.Is(err, keeps.ErrNotAuthor), errors.Is(err, media.ErrNotUploader):
		return ctx.Status(fiber.StatusForbidden).JSON(
			NewErrorResponse(fiber.StatusForbidden, err.Error()))
	case errors.Is(err, keeps.ErrUnknownType), errors.Is(err, keeps.ErrInvalidCursor),
		errors.Is(err, media.ErrBadContentType), errors.Is(err, media.ErrAssetNotReady):
		return ctx.Status(fiber.StatusBadRequest).JSON(
			NewErrorResponse(fiber.StatusBadRequest, err.Error()))
	default:
		return renderCircleError(ctx, err)
	}
}

type createKeepRequest struct {
	Type       string     `json:"type"`
	Title      string     `json:"title,omitempty"`
	Body       string     `json:"body,omitempty"`
	HappenedAt *time.Time `json:"happenedAt,omitempty"`
}

func (h *KeepHandler) PostKeep(ctx *fiber.Ctx) error {
	circleID, err := parseIDParam(ctx, "circleID")
	if err != nil {
		return err
	}
	var req createKeepRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	keep, err := h.keepSvc.Create(ctx.Context(), CurrentUserID(ctx), keeps.CreateKeepOptions{
		CircleID:   circleID,
		Type:       req.Type,
		Title:      req.Title,
		Body:       req.Body,
		HappenedAt: req.HappenedAt,
	})
	if err != nil {
		return renderKeepError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(newKeepResponse(keep)))
}

func (h *KeepHandler) GetKeeps(ctx *fiber.Ctx) error {
	circleID, err := parseIDParam(ctx, "circleID")
	if err != nil {
		return err
	}
	page, err := h.keepSvc.List(ctx.Context(), CurrentUserID(ctx), circleID,
		ctx.Query("cursor"), ctx.QueryInt("limit"))
	if err != nil {
		return renderKeepError(ctx, err)
	}
	resp := make([]keepResponse, 0, len(page.Keeps))
	for _, keep := range page.Keeps {
		resp = append(resp, newKeepResponse(keep))
	}
	return ctx.JSON(NewDataResponse(fiber.Map{
		"keeps":      resp,
		"nextCursor": page.NextCursor,
	}))
}

func (h *KeepHandler) GetKeep(ctx *fiber.Ctx) error {
	keepID, err := parseIDParam(ctx, "keepID")
	if err != nil {
		return err
	}
	keep, err := h.keepSvc.Get(ctx.Context(), CurrentUserID(ctx), keepID)
	if err != nil {
		return renderKeepError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(newKeepResponse(keep)))
}

type updateKeepRequest struct {
	Title      *string    `json:"title,omitempty"`
	Body       *string    `json:"body,omitempty"`
	HappenedAt *time.Time `json:"happenedAt,omitempty"`
}

func (h *KeepHandler) PatchKeep(ctx *fiber.Ctx) error {
	keepID, err := parseIDParam(ctx, "keepID")
	if err != nil {
		return err
	}
	var req updateKeepRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.ErrBadRequest
	}
	keep, err := h.keepSvc.Update(ctx.Context(), CurrentUserID(ctx), keepID, keeps.UpdateKeepOptions{
		Title:      req.Title,
		Body:       req.Body,
		HappenedAt: req.HappenedAt,
	})
	if err != nil {
		return renderKeepError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(newKeepResponse(keep)))
}

func (h *KeepHandler) DeleteKeep(ctx *fiber.Ctx) error {
	keepID, err := parseIDParam(ctx, "keepID")
	if err != nil {
		return err
	}
	if err := h.keepSvc.Delete(ctx.Context(), CurrentUserID(ctx), keepID); err != nil {
		return renderKeepError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

type createUploadRequest struct {
	ContentType string `json:"contentType"`
}

func (h *KeepHandler) PostUpload(ctx *fiber.Ctx) error {
	keepID, err := parseIDParam(ctx, "keepID")
	if err != nil {
		return err
	}
	var req createUploadRequest
	if err := ctx.BodyParser(&req); err != nil || req.ContentType == "" {
		return fiber.ErrBadRequest
	}
	upload, err := h.mediaSvc.CreateUpload(ctx.Context(), CurrentUserID(ctx), keepID, req.ContentType)
	if err != nil {
		return renderKeepError(ctx, err)
	}
	return ctx.Status(fiber.StatusCreated).JSON(NewDataResponse(fiber.Map{
		"assetId":   upload.Asset.ID,
		"uploadUrl": upload.UploadURL,
		"expiresAt": upload.ExpiresAt.Format(time.RFC3339),
	}))
}

func (h *KeepHandler) PostUploadComplete(ctx *fiber.Ctx) error {
	assetID, err := parseIDParam(ctx, "assetID")
	if err != nil {
		return err
	}
	asset, err := h.mediaSvc.CompleteUpload(ctx.Context(), CurrentUserID(ctx), assetID)
	if err != nil {
		return renderKeepError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(assetResponse{
		AssetID:     asset.ID,
		ContentType: asset.ContentType,
		Status:      asset.Status,
		SizeBytes:   asset.SizeBytes,
	}))
}

func (h *KeepHandler) GetAssetURL(ctx *fiber.Ctx) error {
	assetID, err := parseIDParam(ctx, "assetID")
	if err != nil {
		return err
	}
	url, err := h.mediaSvc.ResolveURL(ctx.Context(), CurrentUserID(ctx), assetID, ctx.QueryBool("thumb"))
	if err != nil {
		return renderKeepError(ctx, err)
	}
	return ctx.JSON(NewDataResponse(fiber.Map{"url": url}))
}

func (h *KeepHandler) DeleteAsset(ctx *fiber.Ctx) error {
	assetID, err := parseIDParam(ctx, "assetID")
	if err != nil {
		return err
	}
	if err := h.mediaSvc.DeleteAsset(ctx.Context(), CurrentUserID(ctx), assetID); err != nil {
		return renderKeepError(ctx, err)
	}
	return ctx.SendStatus(fiber.StatusNoContent)
}

func NewKeepHandler(keepSvc *keeps.KeepService, mediaSvc *media.MediaService) *KeepHandler {
	return &KeepHandler{
		keepSvc:  keepSvc,
		mediaSvc: mediaSvc,
	}
}

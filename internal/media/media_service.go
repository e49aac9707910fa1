package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kinshiphq/kinship/internal/keeps"
	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

var (
	ErrAssetNotFound  = errors.New("media asset not found")
	ErrAssetNotReady  = errors.New("media asset has no thumbnail yet")
	ErrNotUploader    = errors.New("only the uploader can complete this upload")
	ErrBadContentType = errors.New("unsupported content type")
)

func validContentType(contentType string) bool {
	switch contentType {
	case "image/jpeg", "image/png", "image/webp", "video/mp4", "video/quicktime":
		return true
	}
	return false
}

// Upload is handed to the client after CreateUpload: the asset row plus the
// URL to PUT the bytes to.
type Upload struct {
	Asset     *model.MediaAsset
	UploadURL string
	ExpiresAt time.Time
}

// MediaService issues presigned upload and download URLs for keep
// attachments and drives the thumbnail pipeline. Access control rides on
// keep visibility: whoever may see the keep may fetch its media.
type MediaService struct {
	blobs          *BlobStore
	assetRepo      AssetRepository
	keepSvc        *keeps.KeepService
	thumbs         *ThumbnailWorker
	uploadExpiry   time.Duration
	downloadExpiry time.Duration
}

// CreateUpload registers a pending asset on the keep and returns a
// presigned PUT URL. The storage key is random; nothing about the user or
// circle leaks into bucket paths.
func (s *MediaService) CreateUpload(ctx context.Context, uploaderID, keepID uint, contentType string) (*Upload, error) {
	if !validContentType(contentType) {
		return nil, ErrBadContentType
	}
	keep, err := s.keepSvc.Get(ctx, uploaderID, keepID)
	if err != nil {
		return nil, err
	}
	asset := &model.MediaAsset{
		KeepID:      keep.ID,
		UploaderID:  uploaderID,
		StorageKey:  fmt.Sprintf("keeps/%d/%s", keep.ID, uuid.NewString()),
		ContentType: contentType,
		Status:      model.MediaStatusPending,
	}
	if err := s.assetRepo.Create(ctx, asset); err != nil {
		return nil, err
	}
	url, err := s.blobs.PresignUpload(ctx, asset.StorageKey, contentType, s.uploadExpiry)
	if err != nil {
		return nil, err
	}
	return &Upload{
		Asset:     asset,
		UploadURL: url,
		ExpiresAt: time.Now().Add(s.uploadExpiry),
	}, nil
}

// CompleteUpload confirms the client finished the PUT, records the object
// size and queues thumbnail generation. Idempotent: a repeated call is a
// no-op.
func (s *MediaService) CompleteUpload(ctx context.Context, uploaderID, assetID uint) (*model.MediaAsset, error) {
	asset, err := s.getAsset(ctx, assetID)
	if err != nil {
		return nil, err
	}
	if asset.UploaderID != uploaderID {
		return nil, ErrNotUploader
	}
	size, err := s.blobs.Head(ctx, asset.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("upload not found in blob store: %w", err)
	}
	marked, err := s.assetRepo.MarkUploaded(ctx, assetID, size)
	if err != nil {
		return nil, err
	}
	if marked {
		s.thumbs.Enqueue(assetID)
	}
	return s.getAsset(ctx, assetID)
}

// ResolveURL returns a presigned GET for the original or, when thumb is
// set, the generated preview.
func (s *MediaService) ResolveURL(ctx context.Context, callerID, assetID uint, thumb bool) (string, error) {
	asset, err := s.getAsset(ctx, assetID)
	if err != nil {
		return "", err
	}
	// membership check via the owning keep
	if _, err := s.keepSvc.Get(ctx, callerID, asset.KeepID); err != nil {
		return "", err
	}
	key := asset.StorageKey
	if thumb {
		if asset.ThumbKey == "" {
			return "", ErrAssetNotReady
		}
		key = asset.ThumbKey
	}
	return s.blobs.PresignDownload(ctx, key, s.downloadExpiry)
}

// DeleteAsset removes the row and the stored objects. Only the uploader or
// someone allowed to delete the keep gets here; the handler enforces that.
func (s *MediaService) DeleteAsset(ctx context.Context, callerID, assetID uint) error {
	asset, err := s.getAsset(ctx, assetID)
	if err != nil {
		return err
	}
	keep, err := s.keepSvc.Get(ctx, callerID, asset.KeepID)
	if err != nil {
		return err
	}
	if asset.UploaderID != callerID && keep.AuthorID != callerID {
		return ErrNotUploader
	}
	if err := s.assetRepo.Delete(ctx, assetID); err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, asset.StorageKey); err != nil {
		return err
	}
	if asset.ThumbKey != "" {
		return s.blobs.Delete(ctx, asset.ThumbKey)
	}
	return nil
}

func (s *MediaService) getAsset(ctx context.Context, assetID uint) (*model.MediaAsset, error) {
	asset, err := s.assetRepo.GetByID(ctx, assetID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAssetNotFound
	}
	return asset, err
}

func NewMediaService(blobs *BlobStore, assetRepo AssetRepository, keepSvc *keeps.KeepService, thumbs *ThumbnailWorker, uploadExpiry, downloadExpiry time.Duration) *MediaService {
	return &MediaService{
		blobs:          blobs,
		assetRepo:      assetRepo,
		keepSvc:        keepSvc,
		thumbs:         thumbs,
		uploadExpiry:   uploadExpiry,
		downloadExpiry: downloadExpiry,
	}
}

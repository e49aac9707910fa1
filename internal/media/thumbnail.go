package media

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kinshiphq/kinship/model"
	"golang.org/x/image/draw"
)

const (
	thumbMaxEdge    = 512
	thumbJobTimeout = 2 * time.Minute
	thumbQueueSize  = 128
)

// ThumbnailWorker generates downscaled previews for uploaded images in the
// background. Failures are logged and the asset stays at uploaded; the
// original remains servable either way.
type ThumbnailWorker struct {
	blobs     *BlobStore
	assetRepo AssetRepository
	queue     chan uint
	wg        sync.WaitGroup
	once      sync.Once
}

// Enqueue schedules thumbnail generation; never blocks.
func (w *ThumbnailWorker) Enqueue(assetID uint) {
	select {
	case w.queue <- assetID:
	default:
		slog.Warn("Thumbnail queue full, dropping job", "asset", assetID)
	}
}

func (w *ThumbnailWorker) run() {
	defer w.wg.Done()
	for assetID := range w.queue {
		ctx, cancel := context.WithTimeout(context.Background(), thumbJobTimeout)
		if err := w.process(ctx, assetID); err != nil {
			slog.Error("Thumbnail generation failed", "asset", assetID, "error", err)
		}
		cancel()
	}
}

func (w *ThumbnailWorker) process(ctx context.Context, assetID uint) error {
	asset, err := w.assetRepo.GetByID(ctx, assetID)
	if err != nil {
		return err
	}
	if asset.Status != model.MediaStatusUploaded {
		return nil
	}
	if !strings.HasPrefix(asset.ContentType, "image/") {
		// videos get no server-side preview; mark ready as-is
		return w.assetRepo.Updates(ctx, assetID, map[string]interface{}{
			"status": model.MediaStatusReady,
		})
	}

	body, err := w.blobs.Download(ctx, asset.StorageKey)
	if err != nil {
		return err
	}
	defer body.Close()
	src, _, err := image.Decode(body)
	if err != nil {
		return fmt.Errorf("could not decode %s: %w", asset.StorageKey, err)
	}

	thumb := scaleDown(src, thumbMaxEdge)
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, &jpeg.Options{Quality: 80}); err != nil {
		return err
	}
	thumbKey := asset.StorageKey + ".thumb.jpg"
	if err := w.blobs.Upload(ctx, thumbKey, "image/jpeg", &buf); err != nil {
		return err
	}
	return w.assetRepo.Updates(ctx, assetID, map[string]interface{}{
		"thumb_key": thumbKey,
		"status":    model.MediaStatusReady,
	})
}

// scaleDown fits the image inside maxEdge×maxEdge preserving aspect ratio.
// Images already small enough are re-encoded unscaled.
func scaleDown(src image.Image, maxEdge int) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxEdge && height <= maxEdge {
		return src
	}
	if width > height {
		height = height * maxEdge / width
		width = maxEdge
	} else {
		width = width * maxEdge / height
		height = maxEdge
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst
}

// Close drains the queue and stops the workers.
func (w *ThumbnailWorker) Close() {
	w.once.Do(func() {
		close(w.queue)
		w.wg.Wait()
	})
}

func NewThumbnailWorker(blobs *BlobStore, assetRepo AssetRepository, workers int) *ThumbnailWorker {
	if workers <= 0 {
		workers = 2
	}
	w := &ThumbnailWorker{
		blobs:     blobs,
		assetRepo: assetRepo,
		queue:     make(chan uint, thumbQueueSize),
	}
	w.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go w.run()
	}
	return w
}

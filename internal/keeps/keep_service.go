package keeps

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/kinshiphq/kinship/internal/circles"
	"github.com/kinshiphq/kinship/model"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func validType(keepType string) bool {
	switch keepType {
	case model.KeepTypeNote, model.KeepTypePhoto, model.KeepTypeVideo, model.KeepTypeMilestone:
		return true
	}
	return false
}

// CreateKeepOptions carries the writable fields of a new keep.
type CreateKeepOptions struct {
	CircleID   uint
	Type       string
	Title      string
	Body       string
	HappenedAt *time.Time
}

// Page is one page of a circle's timeline. NextCursor is empty on the last
// page.
type Page struct {
	Keeps      []*model.Keep
	NextCursor string
}

// KeepService guards every keep operation behind circle membership.
type KeepService struct {
	keepRepo  KeepRepository
	circleSvc *circles.CircleService
}

func (s *KeepService) Create(ctx context.Context, authorID uint, opts CreateKeepOptions) (*model.Keep, error) {
	if !validType(opts.Type) {
		return nil, ErrUnknownType
	}
	if _, err := s.circleSvc.Membership(ctx, opts.CircleID, authorID); err != nil {
		return nil, err
	}
	keep := &model.Keep{
		CircleID:   opts.CircleID,
		AuthorID:   authorID,
		Type:       opts.Type,
		Title:      opts.Title,
		Body:       opts.Body,
		HappenedAt: opts.HappenedAt,
	}
	if err := s.keepRepo.Create(ctx, keep); err != nil {
		return nil, err
	}
	return keep, nil
}

// Get returns the keep when the caller belongs to its circle.
func (s *KeepService) Get(ctx context.Context, callerID, keepID uint) (*model.Keep, error) {
	keep, err := s.keepRepo.GetByID(ctx, keepID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrKeepNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := s.circleSvc.Membership(ctx, keep.CircleID, callerID); err != nil {
		return nil, err
	}
	return keep, nil
}

// List pages through a circle's keeps newest-first. The cursor is the
// decimal ID of the last keep of the previous page.
func (s *KeepService) List(ctx context.Context, callerID, circleID uint, cursor string, limit int) (*Page, error) {
	if _, err := s.circleSvc.Membership(ctx, circleID, callerID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	var cursorID uint
	if cursor != "" {
		parsed, err := strconv.ParseUint(cursor, 10, 64)
		if err != nil {
			return nil, ErrInvalidCursor
		}
		cursorID = uint(parsed)
	}
	// fetch one extra row to learn whether another page exists
	keeps, err := s.keepRepo.ListByCircle(ctx, circleID, cursorID, limit+1)
	if err != nil {
		return nil, err
	}
	page := &Page{Keeps: keeps}
	if len(keeps) > limit {
		page.Keeps = keeps[:limit]
		page.NextCursor = strconv.FormatUint(uint64(page.Keeps[limit-1].ID), 10)
	}
	return page, nil
}

// UpdateKeepOptions carries the mutable fields of a keep; nil means keep
// the current value.
type UpdateKeepOptions struct {
	Title      *string
	Body       *string
	HappenedAt *time.Time
}

func (s *KeepService) Update(ctx context.Context, callerID, keepID uint, opts UpdateKeepOptions) (*model.Keep, error) {
	keep, err := s.Get(ctx, callerID, keepID)
	if err != nil {
		return nil, err
	}
	if keep.AuthorID != callerID {
		return nil, ErrNotAuthor
	}
	columns := map[string]interface{}{}
	if opts.Title != nil {
		columns["title"] = *opts.Title
	}
	if opts.Body != nil {
		columns["body"] = *opts.Body
	}
	if opts.HappenedAt != nil {
		columns["happened_at"] = *opts.HappenedAt
	}
	if len(columns) == 0 {
		return keep, nil
	}
	if err := s.keepRepo.Updates(ctx, keepID, columns); err != nil {
		return nil, err
	}
	return s.keepRepo.GetByID(ctx, keepID)
}

// Delete removes a keep. The author or the circle owner may delete.
func (s *KeepService) Delete(ctx context.Context, callerID, keepID uint) error {
	keep, err := s.Get(ctx, callerID, keepID)
	if err != nil {
		return err
	}
	if keep.AuthorID != callerID {
		circle, err := s.circleSvc.GetCircle(ctx, keep.CircleID)
		if err != nil {
			return err
		}
		if circle.OwnerID != callerID {
			return ErrNotAuthor
		}
	}
	return s.keepRepo.Delete(ctx, keepID)
}

func NewKeepService(keepRepo KeepRepository, circleSvc *circles.CircleService) *KeepService {
	return &KeepService{
		keepRepo:  keepRepo,
		circleSvc: circleSvc,
	}
}

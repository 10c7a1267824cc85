package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sifan077/SlotBoard/internal/app/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrListingNotFound signals that the requested listing does not exist.
	ErrListingNotFound = errors.New("listing not found")
	// ErrStateConflict signals a conditional transition whose expected
	// source state no longer matches the stored row.
	ErrStateConflict = errors.New("listing state conflict")
	// ErrCapacityReached signals that publishing would exceed the category's slots.
	ErrCapacityReached = errors.New("category capacity reached")
)

// PageCursor marks the last row of a newest-first public page.
type PageCursor struct {
	PublishedAt time.Time
	ID          string
}

// ListingRepository defines the data access contract for listings.
type ListingRepository interface {
	Create(ctx context.Context, listing *model.Listing) error
	GetByID(ctx context.Context, id string) (*model.Listing, error)
	CountLive(ctx context.Context, category model.Category, now time.Time) (int64, error)
	CountByState(ctx context.Context, category model.Category, state model.State) (int64, error)
	ListPending(ctx context.Context, category model.Category, limit int) ([]model.Listing, error)
	ListPublic(ctx context.Context, category model.Category, now time.Time, after *PageCursor, limit int) ([]model.Listing, error)
	HasActiveDuplicate(ctx context.Context, owner string, category model.Category, title, body string) (bool, error)

	// Transition moves a listing from one non-public state to another, or out
	// of public. Publication timestamps are cleared.
	Transition(ctx context.Context, id string, from, to model.State, now time.Time) (*model.Listing, error)

	// TryPublish atomically re-validates the category's live count against
	// capacity and flips a pending listing to public.
	TryPublish(ctx context.Context, id string, capacity int, now time.Time, window time.Duration) (*model.Listing, error)

	// ExpireDue moves public listings whose window has elapsed to expired.
	// An empty category sweeps every category.
	ExpireDue(ctx context.Context, category model.Category, now time.Time) ([]model.Listing, error)

	Delete(ctx context.Context, id string) (*model.Listing, error)
	Purge(ctx context.Context, category model.Category, state model.State) (int64, error)
}

type listingRepository struct {
	db   *gorm.DB
	pool *pgxpool.Pool
}

// NewListingRepository returns a repository that uses GORM for row access and
// a pgx pool for the statements that must run under a category lock.
func NewListingRepository(db *gorm.DB, pool *pgxpool.Pool) ListingRepository {
	return &listingRepository{db: db, pool: pool}
}

func (r *listingRepository) Create(ctx context.Context, listing *model.Listing) error {
	if err := r.db.WithContext(ctx).Create(listing).Error; err != nil {
		return err
	}
	return nil
}

func (r *listingRepository) GetByID(ctx context.Context, id string) (*model.Listing, error) {
	var listing model.Listing
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&listing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrListingNotFound
		}
		return nil, err
	}
	return &listing, nil
}

func (r *listingRepository) CountLive(ctx context.Context, category model.Category, now time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Listing{}).
		Where("category = ? AND state = ? AND expires_at > ?", category, model.StatePublic, now).
		Count(&n).Error
	return n, err
}

func (r *listingRepository) CountByState(ctx context.Context, category model.Category, state model.State) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Listing{}).
		Where("category = ? AND state = ?", category, state).
		Count(&n).Error
	return n, err
}

func (r *listingRepository) ListPending(ctx context.Context, category model.Category, limit int) ([]model.Listing, error) {
	if limit <= 0 {
		limit = 1
	}

	var result []model.Listing
	if err := r.db.WithContext(ctx).
		Where("category = ? AND state = ?", category, model.StatePending).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *listingRepository) ListPublic(ctx context.Context, category model.Category, now time.Time, after *PageCursor, limit int) ([]model.Listing, error) {
	if limit <= 0 {
		limit = 20
	}

	q := r.db.WithContext(ctx).
		Where("category = ? AND state = ? AND expires_at > ?", category, model.StatePublic, now)
	if after != nil {
		q = q.Where("(published_at < ?) OR (published_at = ? AND id < ?)",
			after.PublishedAt, after.PublishedAt, after.ID)
	}

	var result []model.Listing
	if err := q.Order("published_at DESC, id DESC").Limit(limit).Find(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

func (r *listingRepository) HasActiveDuplicate(ctx context.Context, owner string, category model.Category, title, body string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Listing{}).
		Where("owner_id = ? AND category = ? AND title = ? AND body = ? AND state IN ?",
			owner, category, title, body, []model.State{model.StatePending, model.StatePublic}).
		Limit(1).
		Count(&n).Error
	return n > 0, err
}

func (r *listingRepository) Transition(ctx context.Context, id string, from, to model.State, now time.Time) (*model.Listing, error) {
	if to == model.StatePublic {
		return nil, fmt.Errorf("transition to public must go through TryPublish")
	}

	result := r.db.WithContext(ctx).
		Model(&model.Listing{}).
		Where("id = ? AND state = ?", id, from).
		Updates(map[string]interface{}{
			"state":        to,
			"published_at": nil,
			"expires_at":   nil,
			"updated_at":   now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrStateConflict
	}

	return r.GetByID(ctx, id)
}

func (r *listingRepository) Delete(ctx context.Context, id string) (*model.Listing, error) {
	var deleted model.Listing
	result := r.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Delete(&deleted)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, ErrListingNotFound
	}
	return &deleted, nil
}

func (r *listingRepository) Purge(ctx context.Context, category model.Category, state model.State) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("category = ? AND state = ?", category, state).
		Delete(&model.Listing{})
	return result.RowsAffected, result.Error
}

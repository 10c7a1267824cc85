package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sifan077/SlotBoard/internal/app/model"
)

// categoryLockSpace namespaces the advisory locks taken per category.
const categoryLockSpace = 0x51075

const listingColumns = `id, owner_id, category, state, title, body, image_path,
	published_at, expires_at, created_at, updated_at`

// TryPublish runs the capacity check and the state flip in one transaction
// holding a per-category advisory lock, so concurrent publishers for the
// same category are serialized and cannot overshoot capacity.
func (r *listingRepository) TryPublish(ctx context.Context, id string, capacity int, now time.Time, window time.Duration) (*model.Listing, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin publish tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var (
		category model.Category
		state    model.State
	)
	err = tx.QueryRow(ctx, `SELECT category, state FROM listings WHERE id = $1`, id).Scan(&category, &state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrListingNotFound
		}
		return nil, fmt.Errorf("load listing: %w", err)
	}
	if state != model.StatePending {
		return nil, ErrStateConflict
	}

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1::int, hashtext($2))`, categoryLockSpace, string(category)); err != nil {
		return nil, fmt.Errorf("lock category %s: %w", category, err)
	}

	expiresAt := now.Add(window)
	rows, err := tx.Query(ctx, `
		UPDATE listings
		SET state = 'public', published_at = $2, expires_at = $3, updated_at = $2
		WHERE id = $1
		  AND state = 'pending'
		  AND (
			SELECT count(*) FROM listings
			WHERE category = $4 AND state = 'public' AND expires_at > $2
		  ) < $5
		RETURNING `+listingColumns,
		id, now, expiresAt, string(category), capacity,
	)
	if err != nil {
		return nil, fmt.Errorf("publish listing: %w", err)
	}
	published, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Listing])
	if err != nil {
		return nil, fmt.Errorf("scan published listing: %w", err)
	}

	if len(published) == 0 {
		// Distinguish a lost race on the row from a full category.
		if err := tx.QueryRow(ctx, `SELECT state FROM listings WHERE id = $1`, id).Scan(&state); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, ErrListingNotFound
			}
			return nil, fmt.Errorf("reload listing: %w", err)
		}
		if state != model.StatePending {
			return nil, ErrStateConflict
		}
		return nil, ErrCapacityReached
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit publish tx: %w", err)
	}
	return &published[0], nil
}

// ExpireDue flips elapsed public listings to expired in a single statement.
// Concurrent sweeps re-check the predicate after row locks, so a listing is
// returned by exactly one of them.
func (r *listingRepository) ExpireDue(ctx context.Context, category model.Category, now time.Time) ([]model.Listing, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE listings
		SET state = 'expired', published_at = NULL, expires_at = NULL, updated_at = $1
		WHERE state = 'public'
		  AND expires_at <= $1
		  AND ($2::text = '' OR category = $2::text)
		RETURNING `+listingColumns,
		now, string(category),
	)
	if err != nil {
		return nil, fmt.Errorf("expire due listings: %w", err)
	}
	expired, err := pgx.CollectRows(rows, pgx.RowToStructByName[model.Listing])
	if err != nil {
		return nil, fmt.Errorf("scan expired listings: %w", err)
	}
	return expired, nil
}

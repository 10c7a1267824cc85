package model

import "time"

// State is a listing's position in the publication lifecycle.
type State string

const (
	StatePending State = "pending"
	StatePublic  State = "public"
	StateHidden  State = "hidden"
	StateExpired State = "expired"
)

// Valid reports whether s is one of the known states.
func (s State) Valid() bool {
	switch s {
	case StatePending, StatePublic, StateHidden, StateExpired:
		return true
	}
	return false
}

// Category partitions listings into independent capacity pools.
type Category string

// Listing is a submitted card competing for a public slot.
//
// PublishedAt and ExpiresAt are set together when the listing becomes public
// and cleared together whenever it leaves that state.
type Listing struct {
	ID          string     `db:"id" gorm:"primaryKey;size:36"`
	OwnerID     string     `db:"owner_id" gorm:"size:64;not null;index"`
	Category    Category   `db:"category" gorm:"size:32;not null;index:idx_listings_queue,priority:1;index:idx_listings_live,priority:1"`
	State       State      `db:"state" gorm:"size:16;not null;default:pending;index:idx_listings_queue,priority:2;index:idx_listings_live,priority:2"`
	Title       string     `db:"title" gorm:"size:255;not null"`
	Body        string     `db:"body" gorm:"type:text;not null"`
	ImagePath   string     `db:"image_path" gorm:"size:255"`
	PublishedAt *time.Time `db:"published_at"`
	ExpiresAt   *time.Time `db:"expires_at" gorm:"index:idx_listings_live,priority:3"`
	CreatedAt   time.Time  `db:"created_at" gorm:"not null;index:idx_listings_queue,priority:3"`
	UpdatedAt   time.Time  `db:"updated_at" gorm:"autoUpdateTime"`
}

// Live reports whether the listing is public and still inside its window.
func (l *Listing) Live(now time.Time) bool {
	return l.State == StatePublic && l.ExpiresAt != nil && l.ExpiresAt.After(now)
}

package handler

import (
	"time"

	"github.com/sifan077/SlotBoard/internal/app/model"
)

// ListingResponse is the public JSON shape of a listing.
type ListingResponse struct {
	ID          string     `json:"id"`
	OwnerID     string     `json:"owner_id"`
	Category    string     `json:"category"`
	State       string     `json:"state"`
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	ImagePath   string     `json:"image_path,omitempty"`
	PublishedAt *time.Time `json:"published_at"`
	ExpiresAt   *time.Time `json:"expires_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toListingResponse(l *model.Listing) ListingResponse {
	return ListingResponse{
		ID:          l.ID,
		OwnerID:     l.OwnerID,
		Category:    string(l.Category),
		State:       string(l.State),
		Title:       l.Title,
		Body:        l.Body,
		ImagePath:   l.ImagePath,
		PublishedAt: l.PublishedAt,
		ExpiresAt:   l.ExpiresAt,
		CreatedAt:   l.CreatedAt,
	}
}

func toListingResponses(ls []model.Listing) []ListingResponse {
	out := make([]ListingResponse, len(ls))
	for i := range ls {
		out[i] = toListingResponse(&ls[i])
	}
	return out
}

package identity

import "time"

// Item is the canonical content item every component works with.
type Item struct {
	Key         string    `json:"key"`
	Text        string    `json:"text"`
	Attribution string    `json:"attribution"`
	OwnerID     string    `json:"owner_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`

	// Server-reported engagement, already mapped from whichever field name
	// the source used.
	Liked bool `json:"liked"`
	Count uint `json:"count"`
}

// Record is a raw content record as decoded from any endpoint.
type Record map[string]any

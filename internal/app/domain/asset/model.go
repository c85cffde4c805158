// Package asset describes uploaded file records.
package asset

import "time"

// Asset is an uploaded object descriptor. Immutable once created.
type Asset struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

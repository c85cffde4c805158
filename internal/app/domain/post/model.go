// Package post defines the content unit and its lifecycle states.
package post

import "time"

// Type classifies the content of a post.
type Type string

const (
	TypeArticle Type = "ARTICLE"
	TypeImage   Type = "IMAGE"
	TypeVideo   Type = "VIDEO"
	TypeAudio   Type = "AUDIO"
	TypeNFT     Type = "NFT"
	TypeFigma   Type = "FIGMA"
)

// Valid reports whether t is a known post type.
func (t Type) Valid() bool {
	switch t {
	case TypeArticle, TypeImage, TypeVideo, TypeAudio, TypeNFT, TypeFigma:
		return true
	}
	return false
}

// Status is the publication state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
)

// GateType is the access tier of a published post.
type GateType string

const (
	GateFree GateType = "FREE"
	GatePaid GateType = "PAID"
)

// Valid reports whether g is a known gate type.
func (g GateType) Valid() bool {
	return g == GateFree || g == GatePaid
}

// Tag is a label attachable to posts.
type Tag struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Post is the content unit. PublishedAt is stamped when the status
// transitions to PUBLISHED.
type Post struct {
	ID          string     `json:"id"`
	UserID      string     `json:"userId"`
	Type        Type       `json:"type"`
	Title       string     `json:"title"`
	Content     string     `json:"content"`
	Description string     `json:"description"`
	Image       string     `json:"image"`
	Status      Status     `json:"postStatus"`
	GateType    GateType   `json:"gateType"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	Tags        []Tag      `json:"tags"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

package storage

import (
	"context"
	"errors"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/asset"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

// ErrDuplicate is returned when an insert violates a unique identity key.
var ErrDuplicate = errors.New("record already exists")

// UserStore persists user records. Address and openid are each unique
// across the table; a user carries exactly one of them.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByAddress(ctx context.Context, address string) (user.User, error)
	GetUserByOpenID(ctx context.Context, openid string) (user.User, error)
	CountUsers(ctx context.Context) (int64, error)

	// UpdateSubscriptions replaces the user's subscription list wholesale.
	UpdateSubscriptions(ctx context.Context, address string, subs []user.Subscription) error

	// UpdateGoogleTokens stores Drive OAuth tokens on the user keyed by address.
	UpdateGoogleTokens(ctx context.Context, address string, tokens user.GoogleTokens) error
}

// PostContentUpdate names the editable columns of a post. Nil fields are
// left untouched, so a partial edit never overwrites concurrent changes
// to the rest of the row.
type PostContentUpdate struct {
	Title       *string
	Content     *string
	Description *string
}

// PostStore persists posts and their tag associations.
type PostStore interface {
	CreatePost(ctx context.Context, p post.Post) (post.Post, error)
	UpdatePost(ctx context.Context, p post.Post) (post.Post, error)
	UpdatePostFields(ctx context.Context, id string, upd PostContentUpdate) (post.Post, error)
	GetPost(ctx context.Context, id string) (post.Post, error)
	ListPosts(ctx context.Context) ([]post.Post, error)
	ListPublishedPosts(ctx context.Context) ([]post.Post, error)
	DeletePost(ctx context.Context, id string) error

	CreateTag(ctx context.Context, name string) (post.Tag, error)
	AttachTag(ctx context.Context, postID, tagID string) error
}

// AssetStore persists uploaded file records.
type AssetStore interface {
	CreateAsset(ctx context.Context, a asset.Asset) (asset.Asset, error)
	ListAssets(ctx context.Context) ([]asset.Asset, error)
}

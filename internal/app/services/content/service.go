// Package content implements the post CRUD and publish workflow.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
	"github.com/plantree-xyz/plantree-server/internal/cache"
	"github.com/plantree-xyz/plantree-server/pkg/logger"
)

// ErrValidation is returned when an operation's input fails validation.
var ErrValidation = errors.New("validation failed")

// listingCacheKeys are the cached listing paths invalidated on publish.
var listingCacheKeys = []string{
	"posts:home",
	"posts:published",
	"posts:slug",
	"posts:page",
}

const publishedCacheKey = "posts:published"
const publishedCacheTTL = 5 * time.Minute

// BackupQueue schedules a detached backup of a post. Implementations never
// block and never report failure to the caller.
type BackupQueue interface {
	Enqueue(userID string, p post.Post)
}

// UpdateInput is a partial update of a post's text fields. Nil fields are
// left untouched; a non-nil empty Content clears the content to "".
type UpdateInput struct {
	Title       *string
	Content     *string
	Description *string
}

// Service manages posts.
type Service struct {
	store   storage.PostStore
	cache   cache.Cache
	backups BackupQueue
	log     *logger.Logger
}

// New constructs a content service. cache and backups may be nil.
func New(store storage.PostStore, c cache.Cache, backups BackupQueue, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("content")
	}
	if c == nil {
		c = cache.NewMemory()
	}
	return &Service{store: store, cache: c, backups: backups, log: log}
}

// List returns all posts with their tags, newest first.
func (s *Service) List(ctx context.Context) ([]post.Post, error) {
	return s.store.ListPosts(ctx)
}

// Published returns published posts, served from the listing cache when
// possible.
func (s *Service) Published(ctx context.Context) ([]post.Post, error) {
	if cached, err := s.cache.Get(ctx, publishedCacheKey); err == nil {
		var posts []post.Post
		if err := json.Unmarshal(cached, &posts); err == nil {
			return posts, nil
		}
	}

	posts, err := s.store.ListPublishedPosts(ctx)
	if err != nil {
		return nil, err
	}

	if payload, err := json.Marshal(posts); err == nil {
		if err := s.cache.Set(ctx, publishedCacheKey, payload, publishedCacheTTL); err != nil {
			s.log.WithError(err).Debug("listing cache write failed")
		}
	}
	return posts, nil
}

// ByID returns a post with its tags and dispatches a backup of it as a
// detached side effect of the read.
func (s *Service) ByID(ctx context.Context, id string) (post.Post, error) {
	if id == "" {
		return post.Post{}, ErrValidation
	}
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return post.Post{}, err
	}

	if s.backups != nil {
		s.backups.Enqueue(p.UserID, p)
	}
	return p, nil
}

// Create persists a new draft post owned by the caller. Title is optional.
func (s *Service) Create(ctx context.Context, userID string, typ post.Type, title string) (post.Post, error) {
	if userID == "" {
		return post.Post{}, ErrValidation
	}
	if !typ.Valid() {
		return post.Post{}, fmt.Errorf("%w: unknown post type %q", ErrValidation, typ)
	}

	created, err := s.store.CreatePost(ctx, post.Post{
		UserID: userID,
		Type:   typ,
		Title:  strings.TrimSpace(title),
		Status: post.StatusDraft,
	})
	if err != nil {
		return post.Post{}, err
	}

	s.log.WithField("post_id", created.ID).
		WithField("user_id", userID).
		WithField("type", string(typ)).
		Info("post created")
	return created, nil
}

// Update applies a partial update of title/content/description. Content
// explicitly cleared persists as the empty string.
func (s *Service) Update(ctx context.Context, id string, input UpdateInput) (post.Post, error) {
	if id == "" {
		return post.Post{}, ErrValidation
	}
	return s.store.UpdatePostFields(ctx, id, storage.PostContentUpdate{
		Title:       input.Title,
		Content:     input.Content,
		Description: input.Description,
	})
}

// UpdateCover replaces the cover image.
func (s *Service) UpdateCover(ctx context.Context, id, image string) (post.Post, error) {
	if id == "" || image == "" {
		return post.Post{}, ErrValidation
	}
	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return post.Post{}, err
	}
	p.Image = image
	return s.store.UpdatePost(ctx, p)
}

// Publish transitions the post to PUBLISHED, stamps publishedAt and sets the
// gate type, then invalidates the listing cache and schedules a backup of
// the published post. Re-publishing re-stamps publishedAt.
func (s *Service) Publish(ctx context.Context, id string, gateType post.GateType) (post.Post, error) {
	if id == "" {
		return post.Post{}, ErrValidation
	}
	if !gateType.Valid() {
		return post.Post{}, fmt.Errorf("%w: unknown gate type %q", ErrValidation, gateType)
	}

	p, err := s.store.GetPost(ctx, id)
	if err != nil {
		return post.Post{}, err
	}

	now := time.Now().UTC()
	p.Status = post.StatusPublished
	p.PublishedAt = &now
	p.GateType = gateType

	updated, err := s.store.UpdatePost(ctx, p)
	if err != nil {
		return post.Post{}, err
	}

	if err := s.cache.Invalidate(ctx, listingCacheKeys...); err != nil {
		s.log.WithError(err).Warn("listing cache invalidation failed")
	}

	if s.backups != nil {
		// re-read so the backup snapshot carries tag associations
		if full, err := s.store.GetPost(ctx, id); err == nil {
			s.backups.Enqueue(full.UserID, full)
		} else {
			s.log.WithError(err).WithField("post_id", id).Warn("backup snapshot read failed")
		}
	}

	s.log.WithField("post_id", id).
		WithField("gate_type", string(gateType)).
		Info("post published")
	return updated, nil
}

// Delete removes a post permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrValidation
	}
	if err := s.store.DeletePost(ctx, id); err != nil {
		return err
	}
	s.log.WithField("post_id", id).Info("post deleted")
	return nil
}

// Tag attaches a named tag to a post, creating the tag if needed.
func (s *Service) Tag(ctx context.Context, postID, name string) (post.Tag, error) {
	if postID == "" || strings.TrimSpace(name) == "" {
		return post.Tag{}, ErrValidation
	}
	t, err := s.store.CreateTag(ctx, name)
	if err != nil {
		return post.Tag{}, err
	}
	if err := s.store.AttachTag(ctx, postID, t.ID); err != nil {
		return post.Tag{}, err
	}
	return t, nil
}

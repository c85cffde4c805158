package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/asset"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu             sync.RWMutex
	users          map[string]user.User
	usersByAddress map[string]string
	usersByOpenID  map[string]string
	posts          map[string]post.Post
	tags           map[string]post.Tag
	postTags       map[string][]string
	assets         map[string]asset.Asset
}

var _ storage.UserStore = (*Store)(nil)
var _ storage.PostStore = (*Store)(nil)
var _ storage.AssetStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		users:          make(map[string]user.User),
		usersByAddress: make(map[string]string),
		usersByOpenID:  make(map[string]string),
		posts:          make(map[string]post.Post),
		tags:           make(map[string]post.Tag),
		postTags:       make(map[string][]string),
		assets:         make(map[string]asset.Asset),
	}
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.Address != "" {
		if _, exists := s.usersByAddress[u.Address]; exists {
			return user.User{}, storage.ErrDuplicate
		}
	}
	if u.OpenID != "" {
		if _, exists := s.usersByOpenID[u.OpenID]; exists {
			return user.User{}, storage.ErrDuplicate
		}
	}

	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	u.CreatedAt = now
	u.UpdatedAt = now

	s.users[u.ID] = cloneUser(u)
	if u.Address != "" {
		s.usersByAddress[u.Address] = u.ID
	}
	if u.OpenID != "" {
		s.usersByOpenID[u.OpenID] = u.ID
	}
	return u, nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByAddress(ctx context.Context, address string) (user.User, error) {
	s.mu.RLock()
	id, ok := s.usersByAddress[address]
	s.mu.RUnlock()
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUserByOpenID(ctx context.Context, openid string) (user.User, error) {
	s.mu.RLock()
	id, ok := s.usersByOpenID[openid]
	s.mu.RUnlock()
	if !ok {
		return user.User{}, storage.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *Store) UpdateSubscriptions(_ context.Context, address string, subs []user.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByAddress[address]
	if !ok {
		return storage.ErrNotFound
	}
	u := s.users[id]
	u.Subscriptions = append([]user.Subscription(nil), subs...)
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

func (s *Store) UpdateGoogleTokens(_ context.Context, address string, tokens user.GoogleTokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.usersByAddress[address]
	if !ok {
		return storage.ErrNotFound
	}
	u := s.users[id]
	t := tokens
	u.Google = &t
	u.UpdatedAt = time.Now().UTC()
	s.users[id] = u
	return nil
}

// PostStore implementation ----------------------------------------------------

func (s *Store) CreatePost(_ context.Context, p post.Post) (post.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = post.StatusDraft
	}
	if p.GateType == "" {
		p.GateType = post.GateFree
	}

	s.posts[p.ID] = storedPost(p)
	return p, nil
}

func (s *Store) UpdatePost(_ context.Context, p post.Post) (post.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.posts[p.ID]
	if !ok {
		return post.Post{}, storage.ErrNotFound
	}
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = time.Now().UTC()
	s.posts[p.ID] = storedPost(p)
	return p, nil
}

func (s *Store) UpdatePostFields(_ context.Context, id string, upd storage.PostContentUpdate) (post.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return post.Post{}, storage.ErrNotFound
	}
	if upd.Title != nil {
		p.Title = *upd.Title
	}
	if upd.Content != nil {
		p.Content = *upd.Content
	}
	if upd.Description != nil {
		p.Description = *upd.Description
	}
	p.UpdatedAt = time.Now().UTC()
	s.posts[id] = storedPost(p)

	out := clonePost(p)
	out.Tags = s.tagsForLocked(id)
	return out, nil
}

func (s *Store) GetPost(_ context.Context, id string) (post.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return post.Post{}, storage.ErrNotFound
	}
	out := clonePost(p)
	out.Tags = s.tagsForLocked(id)
	return out, nil
}

func (s *Store) ListPosts(_ context.Context) ([]post.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]post.Post, 0, len(s.posts))
	for id, p := range s.posts {
		out := clonePost(p)
		out.Tags = s.tagsForLocked(id)
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) ListPublishedPosts(_ context.Context) ([]post.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]post.Post, 0)
	for _, p := range s.posts {
		if p.Status == post.StatusPublished {
			result = append(result, clonePost(p))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *Store) DeletePost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[id]; !ok {
		return storage.ErrNotFound
	}
	delete(s.posts, id)
	delete(s.postTags, id)
	return nil
}

func (s *Store) CreateTag(_ context.Context, name string) (post.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name = strings.TrimSpace(name)
	for _, t := range s.tags {
		if t.Name == name {
			return t, nil
		}
	}
	t := post.Tag{ID: uuid.NewString(), Name: name}
	s.tags[t.ID] = t
	return t, nil
}

func (s *Store) AttachTag(_ context.Context, postID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[postID]; !ok {
		return storage.ErrNotFound
	}
	if _, ok := s.tags[tagID]; !ok {
		return storage.ErrNotFound
	}
	for _, existing := range s.postTags[postID] {
		if existing == tagID {
			return nil
		}
	}
	s.postTags[postID] = append(s.postTags[postID], tagID)
	return nil
}

func (s *Store) tagsForLocked(postID string) []post.Tag {
	ids := s.postTags[postID]
	tags := make([]post.Tag, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tags[id]; ok {
			tags = append(tags, t)
		}
	}
	return tags
}

// AssetStore implementation ---------------------------------------------------

func (s *Store) CreateAsset(_ context.Context, a asset.Asset) (asset.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	s.assets[a.ID] = a
	return a, nil
}

func (s *Store) ListAssets(_ context.Context) ([]asset.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]asset.Asset, 0, len(s.assets))
	for _, a := range s.assets {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// Clone helpers ---------------------------------------------------------------

func cloneUser(u user.User) user.User {
	out := u
	out.Subscriptions = append([]user.Subscription(nil), u.Subscriptions...)
	if u.Google != nil {
		g := *u.Google
		out.Google = &g
	}
	return out
}

// storedPost is the persisted shape of a post. Tag links live in postTags,
// so the stored record never carries Tags itself.
func storedPost(p post.Post) post.Post {
	out := clonePost(p)
	out.Tags = nil
	return out
}

func clonePost(p post.Post) post.Post {
	out := p
	out.Tags = append([]post.Tag(nil), p.Tags...)
	if p.PublishedAt != nil {
		t := *p.PublishedAt
		out.PublishedAt = &t
	}
	return out
}

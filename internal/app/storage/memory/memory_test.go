package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/domain/user"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
)

func TestUserLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreateUser(ctx, user.User{Address: "NAddr1", Role: user.RoleAdmin})
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if created.ID == "" {
		t.Error("ID not assigned")
	}

	byAddr, err := s.GetUserByAddress(ctx, "NAddr1")
	if err != nil {
		t.Fatalf("GetUserByAddress() error = %v", err)
	}
	if byAddr.ID != created.ID {
		t.Errorf("lookup mismatch: %q vs %q", byAddr.ID, created.ID)
	}

	if _, err := s.CreateUser(ctx, user.User{Address: "NAddr1"}); !errors.Is(err, storage.ErrDuplicate) {
		t.Errorf("duplicate address error = %v, want ErrDuplicate", err)
	}

	n, err := s.CountUsers(ctx)
	if err != nil || n != 1 {
		t.Errorf("CountUsers() = %d, %v", n, err)
	}

	if _, err := s.GetUserByAddress(ctx, "NOther"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetUserByAddress(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateSubscriptions(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, user.User{Address: "NAddr1"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	subs := []user.Subscription{{PlanID: 0, StartTime: 100, Duration: 200, Amount: "300"}}
	if err := s.UpdateSubscriptions(ctx, "NAddr1", subs); err != nil {
		t.Fatalf("UpdateSubscriptions() error = %v", err)
	}

	u, err := s.GetUserByAddress(ctx, "NAddr1")
	if err != nil {
		t.Fatalf("GetUserByAddress() error = %v", err)
	}
	if len(u.Subscriptions) != 1 || u.Subscriptions[0].Amount != "300" {
		t.Errorf("Subscriptions = %+v", u.Subscriptions)
	}

	if err := s.UpdateSubscriptions(ctx, "NMissing", subs); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateSubscriptions(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateGoogleTokens(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreateUser(ctx, user.User{Address: "NAddr1"}); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}

	tokens := user.GoogleTokens{AccessToken: "a", RefreshToken: "r", ExpiryDate: 123}
	if err := s.UpdateGoogleTokens(ctx, "NAddr1", tokens); err != nil {
		t.Fatalf("UpdateGoogleTokens() error = %v", err)
	}

	u, _ := s.GetUserByAddress(ctx, "NAddr1")
	if u.Google == nil || u.Google.RefreshToken != "r" {
		t.Errorf("Google = %+v", u.Google)
	}

	if err := s.UpdateGoogleTokens(ctx, "NMissing", tokens); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdateGoogleTokens(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPostLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	created, err := s.CreatePost(ctx, post.Post{UserID: "u1", Type: post.TypeArticle, Title: "a"})
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if created.Status != post.StatusDraft || created.GateType != post.GateFree {
		t.Errorf("defaults not applied: %+v", created)
	}

	created.Title = "b"
	updated, err := s.UpdatePost(ctx, created)
	if err != nil {
		t.Fatalf("UpdatePost() error = %v", err)
	}
	if updated.Title != "b" {
		t.Errorf("Title = %q", updated.Title)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("UpdatePost changed CreatedAt")
	}

	if _, err := s.UpdatePost(ctx, post.Post{ID: "missing"}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdatePost(missing) error = %v, want ErrNotFound", err)
	}

	if err := s.DeletePost(ctx, created.ID); err != nil {
		t.Fatalf("DeletePost() error = %v", err)
	}
	if _, err := s.GetPost(ctx, created.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetPost after delete error = %v, want ErrNotFound", err)
	}
}

func TestUpdatePostFields(t *testing.T) {
	s := New()
	ctx := context.Background()

	now := time.Now().UTC()
	created, err := s.CreatePost(ctx, post.Post{
		UserID:      "u1",
		Type:        post.TypeArticle,
		Title:       "a",
		Content:     "body",
		Status:      post.StatusPublished,
		PublishedAt: &now,
	})
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}

	title := "b"
	updated, err := s.UpdatePostFields(ctx, created.ID, storage.PostContentUpdate{Title: &title})
	if err != nil {
		t.Fatalf("UpdatePostFields() error = %v", err)
	}
	if updated.Title != "b" {
		t.Errorf("Title = %q", updated.Title)
	}
	if updated.Content != "body" {
		t.Errorf("Content = %q, want untouched", updated.Content)
	}
	if updated.Status != post.StatusPublished || updated.PublishedAt == nil {
		t.Errorf("publish state clobbered: %+v", updated)
	}

	if _, err := s.UpdatePostFields(ctx, "missing", storage.PostContentUpdate{Title: &title}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("UpdatePostFields(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListPublishedPosts(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.CreatePost(ctx, post.Post{UserID: "u1", Type: post.TypeArticle}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	if _, err := s.CreatePost(ctx, post.Post{UserID: "u1", Type: post.TypeArticle, Status: post.StatusPublished}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}

	all, err := s.ListPosts(ctx)
	if err != nil || len(all) != 2 {
		t.Fatalf("ListPosts() = %d posts, %v", len(all), err)
	}

	published, err := s.ListPublishedPosts(ctx)
	if err != nil {
		t.Fatalf("ListPublishedPosts() error = %v", err)
	}
	if len(published) != 1 || published[0].Status != post.StatusPublished {
		t.Errorf("published = %+v", published)
	}
}

func TestListPublishedPostsOmitsTags(t *testing.T) {
	s := New()
	ctx := context.Background()

	p, err := s.CreatePost(ctx, post.Post{UserID: "u1", Type: post.TypeArticle, Status: post.StatusPublished})
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}
	tag, err := s.CreateTag(ctx, "golang")
	if err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	if err := s.AttachTag(ctx, p.ID, tag.ID); err != nil {
		t.Fatalf("AttachTag() error = %v", err)
	}

	// writes carrying a populated Tags slice must not leak into listings
	got, _ := s.GetPost(ctx, p.ID)
	if _, err := s.UpdatePost(ctx, got); err != nil {
		t.Fatalf("UpdatePost() error = %v", err)
	}

	published, err := s.ListPublishedPosts(ctx)
	if err != nil {
		t.Fatalf("ListPublishedPosts() error = %v", err)
	}
	if len(published) != 1 {
		t.Fatalf("published = %d posts", len(published))
	}
	if len(published[0].Tags) != 0 {
		t.Errorf("Tags = %+v, want none in published listing", published[0].Tags)
	}
}

func TestTags(t *testing.T) {
	s := New()
	ctx := context.Background()

	p, err := s.CreatePost(ctx, post.Post{UserID: "u1", Type: post.TypeArticle})
	if err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}

	tag, err := s.CreateTag(ctx, "golang")
	if err != nil {
		t.Fatalf("CreateTag() error = %v", err)
	}
	again, err := s.CreateTag(ctx, "golang")
	if err != nil {
		t.Fatalf("CreateTag() second call error = %v", err)
	}
	if again.ID != tag.ID {
		t.Error("CreateTag not idempotent on name")
	}

	if err := s.AttachTag(ctx, p.ID, tag.ID); err != nil {
		t.Fatalf("AttachTag() error = %v", err)
	}
	// duplicate attach is a no-op
	if err := s.AttachTag(ctx, p.ID, tag.ID); err != nil {
		t.Fatalf("AttachTag() repeat error = %v", err)
	}

	got, err := s.GetPost(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetPost() error = %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "golang" {
		t.Errorf("Tags = %+v", got.Tags)
	}

	if err := s.AttachTag(ctx, "missing", tag.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AttachTag(missing post) error = %v, want ErrNotFound", err)
	}
	if err := s.AttachTag(ctx, p.ID, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AttachTag(missing tag) error = %v, want ErrNotFound", err)
	}
}

package content_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/plantree-xyz/plantree-server/internal/app/domain/post"
	"github.com/plantree-xyz/plantree-server/internal/app/services/content"
	"github.com/plantree-xyz/plantree-server/internal/app/storage"
	"github.com/plantree-xyz/plantree-server/internal/app/storage/memory"
	"github.com/plantree-xyz/plantree-server/internal/cache"
)

type recordingQueue struct {
	mu    sync.Mutex
	posts []post.Post
}

func (q *recordingQueue) Enqueue(_ string, p post.Post) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.posts = append(q.posts, p)
}

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.posts)
}

func newService(store storage.PostStore, c cache.Cache, q content.BackupQueue) *content.Service {
	return content.New(store, c, q, nil)
}

func createDraft(t *testing.T, svc *content.Service) post.Post {
	t.Helper()
	p, err := svc.Create(context.Background(), "u1", post.TypeArticle, "hello")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return p
}

func TestCreate(t *testing.T) {
	svc := newService(memory.New(), nil, nil)

	p := createDraft(t, svc)
	if p.ID == "" {
		t.Error("ID not assigned")
	}
	if p.Status != post.StatusDraft {
		t.Errorf("Status = %q, want DRAFT", p.Status)
	}
	if p.PublishedAt != nil {
		t.Error("PublishedAt set on draft")
	}

	if _, err := svc.Create(context.Background(), "u1", post.Type("BOGUS"), ""); !errors.Is(err, content.ErrValidation) {
		t.Errorf("Create(BOGUS) error = %v, want ErrValidation", err)
	}
	if _, err := svc.Create(context.Background(), "", post.TypeArticle, ""); !errors.Is(err, content.ErrValidation) {
		t.Errorf("Create without user error = %v, want ErrValidation", err)
	}
}

func TestUpdatePartial(t *testing.T) {
	svc := newService(memory.New(), nil, nil)
	p := createDraft(t, svc)

	title := "new title"
	updated, err := svc.Update(context.Background(), p.ID, content.UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "new title" {
		t.Errorf("Title = %q", updated.Title)
	}

	// nil fields stay untouched, an explicit empty content clears
	empty := ""
	updated, err = svc.Update(context.Background(), p.ID, content.UpdateInput{Content: &empty})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Title != "new title" {
		t.Errorf("Title = %q, want preserved", updated.Title)
	}
	if updated.Content != "" {
		t.Errorf("Content = %q, want cleared", updated.Content)
	}

	if _, err := svc.Update(context.Background(), "missing", content.UpdateInput{Title: &title}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateKeepsPublishState(t *testing.T) {
	svc := newService(memory.New(), nil, nil)
	p := createDraft(t, svc)

	published, err := svc.Publish(context.Background(), p.ID, post.GatePaid)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	title := "edited after publish"
	updated, err := svc.Update(context.Background(), p.ID, content.UpdateInput{Title: &title})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Status != post.StatusPublished {
		t.Errorf("Status = %q, want PUBLISHED after edit", updated.Status)
	}
	if updated.PublishedAt == nil || !updated.PublishedAt.Equal(*published.PublishedAt) {
		t.Errorf("PublishedAt = %v, want %v", updated.PublishedAt, published.PublishedAt)
	}
	if updated.GateType != post.GatePaid {
		t.Errorf("GateType = %q, want preserved", updated.GateType)
	}
}

func TestPublishStampsAndRestamps(t *testing.T) {
	queue := &recordingQueue{}
	svc := newService(memory.New(), nil, queue)
	p := createDraft(t, svc)

	published, err := svc.Publish(context.Background(), p.ID, post.GateFree)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if published.Status != post.StatusPublished {
		t.Errorf("Status = %q", published.Status)
	}
	if published.PublishedAt == nil {
		t.Fatal("PublishedAt not stamped")
	}
	if published.GateType != post.GateFree {
		t.Errorf("GateType = %q", published.GateType)
	}
	first := *published.PublishedAt

	time.Sleep(5 * time.Millisecond)
	republished, err := svc.Publish(context.Background(), p.ID, post.GatePaid)
	if err != nil {
		t.Fatalf("Publish() second call error = %v", err)
	}
	if !republished.PublishedAt.After(first) {
		t.Error("re-publish did not re-stamp publishedAt")
	}
	if republished.GateType != post.GatePaid {
		t.Errorf("GateType = %q after re-publish", republished.GateType)
	}

	if queue.count() != 2 {
		t.Errorf("backup enqueues = %d, want 2", queue.count())
	}

	if _, err := svc.Publish(context.Background(), p.ID, post.GateType("WEIRD")); !errors.Is(err, content.ErrValidation) {
		t.Errorf("Publish(WEIRD) error = %v, want ErrValidation", err)
	}
}

func TestPublishedUsesCache(t *testing.T) {
	store := memory.New()
	c := cache.NewMemory()
	svc := newService(store, c, nil)

	p := createDraft(t, svc)
	if _, err := svc.Publish(context.Background(), p.ID, post.GateFree); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	// first read populates the cache
	posts, err := svc.Published(context.Background())
	if err != nil {
		t.Fatalf("Published() error = %v", err)
	}
	if len(posts) != 1 {
		t.Fatalf("published len = %d", len(posts))
	}

	// a direct store write is invisible until the cache is invalidated
	if _, err := store.CreatePost(context.Background(), post.Post{
		UserID: "u1", Type: post.TypeArticle, Status: post.StatusPublished,
	}); err != nil {
		t.Fatalf("CreatePost() error = %v", err)
	}

	posts, err = svc.Published(context.Background())
	if err != nil {
		t.Fatalf("Published() error = %v", err)
	}
	if len(posts) != 1 {
		t.Errorf("published len = %d, want cached 1", len(posts))
	}

	// publishing invalidates the listing cache
	p2 := createDraft(t, svc)
	if _, err := svc.Publish(context.Background(), p2.ID, post.GateFree); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	posts, err = svc.Published(context.Background())
	if err != nil {
		t.Fatalf("Published() error = %v", err)
	}
	if len(posts) != 3 {
		t.Errorf("published len = %d, want 3 after invalidation", len(posts))
	}
}

func TestByIDDispatchesBackup(t *testing.T) {
	queue := &recordingQueue{}
	svc := newService(memory.New(), nil, queue)
	p := createDraft(t, svc)

	got, err := svc.ByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ByID() error = %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("ByID() = %q", got.ID)
	}
	if queue.count() != 1 {
		t.Errorf("backup enqueues = %d, want 1", queue.count())
	}

	if _, err := svc.ByID(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ByID(missing) error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	svc := newService(memory.New(), nil, nil)
	p := createDraft(t, svc)

	if err := svc.Delete(context.Background(), p.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := svc.ByID(context.Background(), p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("ByID after delete error = %v, want ErrNotFound", err)
	}
	if err := svc.Delete(context.Background(), p.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
}

func TestTag(t *testing.T) {
	svc := newService(memory.New(), nil, nil)
	p := createDraft(t, svc)

	tag, err := svc.Tag(context.Background(), p.ID, "golang")
	if err != nil {
		t.Fatalf("Tag() error = %v", err)
	}
	if tag.Name != "golang" {
		t.Errorf("tag = %+v", tag)
	}

	// attaching the same name again reuses the tag
	again, err := svc.Tag(context.Background(), p.ID, "golang")
	if err != nil {
		t.Fatalf("Tag() second call error = %v", err)
	}
	if again.ID != tag.ID {
		t.Errorf("tag id changed: %q vs %q", again.ID, tag.ID)
	}

	got, err := svc.ByID(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("ByID() error = %v", err)
	}
	if len(got.Tags) != 1 || got.Tags[0].Name != "golang" {
		t.Errorf("Tags = %+v", got.Tags)
	}

	if _, err := svc.Tag(context.Background(), p.ID, "  "); !errors.Is(err, content.ErrValidation) {
		t.Errorf("Tag(blank) error = %v, want ErrValidation", err)
	}
}

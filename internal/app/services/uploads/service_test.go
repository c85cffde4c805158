package uploads_test

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/plantree-xyz/plantree-server/internal/app/services/uploads"
	"github.com/plantree-xyz/plantree-server/internal/app/storage/memory"
	"github.com/plantree-xyz/plantree-server/internal/blob"
)

type fakeObjectStore struct {
	lastPath        string
	lastContentType string
	lastBody        string
	err             error
}

func (f *fakeObjectStore) Put(_ context.Context, objectPath, contentType string, body io.Reader) (*blob.PutResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, _ := io.ReadAll(body)
	f.lastPath = objectPath
	f.lastContentType = contentType
	f.lastBody = string(data)
	return &blob.PutResult{
		URL:         "https://storage.example.com/object/public/uploads/" + objectPath,
		Pathname:    objectPath,
		ContentType: contentType,
	}, nil
}

func TestStore(t *testing.T) {
	store := &fakeObjectStore{}
	assets := memory.New()
	svc := uploads.New(store, assets, nil)

	result, err := svc.Store(context.Background(), "abc123", "image/png", strings.NewReader("pngdata"))
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if store.lastPath != "abc123.png" {
		t.Errorf("object path = %q, want abc123.png", store.lastPath)
	}
	if store.lastBody != "pngdata" {
		t.Errorf("body = %q", store.lastBody)
	}
	if result.Pathname != "abc123.png" {
		t.Errorf("Pathname = %q", result.Pathname)
	}

	recorded, err := assets.ListAssets(context.Background())
	if err != nil {
		t.Fatalf("ListAssets() error = %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("assets len = %d", len(recorded))
	}
	if recorded[0].URL != result.URL || recorded[0].Type != "image/png" {
		t.Errorf("asset = %+v", recorded[0])
	}
}

func TestStoreDefaultsContentType(t *testing.T) {
	store := &fakeObjectStore{}
	svc := uploads.New(store, memory.New(), nil)

	if _, err := svc.Store(context.Background(), "h1", "", strings.NewReader("x")); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if store.lastContentType != "text/plain" {
		t.Errorf("content type = %q, want text/plain", store.lastContentType)
	}
	if store.lastPath != "h1.txt" {
		t.Errorf("object path = %q", store.lastPath)
	}
}

func TestStoreExtensions(t *testing.T) {
	store := &fakeObjectStore{}
	svc := uploads.New(store, memory.New(), nil)

	tests := []struct {
		contentType string
		want        string
	}{
		{"image/jpeg", "h.jpg"},
		{"image/gif", "h.gif"},
		{"image/webp", "h.webp"},
		{"application/json", "h.json"},
		{"image/png; charset=binary", "h.png"},
		{"application/x-unknown-thing", "h.bin"},
	}
	for _, tt := range tests {
		if _, err := svc.Store(context.Background(), "h", tt.contentType, strings.NewReader("x")); err != nil {
			t.Fatalf("Store(%s) error = %v", tt.contentType, err)
		}
		if store.lastPath != tt.want {
			t.Errorf("Store(%s) path = %q, want %q", tt.contentType, store.lastPath, tt.want)
		}
	}
}

func TestStoreNotConfigured(t *testing.T) {
	svc := uploads.New(nil, memory.New(), nil)
	if _, err := svc.Store(context.Background(), "h", "image/png", strings.NewReader("x")); !errors.Is(err, uploads.ErrNotConfigured) {
		t.Fatalf("Store() error = %v, want ErrNotConfigured", err)
	}
}

func TestStoreMissingHash(t *testing.T) {
	svc := uploads.New(&fakeObjectStore{}, memory.New(), nil)
	if _, err := svc.Store(context.Background(), "", "image/png", strings.NewReader("x")); !errors.Is(err, uploads.ErrBadRequest) {
		t.Fatalf("Store() error = %v, want ErrBadRequest", err)
	}
}

package storage

import (
	"context"
	"errors"
	"testing"

	"vidgen/internal/domain"
)

func TestFileStoreWriteRead(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "http://localhost:8080/static/")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	key := ArtifactKey("job-1", "pika", ".MP4")
	if key != "videos/job-1/pika.mp4" {
		t.Fatalf("key = %q", key)
	}
	stored, err := store.Write(context.Background(), key, []byte("video"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	data, err := store.Read(context.Background(), stored)
	if err != nil || string(data) != "video" {
		t.Fatalf("Read = %q, %v", data, err)
	}
	if got := store.URL(stored); got != "http://localhost:8080/static/videos/job-1/pika.mp4" {
		t.Fatalf("URL = %q", got)
	}
}

func TestFileStoreRejectsTraversal(t *testing.T) {
	store, err := NewFileStore(t.TempDir(), "")
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	if _, err := store.Write(context.Background(), "../escape", []byte("x")); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if got := ArtifactKey("../../etc", "p/q", ""); got != "videos/______etc/p_q.mp4" {
		t.Fatalf("key = %q", got)
	}
}

func TestFileStoreReadMissing(t *testing.T) {
	store, _ := NewFileStore(t.TempDir(), "")
	if _, err := store.Read(context.Background(), "videos/none.mp4"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

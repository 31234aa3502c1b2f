package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	t.Parallel()
	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, "images/a.png", strings.NewReader("png")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !store.Exists(ctx, "images/a.png") {
		t.Fatal("saved blob should exist")
	}

	r, err := store.Open(ctx, "images/a.png")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	body, _ := io.ReadAll(r)
	if string(body) != "png" {
		t.Errorf("got %q, want png", body)
	}

	if err := store.Delete(ctx, "images/a.png"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Open(ctx, "images/a.png"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("open after delete: got %v, want fs.ErrNotExist", err)
	}
	if len(store.Keys()) != 0 {
		t.Errorf("expected no keys, got %v", store.Keys())
	}
}

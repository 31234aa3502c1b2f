package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"postengine/internal/domain"
	"postengine/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test_posts.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	if err := store.Migrate("../../../migrations"); err != nil {
		t.Fatalf("migration failed: %v", err)
	}

	return store
}

// seedEntity writes a post plus its extension row for kind.
func seedEntity(t *testing.T, s *Store, kind *domain.Kind, slug string, published bool, order int) (*storage.Post, *storage.Extension) {
	t.Helper()
	ctx := context.Background()

	post := &storage.Post{Title: "Title " + slug, Published: published}
	if err := s.CreatePost(ctx, post); err != nil {
		t.Fatalf("create post: %v", err)
	}

	ext := &storage.Extension{PostID: post.ID, Slug: slug, SortOrder: order}
	if err := s.CreateExtension(ctx, kind, ext); err != nil {
		t.Fatalf("create %s: %v", kind, err)
	}
	return post, ext
}

func seedCategory(t *testing.T, s *Store, postType domain.PostType, slug string) *storage.Category {
	t.Helper()

	c := &storage.Category{PostType: postType, Name: fmt.Sprintf("Category %s", slug), Slug: slug}
	if err := s.CreateCategory(context.Background(), c); err != nil {
		t.Fatalf("create category: %v", err)
	}
	return c
}

package localfs

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/fieldwalk/fieldwalk/internal/storage"
)

func TestPutOpenDelete(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	if err := store.Put(ctx, "ab/abc123.jpg", strings.NewReader("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rc, err := store.Open(ctx, "ab/abc123.jpg")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("read %q", data)
	}

	if err := store.Delete(ctx, "ab/abc123.jpg"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Open(ctx, "ab/abc123.jpg"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Open after delete: %v", err)
	}

	// Deleting again must not fail.
	if err := store.Delete(ctx, "ab/abc123.jpg"); err != nil {
		t.Errorf("second Delete: %v", err)
	}
}

func TestRejectsTraversal(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	for _, key := range []string{"", "..", "../escape", "/abs/path", "a/../../b"} {
		if err := store.Put(ctx, key, strings.NewReader("x")); err == nil {
			t.Errorf("Put(%q) accepted", key)
		}
	}
}

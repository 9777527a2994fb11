package posixfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestSourceStatAndOpen(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), []byte("hello"))

	s := NewSource(root)
	ctx := context.Background()

	names, err := s.ListDir(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != "a.txt" {
		t.Fatalf("unexpected listing: %v", names)
	}

	a, err := s.Stat(ctx, "a.txt", true)
	if err != nil {
		t.Fatal(err)
	}
	if a.Size != 5 {
		t.Errorf("size = %d, want 5", a.Size)
	}
	if len(a.Hash) == 0 {
		t.Error("expected hash to be populated")
	}

	id, err := s.Identifier(a)
	if err != nil {
		t.Fatal(err)
	}
	rc, err := s.Open(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
}

func TestDestinationTouchLinkDedup(t *testing.T) {
	root := t.TempDir()
	srcRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "f"), []byte("payload"))

	ctx := context.Background()
	src := NewSource(srcRoot)
	a, err := src.Stat(ctx, "f", true)
	if err != nil {
		t.Fatal(err)
	}

	dst, err := New(root)
	if err != nil {
		t.Fatal(err)
	}

	created, err := dst.Touch(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected first touch to create entry")
	}

	id, err := dst.Identifier(a)
	if err != nil {
		t.Fatal(err)
	}
	w, err := dst.OpenWrite(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if err := dst.Link(ctx, "one.txt", id); err != nil {
		t.Fatal(err)
	}
	if err := dst.Link(ctx, "two.txt", id); err != nil {
		t.Fatal(err)
	}

	one, err := os.Stat(filepath.Join(root, "one.txt"))
	if err != nil {
		t.Fatal(err)
	}
	two, err := os.Stat(filepath.Join(root, "two.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(one, two) {
		t.Error("expected one.txt and two.txt to be hardlinks to the same pool entry")
	}

	// Re-linking the same path to the same identifier must be idempotent.
	if err := dst.Link(ctx, "one.txt", id); err != nil {
		t.Errorf("expected idempotent re-link to succeed, got %v", err)
	}

	consistent, err := dst.IsHashConsistent(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !consistent {
		t.Error("expected hash to be consistent")
	}
}

func TestDestinationGarbageCollectorReclaimsUnlinked(t *testing.T) {
	root := t.TempDir()
	srcRoot := t.TempDir()
	writeFile(t, filepath.Join(srcRoot, "f"), []byte("gcme"))

	ctx := context.Background()
	src := NewSource(srcRoot)
	a, err := src.Stat(ctx, "f", true)
	if err != nil {
		t.Fatal(err)
	}

	dst, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dst.Touch(ctx, a); err != nil {
		t.Fatal(err)
	}
	id, _ := dst.Identifier(a)
	w, _ := dst.OpenWrite(ctx, id)
	w.Write([]byte("gcme"))
	w.Close()

	if err := dst.Link(ctx, "f.txt", id); err != nil {
		t.Fatal(err)
	}
	if err := dst.Unlink(ctx, "f.txt"); err != nil {
		t.Fatal(err)
	}

	if err := dst.GarbageCollector(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(dst.poolPath(id)); !os.IsNotExist(err) {
		t.Errorf("expected pool entry to be removed, stat err = %v", err)
	}
}

func TestDestinationMkdirExistingReturnsErrExist(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	dst, err := New(root)
	if err != nil {
		t.Fatal(err)
	}
	a := &attrs.Attrs{Mode: os.ModeDir | 0755}
	if err := dst.Mkdir(ctx, "sub", a); err != nil {
		t.Fatal(err)
	}
	if err := dst.Mkdir(ctx, "sub", a); !errors.Is(err, os.ErrExist) {
		t.Errorf("expected second Mkdir to fail with os.ErrExist, got %v", err)
	}
}

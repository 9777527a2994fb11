package testfs

import (
	"context"
	"os"
	"testing"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
)

func TestDestinationDedupesIdenticalFiles(t *testing.T) {
	ctx := context.Background()
	d := NewDestination()

	a := mustAttrs(t, d, []byte("hello"), 0644, 1, 1)

	created, err := d.Touch(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Fatal("expected first touch to create a new entry")
	}

	id, err := d.Identifier(a)
	if err != nil {
		t.Fatal(err)
	}
	w, err := d.OpenWrite(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := d.Link(ctx, "a.txt", id); err != nil {
		t.Fatal(err)
	}

	created, err = d.Touch(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("expected second touch of identical content to report already-present")
	}
	if err := d.Link(ctx, "b.txt", id); err != nil {
		t.Fatal(err)
	}

	if got := d.PoolSize(); got != 1 {
		t.Errorf("expected 1 pool entry after dedup, got %d", got)
	}
}

func TestGarbageCollectorReclaimsUnlinkedEntries(t *testing.T) {
	ctx := context.Background()
	d := NewDestination()

	a := mustAttrs(t, d, []byte("x"), 0644, 0, 0)
	if _, err := d.Touch(ctx, a); err != nil {
		t.Fatal(err)
	}
	id, _ := d.Identifier(a)
	if err := d.Link(ctx, "x.txt", id); err != nil {
		t.Fatal(err)
	}
	if err := d.Unlink(ctx, "x.txt"); err != nil {
		t.Fatal(err)
	}

	if err := d.GarbageCollector(ctx); err != nil {
		t.Fatal(err)
	}
	if got := d.PoolSize(); got != 0 {
		t.Errorf("expected pool entry to be reclaimed, got %d remaining", got)
	}
}

func TestIsHashConsistentDetectsCorruption(t *testing.T) {
	ctx := context.Background()
	d := NewDestination()

	a := mustAttrs(t, d, []byte("original"), 0644, 0, 0)
	if _, err := d.Touch(ctx, a); err != nil {
		t.Fatal(err)
	}
	id, _ := d.Identifier(a)
	w, _ := d.OpenWrite(ctx, id)
	w.Write([]byte("original"))
	w.Close()

	ok, err := d.IsHashConsistent(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected consistent hash before corruption")
	}

	d.Corrupt(id, []byte("corrupted"))

	ok, err = d.IsHashConsistent(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected inconsistent hash after corruption")
	}
}

func mustAttrs(t *testing.T, d *Destination, data []byte, mode os.FileMode, uid, gid int) *attrs.Attrs {
	t.Helper()
	s := NewSource([]Entry{{Path: "f", Mode: mode, UID: uid, GID: gid, Data: data}})
	a, err := s.Stat(context.Background(), "f", true)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

// Package logging wraps a backend.Destination, logging every mutating
// call and its outcome. It generalizes the teacher's store/logging
// decorator to the shrinkwrap backend interfaces.
package logging

import (
	"context"
	"io"
	"log"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
	"github.com/shrinkwrap-go/shrinkwrap/backend"
)

// Destination wraps a backend.Destination, logging mutating calls.
type Destination struct {
	d backend.Destination
}

// New returns a Destination that logs around calls to d.
func New(d backend.Destination) *Destination {
	return &Destination{d: d}
}

// ListDir implements backend.Source.
func (l *Destination) ListDir(ctx context.Context, dir string) ([]string, error) {
	return l.d.ListDir(ctx, dir)
}

// Stat implements backend.Source.
func (l *Destination) Stat(ctx context.Context, path string, wantHash bool) (*attrs.Attrs, error) {
	return l.d.Stat(ctx, path, wantHash)
}

// Identifier implements backend.Source.
func (l *Destination) Identifier(a *attrs.Attrs) (string, error) {
	return l.d.Identifier(a)
}

// Open implements backend.Source.
func (l *Destination) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	return l.d.Open(ctx, identifier)
}

// OpenWrite implements backend.Destination.
func (l *Destination) OpenWrite(ctx context.Context, identifier string) (io.WriteCloser, error) {
	return l.d.OpenWrite(ctx, identifier)
}

// Touch implements backend.Destination.
func (l *Destination) Touch(ctx context.Context, a *attrs.Attrs) (bool, error) {
	created, err := l.d.Touch(ctx, a)
	if err != nil {
		log.Printf("ERROR touch %s: %s", a.Path, err)
	} else if created {
		log.Printf("touch %s: created new pool entry", a.Path)
	}
	return created, err
}

// Link implements backend.Destination.
func (l *Destination) Link(ctx context.Context, path, identifier string) error {
	err := l.d.Link(ctx, path, identifier)
	if err != nil {
		log.Printf("ERROR link %s -> %s: %s", path, identifier, err)
	} else {
		log.Printf("link %s -> %s", path, identifier)
	}
	return err
}

// Mkdir implements backend.Destination.
func (l *Destination) Mkdir(ctx context.Context, path string, a *attrs.Attrs) error {
	err := l.d.Mkdir(ctx, path, a)
	if err != nil {
		log.Printf("mkdir %s: %s", path, err)
	} else {
		log.Printf("mkdir %s", path)
	}
	return err
}

// SetMeta implements backend.Destination.
func (l *Destination) SetMeta(ctx context.Context, path string, a *attrs.Attrs) error {
	err := l.d.SetMeta(ctx, path, a)
	if err != nil {
		log.Printf("ERROR set-meta %s: %s", path, err)
	} else {
		log.Printf("set-meta %s", path)
	}
	return err
}

// Symlink implements backend.Destination.
func (l *Destination) Symlink(ctx context.Context, path, target string, a *attrs.Attrs) error {
	err := l.d.Symlink(ctx, path, target, a)
	if err != nil {
		log.Printf("ERROR symlink %s -> %s: %s", path, target, err)
	} else {
		log.Printf("symlink %s -> %s", path, target)
	}
	return err
}

// Unlink implements backend.Destination.
func (l *Destination) Unlink(ctx context.Context, path string) error {
	err := l.d.Unlink(ctx, path)
	if err != nil {
		log.Printf("ERROR unlink %s: %s", path, err)
	} else {
		log.Printf("unlink %s", path)
	}
	return err
}

// Rmdir implements backend.Destination.
func (l *Destination) Rmdir(ctx context.Context, path string) error {
	err := l.d.Rmdir(ctx, path)
	if err != nil {
		log.Printf("ERROR rmdir %s: %s", path, err)
	} else {
		log.Printf("rmdir %s", path)
	}
	return err
}

// IsHashConsistent implements backend.Destination.
func (l *Destination) IsHashConsistent(ctx context.Context, a *attrs.Attrs) (bool, error) {
	return l.d.IsHashConsistent(ctx, a)
}

// GarbageCollector implements backend.Destination.
func (l *Destination) GarbageCollector(ctx context.Context) error {
	log.Print("starting garbage collection")
	err := l.d.GarbageCollector(ctx)
	if err != nil {
		log.Printf("ERROR garbage collection: %s", err)
	} else {
		log.Print("garbage collection complete")
	}
	return err
}

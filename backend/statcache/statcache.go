// Package statcache wraps a backend.Source with an LRU cache of Stat
// results, generalizing the teacher's store/lru decorator. It pays off
// when a run restats the same paths more than once, e.g. fsck mode
// re-scanning a directory already visited in a prior pass.
package statcache

import (
	"context"
	"io"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
	"github.com/shrinkwrap-go/shrinkwrap/backend"
)

// Source wraps a backend.Source, caching Stat results by (path, wantHash).
type Source struct {
	s backend.Source
	c *lru.Cache
}

type cacheKey struct {
	path     string
	wantHash bool
}

// New returns a Source wrapping s with an LRU cache holding up to size
// entries.
func New(s backend.Source, size int) (*Source, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "creating stat cache")
	}
	return &Source{s: s, c: c}, nil
}

// ListDir implements backend.Source. Directory listings are not cached;
// only individual Stat calls are.
func (c *Source) ListDir(ctx context.Context, dir string) ([]string, error) {
	return c.s.ListDir(ctx, dir)
}

// Stat implements backend.Source.
func (c *Source) Stat(ctx context.Context, path string, wantHash bool) (*attrs.Attrs, error) {
	key := cacheKey{path: path, wantHash: wantHash}
	if v, ok := c.c.Get(key); ok {
		a := v.(attrs.Attrs)
		return &a, nil
	}
	a, err := c.s.Stat(ctx, path, wantHash)
	if err != nil {
		return nil, err
	}
	c.c.Add(key, *a)
	return a, nil
}

// Identifier implements backend.Source.
func (c *Source) Identifier(a *attrs.Attrs) (string, error) {
	return c.s.Identifier(a)
}

// Open implements backend.Source.
func (c *Source) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	return c.s.Open(ctx, identifier)
}

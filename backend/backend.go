// Package backend defines the capability interfaces a filesystem
// implementation exposes to the synchronizer: a read-only Source and a
// read-write, pool-backed Destination.
package backend

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
)

// ErrUnknownType is returned when an entry's mode bits don't resolve to a
// regular file, directory, or symlink.
var ErrUnknownType = errors.New("unknown file type")

// Source is the read side of a backend: a tree the synchronizer walks and
// copies from. It never needs a pool, since nothing is ever deduplicated
// on the source side.
type Source interface {
	// ListDir returns the names of the direct children of dir, sorted.
	ListDir(ctx context.Context, dir string) ([]string, error)

	// Stat returns the attributes of the entry at path. wantHash asks the
	// backend to also populate Attrs.Hash for regular files, which may be
	// expensive.
	Stat(ctx context.Context, path string, wantHash bool) (*attrs.Attrs, error)

	// Identifier derives the string a's bytes can be opened with.
	Identifier(a *attrs.Attrs) (string, error)

	// Open opens the bytes named by identifier for reading.
	Open(ctx context.Context, identifier string) (io.ReadCloser, error)
}

// Destination is the write side of a backend: a tree the synchronizer
// reconciles to match a Source, backed by a content+metadata-addressed
// pool of regular-file bytes.
type Destination interface {
	Source

	// OpenWrite opens the pool entry named by identifier for writing. The
	// entry must already exist (via Touch).
	OpenWrite(ctx context.Context, identifier string) (io.WriteCloser, error)

	// Touch atomically creates an empty pool entry for a if one doesn't
	// already exist, reporting whether it did the creating.
	Touch(ctx context.Context, a *attrs.Attrs) (created bool, err error)

	// Link makes path a user-visible name for the pool entry identified
	// by identifier. Calling Link again for the same (path, identifier)
	// pair is a no-op.
	Link(ctx context.Context, path, identifier string) error

	// Mkdir creates path as a directory with the given attributes. If
	// path already exists as a directory, Mkdir returns an error
	// satisfying errors.Is(err, os.ErrExist); the caller should follow up
	// with SetMeta.
	Mkdir(ctx context.Context, path string, a *attrs.Attrs) error

	// SetMeta updates the mode/owner of the existing directory at path.
	SetMeta(ctx context.Context, path string, a *attrs.Attrs) error

	// Symlink creates path as a symlink pointing at target.
	Symlink(ctx context.Context, path, target string, a *attrs.Attrs) error

	// Unlink removes the regular file or symlink at path.
	Unlink(ctx context.Context, path string) error

	// Rmdir removes the (now-empty) directory at path.
	Rmdir(ctx context.Context, path string) error

	// IsHashConsistent reports whether the pool entry addressed by a's
	// identifier currently has bytes matching a.Hash.
	IsHashConsistent(ctx context.Context, a *attrs.Attrs) (bool, error)

	// GarbageCollector reclaims pool entries with no remaining links.
	GarbageCollector(ctx context.Context) error
}

package posixfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/bobg/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
)

// Destination is a content-pool backend.Destination rooted at a
// directory on disk. Regular-file bytes live under a hidden pool
// directory, hash-prefix-sharded the way the teacher's store/file shards
// blobs by ref; every user-visible regular file is a hardlink into that
// pool.
type Destination struct {
	root    string
	poolDir string
	flocker flock.Locker
}

// New returns a Destination rooted at root, creating the pool directory
// if necessary.
func New(root string) (*Destination, error) {
	poolDir := filepath.Join(root, ".shrinkwrap-pool")
	if err := os.MkdirAll(poolDir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating pool directory %q", poolDir)
	}
	return &Destination{root: root, poolDir: poolDir}, nil
}

func (d *Destination) full(p string) string {
	if p == "" {
		return d.root
	}
	return filepath.Join(d.root, filepath.FromSlash(p))
}

func (d *Destination) poolPath(identifier string) string {
	if len(identifier) < 4 {
		return filepath.Join(d.poolDir, identifier)
	}
	return filepath.Join(d.poolDir, identifier[:2], identifier[2:4], identifier)
}

// gcLockPath is the file locked by flocker for the duration of a
// garbage collection pass, the same way the teacher's store/file locks
// its anchor-map-ref file.
func (d *Destination) gcLockPath() string {
	return filepath.Join(d.root, ".shrinkwrap-gc.lock")
}

// ListDir implements backend.Source. Entries under the pool directory
// itself are never surfaced.
func (d *Destination) ListDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(d.full(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "reading directory %q", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if dir == "" && e.Name() == filepath.Base(d.poolDir) {
			continue
		}
		if dir == "" && e.Name() == filepath.Base(d.gcLockPath()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Stat implements backend.Source.
func (d *Destination) Stat(ctx context.Context, p string, wantHash bool) (*attrs.Attrs, error) {
	full := d.full(p)
	fi, err := os.Lstat(full)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %q", p)
	}

	a := &attrs.Attrs{Size: fi.Size(), Mode: fi.Mode(), Path: p}
	if sysStat, ok := fi.Sys().(*syscall.Stat_t); ok {
		a.UID = int(sysStat.Uid)
		a.GID = int(sysStat.Gid)
		a.Inode = sysStat.Ino
	}

	switch {
	case fi.Mode()&os.ModeSymlink != 0:
		target, err := os.Readlink(full)
		if err != nil {
			return nil, errors.Wrapf(err, "reading symlink %q", p)
		}
		a.Name = target
		a.Size = int64(len(target))
	case fi.Mode().IsRegular() && wantHash:
		h, err := hashFile(full)
		if err != nil {
			return nil, errors.Wrapf(err, "hashing %q", p)
		}
		a.Hash = h
	}

	return a, nil
}

// Identifier implements backend.Source: a content+metadata fingerprint,
// so two logically identical files always address the same pool entry.
func (d *Destination) Identifier(a *attrs.Attrs) (string, error) {
	return fmt.Sprintf("%x-%o-%d-%d", a.Hash, a.Mode.Perm(), a.UID, a.GID), nil
}

// Open implements backend.Source, reading a pool entry by identifier.
func (d *Destination) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	f, err := os.Open(d.poolPath(identifier))
	return f, errors.Wrapf(err, "opening pool entry %q", identifier)
}

// stagingWriter buffers writes to a temporary file beside the pool entry
// and atomically renames it into place on Close, so a concurrent reader
// that already hardlinked the (empty) pool entry never observes a
// partially written file.
type stagingWriter struct {
	f       *os.File
	staging string
	final   string
}

func (w *stagingWriter) Write(p []byte) (int, error) { return w.f.Write(p) }

func (w *stagingWriter) Close() error {
	if err := w.f.Close(); err != nil {
		os.Remove(w.staging)
		return errors.Wrap(err, "closing staging file")
	}
	if err := os.Rename(w.staging, w.final); err != nil {
		os.Remove(w.staging)
		return errors.Wrap(err, "renaming staging file into place")
	}
	return nil
}

// OpenWrite implements backend.Destination.
func (d *Destination) OpenWrite(ctx context.Context, identifier string) (io.WriteCloser, error) {
	final := d.poolPath(identifier)
	staging := final + ".tmp-" + uuid.NewString()

	f, err := os.OpenFile(staging, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "creating staging file for %q", identifier)
	}
	return &stagingWriter{f: f, staging: staging, final: final}, nil
}

// Touch implements backend.Destination, using O_EXCL to make pool-entry
// creation atomic across concurrent syncs.
func (d *Destination) Touch(ctx context.Context, a *attrs.Attrs) (bool, error) {
	id, err := d.Identifier(a)
	if err != nil {
		return false, err
	}
	full := d.poolPath(id)
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return false, errors.Wrapf(err, "creating pool shard for %q", id)
	}

	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "creating pool entry %q", id)
	}
	f.Close()
	return true, nil
}

// Link implements backend.Destination.
func (d *Destination) Link(ctx context.Context, p, identifier string) error {
	full := d.full(p)
	pool := d.poolPath(identifier)

	err := os.Link(pool, full)
	if err == nil {
		return nil
	}
	if !os.IsExist(err) {
		return errors.Wrapf(err, "linking %q to pool entry %q", p, identifier)
	}

	existingInfo, statErr := os.Stat(full)
	poolInfo, poolStatErr := os.Stat(pool)
	if statErr == nil && poolStatErr == nil && os.SameFile(existingInfo, poolInfo) {
		return nil
	}
	return errors.Wrapf(err, "linking %q to pool entry %q (path exists and differs)", p, identifier)
}

// Mkdir implements backend.Destination.
func (d *Destination) Mkdir(ctx context.Context, p string, a *attrs.Attrs) error {
	err := os.Mkdir(d.full(p), a.Mode.Perm())
	if err == nil {
		return nil
	}
	if os.IsExist(err) {
		return errors.Wrapf(os.ErrExist, "directory %q", p)
	}
	return errors.Wrapf(err, "creating directory %q", p)
}

// SetMeta implements backend.Destination.
func (d *Destination) SetMeta(ctx context.Context, p string, a *attrs.Attrs) error {
	full := d.full(p)
	if err := os.Chmod(full, a.Mode.Perm()); err != nil {
		return errors.Wrapf(err, "chmod %q", p)
	}
	if err := os.Chown(full, a.UID, a.GID); err != nil {
		return errors.Wrapf(err, "chown %q", p)
	}
	return nil
}

// Symlink implements backend.Destination.
func (d *Destination) Symlink(ctx context.Context, p, target string, a *attrs.Attrs) error {
	return errors.Wrapf(os.Symlink(target, d.full(p)), "symlinking %q -> %q", p, target)
}

// Unlink implements backend.Destination.
func (d *Destination) Unlink(ctx context.Context, p string) error {
	return errors.Wrapf(os.Remove(d.full(p)), "unlinking %q", p)
}

// Rmdir implements backend.Destination.
func (d *Destination) Rmdir(ctx context.Context, p string) error {
	return errors.Wrapf(os.Remove(d.full(p)), "removing directory %q", p)
}

// IsHashConsistent implements backend.Destination: recomputes the actual
// hash of the pool entry addressed by a's identifier and compares it to
// a.Hash.
func (d *Destination) IsHashConsistent(ctx context.Context, a *attrs.Attrs) (bool, error) {
	id, err := d.Identifier(a)
	if err != nil {
		return false, err
	}
	h, err := hashFile(d.poolPath(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "hashing pool entry %q", id)
	}
	return bytes.Equal(h, a.Hash), nil
}

// GarbageCollector implements backend.Destination: removes every pool
// entry with no remaining hardlinks, under an advisory lock so it
// doesn't race a concurrent sync's Touch/Link calls.
func (d *Destination) GarbageCollector(ctx context.Context) error {
	if err := d.flocker.Lock(d.gcLockPath()); err != nil {
		return errors.Wrap(err, "locking pool for garbage collection")
	}
	defer d.flocker.Unlock(d.gcLockPath())

	return filepath.WalkDir(d.poolDir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return errors.Wrapf(err, "stat %q", path)
		}
		sysStat, ok := info.Sys().(*syscall.Stat_t)
		if !ok {
			return nil
		}
		if sysStat.Nlink <= 1 {
			if err := os.Remove(path); err != nil {
				return errors.Wrapf(err, "removing unreferenced pool entry %q", path)
			}
		}
		return nil
	})
}

// Package posixfs provides real-disk reference backends: a read-only
// Source over a plain directory tree, and a content-pool Destination
// that hardlinks user-visible paths into a hash-sharded pool directory,
// grounded on the teacher's store/file backend.
package posixfs

import (
	"context"
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
)

// Source is a read-only backend.Source rooted at a directory on disk.
type Source struct {
	root string
}

// NewSource returns a Source serving files under root.
func NewSource(root string) *Source {
	return &Source{root: root}
}

func (s *Source) full(p string) string {
	if p == "" {
		return s.root
	}
	return filepath.Join(s.root, filepath.FromSlash(p))
}

// ListDir implements backend.Source.
func (s *Source) ListDir(ctx context.Context, dir string) ([]string, error) {
	entries, err := os.ReadDir(s.full(dir))
	if err != nil {
		return nil, errors.Wrapf(err, "reading directory %q", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Stat implements backend.Source.
func (s *Source) Stat(ctx context.Context, p string, wantHash bool) (*attrs.Attrs, error) {
	full := s.full(p)
	fi, err := os.Lstat(full)
	if err != nil {
		return nil, errors.Wrapf(err, "stat %q", p)
	}

	a := &attrs.Attrs{
		Size: fi.Size(),
		Mode: fi.Mode(),
		Path: p,
	}
	if sysStat, ok := fi.Sys().(*syscall.Stat_t); ok {
		a.UID = int(sysStat.Uid)
		a.GID = int(sysStat.Gid)
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

// Identifier implements backend.Source: the relative path is itself the
// openable identifier.
func (s *Source) Identifier(a *attrs.Attrs) (string, error) {
	return a.Path, nil
}

// Open implements backend.Source.
func (s *Source) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	f, err := os.Open(s.full(identifier))
	return f, errors.Wrapf(err, "opening %q", identifier)
}

func hashFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return nil, err
	}
	return h.Sum(nil), nil
}

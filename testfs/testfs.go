// Package testfs provides in-memory Source and Destination fakes for
// exercising the synchronizer without touching disk, playing the role
// the teacher's store/mem plays for its blob store.
package testfs

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
	"github.com/shrinkwrap-go/shrinkwrap/backend"
)

// Entry describes one path to seed into a Source or Destination tree.
type Entry struct {
	Path    string
	Mode    os.FileMode
	UID     int
	GID     int
	Data    []byte // regular files only
	Target  string // symlinks only
	Version uint64
}

type entry struct {
	mode    os.FileMode
	uid     int
	gid     int
	data    []byte
	target  string
	version uint64
}

// Source is an in-memory, read-only backend.Source.
type Source struct {
	mu      sync.Mutex
	entries map[string]*entry // path -> entry; "" is the root dir
}

// NewSource builds a Source from the given entries plus an implicit root
// directory.
func NewSource(entries []Entry) *Source {
	s := &Source{entries: map[string]*entry{"": {mode: os.ModeDir | 0755}}}
	for _, e := range entries {
		s.entries[e.Path] = toEntry(e)
	}
	return s
}

func toEntry(e Entry) *entry {
	return &entry{mode: e.Mode, uid: e.UID, gid: e.GID, data: e.Data, target: e.Target, version: e.Version}
}

func childrenOf(entries map[string]*entry, dir string) []string {
	var names []string
	for p := range entries {
		if p == "" || p == dir {
			continue
		}
		parent, name := path.Split(p)
		parent = strings.TrimSuffix(parent, "/")
		if parent == dir {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// ListDir implements backend.Source.
func (s *Source) ListDir(ctx context.Context, dir string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[dir]; !ok {
		return nil, errors.Errorf("no such directory %q", dir)
	}
	return childrenOf(s.entries, dir), nil
}

// Stat implements backend.Source. Source always computes a fingerprint
// for regular files, regardless of wantHash, mirroring the reference
// implementation's unconditional source-side hashing.
func (s *Source) Stat(ctx context.Context, p string, wantHash bool) (*attrs.Attrs, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[p]
	if !ok {
		return nil, errors.Errorf("no such entry %q", p)
	}
	a := &attrs.Attrs{
		Version: e.version,
		Mode:    e.mode,
		UID:     e.uid,
		GID:     e.gid,
		Size:    int64(len(e.data)),
		Path:    p,
	}
	if e.mode.IsRegular() {
		h := sha256.Sum256(e.data)
		a.Hash = h[:]
	}
	if e.mode&os.ModeSymlink != 0 {
		a.Name = e.target
		a.Size = int64(len(e.target))
	}
	return a, nil
}

// Identifier implements backend.Source: the path is its own identifier.
func (s *Source) Identifier(a *attrs.Attrs) (string, error) {
	return a.Path, nil
}

// Open implements backend.Source.
func (s *Source) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[identifier]
	if !ok {
		return nil, errors.Errorf("no such entry %q", identifier)
	}
	return io.NopCloser(bytes.NewReader(e.data)), nil
}

// Mutate applies fn to the entry at p under lock, for tests that need to
// modify a source tree mid-scenario (e.g. simulating an edit between two
// runs). If p doesn't yet exist, fn receives an Entry with only Path set.
func (s *Source) Mutate(p string, fn func(*Entry) Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cur Entry
	if e, ok := s.entries[p]; ok {
		cur = Entry{Path: p, Mode: e.mode, UID: e.uid, GID: e.gid, Data: e.data, Target: e.target, Version: e.version}
	} else {
		cur = Entry{Path: p}
	}
	next := fn(&cur)
	s.entries[p] = toEntry(next)
}

// poolEntry is one content+metadata-addressed blob in a Destination's
// pool.
type poolEntry struct {
	inode       uint64
	data        []byte
	claimedHash []byte
	refcount    int
}

// Destination is an in-memory backend.Destination.
type Destination struct {
	mu        sync.Mutex
	nextInode uint64
	dirs      map[string]*entry  // path -> dir entry
	links     map[string]string  // path -> pool identifier
	symlinks  map[string]*entry  // path -> symlink entry
	pool      map[string]*poolEntry
}

// NewDestination returns an empty Destination, containing only the root
// directory.
func NewDestination() *Destination {
	return &Destination{
		dirs:     map[string]*entry{"": {mode: os.ModeDir | 0755}},
		links:    map[string]string{},
		symlinks: map[string]*entry{},
		pool:     map[string]*poolEntry{},
	}
}

// ListDir implements backend.Source.
func (d *Destination) ListDir(ctx context.Context, dir string) ([]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dirs[dir]; !ok {
		return nil, errors.Errorf("no such directory %q", dir)
	}
	all := map[string]struct{}{}
	for p := range d.dirs {
		if p == "" {
			continue
		}
		parent, name := path.Split(p)
		parent = strings.TrimSuffix(parent, "/")
		if parent == dir {
			all[name] = struct{}{}
		}
	}
	for p := range d.links {
		parent, name := path.Split(p)
		parent = strings.TrimSuffix(parent, "/")
		if parent == dir {
			all[name] = struct{}{}
		}
	}
	for p := range d.symlinks {
		parent, name := path.Split(p)
		parent = strings.TrimSuffix(parent, "/")
		if parent == dir {
			all[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Stat implements backend.Source.
func (d *Destination) Stat(ctx context.Context, p string, wantHash bool) (*attrs.Attrs, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statLocked(p, wantHash)
}

func (d *Destination) statLocked(p string, wantHash bool) (*attrs.Attrs, error) {
	if e, ok := d.dirs[p]; ok {
		return &attrs.Attrs{Version: e.version, Mode: e.mode, UID: e.uid, GID: e.gid, Path: p}, nil
	}
	if e, ok := d.symlinks[p]; ok {
		return &attrs.Attrs{Version: e.version, Mode: e.mode, UID: e.uid, GID: e.gid, Name: e.target, Size: int64(len(e.target)), Path: p}, nil
	}
	if id, ok := d.links[p]; ok {
		pe, ok := d.pool[id]
		if !ok {
			return nil, errors.Errorf("dangling link %q -> %q", p, id)
		}
		a := &attrs.Attrs{Mode: 0644, Size: int64(len(pe.data)), Inode: pe.inode, Path: p}
		if wantHash {
			a.Hash = append([]byte(nil), pe.claimedHash...)
		}
		return a, nil
	}
	return nil, errors.Errorf("no such entry %q", p)
}

// Identifier implements backend.Source: a deterministic content+metadata
// fingerprint, so two logically identical files always address the same
// pool entry.
func (d *Destination) Identifier(a *attrs.Attrs) (string, error) {
	return fmt.Sprintf("%x-%o-%d-%d", a.Hash, a.Mode.Perm(), a.UID, a.GID), nil
}

// Open implements backend.Source, reading a pool entry by identifier.
func (d *Destination) Open(ctx context.Context, identifier string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	pe, ok := d.pool[identifier]
	if !ok {
		return nil, errors.Errorf("no such pool entry %q", identifier)
	}
	return io.NopCloser(bytes.NewReader(pe.data)), nil
}

type writeHandle struct {
	d          *Destination
	identifier string
	buf        bytes.Buffer
}

func (w *writeHandle) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *writeHandle) Close() error {
	w.d.mu.Lock()
	defer w.d.mu.Unlock()
	pe, ok := w.d.pool[w.identifier]
	if !ok {
		return errors.Errorf("no such pool entry %q", w.identifier)
	}
	pe.data = w.buf.Bytes()
	return nil
}

// OpenWrite implements backend.Destination.
func (d *Destination) OpenWrite(ctx context.Context, identifier string) (io.WriteCloser, error) {
	d.mu.Lock()
	_, ok := d.pool[identifier]
	d.mu.Unlock()
	if !ok {
		return nil, errors.Errorf("no such pool entry %q (Touch it first)", identifier)
	}
	return &writeHandle{d: d, identifier: identifier}, nil
}

// Touch implements backend.Destination.
func (d *Destination) Touch(ctx context.Context, a *attrs.Attrs) (bool, error) {
	id, err := d.Identifier(a)
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pool[id]; ok {
		return false, nil
	}
	d.nextInode++
	d.pool[id] = &poolEntry{inode: d.nextInode, claimedHash: append([]byte(nil), a.Hash...)}
	return true, nil
}

// Link implements backend.Destination.
func (d *Destination) Link(ctx context.Context, p, identifier string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	pe, ok := d.pool[identifier]
	if !ok {
		return errors.Errorf("no such pool entry %q", identifier)
	}
	if existing, ok := d.links[p]; ok {
		if existing == identifier {
			return nil
		}
		d.pool[existing].refcount--
	}
	d.links[p] = identifier
	pe.refcount++
	return nil
}

// Mkdir implements backend.Destination.
func (d *Destination) Mkdir(ctx context.Context, p string, a *attrs.Attrs) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dirs[p]; ok {
		return errors.Wrapf(os.ErrExist, "directory %q", p)
	}
	d.dirs[p] = &entry{mode: a.Mode, uid: a.UID, gid: a.GID, version: a.Version}
	return nil
}

// SetMeta implements backend.Destination.
func (d *Destination) SetMeta(ctx context.Context, p string, a *attrs.Attrs) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.dirs[p]
	if !ok {
		return errors.Errorf("no such directory %q", p)
	}
	e.mode, e.uid, e.gid, e.version = a.Mode, a.UID, a.GID, a.Version
	return nil
}

// Symlink implements backend.Destination.
func (d *Destination) Symlink(ctx context.Context, p, target string, a *attrs.Attrs) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.symlinks[p] = &entry{mode: os.ModeSymlink | a.Mode, uid: a.UID, gid: a.GID, target: target, version: a.Version}
	return nil
}

// Unlink implements backend.Destination.
func (d *Destination) Unlink(ctx context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.links[p]; ok {
		d.pool[id].refcount--
		delete(d.links, p)
		return nil
	}
	if _, ok := d.symlinks[p]; ok {
		delete(d.symlinks, p)
		return nil
	}
	return errors.Errorf("no such entry %q", p)
}

// Rmdir implements backend.Destination.
func (d *Destination) Rmdir(ctx context.Context, p string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.dirs[p]; !ok {
		return errors.Errorf("no such directory %q", p)
	}
	if len(childrenOfDest(d, p)) > 0 {
		return errors.Errorf("directory %q not empty", p)
	}
	delete(d.dirs, p)
	return nil
}

func childrenOfDest(d *Destination, dir string) []string {
	var names []string
	for p := range d.dirs {
		if p == "" || p == dir {
			continue
		}
		parent, _ := path.Split(p)
		if strings.TrimSuffix(parent, "/") == dir {
			names = append(names, p)
		}
	}
	for p := range d.links {
		parent, _ := path.Split(p)
		if strings.TrimSuffix(parent, "/") == dir {
			names = append(names, p)
		}
	}
	for p := range d.symlinks {
		parent, _ := path.Split(p)
		if strings.TrimSuffix(parent, "/") == dir {
			names = append(names, p)
		}
	}
	return names
}

// IsHashConsistent implements backend.Destination: recomputes the actual
// hash of the pool entry addressed by a and compares it to a.Hash.
func (d *Destination) IsHashConsistent(ctx context.Context, a *attrs.Attrs) (bool, error) {
	id, err := d.Identifier(a)
	if err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	pe, ok := d.pool[id]
	if !ok {
		return false, nil
	}
	actual := sha256.Sum256(pe.data)
	return bytes.Equal(actual[:], a.Hash), nil
}

// GarbageCollector implements backend.Destination: removes every pool
// entry with no remaining links.
func (d *Destination) GarbageCollector(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, pe := range d.pool {
		if pe.refcount <= 0 {
			delete(d.pool, id)
		}
	}
	return nil
}

// Corrupt overwrites the pool entry addressed by identifier with garbage
// bytes, for tests that exercise fsck repair.
func (d *Destination) Corrupt(identifier string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if pe, ok := d.pool[identifier]; ok {
		pe.data = data
	}
}

// PoolSize returns the number of distinct pool entries currently stored,
// for tests asserting dedup behavior.
func (d *Destination) PoolSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pool)
}

var (
	_ backend.Source      = (*Source)(nil)
	_ backend.Destination = (*Destination)(nil)
)

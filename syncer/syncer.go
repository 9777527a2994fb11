// Package syncer implements the two-pointer directory-merge
// synchronizer: the core algorithm that reconciles a destination tree to
// match a source tree, deduplicating regular files through the
// destination's content pool.
package syncer

import (
	"context"
	"io"
	"log"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/attrs"
	"github.com/shrinkwrap-go/shrinkwrap/backend"
	"github.com/shrinkwrap-go/shrinkwrap/copypool"
	"github.com/shrinkwrap-go/shrinkwrap/fsck"
	"github.com/shrinkwrap-go/shrinkwrap/spectree"
	"github.com/shrinkwrap-go/shrinkwrap/stats"
)

const copyBufferSize = 64 * 1024

// Syncer holds everything a sync run needs, replacing the reference
// implementation's process-wide globals (the spec tree, the fsck lock
// set, the copy pipe) with fields on a single value passed by
// reference. The directory worklist is a local stack inside SyncFull.
type Syncer struct {
	Src   backend.Source
	Dst   backend.Destination
	Spec  *spectree.Tree
	Stats *stats.Stats
	Fsck  *fsck.Registry
	Pool  *copypool.Pool // nil means copy inline on the walker's goroutine.
}

type frameKind int

const (
	frameSync frameKind = iota
	frameRmdir
)

// frame is one unit of work on the explicit walk stack. Directory
// recursion — both ordinary descent and subtree pruning — is modeled as
// pushed frames rather than a native Go call, so the Go call stack does
// not grow with the tree's depth.
type frame struct {
	kind      frameKind
	dir       string
	recursive bool
	doFsck    bool
}

// SyncFull drives the merge to completion starting at base, processing
// an explicit LIFO stack of frames instead of recursing on the Go call
// stack.
func (s *Syncer) SyncFull(ctx context.Context, base string, doFsck bool) error {
	stack := []frame{{kind: frameSync, dir: base, recursive: true, doFsck: doFsck}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		switch f.kind {
		case frameRmdir:
			if err := s.Dst.Rmdir(ctx, f.dir); err != nil {
				return errors.Wrapf(err, "removing directory %q", f.dir)
			}
		case frameSync:
			var err error
			stack, err = s.syncDir(ctx, f.dir, f.recursive, f.doFsck, stack)
			if err != nil {
				return errors.Wrapf(err, "syncing directory %q", f.dir)
			}
		}
	}
	return nil
}

// syncDir performs one two-pointer merge over the sorted listings of dir
// on both sides, dispatching matches, creates, updates, and deletes, and
// appending any further work (descent into a matched subdirectory,
// pruning of a destination-only subdirectory) onto stack.
func (s *Syncer) syncDir(ctx context.Context, dir string, recursive, doFsck bool, stack []frame) ([]frame, error) {
	srcNames, err := s.listSource(ctx, dir)
	if err != nil {
		log.Printf("listing source directory %q: %s (treating as empty)", dir, err)
		srcNames = nil
	}

	dstNames, err := s.Dst.ListDir(ctx, dir)
	if err != nil {
		return stack, errors.Wrapf(err, "listing destination directory %q", dir)
	}
	sort.Strings(dstNames)

	var (
		i, j               int
		cmp                int
		srcName, dstName   string
		srcAttrs, dstAttrs *attrs.Attrs
	)
	for {
		if cmp <= 0 {
			i, srcName, srcAttrs = s.nextSrc(ctx, dir, srcNames, i)
		}
		if cmp >= 0 {
			j, dstName, dstAttrs = s.nextDst(ctx, dir, dstNames, j, doFsck)
		}

		switch {
		case srcName == "" && dstName == "":
			return stack, nil
		case srcName == "":
			cmp = 1
		case dstName == "":
			cmp = -1
		default:
			cmp = strings.Compare(srcName, dstName)
		}

		if cmp <= 0 {
			fullPath := join(dir, srcName)

			// dstAttrs only describes an entry at fullPath when cmp == 0;
			// when cmp < 0 the destination pointer is parked ahead at some
			// lexicographically later name, and there is no destination
			// counterpart here at all.
			var matchingDst *attrs.Attrs
			if cmp == 0 {
				matchingDst = dstAttrs

				matched, err := s.entriesMatch(ctx, fullPath, srcAttrs, matchingDst, doFsck)
				if err != nil {
					return stack, errors.Wrapf(err, "comparing attributes for %q", fullPath)
				}
				if matched {
					if srcAttrs.IsDir() && recursive {
						stack = append(stack, frame{kind: frameSync, dir: fullPath, recursive: true, doFsck: doFsck})
					}
					continue
				}
			}

			switch {
			case srcAttrs.IsRegular():
				if err := s.handleFile(ctx, fullPath, srcAttrs, matchingDst, doFsck); err != nil {
					return stack, err
				}
			case srcAttrs.IsDir():
				if err := s.handleDir(ctx, fullPath, srcAttrs); err != nil {
					return stack, err
				}
				if recursive {
					stack = append(stack, frame{kind: frameSync, dir: fullPath, recursive: true, doFsck: doFsck})
				}
			case srcAttrs.IsSymlink():
				if err := s.Dst.Symlink(ctx, fullPath, srcAttrs.Name, srcAttrs); err != nil {
					return stack, errors.Wrapf(err, "symlinking %q", fullPath)
				}
			default:
				return stack, errors.Wrapf(backend.ErrUnknownType, "source entry %q (mode %s)", fullPath, srcAttrs.Mode)
			}
			continue
		}

		// cmp > 0: destination-only entry, not present in the source.
		fullPath := join(dir, dstName)
		switch {
		case dstAttrs.IsRegular(), dstAttrs.IsSymlink():
			if err := s.Dst.Unlink(ctx, fullPath); err != nil {
				return stack, errors.Wrapf(err, "unlinking %q", fullPath)
			}
		case dstAttrs.IsDir():
			// Pruning a destination-only subtree always runs with fsck
			// disabled: every entry under it is about to be unlinked, so
			// there's nothing to repair and no reason to pay for hashing.
			stack = append(stack, frame{kind: frameRmdir, dir: fullPath})
			stack = append(stack, frame{kind: frameSync, dir: fullPath, recursive: true, doFsck: false})
		default:
			return stack, errors.Wrapf(backend.ErrUnknownType, "destination entry %q (mode %s)", fullPath, dstAttrs.Mode)
		}
	}
}

// entriesMatch applies the attribute comparator and, when the
// destination already carries a recorded fingerprint, an additional
// consistency check against that fingerprint's actual bytes.
func (s *Syncer) entriesMatch(ctx context.Context, path string, src, dst *attrs.Attrs, doFsck bool) (bool, error) {
	equal, err := attrs.Equal(ctx, src, dst, s.isHashConsistent)
	if err != nil {
		return false, err
	}
	if !equal {
		return false, nil
	}
	if src.IsRegular() && len(dst.Hash) > 0 {
		consistent, err := s.Dst.IsHashConsistent(ctx, dst)
		if err != nil {
			return false, errors.Wrapf(err, "checking hash consistency for %q", path)
		}
		if !consistent {
			return false, nil
		}
	}
	return true, nil
}

func (s *Syncer) isHashConsistent(ctx context.Context, a *attrs.Attrs) (bool, error) {
	return s.Dst.IsHashConsistent(ctx, a)
}

// handleFile reconciles a single regular-file entry: touch the
// destination's pool for an at-most-once copy, optionally repair a
// corrupt entry under fsck, enqueue or perform the copy, and link the
// path into the namespace.
func (s *Syncer) handleFile(ctx context.Context, path string, src, dst *attrs.Attrs, doFsck bool) error {
	dstID, err := s.Dst.Identifier(src)
	if err != nil {
		return errors.Wrapf(err, "computing destination identifier for %q", path)
	}

	created, err := s.Dst.Touch(ctx, src)
	if err != nil {
		return errors.Wrapf(err, "touching pool entry for %q", path)
	}
	copyNeeded := created

	if !copyNeeded && doFsck && dst != nil && len(dst.Hash) > 0 {
		consistent, err := s.Dst.IsHashConsistent(ctx, dst)
		if err != nil {
			return errors.Wrapf(err, "checking fsck consistency for %q", path)
		}
		if !consistent && s.Fsck.Claim(dst.Inode) {
			copyNeeded = true
		}
	}

	if !copyNeeded {
		s.Stats.AddDeduped(src.Size)
		return errors.Wrapf(s.Dst.Link(ctx, path, dstID), "linking %q", path)
	}

	srcID, err := s.Src.Identifier(src)
	if err != nil {
		return errors.Wrapf(err, "computing source identifier for %q", path)
	}

	if s.Pool != nil {
		// The pool entry already exists, empty, from Touch; link it into
		// the namespace now. Readers racing the copy worker see the final
		// bytes only once the worker finishes.
		if err := s.Dst.Link(ctx, path, dstID); err != nil {
			return errors.Wrapf(err, "linking %q", path)
		}
		s.Pool.Enqueue(copypool.Job{Src: srcID, Dst: dstID})
		return nil
	}

	n, err := s.copyOne(ctx, srcID, dstID)
	if err != nil {
		return errors.Wrapf(err, "copying %q", path)
	}
	s.Stats.AddBytes(n)
	s.Stats.IncFilesCopied()
	return errors.Wrapf(s.Dst.Link(ctx, path, dstID), "linking %q", path)
}

// handleDir creates path as a directory, or, if it already exists,
// updates its metadata to match src.
func (s *Syncer) handleDir(ctx context.Context, path string, src *attrs.Attrs) error {
	err := s.Dst.Mkdir(ctx, path, src)
	if err == nil {
		return nil
	}
	if errors.Is(err, os.ErrExist) {
		return errors.Wrapf(s.Dst.SetMeta(ctx, path, src), "updating metadata for existing directory %q", path)
	}
	return errors.Wrapf(err, "creating directory %q", path)
}

// copyOne transfers the bytes named by srcID to the pool entry named by
// dstID using a fixed-size buffer, stopping only when the source reports
// io.EOF rather than on any short read.
func (s *Syncer) copyOne(ctx context.Context, srcID, dstID string) (int64, error) {
	r, err := s.Src.Open(ctx, srcID)
	if err != nil {
		return 0, errors.Wrapf(err, "opening source %q", srcID)
	}
	defer r.Close()

	w, err := s.Dst.OpenWrite(ctx, dstID)
	if err != nil {
		return 0, errors.Wrapf(err, "opening destination pool entry %q", dstID)
	}

	var (
		buf = make([]byte, copyBufferSize)
		n   int64
	)
	for {
		nr, rerr := r.Read(buf)
		if nr > 0 {
			nw, werr := w.Write(buf[:nr])
			n += int64(nw)
			if werr != nil {
				w.Close()
				return n, errors.Wrap(werr, "writing to destination")
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			w.Close()
			return n, errors.Wrap(rerr, "reading from source")
		}
	}
	if err := w.Close(); err != nil {
		return n, errors.Wrapf(err, "closing destination pool entry %q", dstID)
	}
	return n, nil
}

func (s *Syncer) runCopyJob(ctx context.Context, job copypool.Job) (int64, error) {
	return s.copyOne(ctx, job.Src, job.Dst)
}

// listSource lists dir via the spec tree when it can answer
// authoritatively, falling back to the source backend's own listing
// otherwise. A source-listing failure is returned to syncDir, which logs
// it and treats the directory as empty rather than failing.
func (s *Syncer) listSource(ctx context.Context, dir string) ([]string, error) {
	if names, ok := s.Spec.ListDir(dir); ok {
		sort.Strings(names)
		return names, nil
	}
	names, err := s.Src.ListDir(ctx, dir)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func (s *Syncer) nextSrc(ctx context.Context, dir string, names []string, i int) (int, string, *attrs.Attrs) {
	for i < len(names) {
		name := names[i]
		i++
		full := join(dir, name)
		if !s.Spec.IsMatching(full) {
			continue
		}
		a, err := s.Src.Stat(ctx, full, true)
		if err != nil {
			log.Printf("stat source %q: %s (skipping)", full, err)
			continue
		}
		s.Stats.IncSrcEntries()
		return i, name, a
	}
	return i, "", nil
}

func (s *Syncer) nextDst(ctx context.Context, dir string, names []string, j int, doFsck bool) (int, string, *attrs.Attrs) {
	for j < len(names) {
		name := names[j]
		j++
		full := join(dir, name)
		a, err := s.Dst.Stat(ctx, full, doFsck)
		if err != nil {
			log.Printf("stat destination %q: %s (skipping)", full, err)
			continue
		}
		s.Stats.IncDstEntries()
		return j, name, a
	}
	return j, "", nil
}

func join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// GarbageCollect runs dst's garbage collector, logging how long it took.
func GarbageCollect(ctx context.Context, dst backend.Destination) error {
	start := time.Now()
	log.Print("running garbage collection")
	err := dst.GarbageCollector(ctx)
	log.Printf("garbage collection finished in %s", time.Since(start))
	return err
}

// RunOptions configures a top-level sync.
type RunOptions struct {
	Base     string // directory to start the merge at; "" is the tree root.
	Parallel int    // copy worker count; 0 copies inline on the walker.
	Retries  int    // extra attempts per failed copy job, when Parallel > 0.
	Fsck     bool   // re-verify and repair already-present entries.
	GC       bool   // run garbage collection after a successful sync.
}

// Run performs one full sync of s.Src onto s.Dst according to opts,
// standing in for the reference implementation's single-shot process
// entrypoint: it wires up a copy pool when parallel copying is
// requested, drives the merge to completion, drains and tears down the
// pool, and optionally reclaims unreferenced pool entries afterward.
func Run(ctx context.Context, s *Syncer, opts RunOptions) error {
	if opts.Parallel > 0 {
		s.Pool = copypool.New(ctx, opts.Parallel, opts.Retries, s.runCopyJob, s.Stats)
	}

	syncErr := s.SyncFull(ctx, opts.Base, opts.Fsck)

	if s.Pool != nil {
		s.Pool.Wait()
		s.Pool.Close()
		s.Pool = nil
	}

	if syncErr != nil {
		return errors.Wrap(syncErr, "syncing")
	}

	log.Print(s.Stats.String())

	if opts.GC {
		return GarbageCollect(ctx, s.Dst)
	}
	return nil
}

package syncer

import (
	"context"
	"os"
	"testing"

	"github.com/shrinkwrap-go/shrinkwrap/fsck"
	"github.com/shrinkwrap-go/shrinkwrap/spectree"
	"github.com/shrinkwrap-go/shrinkwrap/stats"
	"github.com/shrinkwrap-go/shrinkwrap/testfs"
)

func newSyncer(src *testfs.Source, dst *testfs.Destination) *Syncer {
	return &Syncer{
		Src:   src,
		Dst:   dst,
		Spec:  spectree.Wildcard(),
		Stats: stats.New(),
		Fsck:  fsck.NewRegistry(),
	}
}

func TestSyncFullEmptyToOneFile(t *testing.T) {
	ctx := context.Background()
	src := testfs.NewSource([]testfs.Entry{
		{Path: "a.txt", Mode: 0644, Data: []byte("hello")},
	})
	dst := testfs.NewDestination()
	s := newSyncer(src, dst)

	if err := s.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	a, err := dst.Stat(ctx, "a.txt", true)
	if err != nil {
		t.Fatal(err)
	}
	if a.Size != 5 {
		t.Errorf("size = %d, want 5", a.Size)
	}
	if got := dst.PoolSize(); got != 1 {
		t.Errorf("pool size = %d, want 1", got)
	}
}

func TestSyncFullDedupesIdenticalContent(t *testing.T) {
	ctx := context.Background()
	src := testfs.NewSource([]testfs.Entry{
		{Path: "a.txt", Mode: 0644, Data: []byte("same")},
		{Path: "b.txt", Mode: 0644, Data: []byte("same")},
	})
	dst := testfs.NewDestination()
	s := newSyncer(src, dst)

	if err := s.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	if got := dst.PoolSize(); got != 1 {
		t.Errorf("pool size = %d, want 1 (a.txt and b.txt should dedup)", got)
	}
	if snap := s.Stats.Snapshot(); snap.DedupedFiles != 1 {
		t.Errorf("deduped files = %d, want 1", snap.DedupedFiles)
	}
}

func TestSyncFullRemovesDestinationOnlyFile(t *testing.T) {
	ctx := context.Background()
	src := testfs.NewSource(nil)
	dst := testfs.NewDestination()
	s := newSyncer(src, dst)

	// First populate the destination with an entry the source doesn't have.
	seedSrc := testfs.NewSource([]testfs.Entry{{Path: "stale.txt", Mode: 0644, Data: []byte("x")}})
	seeder := newSyncer(seedSrc, dst)
	if err := seeder.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := dst.Stat(ctx, "stale.txt", false); err != nil {
		t.Fatalf("expected stale.txt to exist before prune: %v", err)
	}

	if err := s.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}
	if _, err := dst.Stat(ctx, "stale.txt", false); err == nil {
		t.Error("expected stale.txt to be removed")
	}
}

func TestSyncFullPrunesDestinationOnlySubtree(t *testing.T) {
	ctx := context.Background()
	dst := testfs.NewDestination()

	seedSrc := testfs.NewSource([]testfs.Entry{
		{Path: "dir", Mode: os.ModeDir | 0755},
		{Path: "dir/a.txt", Mode: 0644, Data: []byte("x")},
		{Path: "dir/b.txt", Mode: 0644, Data: []byte("y")},
	})
	seeder := newSyncer(seedSrc, dst)
	if err := seeder.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	emptySrc := testfs.NewSource(nil)
	s := newSyncer(emptySrc, dst)
	if err := Run(ctx, s, RunOptions{GC: true}); err != nil {
		t.Fatal(err)
	}

	if _, err := dst.Stat(ctx, "dir", false); err == nil {
		t.Error("expected dir to be pruned")
	}
	if got := dst.PoolSize(); got != 0 {
		t.Errorf("pool size = %d, want 0 after pruning all referents and garbage collection", got)
	}
}

func TestSyncFullIdempotentSecondRun(t *testing.T) {
	ctx := context.Background()
	src := testfs.NewSource([]testfs.Entry{
		{Path: "a.txt", Mode: 0644, Data: []byte("hello")},
	})
	dst := testfs.NewDestination()
	s := newSyncer(src, dst)

	if err := s.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}
	if err := s.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	snap := s.Stats.Snapshot()
	if snap.FilesCopied != 1 {
		t.Errorf("files copied = %d, want 1 (second run should be a no-op copy-wise)", snap.FilesCopied)
	}
}

func TestSyncFullFsckRepairsCorruptedEntry(t *testing.T) {
	ctx := context.Background()
	src := testfs.NewSource([]testfs.Entry{
		{Path: "a.txt", Mode: 0644, Data: []byte("correct")},
	})
	dst := testfs.NewDestination()
	s := newSyncer(src, dst)

	if err := s.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	a, err := src.Stat(ctx, "a.txt", true)
	if err != nil {
		t.Fatal(err)
	}
	id, err := dst.Identifier(a)
	if err != nil {
		t.Fatal(err)
	}
	dst.Corrupt(id, []byte("corrupted"))

	consistent, err := dst.IsHashConsistent(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if consistent {
		t.Fatal("expected corruption to be detectable before repair")
	}

	if err := s.SyncFull(ctx, "", true); err != nil {
		t.Fatal(err)
	}

	consistent, err = dst.IsHashConsistent(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if !consistent {
		t.Error("expected fsck run to repair the corrupted entry")
	}
}

func TestSyncFullParallelCopiesViaPool(t *testing.T) {
	ctx := context.Background()
	src := testfs.NewSource([]testfs.Entry{
		{Path: "a.txt", Mode: 0644, Data: []byte("one")},
		{Path: "b.txt", Mode: 0644, Data: []byte("two")},
		{Path: "c.txt", Mode: 0644, Data: []byte("three")},
	})
	dst := testfs.NewDestination()
	s := newSyncer(src, dst)

	if err := Run(ctx, s, RunOptions{Parallel: 2, Retries: 1}); err != nil {
		t.Fatal(err)
	}

	for _, p := range []string{"a.txt", "b.txt", "c.txt"} {
		if _, err := dst.Stat(ctx, p, false); err != nil {
			t.Errorf("expected %q to exist after parallel sync: %v", p, err)
		}
	}
	if snap := s.Stats.Snapshot(); snap.FilesCopied != 3 {
		t.Errorf("files copied = %d, want 3", snap.FilesCopied)
	}
}

// A restricted spec like "dir2/sub" must not cause the walker to skip
// "dir2" itself at the root listing: IsMatching("dir2") has to report
// true (dir2 is a strict ancestor of the included pattern) so nextSrc
// descends into it, instead of treating dir2 as absent from the source
// and pruning it — and everything under it — from a destination that
// already has it from an earlier, less restricted run.
func TestSyncFullKeepsAncestorDirOfSpecPattern(t *testing.T) {
	ctx := context.Background()
	dst := testfs.NewDestination()

	src := testfs.NewSource([]testfs.Entry{
		{Path: "dir2", Mode: os.ModeDir | 0755},
		{Path: "dir2/sub", Mode: 0644, Data: []byte("hello")},
	})

	seeder := newSyncer(src, dst)
	if err := seeder.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	spec, err := spectree.Create("dir2/sub\n")
	if err != nil {
		t.Fatal(err)
	}
	s := newSyncer(src, dst)
	s.Spec = spec

	if err := s.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	if _, err := dst.Stat(ctx, "dir2", false); err != nil {
		t.Errorf("expected dir2 to survive a restricted sync that still includes dir2/sub: %v", err)
	}
	if _, err := dst.Stat(ctx, "dir2/sub", false); err != nil {
		t.Errorf("expected dir2/sub to survive the restricted sync: %v", err)
	}
}

// A destination-only subtree being pruned must always recurse with
// doFsck forced to false, regardless of the enclosing run's setting:
// every entry under it is about to be unlinked, so there's nothing to
// repair.
func TestSyncDirPrunesSubtreeWithFsckDisabled(t *testing.T) {
	ctx := context.Background()
	dst := testfs.NewDestination()

	seedSrc := testfs.NewSource([]testfs.Entry{
		{Path: "dir", Mode: os.ModeDir | 0755},
		{Path: "dir/a.txt", Mode: 0644, Data: []byte("x")},
	})
	seeder := newSyncer(seedSrc, dst)
	if err := seeder.SyncFull(ctx, "", false); err != nil {
		t.Fatal(err)
	}

	emptySrc := testfs.NewSource(nil)
	s := newSyncer(emptySrc, dst)

	stack, err := s.syncDir(ctx, "", true, true /* doFsck on the enclosing run */, nil)
	if err != nil {
		t.Fatal(err)
	}

	var sawPruneFrame bool
	for _, f := range stack {
		if f.kind == frameSync && f.dir == "dir" {
			sawPruneFrame = true
			if f.doFsck {
				t.Error("expected prune frame for destination-only subtree to carry doFsck=false")
			}
		}
	}
	if !sawPruneFrame {
		t.Fatal("expected a frameSync pushed for pruning the destination-only \"dir\" subtree")
	}
}

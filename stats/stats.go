// Package stats holds the run-wide counters a sync accumulates, and
// renders them for progress and final reporting.
package stats

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// Stats holds the six counters a sync run tracks. All methods are safe
// for concurrent use by the walker and any number of copy workers.
type Stats struct {
	bytesCopied  atomic.Int64
	filesCopied  atomic.Int64
	srcEntries   atomic.Int64
	dstEntries   atomic.Int64
	dedupedFiles atomic.Int64
	dedupedBytes atomic.Int64
}

// New returns a zeroed Stats.
func New() *Stats {
	return &Stats{}
}

// AddBytes records n more bytes copied.
func (s *Stats) AddBytes(n int64) { s.bytesCopied.Add(n) }

// IncFilesCopied records one more file copied.
func (s *Stats) IncFilesCopied() { s.filesCopied.Add(1) }

// IncSrcEntries records one more source entry successfully stat'd.
func (s *Stats) IncSrcEntries() { s.srcEntries.Add(1) }

// IncDstEntries records one more destination entry successfully stat'd.
func (s *Stats) IncDstEntries() { s.dstEntries.Add(1) }

// AddDeduped records one more regular file whose bytes were already
// present in the pool, avoiding a size-byte copy.
func (s *Stats) AddDeduped(size int64) {
	s.dedupedFiles.Add(1)
	s.dedupedBytes.Add(size)
}

// Snapshot is a point-in-time copy of the counters, safe to format or
// compare without further synchronization.
type Snapshot struct {
	BytesCopied  int64
	FilesCopied  int64
	SrcEntries   int64
	DstEntries   int64
	DedupedFiles int64
	DedupedBytes int64
}

// Snapshot returns the current value of every counter.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		BytesCopied:  s.bytesCopied.Load(),
		FilesCopied:  s.filesCopied.Load(),
		SrcEntries:   s.srcEntries.Load(),
		DstEntries:   s.dstEntries.Load(),
		DedupedFiles: s.dedupedFiles.Load(),
		DedupedBytes: s.dedupedBytes.Load(),
	}
}

// String renders the snapshot for log output.
func (sn Snapshot) String() string {
	return fmt.Sprintf(
		"copied %s in %d file(s); %d source entries, %d destination entries; deduped %d file(s) (%s)",
		humanize.Bytes(uint64(sn.BytesCopied)), sn.FilesCopied,
		sn.SrcEntries, sn.DstEntries,
		sn.DedupedFiles, humanize.Bytes(uint64(sn.DedupedBytes)),
	)
}

// String renders the current counters for log output.
func (s *Stats) String() string {
	return s.Snapshot().String()
}

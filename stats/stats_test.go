package stats

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSnapshotReflectsCounters(t *testing.T) {
	s := New()
	s.AddBytes(100)
	s.AddBytes(50)
	s.IncFilesCopied()
	s.IncFilesCopied()
	s.IncSrcEntries()
	s.IncDstEntries()
	s.AddDeduped(30)

	want := Snapshot{
		BytesCopied:  150,
		FilesCopied:  2,
		SrcEntries:   1,
		DstEntries:   1,
		DedupedFiles: 1,
		DedupedBytes: 30,
	}
	got := s.Snapshot()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("snapshot mismatch (-want +got):\n%s", diff)
	}
}

package copypool

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/shrinkwrap-go/shrinkwrap/stats"
)

func TestPoolRunsAllJobs(t *testing.T) {
	ctx := context.Background()
	st := stats.New()

	var ran int64
	copyFn := func(ctx context.Context, job Job) (int64, error) {
		atomic.AddInt64(&ran, 1)
		return 10, nil
	}

	p := New(ctx, 4, 0, copyFn, st)
	for i := 0; i < 50; i++ {
		p.Enqueue(Job{Src: "a", Dst: "b"})
	}
	p.Wait()
	p.Close()

	if got := atomic.LoadInt64(&ran); got != 50 {
		t.Errorf("expected 50 jobs run, got %d", got)
	}
	if got := st.Snapshot().FilesCopied; got != 50 {
		t.Errorf("expected 50 files copied in stats, got %d", got)
	}
}

func TestPoolRetriesFailingJobs(t *testing.T) {
	ctx := context.Background()
	st := stats.New()

	var attempts int64
	copyFn := func(ctx context.Context, job Job) (int64, error) {
		n := atomic.AddInt64(&attempts, 1)
		if n < 3 {
			return 0, errFail
		}
		return 5, nil
	}

	p := New(ctx, 1, 2, copyFn, st)
	p.Enqueue(Job{Src: "a", Dst: "b"})
	p.Wait()
	p.Close()

	if got := atomic.LoadInt64(&attempts); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if got := st.Snapshot().FilesCopied; got != 1 {
		t.Errorf("expected 1 file copied after eventual success, got %d", got)
	}
}

type staticError string

func (e staticError) Error() string { return string(e) }

const errFail = staticError("synthetic failure")

package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/fsck"
	"github.com/shrinkwrap-go/shrinkwrap/spectree"
	"github.com/shrinkwrap-go/shrinkwrap/stats"
	"github.com/shrinkwrap-go/shrinkwrap/syncer"
)

func (c maincmd) sync(ctx context.Context, fset *flag.FlagSet, args []string) error {
	var (
		specPath = fset.String("spec", "", "path to a spec-tree pattern file (default: sync everything)")
		base     = fset.String("base", "", "subdirectory to start the sync at")
		parallel = fset.Int("parallel", 0, "number of concurrent copy workers (0: copy inline)")
		retries  = fset.Int("retries", 2, "extra attempts per failed copy job, when -parallel > 0")
		doFsck   = fset.Bool("fsck", false, "re-verify and repair already-present entries")
		gc       = fset.Bool("gc", false, "run garbage collection after a successful sync")
	)
	if err := fset.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	spec := spectree.Wildcard()
	if *specPath != "" {
		f, err := os.Open(*specPath)
		if err != nil {
			return errors.Wrapf(err, "opening spec file %s", *specPath)
		}
		defer f.Close()
		spec, err = spectree.CreateFromReader(f)
		if err != nil {
			return errors.Wrapf(err, "parsing spec file %s", *specPath)
		}
	}

	s := &syncer.Syncer{
		Src:   c.src,
		Dst:   c.dst,
		Spec:  spec,
		Stats: stats.New(),
		Fsck:  fsck.NewRegistry(),
	}

	err := syncer.Run(ctx, s, syncer.RunOptions{
		Base:     *base,
		Parallel: *parallel,
		Retries:  *retries,
		Fsck:     *doFsck,
		GC:       *gc,
	})
	if err != nil {
		return errors.Wrap(err, "syncing")
	}

	log.Print(s.Stats.String())
	return nil
}

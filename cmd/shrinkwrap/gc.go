package main

import (
	"context"
	"flag"

	"github.com/pkg/errors"

	"github.com/shrinkwrap-go/shrinkwrap/syncer"
)

func (c maincmd) gc(ctx context.Context, fset *flag.FlagSet, args []string) error {
	if err := fset.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	return syncer.GarbageCollect(ctx, c.dst)
}

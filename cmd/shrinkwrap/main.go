// Command shrinkwrap synchronizes a destination tree to match a source
// tree, deduplicating regular files through the destination's content
// pool.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/bobg/subcmd"

	"github.com/shrinkwrap-go/shrinkwrap/backend"
	"github.com/shrinkwrap-go/shrinkwrap/backend/logging"
	"github.com/shrinkwrap-go/shrinkwrap/backend/statcache"
	_ "github.com/shrinkwrap-go/shrinkwrap/posixfs"
)

// config is the decoded top-level JSON configuration file.
type config struct {
	Source    backend.Config `json:"source"`
	Dest      backend.Config `json:"dest"`
	StatCache int            `json:"stat_cache"` // entries; 0 disables the source stat cache.
	LogDest   bool           `json:"log_dest"`    // log every destination mutation.
}

type maincmd struct {
	src backend.Source
	dst backend.Destination
}

func main() {
	configPath := flag.String("config", "shrinkwrap.json", "path to config file")
	flag.Parse()

	f, err := os.Open(*configPath)
	if err != nil {
		log.Fatalf("opening config file %s: %s", *configPath, err)
	}
	var conf config
	err = json.NewDecoder(f).Decode(&conf)
	f.Close()
	if err != nil {
		log.Fatalf("decoding config file %s: %s", *configPath, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		sig := <-sigCh
		log.Printf("got signal %s, canceling", sig)
		cancel()
	}()

	srcType, ok := conf.Source["type"].(string)
	if !ok {
		log.Fatal("config `source` missing `type`")
	}
	dstType, ok := conf.Dest["type"].(string)
	if !ok {
		log.Fatal("config `dest` missing `type`")
	}

	src, err := backend.CreateSource(ctx, srcType, conf.Source)
	if err != nil {
		log.Fatalf("creating %s-type source: %s", srcType, err)
	}
	if conf.StatCache > 0 {
		src, err = statcache.New(src, conf.StatCache)
		if err != nil {
			log.Fatalf("wrapping source in stat cache: %s", err)
		}
	}

	dst, err := backend.CreateDest(ctx, dstType, conf.Dest)
	if err != nil {
		log.Fatalf("creating %s-type destination: %s", dstType, err)
	}
	if conf.LogDest {
		dst = logging.New(dst)
	}

	c := maincmd{src: src, dst: dst}
	if err := subcmd.Run(ctx, c, flag.Args()); err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"sync": {F: c.sync},
		"gc":   {F: c.gc},
	}
}

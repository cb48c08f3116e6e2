package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/distr1/cimpl/internal/snapshot"
	"github.com/distr1/cimpl/internal/stream"
)

const streamUpdateHelp = `cimpl stream-update [-flags] <name>

Diff a stream config's declared package set against the current snapshot
and apply the resulting add/remove/update changes, building everything
they touch.

Example:
  % cimpl stream-update -from root -pkg-index /var/lib/cimpl/pkg -data /var/lib/cimpl stable
`

func cmdStreamUpdate(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("stream-update", flag.ExitOnError)
	var (
		from     = fset.String("from", "root", "snapshot name to diff the stream against")
		pkgIndex = fset.String("pkg-index", "", "path to the package index")
		dataDir  = fset.String("data", "", "data directory (share/ and local/ layout root)")
		cygwinM  = fset.String("cygwin-manifest", "", "path to a cygwin release manifest, if any cygwin packages are referenced")
		parallel = fset.Int("parallel", 1, "number of packages to build concurrently")
	)
	fset.Usage = usage(fset, streamUpdateHelp)
	fset.Parse(args)

	if fset.NArg() != 1 {
		return fmt.Errorf("stream-update takes exactly one stream name argument")
	}
	name := fset.Arg(0)

	if *pkgIndex == "" || *dataDir == "" {
		return fmt.Errorf("-pkg-index and -data are required")
	}

	c, _, snapStore, err := setupCtx(*dataDir, *cygwinM, *parallel)
	if err != nil {
		return err
	}

	cfg, err := stream.Load(*pkgIndex, name)
	if err != nil {
		return fmt.Errorf("loading stream %s: %w", name, err)
	}

	base, err := snapStore.Load(*from)
	if err != nil {
		return fmt.Errorf("loading base snapshot %s: %w", *from, err)
	}

	pkgChanges, bootstrapChanges := cfg.Diff(base)
	if pkgChanges.IsEmpty() && bootstrapChanges.IsEmpty() {
		fmt.Println("nothing to do")
		return nil
	}

	sg, err := c.Apply(ctx, base, pkgChanges, bootstrapChanges, *pkgIndex)
	if err != nil {
		return err
	}

	result := sg.Snapshot()
	result.Name = snapshot.NewTimestampName(time.Now())
	result.Ancestor = *from
	result.Changes = pkgChanges
	result.BootstrapChanges = bootstrapChanges

	if err := snapStore.Dump(result); err != nil {
		return fmt.Errorf("persisting snapshot %s: %w", result.Name, err)
	}
	fmt.Println(result.Name)
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/distr1/cimpl/internal/snapshot"
)

const reproduceHelp = `cimpl reproduce [-flags] <name>

Rebuild a snapshot from its ancestor plus its recorded changes, and compare
the result against the original (spec P3: a clean reproduction must agree
on every package record).

Example:
  % cimpl reproduce -pkg-index /var/lib/cimpl/pkg -data /var/lib/cimpl 20260731-120000
`

func cmdReproduce(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("reproduce", flag.ExitOnError)
	var (
		pkgIndex = fset.String("pkg-index", "", "path to the package index")
		dataDir  = fset.String("data", "", "data directory (share/ and local/ layout root)")
		cygwinM  = fset.String("cygwin-manifest", "", "path to a cygwin release manifest, if any cygwin packages are referenced")
		parallel = fset.Int("parallel", 1, "number of packages to build concurrently")
	)
	fset.Usage = usage(fset, reproduceHelp)
	fset.Parse(args)

	if fset.NArg() != 1 {
		return fmt.Errorf("reproduce takes exactly one snapshot name argument")
	}
	name := fset.Arg(0)

	if *pkgIndex == "" || *dataDir == "" {
		return fmt.Errorf("-pkg-index and -data are required")
	}

	c, _, snapStore, err := setupCtx(*dataDir, *cygwinM, *parallel)
	if err != nil {
		return err
	}

	orig, err := snapStore.Load(name)
	if err != nil {
		return fmt.Errorf("loading snapshot %s: %w", name, err)
	}
	ancestor, err := snapStore.Load(orig.Ancestor)
	if err != nil {
		return fmt.Errorf("loading ancestor %s: %w", orig.Ancestor, err)
	}

	reproduced, err := c.Apply(ctx, ancestor, orig.Changes, orig.BootstrapChanges, *pkgIndex)
	if err != nil {
		return fmt.Errorf("reproducing %s: %w", name, err)
	}

	origSg, err := snapshot.New(orig)
	if err != nil {
		return err
	}
	if id, ok := origSg.ComparePkgsWith(reproduced); ok {
		return fmt.Errorf("reproduction mismatch: %s differs between %s and the rebuild", id, name)
	}

	fmt.Printf("%s reproduces cleanly\n", name)
	return nil
}

package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/distr1/cimpl/internal/snapshot"
)

const changeHelp = `cimpl change [-flags]

Apply an add/remove/update change to a snapshot and build everything it
touches, then dump the resulting snapshot.

Example:
  % cimpl change -from root -add make=4.4.1-2 -pkg-index /var/lib/cimpl/pkg -data /var/lib/cimpl
`

func cmdChange(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("change", flag.ExitOnError)
	var (
		from     = fset.String("from", "root", "snapshot name to base the change on")
		pkgIndex = fset.String("pkg-index", "", "path to the package index")
		dataDir  = fset.String("data", "", "data directory (share/ and local/ layout root)")
		cygwinM  = fset.String("cygwin-manifest", "", "path to a cygwin release manifest, if any cygwin packages are referenced")
		parallel = fset.Int("parallel", 1, "number of packages to build concurrently")
		boot     = fset.Bool("bootstrap", false, "apply add/remove/update flags to the bootstrap layer instead of the normal layer")
	)
	var adds, removes, updates multiFlag
	fset.Var(&adds, "add", "name=version to add (repeatable)")
	fset.Var(&removes, "remove", "name to remove (repeatable)")
	fset.Var(&updates, "update", "name=version to update to (repeatable)")
	fset.Usage = usage(fset, changeHelp)
	fset.Parse(args)

	if *pkgIndex == "" || *dataDir == "" {
		return fmt.Errorf("-pkg-index and -data are required")
	}

	pkgChanges, bootstrapChanges, err := parseChangeFlags(adds, removes, updates, *boot)
	if err != nil {
		return err
	}

	c, _, snapStore, err := setupCtx(*dataDir, *cygwinM, *parallel)
	if err != nil {
		return err
	}

	base, err := snapStore.Load(*from)
	if err != nil {
		return fmt.Errorf("loading base snapshot %s: %w", *from, err)
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

func parseChangeFlags(adds, removes, updates multiFlag, bootstrap bool) (pkgChanges, bootstrapChanges snapshot.Changes, err error) {
	var changes snapshot.Changes
	for _, a := range adds {
		name, version, err := nameVersion(a)
		if err != nil {
			return snapshot.Changes{}, snapshot.Changes{}, err
		}
		changes.Add = append(changes.Add, snapshot.AddChange{Name: name, Version: version})
	}
	for _, u := range updates {
		name, version, err := nameVersion(u)
		if err != nil {
			return snapshot.Changes{}, snapshot.Changes{}, err
		}
		changes.Update = append(changes.Update, snapshot.UpdateChange{Name: name, To: version})
	}
	changes.Remove = append(changes.Remove, []string(removes)...)

	if bootstrap {
		return snapshot.Changes{}, changes, nil
	}
	return changes, snapshot.Changes{}, nil
}

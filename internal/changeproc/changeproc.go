// Package changeproc implements the change processor (spec §4.3): the
// orchestration that turns one change bundle (add/remove/update entries for
// both the normal and bootstrap layers) into a fully built snapshot, ready
// to persist.
//
// Grounded on internal/batch.Ctx.Build, the teacher's own top-level
// orchestration entry point tying graph construction, scheduling, and
// status reporting together behind one call.
package changeproc

import (
	"context"
	"fmt"
	"log"

	cimpl "github.com/distr1/cimpl"
	"github.com/distr1/cimpl/internal/batch"
	"github.com/distr1/cimpl/internal/snapshot"
)

// Ctx holds the collaborators one call to Apply needs.
type Ctx struct {
	Log       *log.Logger
	Resolver  snapshot.Resolver
	Scheduler *batch.Scheduler
}

// Apply runs the fixed five-step sequence spec §4.3 describes: resolve and
// apply pkgChanges/bootstrapChanges onto base, build everything the changes
// touched, and assert every binary now has a real hash. On any error the
// returned graph must be discarded; nothing is persisted by this function.
func (c *Ctx) Apply(ctx context.Context, base *snapshot.Snapshot, pkgChanges, bootstrapChanges snapshot.Changes, pkgIndexPath string) (*snapshot.Graph, error) {
	sg, err := snapshot.New(base)
	if err != nil {
		return nil, fmt.Errorf("changeproc: constructing graph from base snapshot: %w", err)
	}

	c.logf("applying %d pkg change(s), %d bootstrap change(s)",
		len(pkgChanges.Add)+len(pkgChanges.Remove)+len(pkgChanges.Update),
		len(bootstrapChanges.Add)+len(bootstrapChanges.Remove)+len(bootstrapChanges.Update))

	if err := sg.UpdateWithChanges(ctx, pkgChanges, bootstrapChanges, c.Resolver, pkgIndexPath); err != nil {
		return nil, fmt.Errorf("changeproc: applying changes: %w", err)
	}

	c.logf("building")
	if err := c.Scheduler.Execute(ctx, sg, pkgChanges, bootstrapChanges, pkgIndexPath); err != nil {
		return nil, fmt.Errorf("changeproc: building: %w", err)
	}

	if err := assertComplete(sg.Snapshot()); err != nil {
		return nil, err
	}

	return sg, nil
}

func (c *Ctx) logf(format string, args ...interface{}) {
	if c.Log != nil {
		c.Log.Printf(format, args...)
	}
}

// assertComplete implements change processor step 5: every binary package
// in the resulting snapshot must hold a real sha256. A placeholder surviving
// to this point is a programmer error (the scheduler built everything the
// build graph named), not a user-facing failure.
func assertComplete(snap *snapshot.Snapshot) error {
	for _, bins := range []map[string]*snapshot.BinPkg{snap.BinPkgs, snap.BootstrapBinPkgs} {
		for name, bin := range bins {
			if bin.SHA256 == snapshot.PlaceholderSHA256 || bin.SHA256 == "" {
				return &snapshot.BuildIncomplete{Bin: cimpl.BinPkgId(name)}
			}
		}
	}
	return nil
}

// Package batch implements the build scheduler (spec §4.4): given a snapshot
// graph and the set of source packages a change touched, it constructs the
// build graph (the induced subgraph of the reversed dependency graph over
// that seed set and everything that transitively depends on it), then walks
// it to completion, dispatching every source package with no unbuilt
// build-dependency to a bounded worker pool, publishing each binary it
// produces into the content-addressed store, and committing the resulting
// hash back into the snapshot.
//
// Grounded on internal/batch/batch.go's scheduler: an errgroup-based worker
// pool reading off a work channel, a single coordinator goroutine owning all
// graph mutation and snapshot/store state (so no locks are needed around
// either), and a terminal status line gated on isTerminal/unix.IoctlGetTermios.
// markBuilt/markFailed generalize directly from in-degree counting on a gonum
// graph to in-degree counting on this module's own broken-edge-aware
// internal/graph.Graph.
package batch

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	cimpl "github.com/distr1/cimpl"
	"github.com/distr1/cimpl/internal/builder"
	"github.com/distr1/cimpl/internal/graph"
	"github.com/distr1/cimpl/internal/snapshot"
	"github.com/distr1/cimpl/internal/store"
	"github.com/distr1/cimpl/internal/trace"
)

// Scheduler builds every source package a set of changes touched, and
// everything that transitively depends on one of them, in dependency order,
// bounded by Jobs concurrent builds.
type Scheduler struct {
	Log     *log.Logger
	Store   *store.Store
	Builder builder.Builder
	Jobs    int // parallelism; <=0 means 1
}

// Seed computes the build graph's seed set from one change operation's two
// layers (spec §4.4 step 1): every added or updated source, plus the
// bootstrap:-prefixed synthetic twin of every bootstrap add/update (since
// resolving a bootstrap package always introduces that twin, spec §4.6).
func Seed(pkgChanges, bootstrapChanges snapshot.Changes) []cimpl.PkgId {
	var seed []cimpl.PkgId
	for _, a := range bootstrapChanges.Add {
		id := cimpl.SrcPkgId(a.Name)
		seed = append(seed, id, id.Bootstrap())
	}
	for _, u := range bootstrapChanges.Update {
		id := cimpl.SrcPkgId(u.Name)
		seed = append(seed, id, id.Bootstrap())
	}
	for _, a := range pkgChanges.Add {
		seed = append(seed, cimpl.SrcPkgId(a.Name))
	}
	for _, u := range pkgChanges.Update {
		seed = append(seed, cimpl.SrcPkgId(u.Name))
	}
	return seed
}

// Execute builds Seed(pkgChanges, bootstrapChanges) and everything that
// depends on it, committing each produced binary's hash into sg as it
// completes. It returns the first build failure encountered; the caller
// (internal/changeproc) is responsible for not persisting the snapshot in
// that case.
func (s *Scheduler) Execute(ctx context.Context, sg *snapshot.Graph, pkgChanges, bootstrapChanges snapshot.Changes, pkgIndexPath string) error {
	seed := Seed(pkgChanges, bootstrapChanges)
	if len(seed) == 0 {
		return nil
	}
	bg, err := sg.BuildGraph(seed)
	if err != nil {
		return fmt.Errorf("batch: constructing build graph: %w", err)
	}
	return s.run(ctx, sg, bg, pkgIndexPath)
}

type buildResult struct {
	src  cimpl.PkgId
	shas map[string]string
	err  error
}

func (s *Scheduler) run(ctx context.Context, sg *snapshot.Graph, bg *graph.Graph[cimpl.PkgId], pkgIndexPath string) error {
	jobs := s.Jobs
	if jobs < 1 {
		jobs = 1
	}

	var total int
	for _, n := range bg.Nodes() {
		if n.IsSrc() {
			total++
		}
	}
	if total == 0 {
		return nil
	}

	st := &statusBoard{lines: make([]string, jobs)}

	work := make(chan cimpl.PkgId, total)
	done := make(chan buildResult, jobs)

	eg, egCtx := errgroup.WithContext(ctx)
	for i := 0; i < jobs; i++ {
		i := i
		eg.Go(func() error {
			for {
				select {
				case src, ok := <-work:
					if !ok {
						return nil
					}
					res := s.buildOne(egCtx, sg, src, pkgIndexPath, i, st)
					select {
					case done <- res:
					case <-egCtx.Done():
						return egCtx.Err()
					}
				case <-egCtx.Done():
					return egCtx.Err()
				}
			}
		})
	}

	for _, n := range bg.Nodes() {
		if n.IsSrc() && bg.InDegree(n) == 0 {
			work <- n
		}
	}

	var coordErr error
	failed := make(map[cimpl.PkgId]bool)
	remaining := total
	for remaining > 0 {
		select {
		case res := <-done:
			remaining--
			if res.err != nil {
				if coordErr == nil {
					coordErr = res.err
				}
				remaining -= markFailed(bg, failed, res.src)
				continue
			}
			for bin, sha := range res.shas {
				if err := sg.CommitHash(cimpl.BinPkgId(bin), sha); err != nil {
					if coordErr == nil {
						coordErr = err
					}
				}
			}
			ready, err := markBuilt(bg, res.src)
			if err != nil {
				if coordErr == nil {
					coordErr = err
				}
				continue
			}
			// Once a failure has occurred we stop dispatching new builds,
			// but a source can still turn ready here (its last build-dep
			// just finished). It must still be accounted for in remaining,
			// the same way an already-failed node's dependents are, or the
			// coordinator waits forever for a result that will never come.
			for _, r := range ready {
				if failed[r] {
					continue
				}
				if coordErr != nil {
					failed[r] = true
					remaining--
					remaining -= markFailed(bg, failed, r)
					continue
				}
				work <- r
			}
		case <-ctx.Done():
			if coordErr == nil {
				coordErr = ctx.Err()
			}
			remaining = 0
		}
	}
	close(work)

	if err := eg.Wait(); err != nil && coordErr == nil {
		coordErr = err
	}
	return coordErr
}

func (s *Scheduler) buildOne(ctx context.Context, sg *snapshot.Graph, src cimpl.PkgId, pkgIndexPath string, slot int, st *statusBoard) buildResult {
	version, ok := sg.Version(src)
	if !ok {
		return buildResult{src: src, err: fmt.Errorf("batch: %s has no declared version in the snapshot", src)}
	}

	st.update(slot, fmt.Sprintf("building %s-%s", src.Name(), version))
	ev := trace.Event(src.Name()+"-"+version, slot)
	outputs, err := s.Builder.BuildPackage(ctx, src, version, pkgIndexPath)
	if err != nil {
		ev.Done()
		st.update(slot, fmt.Sprintf("FAILED %s-%s: %v", src.Name(), version, err))
		return buildResult{src: src, err: err}
	}
	ev.Done()

	shas := make(map[string]string, len(outputs))
	for bin, dir := range outputs {
		sha, err := s.Store.Publish(dir, bin)
		if err != nil {
			st.update(slot, fmt.Sprintf("FAILED %s-%s: publishing %s: %v", src.Name(), version, bin, err))
			return buildResult{src: src, err: fmt.Errorf("batch: publishing %s: %w", bin, err)}
		}
		shas[bin] = sha
	}
	st.update(slot, fmt.Sprintf("done %s-%s", src.Name(), version))
	return buildResult{src: src, shas: shas}
}

// markBuilt implements the "mark s built" half of get_pkgs_to_build/
// mark_pkgs_built (spec §4.4): it removes s from the build graph and
// recursively drains every binary it produces whose own remaining
// requirements (its producer, already gone, plus its own runtime
// dependencies) are satisfied, returning every source node that becomes
// ready to build as a result.
func markBuilt(bg *graph.Graph[cimpl.PkgId], s cimpl.PkgId) ([]cimpl.PkgId, error) {
	produced := bg.Neighbors(s)
	for _, b := range produced {
		if !b.IsBin() {
			return nil, fmt.Errorf("batch: %s's build-graph neighbor %s is not a binary package", s, b)
		}
	}
	bg.RemoveNode(s)

	var ready []cimpl.PkgId
	var clear func(b cimpl.PkgId)
	clear = func(b cimpl.PkgId) {
		for _, n := range bg.Neighbors(b) {
			bg.RemoveEdge(b, n)
			switch {
			case n.IsSrc():
				if bg.InDegree(n) == 0 {
					ready = append(ready, n)
				}
			case n.IsBin():
				if bg.InDegree(n) == 0 {
					clear(n)
				}
			}
		}
		bg.RemoveNode(b)
	}
	for _, b := range produced {
		if bg.InDegree(b) == 0 {
			clear(b)
		}
	}
	return ready, nil
}

// markFailed marks every transitive dependent of a failed source as
// unbuildable, so the coordinator never dispatches it, and returns how many
// additional source nodes that accounts for (so the caller can keep its
// remaining-count correct without ever building them).
func markFailed(bg *graph.Graph[cimpl.PkgId], failed map[cimpl.PkgId]bool, n cimpl.PkgId) int {
	count := 0
	for _, dep := range bg.Neighbors(n) {
		if failed[dep] {
			continue
		}
		failed[dep] = true
		if dep.IsSrc() {
			count++
		}
		count += markFailed(bg, failed, dep)
	}
	return count
}

// statusBoard is the scheduler's terminal progress reporter: one line per
// worker slot, redrawn in place on a terminal, silent otherwise.
type statusBoard struct {
	mu         sync.Mutex
	lines      []string
	lastUpdate time.Time
}

var isTerminal = func() bool {
	_, err := unix.IoctlGetTermios(int(os.Stdout.Fd()), unix.TCGETS)
	return err == nil
}()

func (b *statusBoard) update(slot int, line string) {
	if !isTerminal {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if diff := len(b.lines[slot]) - len(line); diff > 0 {
		line += strings.Repeat(" ", diff)
	}
	b.lines[slot] = line
	if time.Since(b.lastUpdate) < 100*time.Millisecond {
		return
	}
	b.lastUpdate = time.Now()
	for _, l := range b.lines {
		fmt.Println(l)
	}
	fmt.Printf("\033[%dA", len(b.lines))
}

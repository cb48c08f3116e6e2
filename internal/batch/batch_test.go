package batch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	cimpl "github.com/distr1/cimpl"
	"github.com/distr1/cimpl/internal/snapshot"
	"github.com/distr1/cimpl/internal/store"
)

// fakeBuilder records build invocations and produces one binary per source
// named "<src>-bin", failing for any source listed in failSrcs.
type fakeBuilder struct {
	mu       sync.Mutex
	built    []string
	failSrcs map[string]bool
}

func (f *fakeBuilder) BuildPackage(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string) (map[string]string, error) {
	f.mu.Lock()
	f.built = append(f.built, src.Name())
	f.mu.Unlock()

	if f.failSrcs[src.Name()] {
		return nil, errors.New("simulated build failure")
	}

	dir := filepath.Join(pkgIndexPath, src.Name()+"-out")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "payload"), []byte(src.Name()), 0o644); err != nil {
		return nil, err
	}
	return map[string]string{src.Name() + "-bin": dir}, nil
}

func chainGraph(t *testing.T) *snapshot.Graph {
	t.Helper()
	sg, err := snapshot.New(snapshot.Empty("test"))
	if err != nil {
		t.Fatal(err)
	}
	// a -> a-bin; b build-depends a-bin -> b-bin; c build-depends b-bin -> c-bin
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("a"), "1.0", nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("a-bin"), cimpl.SrcPkgId("a"), snapshot.PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("b"), "1.0", []cimpl.PkgId{cimpl.BinPkgId("a-bin")}, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("b-bin"), cimpl.SrcPkgId("b"), snapshot.PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("c"), "1.0", []cimpl.PkgId{cimpl.BinPkgId("b-bin")}, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("c-bin"), cimpl.SrcPkgId("c"), snapshot.PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	return sg
}

func chainChanges() snapshot.Changes {
	return snapshot.Changes{Add: []snapshot.AddChange{
		{Name: "a", Version: "1.0"},
		{Name: "b", Version: "1.0"},
		{Name: "c", Version: "1.0"},
	}}
}

func TestExecuteBuildsInDependencyOrderAndCommitsHashes(t *testing.T) {
	sg := chainGraph(t)
	fb := &fakeBuilder{}
	s := &Scheduler{Store: store.New(t.TempDir()), Builder: fb, Jobs: 4}

	pkgIndexPath := t.TempDir()
	if err := s.Execute(context.Background(), sg, chainChanges(), snapshot.Changes{}, pkgIndexPath); err != nil {
		t.Fatalf("Execute() = %v", err)
	}

	for _, name := range []string{"a", "b", "c"} {
		if !contains(fb.built, name) {
			t.Errorf("expected %s to have been built; built = %v", name, fb.built)
		}
	}
	pos := map[string]int{}
	for i, n := range fb.built {
		pos[n] = i
	}
	if pos["a"] > pos["b"] || pos["b"] > pos["c"] {
		t.Errorf("build order violated dependency order: %v", fb.built)
	}

	snap := sg.Snapshot()
	for _, bin := range []string{"a-bin", "b-bin", "c-bin"} {
		if got := snap.BinPkgs[bin].SHA256; got == snapshot.PlaceholderSHA256 || got == "" {
			t.Errorf("BinPkgs[%s].SHA256 = %q, want a committed hash", bin, got)
		}
	}
}

func TestExecutePropagatesFailureToDependents(t *testing.T) {
	sg := chainGraph(t)
	fb := &fakeBuilder{failSrcs: map[string]bool{"b": true}}
	s := &Scheduler{Store: store.New(t.TempDir()), Builder: fb, Jobs: 4}

	err := s.Execute(context.Background(), sg, chainChanges(), snapshot.Changes{}, t.TempDir())
	if err == nil {
		t.Fatal("expected Execute() to return the build failure")
	}
	if contains(fb.built, "c") {
		t.Errorf("c should never have been dispatched once its dependency b failed; built = %v", fb.built)
	}

	snap := sg.Snapshot()
	if snap.BinPkgs["c-bin"].SHA256 != snapshot.PlaceholderSHA256 {
		t.Errorf("c-bin should still hold the placeholder hash")
	}
}

// gatedBuilder fails any source named in failSrcs immediately, and blocks
// any source named in gated until its gate channel is closed, so a test can
// force a build to complete only after some other build has already failed.
type gatedBuilder struct {
	failSrcs map[string]bool
	gated    map[string]chan struct{}
	started  chan string
}

func (f *gatedBuilder) BuildPackage(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string) (map[string]string, error) {
	if f.started != nil {
		f.started <- src.Name()
	}
	if f.failSrcs[src.Name()] {
		return nil, errors.New("simulated build failure")
	}
	if gate, ok := f.gated[src.Name()]; ok {
		<-gate
	}
	dir := filepath.Join(pkgIndexPath, src.Name()+"-out")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "payload"), []byte(src.Name()), 0o644); err != nil {
		return nil, err
	}
	return map[string]string{src.Name() + "-bin": dir}, nil
}

// independentGraph builds two unrelated chains off a common empty snapshot:
// a -> a-bin, b build-depends a-bin -> b-bin (b depends on a), and an
// unrelated leaf c -> c-bin with no relation to a or b.
func independentGraph(t *testing.T) *snapshot.Graph {
	t.Helper()
	sg, err := snapshot.New(snapshot.Empty("test"))
	if err != nil {
		t.Fatal(err)
	}
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("a"), "1.0", nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("a-bin"), cimpl.SrcPkgId("a"), snapshot.PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("b"), "1.0", []cimpl.PkgId{cimpl.BinPkgId("a-bin")}, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("b-bin"), cimpl.SrcPkgId("b"), snapshot.PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("c"), "1.0", nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("c-bin"), cimpl.SrcPkgId("c"), snapshot.PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	return sg
}

// TestExecuteReturnsOnIndependentBranchFailure covers a source (b) becoming
// ready only *after* an unrelated, independent source (c) has already
// failed: the coordinator must still dispatch-skip and account for b
// instead of waiting forever for a result it will never produce.
func TestExecuteReturnsOnIndependentBranchFailure(t *testing.T) {
	started := make(chan string, 2)
	gate := make(chan struct{})
	fb := &gatedBuilder{
		failSrcs: map[string]bool{"c": true},
		gated:    map[string]chan struct{}{"a": gate},
		started:  started,
	}
	sg := independentGraph(t)
	s := &Scheduler{Store: store.New(t.TempDir()), Builder: fb, Jobs: 2}

	changes := snapshot.Changes{Add: []snapshot.AddChange{
		{Name: "a", Version: "1.0"},
		{Name: "b", Version: "1.0"},
		{Name: "c", Version: "1.0"},
	}}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Execute(context.Background(), sg, changes, snapshot.Changes{}, t.TempDir())
	}()

	// Wait until both a and c have started (c fails right after starting)
	// before letting a complete, so b normally becomes ready for dispatch
	// only after the coordinator has already seen c's failure.
	seen := map[string]bool{}
	for len(seen) < 2 {
		seen[<-started] = true
	}
	close(gate)

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected Execute() to return the build failure")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Execute() hung instead of returning the independent branch's failure")
	}
}

func contains(haystack []string, needle string) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

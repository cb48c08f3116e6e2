package snapshot

import (
	"context"
	"errors"
	"testing"

	cimpl "github.com/distr1/cimpl"
)

type resolverFunc func(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string, bootstrap bool) (ResolveResult, error)

func (f resolverFunc) Resolve(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string, bootstrap bool) (ResolveResult, error) {
	return f(ctx, src, version, pkgIndexPath, bootstrap)
}

func TestAddOneLeaf(t *testing.T) {
	// S1: empty snapshot, add one leaf with no deps.
	snap := Empty(rootName)
	sg, err := New(snap)
	if err != nil {
		t.Fatal(err)
	}

	resolver := resolverFunc(func(ctx context.Context, src cimpl.PkgId, version, pi string, bootstrap bool) (ResolveResult, error) {
		return ResolveResult{Primary: SrcResolution{
			ID:       src,
			Binaries: map[cimpl.PkgId][]cimpl.PkgId{cimpl.BinPkgId("pkg3-bin"): nil},
		}}, nil
	})

	pkgChanges := Changes{Add: []AddChange{{Name: "pkg3", Version: "1.0"}}}
	if err := sg.UpdateWithChanges(context.Background(), pkgChanges, Changes{}, resolver, ""); err != nil {
		t.Fatalf("UpdateWithChanges: %v", err)
	}

	if _, ok := snap.SrcPkgs["pkg3"]; !ok {
		t.Fatalf("pkg3 missing from src_pkg_map")
	}
	bin, ok := snap.BinPkgs["pkg3-bin"]
	if !ok {
		t.Fatalf("pkg3-bin missing from bin_pkg_map")
	}
	if bin.SHA256 != PlaceholderSHA256 {
		t.Fatalf("sha256 = %q before the scheduler has run, want placeholder", bin.SHA256)
	}
	if sg.IsBroken() {
		t.Fatalf("graph should not be broken")
	}
}

func TestAddMissingDepFails(t *testing.T) {
	// S2: add requiring a missing build-dep fails with UnresolvedDependencies.
	snap := Empty(rootName)
	sg, err := New(snap)
	if err != nil {
		t.Fatal(err)
	}

	resolver := resolverFunc(func(ctx context.Context, src cimpl.PkgId, version, pi string, bootstrap bool) (ResolveResult, error) {
		return ResolveResult{Primary: SrcResolution{
			ID:           src,
			BuildDepends: []cimpl.PkgId{cimpl.BinPkgId("cygwin")},
		}}, nil
	})

	pkgChanges := Changes{Add: []AddChange{{Name: "make", Version: "4.4.1-2"}}}
	err = sg.UpdateWithChanges(context.Background(), pkgChanges, Changes{}, resolver, "")
	var unresolved *UnresolvedDependencies
	if !errors.As(err, &unresolved) {
		t.Fatalf("err = %v, want *UnresolvedDependencies", err)
	}
	if unresolved.Src != cimpl.SrcPkgId("make") {
		t.Errorf("unresolved.Src = %v, want make", unresolved.Src)
	}
}

func TestRemoveWithDependentsBreaksGraph(t *testing.T) {
	// S3: removing a source whose produced binary is a build-dep of another
	// source leaves a broken edge.
	snap := Empty(rootName)
	snap.SrcPkgs["pkg1"] = &SrcPkg{Name: "pkg1", Version: "1.0", BuildDepends: []cimpl.PkgId{cimpl.BinPkgId("pkg2-bin")}}
	snap.SrcPkgs["pkg2"] = &SrcPkg{Name: "pkg2", Version: "1.0", BinaryPackages: []cimpl.PkgId{cimpl.BinPkgId("pkg2-bin")}}
	snap.BinPkgs["pkg2-bin"] = &BinPkg{Name: "pkg2-bin", SHA256: "abc", Compression: "xz"}

	sg, err := New(snap)
	if err != nil {
		t.Fatal(err)
	}

	resolver := resolverFunc(func(ctx context.Context, src cimpl.PkgId, version, pi string, bootstrap bool) (ResolveResult, error) {
		t.Fatalf("resolver should not be invoked on a pure removal")
		return ResolveResult{}, nil
	})

	pkgChanges := Changes{Remove: []string{"pkg2"}}
	err = sg.UpdateWithChanges(context.Background(), pkgChanges, Changes{}, resolver, "")
	var broken *BrokenGraph
	if !errors.As(err, &broken) {
		t.Fatalf("err = %v, want *BrokenGraph", err)
	}
}

func TestUpdateRestoresDependentEdge(t *testing.T) {
	// S4: updating pkg2 re-adds pkg2-bin, which must restore the broken edge
	// left by pkg1's build-dep on it.
	snap := Empty(rootName)
	snap.SrcPkgs["pkg1"] = &SrcPkg{Name: "pkg1", Version: "1.0", BuildDepends: []cimpl.PkgId{cimpl.BinPkgId("pkg2-bin")}}
	snap.SrcPkgs["pkg2"] = &SrcPkg{Name: "pkg2", Version: "1.0", BinaryPackages: []cimpl.PkgId{cimpl.BinPkgId("pkg2-bin")}}
	snap.BinPkgs["pkg2-bin"] = &BinPkg{Name: "pkg2-bin", SHA256: "abc", Compression: "xz"}

	sg, err := New(snap)
	if err != nil {
		t.Fatal(err)
	}

	resolver := resolverFunc(func(ctx context.Context, src cimpl.PkgId, version, pi string, bootstrap bool) (ResolveResult, error) {
		return ResolveResult{Primary: SrcResolution{
			ID:       src,
			Binaries: map[cimpl.PkgId][]cimpl.PkgId{cimpl.BinPkgId("pkg2-bin"): nil},
		}}, nil
	})

	pkgChanges := Changes{Update: []UpdateChange{{Name: "pkg2", From: "1.0", To: "2.0"}}}
	if err := sg.UpdateWithChanges(context.Background(), pkgChanges, Changes{}, resolver, ""); err != nil {
		t.Fatalf("UpdateWithChanges: %v", err)
	}
	if sg.IsBroken() {
		t.Fatalf("graph should be clean after the update restores pkg1's edge")
	}
	if !sg.HasEdge(cimpl.SrcPkgId("pkg1"), cimpl.BinPkgId("pkg2-bin")) {
		t.Fatalf("pkg1 -> pkg2-bin edge should have been restored")
	}
	if snap.SrcPkgs["pkg2"].Version != "2.0" {
		t.Fatalf("pkg2 version = %q, want 2.0", snap.SrcPkgs["pkg2"].Version)
	}
}

func TestBootstrapAddIntroducesSyntheticTwin(t *testing.T) {
	// S6.
	snap := Empty(rootName)
	sg, err := New(snap)
	if err != nil {
		t.Fatal(err)
	}

	resolver := resolverFunc(func(ctx context.Context, src cimpl.PkgId, version, pi string, bootstrap bool) (ResolveResult, error) {
		return ResolveResult{
			Primary: SrcResolution{
				ID:           src,
				BuildDepends: []cimpl.PkgId{cimpl.BinPkgId("bootstrap1-bin").Bootstrap()},
				Binaries:     map[cimpl.PkgId][]cimpl.PkgId{cimpl.BinPkgId("bootstrap1-bin"): nil},
			},
			Twin: &SrcResolution{
				ID:           src.Bootstrap(),
				BuildDepends: []cimpl.PkgId{cimpl.BinPkgId("bootstrap1-bin").Prev()},
				Binaries:     map[cimpl.PkgId][]cimpl.PkgId{cimpl.BinPkgId("bootstrap1-bin").Bootstrap(): nil},
			},
		}, nil
	})

	bootstrapChanges := Changes{Add: []AddChange{{Name: "bootstrap1", Version: "1.0.0-1"}}}
	if err := sg.UpdateWithChanges(context.Background(), Changes{}, bootstrapChanges, resolver, ""); err != nil {
		t.Fatalf("UpdateWithChanges: %v", err)
	}

	if _, ok := snap.BootstrapSrcPkgs["bootstrap1"]; !ok {
		t.Errorf("bootstrap_src_pkg_map missing bootstrap1")
	}
	if _, ok := snap.BootstrapSrcPkgs["bootstrap:bootstrap1"]; !ok {
		t.Errorf("bootstrap_src_pkg_map missing bootstrap:bootstrap1")
	}
	if !sg.HasEdge(cimpl.SrcPkgId("bootstrap1"), cimpl.BinPkgId("bootstrap:bootstrap1-bin")) {
		t.Errorf("missing edge bootstrap1 -> bootstrap:bootstrap1-bin")
	}
	if !sg.HasEdge(cimpl.SrcPkgId("bootstrap:bootstrap1"), cimpl.BinPkgId("prev:bootstrap1-bin")) {
		t.Errorf("missing edge bootstrap:bootstrap1 -> prev:bootstrap1-bin")
	}
	if sg.IsBroken() {
		t.Errorf("prev:-prefixed target must not count as broken")
	}
}

func TestComparePkgsWith(t *testing.T) {
	a := Empty("a")
	a.SrcPkgs["pkg3"] = &SrcPkg{Name: "pkg3", Version: "1.0"}
	b := Empty("b")
	b.SrcPkgs["pkg3"] = &SrcPkg{Name: "pkg3", Version: "1.0"}

	sgA, err := New(a)
	if err != nil {
		t.Fatal(err)
	}
	sgB, err := New(b)
	if err != nil {
		t.Fatal(err)
	}
	if _, differ := sgA.ComparePkgsWith(sgB); differ {
		t.Fatalf("identical package sets should compare equal")
	}

	b.SrcPkgs["pkg3"].Version = "2.0"
	if id, differ := sgA.ComparePkgsWith(sgB); !differ || id != cimpl.SrcPkgId("pkg3") {
		t.Fatalf("ComparePkgsWith = (%v, %v), want (pkg3, true)", id, differ)
	}
}

func TestBuildGraphOrdersByDependency(t *testing.T) {
	sg, err := New(Empty(rootName))
	if err != nil {
		t.Fatal(err)
	}
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("a"), "1.0", nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("a-bin"), cimpl.SrcPkgId("a"), PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("b"), "1.0", []cimpl.PkgId{cimpl.BinPkgId("a-bin")}, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("b-bin"), cimpl.SrcPkgId("b"), PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}

	bg, err := sg.BuildGraph([]cimpl.PkgId{cimpl.SrcPkgId("a")})
	if err != nil {
		t.Fatalf("BuildGraph: %v", err)
	}
	if bg.InDegree(cimpl.SrcPkgId("a")) != 0 {
		t.Errorf("a should be immediately buildable")
	}
	if bg.InDegree(cimpl.SrcPkgId("b")) == 0 {
		t.Errorf("b should not be buildable until a-bin is produced")
	}
}

func TestBuildGraphRejectsDependencyCycle(t *testing.T) {
	sg, err := New(Empty(rootName))
	if err != nil {
		t.Fatal(err)
	}
	// a build-depends on c-bin (not yet produced); c build-depends on
	// a-bin, forming a cycle once both producer edges exist.
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("a"), "1.0", []cimpl.PkgId{cimpl.BinPkgId("c-bin")}, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("a-bin"), cimpl.SrcPkgId("a"), PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddSrcPkg(cimpl.SrcPkgId("c"), "1.0", []cimpl.PkgId{cimpl.BinPkgId("a-bin")}, false); err != nil {
		t.Fatal(err)
	}
	if err := sg.AddBinPkg(cimpl.BinPkgId("c-bin"), cimpl.SrcPkgId("c"), PlaceholderSHA256, nil, false); err != nil {
		t.Fatal(err)
	}
	if sg.IsBroken() {
		t.Fatalf("graph should not be broken once both producers exist")
	}

	if _, err := sg.BuildGraph([]cimpl.PkgId{cimpl.SrcPkgId("a")}); err == nil {
		t.Fatal("BuildGraph should reject a dependency cycle")
	}
}

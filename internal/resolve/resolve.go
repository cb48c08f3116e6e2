// Package resolve implements the dependency resolver (spec §4.6): given a
// source package at a version, it returns its build-dependencies and the
// runtime-depends of each binary it produces, expanded for bootstrap vs.
// normal builds. It is pure — it reads the package index (and, for cygwin
// packages, the Cygwin manifest collaborator) and returns data, never
// touching a snapshot.
//
// Grounded on cimple's pkg/ops.py install_package_and_deps/build_pkg
// dependency-walking shape and on distri's build-time/runtime dependency
// separation in internal/build/build.go.
package resolve

import (
	"context"
	"fmt"

	cimpl "github.com/distr1/cimpl"
	"github.com/distr1/cimpl/internal/cygwin"
	"github.com/distr1/cimpl/internal/pkgindex"
	"github.com/distr1/cimpl/internal/snapshot"
)

// Resolver is the concrete, pure dependency resolver. Cygwin may be nil if
// the package index in use never references pkg_type = "cygwin" packages.
type Resolver struct {
	Cygwin cygwin.Manifest
}

// New returns a Resolver backed by the given Cygwin manifest collaborator.
func New(manifest cygwin.Manifest) *Resolver {
	return &Resolver{Cygwin: manifest}
}

var _ snapshot.Resolver = (*Resolver)(nil)

// Resolve implements snapshot.Resolver.
func (r *Resolver) Resolve(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string, bootstrap bool) (snapshot.ResolveResult, error) {
	cfg, err := pkgindex.Load(pkgIndexPath, src, version)
	if err != nil {
		return snapshot.ResolveResult{}, fmt.Errorf("resolve %s@%s: %w", src, version, err)
	}
	switch c := cfg.(type) {
	case *pkgindex.Custom:
		return resolveCustom(c, bootstrap), nil
	case *pkgindex.Cygwin:
		return r.resolveCygwin(c)
	default:
		return snapshot.ResolveResult{}, fmt.Errorf("resolve %s@%s: unhandled pkg_type %q", src, version, cfg.PkgType())
	}
}

func resolveCustom(c *pkgindex.Custom, bootstrap bool) snapshot.ResolveResult {
	if !bootstrap {
		return snapshot.ResolveResult{Primary: snapshot.SrcResolution{
			ID:           c.ID(),
			BuildDepends: c.BuildDepends(),
			Binaries:     binariesOf(c, identity),
		}}
	}

	primaryDeps := mapDeps(c.BuildDependsRaw, cimpl.PkgId.Bootstrap)
	twinDeps := mapDeps(c.BuildDependsRaw, cimpl.PkgId.Prev)

	primaryBins := binariesOf(c, identity)
	twinBins := make(map[cimpl.PkgId][]cimpl.PkgId, len(primaryBins))
	for bin, deps := range primaryBins {
		bootDeps := make([]cimpl.PkgId, len(deps))
		for i, d := range deps {
			bootDeps[i] = d.Bootstrap()
		}
		twinBins[bin.Bootstrap()] = bootDeps
	}

	return snapshot.ResolveResult{
		Primary: snapshot.SrcResolution{ID: c.ID(), BuildDepends: primaryDeps, Binaries: primaryBins},
		Twin: &snapshot.SrcResolution{
			ID:           c.ID().Bootstrap(),
			BuildDepends: twinDeps,
			Binaries:     twinBins,
		},
	}
}

func identity(id cimpl.PkgId) cimpl.PkgId { return id }

func mapDeps(names []string, f func(cimpl.PkgId) cimpl.PkgId) []cimpl.PkgId {
	out := make([]cimpl.PkgId, len(names))
	for i, n := range names {
		out[i] = f(cimpl.BinPkgId(n))
	}
	return out
}

func binariesOf(c *pkgindex.Custom, f func(cimpl.PkgId) cimpl.PkgId) map[cimpl.PkgId][]cimpl.PkgId {
	out := make(map[cimpl.PkgId][]cimpl.PkgId, len(c.Binaries))
	for name := range c.Binaries {
		deps := c.Depends(name)
		mapped := make([]cimpl.PkgId, len(deps))
		for i, d := range deps {
			mapped[i] = f(d)
		}
		out[cimpl.BinPkgId(name)] = mapped
	}
	return out
}

func (r *Resolver) resolveCygwin(c *pkgindex.Cygwin) (snapshot.ResolveResult, error) {
	if r.Cygwin == nil {
		return snapshot.ResolveResult{}, fmt.Errorf("resolve %s: no cygwin manifest configured", c.ID())
	}
	deps, err := r.Cygwin.Depends(c.Name, c.Version)
	if err != nil {
		return snapshot.ResolveResult{}, err
	}
	bin := cimpl.BinPkgId(c.Name)
	binDeps := make([]cimpl.PkgId, len(deps))
	for i, d := range deps {
		binDeps[i] = cimpl.BinPkgId(d)
	}
	return snapshot.ResolveResult{Primary: snapshot.SrcResolution{
		ID:           c.ID(),
		BuildDepends: nil,
		Binaries:     map[cimpl.PkgId][]cimpl.PkgId{bin: binDeps},
	}}, nil
}

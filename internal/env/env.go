// Package env describes the on-disk data directory layout (spec §6.5): a
// share/ tree holding persistent state (snapshots, the content-addressed
// binary package store, stream configs, downloaded original sources) and a local/ tree holding
// scratch state that a build regenerates every run (build directories,
// collected outputs, installed build-dependency trees).
//
// Grounded on cimple's own cimple.constants module, which defines this same
// split under ~/.cimple; the non-goal on sandboxing/chroot/image extraction
// means the image/extracted_image directories that module also defines have
// no counterpart here.
package env

import (
	"os"
	"path/filepath"
)

// Dirs is a resolved data directory layout rooted at a single base path.
type Dirs struct {
	Base string

	SnapshotDir string // share/snapshot: persisted snapshot JSON files
	PkgDir      string // share/pkg: content-addressed binary package store
	StreamDir   string // share/stream: stream.toml configs
	OrigDir     string // share/orig: downloaded+verified source tarballs

	PkgBuildDir  string // local/pkg_build: per-package extraction/build scratch
	PkgOutputDir string // local/pkg_output: per-package build output
	DepsDir      string // local/deps: per-package installed build-dependency tree
}

// New resolves a Dirs rooted at base, without creating any of the
// directories; callers create what they need via EnsureAll or per-directory
// MkdirAll.
func New(base string) *Dirs {
	share := filepath.Join(base, "share")
	local := filepath.Join(base, "local")
	return &Dirs{
		Base: base,

		SnapshotDir: filepath.Join(share, "snapshot"),
		PkgDir:      filepath.Join(share, "pkg"),
		StreamDir:   filepath.Join(share, "stream"),
		OrigDir:     filepath.Join(share, "orig"),

		PkgBuildDir:  filepath.Join(local, "pkg_build"),
		PkgOutputDir: filepath.Join(local, "pkg_output"),
		DepsDir:      filepath.Join(local, "deps"),
	}
}

// PkgBuild returns the scratch build directory for one (name, version) pair.
func (d *Dirs) PkgBuild(name, version string) string {
	return filepath.Join(d.PkgBuildDir, name+"-"+version)
}

// PkgOutput returns the build output directory for one (name, version) pair.
func (d *Dirs) PkgOutput(name, version string) string {
	return filepath.Join(d.PkgOutputDir, name+"-"+version)
}

// Deps returns the installed build-dependency tree for one (name, version)
// pair.
func (d *Dirs) Deps(name, version string) string {
	return filepath.Join(d.DepsDir, name+"-"+version)
}

// OrigTarball returns the cached source tarball path for a given package
// config's file name (spec §6.2 input.sha256 identifies its content; the
// file name itself is <name>-<source_version>.tar.<compression>).
func (d *Dirs) OrigTarball(name, sourceVersion, compression string) string {
	return filepath.Join(d.OrigDir, name+"-"+sourceVersion+".tar."+compression)
}

// EnsureAll creates every directory in the layout, if missing.
func (d *Dirs) EnsureAll() error {
	for _, dir := range []string{
		d.SnapshotDir, d.PkgDir, d.StreamDir, d.OrigDir,
		d.PkgBuildDir, d.PkgOutputDir, d.DepsDir,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

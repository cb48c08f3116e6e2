// Package snapshot holds the persistable snapshot model (source packages,
// binary packages, change records) and the in-memory graph built from it.
//
// A Snapshot has two parallel layers, normal and bootstrap, each with its
// own source-package and binary-package maps, plus the change lists that
// produced this snapshot from its ancestor.
package snapshot

import cimpl "github.com/distr1/cimpl"

// SrcPkg is a source package as recorded in a snapshot: its declared
// build-dependencies and the binaries it produces.
type SrcPkg struct {
	Name           string
	Version        string
	BuildDepends   []cimpl.PkgId
	BinaryPackages []cimpl.PkgId
}

// BinPkg is a binary package as recorded in a snapshot.
type BinPkg struct {
	Name        string
	SHA256      string // "placeholder" until the build scheduler fills it in
	Compression string // always "xz"
	Depends     []cimpl.PkgId
}

// PlaceholderSHA256 is the sentinel used for a binary package that has not
// been built yet.
const PlaceholderSHA256 = "placeholder"

// AddChange declares that a source package at a version should be added.
type AddChange struct {
	Name    string
	Version string
}

// UpdateChange declares that a source package moves from one version to
// another.
type UpdateChange struct {
	Name string
	From string
	To   string
}

// Changes bundles the add/remove/update change records that differentiate a
// snapshot from its ancestor, for one of the two layers (normal or
// bootstrap).
type Changes struct {
	Add    []AddChange
	Remove []string
	Update []UpdateChange
}

// IsEmpty reports whether no changes are declared.
func (c Changes) IsEmpty() bool {
	return len(c.Add) == 0 && len(c.Remove) == 0 && len(c.Update) == 0
}

// Snapshot is the persistable record described in spec §3: two disjoint
// layers of source/binary package maps, plus the change lists that produced
// this snapshot from Ancestor.
//
// Map keys are the unprefixed-or-prefixed package name (PkgId.Name()); a
// given name lives in at most one of the four maps' corresponding kind.
type Snapshot struct {
	SchemaVersion int
	Name          string
	Ancestor      string // empty means no ancestor

	SrcPkgs map[string]*SrcPkg
	BinPkgs map[string]*BinPkg

	BootstrapSrcPkgs map[string]*SrcPkg
	BootstrapBinPkgs map[string]*BinPkg

	Changes          Changes
	BootstrapChanges Changes
}

// Empty returns an empty snapshot named name: no ancestor, no packages, no
// changes. Store.Load returns Empty("root") for the "root" sentinel.
func Empty(name string) *Snapshot {
	return &Snapshot{
		SchemaVersion:    0,
		Name:             name,
		SrcPkgs:          map[string]*SrcPkg{},
		BinPkgs:          map[string]*BinPkg{},
		BootstrapSrcPkgs: map[string]*SrcPkg{},
		BootstrapBinPkgs: map[string]*BinPkg{},
	}
}

func (s *Snapshot) srcMap(bootstrap bool) map[string]*SrcPkg {
	if bootstrap {
		return s.BootstrapSrcPkgs
	}
	return s.SrcPkgs
}

func (s *Snapshot) binMap(bootstrap bool) map[string]*BinPkg {
	if bootstrap {
		return s.BootstrapBinPkgs
	}
	return s.BinPkgs
}

// Package cimpl provides the core types shared across the snapshot-based
// package builder: typed package identifiers and a couple of process-wide
// utilities (interruptible contexts, at-exit hooks) used by every other
// package in this module.
package cimpl

import "strings"

const (
	bootstrapPrefix = "bootstrap:"
	prevPrefix      = "prev:"
)

type pkgKind uint8

const (
	kindSrc pkgKind = iota
	kindBin
)

// PkgId identifies either a source package or a binary package. The two
// kinds are disjoint even when they share the same unprefixed name: identity
// includes the kind tag, so SrcPkgId("foo") != BinPkgId("foo").
//
// Bootstrap and previous-snapshot variants are just regular PkgIds whose name
// carries a "bootstrap:" or "prev:" prefix; the prefix is part of the name,
// not a separate field, per spec.
type PkgId struct {
	kind pkgKind
	name string
}

// SrcPkgId constructs the identifier of a source package named name.
func SrcPkgId(name string) PkgId { return PkgId{kind: kindSrc, name: name} }

// BinPkgId constructs the identifier of a binary package named name.
func BinPkgId(name string) PkgId { return PkgId{kind: kindBin, name: name} }

// Name returns the (possibly prefixed) name of id.
func (id PkgId) Name() string { return id.name }

// IsSrc reports whether id identifies a source package.
func (id PkgId) IsSrc() bool { return id.kind == kindSrc }

// IsBin reports whether id identifies a binary package.
func (id PkgId) IsBin() bool { return id.kind == kindBin }

// IsBootstrap reports whether id is a bootstrap:-prefixed synthetic id.
func (id PkgId) IsBootstrap() bool { return strings.HasPrefix(id.name, bootstrapPrefix) }

// IsPrev reports whether id is a prev:-prefixed reference into the ancestor
// snapshot. prev: ids are never stored in a snapshot's package maps.
func (id PkgId) IsPrev() bool { return strings.HasPrefix(id.name, prevPrefix) }

// Bootstrap returns the bootstrap:-prefixed synthetic twin of id, keeping
// id's kind.
func (id PkgId) Bootstrap() PkgId {
	return PkgId{kind: id.kind, name: bootstrapPrefix + id.name}
}

// Prev returns the prev:-prefixed reference to id, keeping id's kind.
func (id PkgId) Prev() PkgId {
	return PkgId{kind: id.kind, name: prevPrefix + id.name}
}

// Unprefixed strips a single leading "bootstrap:" or "prev:" prefix, if
// present, returning the bare package name together with the kind unchanged.
func (id PkgId) Unprefixed() PkgId {
	if n, ok := strings.CutPrefix(id.name, bootstrapPrefix); ok {
		return PkgId{kind: id.kind, name: n}
	}
	if n, ok := strings.CutPrefix(id.name, prevPrefix); ok {
		return PkgId{kind: id.kind, name: n}
	}
	return id
}

// Equal reports whether id and other name the same package of the same kind.
// github.com/google/go-cmp uses it to compare PkgIds inside snapshot records.
func (id PkgId) Equal(other PkgId) bool { return id == other }

// String returns a debug representation such as "src:foo" or
// "bin:bootstrap:foo", suitable for use as a graph node label and in error
// messages.
func (id PkgId) String() string {
	k := "src"
	if id.kind == kindBin {
		k = "bin"
	}
	return k + ":" + id.name
}

// Package pkgindex reads a package's declarative config file, pkg.toml
// (spec §6.2): schema_version, name, version, and a pkg_type-discriminated
// body (custom or cygwin). Grounded on cimple's own
// cimple.models.pkg_config (a pydantic discriminated union read from TOML
// via the stdlib tomllib); here the discriminator is handled by decoding
// twice with github.com/BurntSushi/toml, once into a probe for pkg_type and
// once into the concrete shape.
package pkgindex

import cimpl "github.com/distr1/cimpl"

// Config is the package config for one (name, version), type-discriminated
// on pkg_type.
type Config interface {
	ID() cimpl.PkgId
	PkgType() string
	BinaryPackages() []cimpl.PkgId
	BuildDepends() []cimpl.PkgId
}

// Custom is a pkg_type = "custom" package config: the common case, with
// build rules, an input tarball, and one or more produced binaries.
type Custom struct {
	SchemaVersion int
	Name          string
	Version       string

	SupportedPlatforms []string
	BuildDependsRaw    []string

	Input Input
	Rules []Rule

	Binaries map[string]Binary
}

// Input describes the source tarball a custom package is built from.
type Input struct {
	SHA256             string
	SourceVersion      string
	TarballRootDir     string
	TarballCompression string // "gz" (default) or "xz"
	ImageType          string
	Patches            []string
}

// Rule is one entry of rules.default: either a bare shell command (RuleCmd
// set, Cwd/Env zero) or a detailed step with its own working directory and
// environment overrides. RuleCmd holds either one shell command line or,
// when the source TOML used an array, the argument vector of one command.
type Rule struct {
	Cwd    string
	Env    map[string]string
	RuleCmd []string
}

// Binary is one binary package a custom package produces.
type Binary struct {
	DependsRaw []string
	OutputDir  string
}

func (c *Custom) ID() cimpl.PkgId    { return cimpl.SrcPkgId(c.Name) }
func (c *Custom) PkgType() string    { return "custom" }
func (c *Custom) BuildDepends() []cimpl.PkgId {
	return binIds(c.BuildDependsRaw)
}

// BinaryPackages returns the ids of every binary this package produces, in
// map order (unspecified, like the underlying TOML table).
func (c *Custom) BinaryPackages() []cimpl.PkgId {
	ids := make([]cimpl.PkgId, 0, len(c.Binaries))
	for name := range c.Binaries {
		ids = append(ids, cimpl.BinPkgId(name))
	}
	return ids
}

// Depends returns the runtime-depends of the named binary.
func (c *Custom) Depends(name string) []cimpl.PkgId {
	return binIds(c.Binaries[name].DependsRaw)
}

// Cygwin is a pkg_type = "cygwin" package config: a thin pointer into the
// Cygwin upstream package set, with no build rules of its own (spec §4.6).
type Cygwin struct {
	SchemaVersion int
	Name          string
	Version       string
}

func (c *Cygwin) ID() cimpl.PkgId              { return cimpl.SrcPkgId(c.Name) }
func (c *Cygwin) PkgType() string              { return "cygwin" }
func (c *Cygwin) BuildDepends() []cimpl.PkgId   { return nil }
func (c *Cygwin) BinaryPackages() []cimpl.PkgId { return []cimpl.PkgId{cimpl.BinPkgId(c.Name)} }

func binIds(names []string) []cimpl.PkgId {
	ids := make([]cimpl.PkgId, len(names))
	for i, n := range names {
		ids[i] = cimpl.BinPkgId(n)
	}
	return ids
}

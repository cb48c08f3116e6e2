// Package stream loads a stream.toml target-package-set config (spec §6.4)
// and diffs it against a loaded snapshot to produce the add/remove/update
// change bundle the change processor consumes — the "external change
// resolver" spec.md names as a collaborator but leaves unspecified.
//
// Grounded on distri's cmd/distri/update.go (read a declared target set, pull
// in install/remove lists, and diff against installed state) for the overall
// "declared set vs. current snapshot" shape, and on
// internal/checkupstream/check.go's use of golang.org/x/mod/semver (with its
// maybeV "tolerate a missing v prefix" helper) for comparing package
// versions that aren't always canonical semver strings.
package stream

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/mod/semver"

	"github.com/distr1/cimpl/internal/snapshot"
)

// Entry is one {name, version} pair in a stream config.
type Entry struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Config is a decoded stream.toml: the target package set for one stream
// (spec §6.4).
type Config struct {
	SchemaVersion string  `toml:"schema_version"`
	Pkgs          []Entry `toml:"pkgs"`
	BootstrapPkgs []Entry `toml:"bootstrap_pkgs"`
}

// Load reads and decodes a stream config from piPath/stream/<name>.toml.
func Load(piPath, name string) (*Config, error) {
	data, err := os.ReadFile(Path(piPath, name))
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Path returns the on-disk location of a named stream config.
func Path(piPath, name string) string {
	return piPath + "/stream/" + name + ".toml"
}

// Decode parses stream.toml content already read into memory.
func Decode(data []byte) (*Config, error) {
	var c Config
	if _, err := toml.Decode(string(data), &c); err != nil {
		return nil, fmt.Errorf("stream: %w", err)
	}
	return &c, nil
}

// Diff compares a stream config against a loaded snapshot and returns the
// pkg_changes/bootstrap_changes change bundles the change processor needs to
// bring the snapshot in line with the stream's declared target set: sources
// present in the stream but absent from the snapshot are added, sources
// present in the snapshot but absent from the stream are removed, and
// sources present in both at different versions are updated.
func (c *Config) Diff(snap *snapshot.Snapshot) (pkgChanges, bootstrapChanges snapshot.Changes) {
	return diff(c.Pkgs, snap.SrcPkgs), diff(c.BootstrapPkgs, snap.BootstrapSrcPkgs)
}

func diff(target []Entry, current map[string]*snapshot.SrcPkg) snapshot.Changes {
	var changes snapshot.Changes

	wanted := make(map[string]string, len(target))
	for _, e := range target {
		wanted[e.Name] = e.Version
	}

	for _, e := range target {
		existing, ok := current[e.Name]
		switch {
		case !ok:
			changes.Add = append(changes.Add, snapshot.AddChange{Name: e.Name, Version: e.Version})
		case existing.Version != e.Version:
			changes.Update = append(changes.Update, snapshot.UpdateChange{Name: e.Name, From: existing.Version, To: e.Version})
		}
	}

	for name := range current {
		if _, ok := wanted[name]; !ok {
			changes.Remove = append(changes.Remove, name)
		}
	}

	return changes
}

// Newer reports whether candidate is a newer version than current, tolerating
// version strings that omit semver's required "v" prefix. Versions that
// aren't valid semver at all fall back to a lexical comparison, matching the
// teacher's "prefer a string sort when the versions aren't semver" fallback.
func Newer(candidate, current string) bool {
	cv, curv := maybeV(candidate), maybeV(current)
	if semver.IsValid(cv) && semver.IsValid(curv) {
		return semver.Compare(cv, curv) > 0
	}
	return candidate > current
}

func maybeV(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// Package cygwin is the pluggable Cygwin upstream-package integration the
// resolver treats as an external collaborator (spec §4.6, §1 non-goals).
//
// Grounded on cimple's pkg/cygwin.py parse_cygwin_release_for_package: a
// "@ <name>" section header, fields until a blank line, with a "version:"
// field gating which following fields apply. cimple's real Cygwin client
// downloads and parses the full upstream setup.xz release index; this
// package deliberately reads a simplified, locally-supplied manifest file
// instead (no network access, no setup.ini version-dependent field
// grammar) — the gap from a full setup.ini parser is intentional and is
// documented, not an oversight.
package cygwin

import (
	"bufio"
	"fmt"
	"strings"
)

// Manifest answers "what binary packages does Cygwin package name at
// version depend on" from a manifest already parsed into memory.
type Manifest interface {
	Depends(name, version string) ([]string, error)
}

type pkgVersion struct {
	requires []string
}

// FileManifest is a Manifest backed by a simplified Cygwin release listing:
//
//	@ name
//	version: 1.2.3-1
//	requires: dep1 dep2
//
//	@ other-name
//	...
//
// one blank-line-terminated section per package version, mirroring the
// "@ name" / "version:" / blank-line-ends-section shape of the real Cygwin
// setup.ini, stripped down to the two fields the resolver needs.
type FileManifest struct {
	versions map[string]map[string]pkgVersion // name -> version -> record
}

// Parse reads a FileManifest out of data.
func Parse(data []byte) (*FileManifest, error) {
	m := &FileManifest{versions: map[string]map[string]pkgVersion{}}

	var curName string
	var curVersion string
	var curRequires []string

	flush := func() {
		if curName == "" || curVersion == "" {
			return
		}
		if m.versions[curName] == nil {
			m.versions[curName] = map[string]pkgVersion{}
		}
		m.versions[curName][curVersion] = pkgVersion{requires: curRequires}
	}

	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "@ "):
			flush()
			curName = strings.TrimSpace(strings.TrimPrefix(line, "@ "))
			curVersion = ""
			curRequires = nil
		case line == "":
			flush()
			curName = ""
			curVersion = ""
			curRequires = nil
		case strings.HasPrefix(line, "version:"):
			curVersion = strings.TrimSpace(strings.TrimPrefix(line, "version:"))
		case strings.HasPrefix(line, "requires:"):
			curRequires = strings.Fields(strings.TrimPrefix(line, "requires:"))
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cygwin: %w", err)
	}
	return m, nil
}

// Depends implements Manifest.
func (m *FileManifest) Depends(name, version string) ([]string, error) {
	versions, ok := m.versions[name]
	if !ok {
		return nil, fmt.Errorf("cygwin: package %q not found", name)
	}
	rec, ok := versions[version]
	if !ok {
		return nil, fmt.Errorf("cygwin: package %q version %q not found", name, version)
	}
	return rec.requires, nil
}

package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"

	cimpl "github.com/distr1/cimpl"
)

// wirePkg is the tagged union §6.1 describes: src packages and bin
// packages share one array, discriminated by pkg_type. Dependency lists
// store unprefixed-or-prefixed names as plain strings; the kind (src/bin)
// of each referenced id is implicit from the field it appears in.
type wirePkg struct {
	PkgType           string   `json:"pkg_type"`
	Name              string   `json:"name"`
	Version           string   `json:"version,omitempty"`
	BuildDepends      []string `json:"build_depends,omitempty"`
	BinaryPackages    []string `json:"binary_packages,omitempty"`
	SHA256            string   `json:"sha256,omitempty"`
	CompressionMethod string   `json:"compression_method,omitempty"`
	Depends           []string `json:"depends,omitempty"`
}

type wireAdd struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type wireUpdate struct {
	Name string `json:"name"`
	From string `json:"from"`
	To   string `json:"to"`
}

type wireChanges struct {
	Add    []wireAdd    `json:"add"`
	Remove []string     `json:"remove"`
	Update []wireUpdate `json:"update"`
}

type wireSnapshot struct {
	Version          int         `json:"version"`
	Name             string      `json:"name"`
	Ancestor         *string     `json:"ancestor"`
	Pkgs             []wirePkg   `json:"pkgs"`
	BootstrapPkgs    []wirePkg   `json:"bootstrap_pkgs"`
	Changes          wireChanges `json:"changes"`
	BootstrapChanges wireChanges `json:"bootstrap_changes"`
}

func idNames(ids []cimpl.PkgId) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.Name()
	}
	return out
}

func binIds(names []string) []cimpl.PkgId {
	out := make([]cimpl.PkgId, len(names))
	for i, n := range names {
		out[i] = cimpl.BinPkgId(n)
	}
	return out
}

func changesToWire(c Changes) wireChanges {
	w := wireChanges{Remove: c.Remove}
	for _, a := range c.Add {
		w.Add = append(w.Add, wireAdd{Name: a.Name, Version: a.Version})
	}
	for _, u := range c.Update {
		w.Update = append(w.Update, wireUpdate{Name: u.Name, From: u.From, To: u.To})
	}
	return w
}

func wireToChanges(w wireChanges) Changes {
	c := Changes{Remove: w.Remove}
	for _, a := range w.Add {
		c.Add = append(c.Add, AddChange{Name: a.Name, Version: a.Version})
	}
	for _, u := range w.Update {
		c.Update = append(c.Update, UpdateChange{Name: u.Name, From: u.From, To: u.To})
	}
	return c
}

func layerToWire(srcs map[string]*SrcPkg, bins map[string]*BinPkg) []wirePkg {
	names := make([]string, 0, len(srcs))
	for n := range srcs {
		names = append(names, n)
	}
	sort.Strings(names)
	var out []wirePkg
	for _, n := range names {
		s := srcs[n]
		out = append(out, wirePkg{
			PkgType:        "src",
			Name:           s.Name,
			Version:        s.Version,
			BuildDepends:   idNames(s.BuildDepends),
			BinaryPackages: idNames(s.BinaryPackages),
		})
	}
	names = names[:0]
	for n := range bins {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		b := bins[n]
		out = append(out, wirePkg{
			PkgType:           "bin",
			Name:              b.Name,
			SHA256:            b.SHA256,
			CompressionMethod: b.Compression,
			Depends:           idNames(b.Depends),
		})
	}
	return out
}

func wireToLayer(pkgs []wirePkg) (map[string]*SrcPkg, map[string]*BinPkg, error) {
	srcs := map[string]*SrcPkg{}
	bins := map[string]*BinPkg{}
	for _, p := range pkgs {
		switch p.PkgType {
		case "src":
			srcs[p.Name] = &SrcPkg{
				Name:           p.Name,
				Version:        p.Version,
				BuildDepends:   binIds(p.BuildDepends),
				BinaryPackages: binIds(p.BinaryPackages),
			}
		case "bin":
			bins[p.Name] = &BinPkg{
				Name:        p.Name,
				SHA256:      p.SHA256,
				Compression: p.CompressionMethod,
				Depends:     binIds(p.Depends),
			}
		default:
			return nil, nil, fmt.Errorf("snapshot: unknown pkg_type %q for %q", p.PkgType, p.Name)
		}
	}
	return srcs, bins, nil
}

// MarshalJSON implements the §6.1 wire format.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	w := wireSnapshot{
		Version:          s.SchemaVersion,
		Name:             s.Name,
		Pkgs:             layerToWire(s.SrcPkgs, s.BinPkgs),
		BootstrapPkgs:    layerToWire(s.BootstrapSrcPkgs, s.BootstrapBinPkgs),
		Changes:          changesToWire(s.Changes),
		BootstrapChanges: changesToWire(s.BootstrapChanges),
	}
	if s.Ancestor != "" {
		w.Ancestor = &s.Ancestor
	}
	return json.Marshal(w)
}

// UnmarshalJSON parses the §6.1 wire format.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var w wireSnapshot
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	srcs, bins, err := wireToLayer(w.Pkgs)
	if err != nil {
		return err
	}
	bsrcs, bbins, err := wireToLayer(w.BootstrapPkgs)
	if err != nil {
		return err
	}
	*s = Snapshot{
		SchemaVersion:    w.Version,
		Name:             w.Name,
		SrcPkgs:          srcs,
		BinPkgs:          bins,
		BootstrapSrcPkgs: bsrcs,
		BootstrapBinPkgs: bbins,
		Changes:          wireToChanges(w.Changes),
		BootstrapChanges: wireToChanges(w.BootstrapChanges),
	}
	if w.Ancestor != nil {
		s.Ancestor = *w.Ancestor
	}
	return nil
}

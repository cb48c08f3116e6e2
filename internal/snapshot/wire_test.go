package snapshot

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	cimpl "github.com/distr1/cimpl"
)

func TestSnapshotJSONRoundTrip(t *testing.T) {
	snap := Empty("20260101-000000")
	snap.Ancestor = "root"
	snap.SrcPkgs["pkg3"] = &SrcPkg{Name: "pkg3", Version: "1.0", BinaryPackages: []cimpl.PkgId{cimpl.BinPkgId("pkg3-bin")}}
	snap.BinPkgs["pkg3-bin"] = &BinPkg{Name: "pkg3-bin", SHA256: "deadbeef", Compression: "xz"}
	snap.BootstrapSrcPkgs["bootstrap1"] = &SrcPkg{
		Name:         "bootstrap1",
		Version:      "1.0.0-1",
		BuildDepends: []cimpl.PkgId{cimpl.BinPkgId("bootstrap:bootstrap1-bin")},
	}
	snap.Changes = Changes{Add: []AddChange{{Name: "pkg3", Version: "1.0"}}}
	snap.BootstrapChanges = Changes{Add: []AddChange{{Name: "bootstrap1", Version: "1.0.0-1"}}}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	got := &Snapshot{}
	if err := json.Unmarshal(data, got); err != nil {
		t.Fatal(err)
	}

	if diff := cmp.Diff(snap, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("round-trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSnapshotJSONShape(t *testing.T) {
	snap := Empty("root")
	snap.SrcPkgs["pkg3"] = &SrcPkg{Name: "pkg3", Version: "1.0"}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"version", "name", "ancestor", "pkgs", "bootstrap_pkgs", "changes", "bootstrap_changes"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing top-level key %q in %s", key, data)
		}
	}
	pkgs, ok := raw["pkgs"].([]any)
	if !ok || len(pkgs) != 1 {
		t.Fatalf("expected one entry in pkgs, got %v", raw["pkgs"])
	}
	entry := pkgs[0].(map[string]any)
	if entry["pkg_type"] != "src" {
		t.Errorf("pkg_type = %v, want src", entry["pkg_type"])
	}
}

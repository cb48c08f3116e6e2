package changeproc

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	cimpl "github.com/distr1/cimpl"
	"github.com/distr1/cimpl/internal/batch"
	"github.com/distr1/cimpl/internal/resolve"
	"github.com/distr1/cimpl/internal/snapshot"
	"github.com/distr1/cimpl/internal/store"
)

// fakeBuilder satisfies builder.Builder without shelling out, so this test
// exercises resolution, graph construction, and scheduling without needing a
// real build environment.
type fakeBuilder struct{}

func (fakeBuilder) BuildPackage(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string) (map[string]string, error) {
	dir := filepath.Join(pkgIndexPath, "out", src.Name())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, "payload"), []byte(src.Name()), 0o644); err != nil {
		return nil, err
	}
	return map[string]string{src.Name() + "-bin": dir}, nil
}

func writePkgToml(t *testing.T, pi, name, version, content string) {
	t.Helper()
	dir := filepath.Join(pi, "pkg", name, version)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "pkg.toml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestApplyAddsBuildsAndCommitsHashes(t *testing.T) {
	pi := t.TempDir()
	writePkgToml(t, pi, "leaf", "1.0", `
schema_version = 0
pkg_type = "custom"
name = "leaf"
version = "1.0"

[pkg]
supported_platforms = ["linux-amd64"]
build_depends = []

[input]
sha256 = "x"
source_version = "1.0"

[rules]
default = ["true"]

[binaries.leaf-bin]
depends = []
`)

	c := &Ctx{
		Resolver:  resolve.New(nil),
		Scheduler: &batch.Scheduler{Store: store.New(t.TempDir()), Builder: fakeBuilder{}, Jobs: 2},
	}

	pkgChanges := snapshot.Changes{Add: []snapshot.AddChange{{Name: "leaf", Version: "1.0"}}}
	sg, err := c.Apply(context.Background(), snapshot.Empty("root"), pkgChanges, snapshot.Changes{}, pi)
	if err != nil {
		t.Fatalf("Apply() = %v", err)
	}

	bin, ok := sg.Snapshot().BinPkgs["leaf-bin"]
	if !ok {
		t.Fatal("leaf-bin missing from resulting snapshot")
	}
	if bin.SHA256 == snapshot.PlaceholderSHA256 || bin.SHA256 == "" {
		t.Errorf("leaf-bin.SHA256 = %q, want a committed hash", bin.SHA256)
	}
	if sg.IsBroken() {
		t.Errorf("resulting graph has broken edges")
	}
}

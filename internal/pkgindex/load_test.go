package pkgindex

import (
	"testing"

	cimpl "github.com/distr1/cimpl"
)

const samplePkgToml = `
schema_version = 0
pkg_type = "custom"
name = "pkg3"
version = "1.0"

[pkg]
supported_platforms = ["linux-amd64"]
build_depends = ["make-bin"]

[input]
sha256 = "deadbeef"
source_version = "1.0"
tarball_compression = "xz"

[rules]
default = [
  "./configure --prefix=/ro/pkg3-1.0",
  "make -j8",
  { cwd = "build", env = { DESTDIR = "${cimple_output_dir}" }, rule = ["make", "install"] },
]

[binaries.pkg3-bin]
depends = ["libc-bin"]
output_dir = "out"
`

const sampleCygwinToml = `
schema_version = 0
pkg_type = "cygwin"
name = "cygwin-foo"
version = "1.2.3"
`

func TestDecodeCustom(t *testing.T) {
	cfg, err := Decode([]byte(samplePkgToml))
	if err != nil {
		t.Fatal(err)
	}
	custom, ok := cfg.(*Custom)
	if !ok {
		t.Fatalf("got %T, want *Custom", cfg)
	}
	if custom.ID() != cimpl.SrcPkgId("pkg3") {
		t.Errorf("ID() = %v, want src:pkg3", custom.ID())
	}
	if len(custom.BuildDepends()) != 1 || custom.BuildDepends()[0] != cimpl.BinPkgId("make-bin") {
		t.Errorf("BuildDepends() = %v", custom.BuildDepends())
	}
	if custom.Input.TarballCompression != "xz" {
		t.Errorf("TarballCompression = %q, want xz", custom.Input.TarballCompression)
	}
	if len(custom.Rules) != 3 {
		t.Fatalf("len(Rules) = %d, want 3", len(custom.Rules))
	}
	if custom.Rules[0].RuleCmd[0] != "./configure --prefix=/ro/pkg3-1.0" {
		t.Errorf("Rules[0] = %+v", custom.Rules[0])
	}
	last := custom.Rules[2]
	if last.Cwd != "build" || len(last.RuleCmd) != 2 || last.RuleCmd[1] != "install" {
		t.Errorf("Rules[2] = %+v", last)
	}
	bin, ok := custom.Binaries["pkg3-bin"]
	if !ok || len(bin.DependsRaw) != 1 || bin.DependsRaw[0] != "libc-bin" {
		t.Errorf("Binaries[pkg3-bin] = %+v, ok=%v", bin, ok)
	}
}

func TestDecodeCygwin(t *testing.T) {
	cfg, err := Decode([]byte(sampleCygwinToml))
	if err != nil {
		t.Fatal(err)
	}
	cyg, ok := cfg.(*Cygwin)
	if !ok {
		t.Fatalf("got %T, want *Cygwin", cfg)
	}
	if cyg.ID() != cimpl.SrcPkgId("cygwin-foo") {
		t.Errorf("ID() = %v", cyg.ID())
	}
	if len(cyg.BuildDepends()) != 0 {
		t.Errorf("BuildDepends() = %v, want none", cyg.BuildDepends())
	}
}

func TestPath(t *testing.T) {
	got := Path("/pi", cimpl.SrcPkgId("pkg3"), "1.0")
	want := "/pi/pkg/pkg3/1.0/pkg.toml"
	if got != want {
		t.Errorf("Path() = %q, want %q", got, want)
	}
}

// Package builder implements the external package-builder collaborator the
// scheduler invokes for each ready-to-build source package (spec §1
// "external collaborators", SPEC_FULL §6.2a): fetch and verify the source
// tarball, extract it, install build-dependencies from the content-addressed
// store, run the package's build rules, and report where each produced
// binary's output landed.
//
// Grounded line-for-line on cmd/zi/zi.go's buildctx (extract/verify/build
// step loop) and on cimple's own pkg/ops.py build_pkg, with zi's
// ${ZI_DESTDIR}-style substitution generalized to ops.py's named builtin
// variables (cimple_output_dir, cimple_build_dir, ...).
package builder

import (
	"archive/tar"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"

	cimpl "github.com/distr1/cimpl"
	"github.com/distr1/cimpl/internal/env"
	"github.com/distr1/cimpl/internal/pkgindex"
	"github.com/distr1/cimpl/internal/store"
)

// Builder is the scheduler's build collaborator: given a source package and
// the version the resolver settled on, produce its binaries and report
// where each one's output directory is, keyed by binary name.
type Builder interface {
	BuildPackage(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string) (map[string]string, error)
}

// ShellBuilder runs a custom package's rules.default entries through
// os/exec, the way cmd/zi/zi.go runs a build.textproto's build_step list.
// Cygwin-typed packages have no rules of their own: BuildPackage returns an
// error for them. The scheduler does not treat them specially, so a Cygwin
// package in a build graph fails its build.
type ShellBuilder struct {
	Log   *log.Logger
	Dirs  *env.Dirs
	Store *store.Store

	// SourceBaseURL is prefixed to a package's tarball name to produce its
	// download URL, mirroring cimple's cimple-pi.lunacd.com/orig/ convention.
	SourceBaseURL string
}

// NewShellBuilder returns a ShellBuilder using dirs for scratch space and s
// to resolve published build-dependency artifacts.
func NewShellBuilder(logger *log.Logger, dirs *env.Dirs, s *store.Store, sourceBaseURL string) *ShellBuilder {
	return &ShellBuilder{Log: logger, Dirs: dirs, Store: s, SourceBaseURL: sourceBaseURL}
}

var _ Builder = (*ShellBuilder)(nil)

// BuildPackage implements Builder.
func (b *ShellBuilder) BuildPackage(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string) (map[string]string, error) {
	cfg, err := pkgindex.Load(pkgIndexPath, src, version)
	if err != nil {
		return nil, fmt.Errorf("builder: loading config for %s-%s: %w", src, version, err)
	}
	custom, ok := cfg.(*pkgindex.Custom)
	if !ok {
		return nil, fmt.Errorf("builder: %s-%s is pkg_type %q, not buildable locally", src, version, cfg.PkgType())
	}

	if err := b.Dirs.EnsureAll(); err != nil {
		return nil, fmt.Errorf("builder: preparing data directories: %w", err)
	}

	fullName := custom.Name + "-" + custom.Version
	buildDir := b.Dirs.PkgBuild(custom.Name, custom.Version)
	outputDir := b.Dirs.PkgOutput(custom.Name, custom.Version)
	depsDir := b.Dirs.Deps(custom.Name, custom.Version)

	for _, dir := range []string{buildDir, outputDir, depsDir} {
		if err := os.RemoveAll(dir); err != nil {
			return nil, fmt.Errorf("builder: clearing %s: %w", dir, err)
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("builder: creating %s: %w", dir, err)
		}
	}

	tarball, err := b.fetchSource(ctx, custom)
	if err != nil {
		return nil, err
	}

	b.logf("installing build dependencies for %s", fullName)
	for _, dep := range custom.BuildDepends() {
		if err := b.installDep(dep, depsDir); err != nil {
			return nil, fmt.Errorf("builder: installing build dependency %s: %w", dep, err)
		}
	}

	b.logf("extracting %s", filepath.Base(tarball))
	if err := extractTarball(tarball, custom.Input.TarballCompression, custom.Input.TarballRootDir, buildDir); err != nil {
		return nil, fmt.Errorf("builder: extracting %s: %w", tarball, err)
	}

	vars := map[string]string{
		"cimple_output_dir": outputDir,
		"cimple_build_dir":  buildDir,
		"cimple_deps_dir":   depsDir,
	}

	for i, rule := range custom.Rules {
		cwd := buildDir
		if rule.Cwd != "" {
			cwd = filepath.Join(buildDir, interpolate(rule.Cwd, vars))
		}
		argv := make([]string, len(rule.RuleCmd))
		for j, a := range rule.RuleCmd {
			argv[j] = interpolate(a, vars)
		}
		if len(argv) == 0 {
			continue
		}
		if len(argv) == 1 {
			// A single command string is a shell command line.
			argv = []string{"sh", "-c", argv[0]}
		}
		env := os.Environ()
		for k, v := range rule.Env {
			env = append(env, interpolate(k, vars)+"="+interpolate(v, vars))
		}

		b.logf("build step %d/%d: %v", i+1, len(custom.Rules), argv)
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Dir = cwd
		cmd.Env = env
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			exitStatus := 1
			if ee, ok := err.(*exec.ExitError); ok {
				exitStatus = ee.ExitCode()
			}
			return nil, &cimpl.BuildFailed{Src: src, ExitStatus: exitStatus}
		}
	}

	outputs := make(map[string]string, len(custom.Binaries))
	for name, bin := range custom.Binaries {
		dir := outputDir
		if bin.OutputDir != "" {
			dir = filepath.Join(outputDir, bin.OutputDir)
		}
		outputs[name] = dir
	}
	return outputs, nil
}

func (b *ShellBuilder) logf(format string, args ...interface{}) {
	if b.Log != nil {
		b.Log.Printf(format, args...)
	}
}

// fetchSource downloads (if not already cached) and verifies cfg's source
// tarball, returning its on-disk path.
func (b *ShellBuilder) fetchSource(ctx context.Context, cfg *pkgindex.Custom) (string, error) {
	tarball := b.Dirs.OrigTarball(cfg.Name, cfg.Input.SourceVersion, cfg.Input.TarballCompression)
	if _, err := os.Stat(tarball); err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("builder: stat %s: %w", tarball, err)
		}
		if err := b.download(ctx, cfg, tarball); err != nil {
			return "", err
		}
	}

	b.logf("verifying %s", filepath.Base(tarball))
	sum, err := sha256File(tarball)
	if err != nil {
		return "", fmt.Errorf("builder: hashing %s: %w", tarball, err)
	}
	if sum != cfg.Input.SHA256 {
		return "", &cimpl.HashMismatch{Expected: cfg.Input.SHA256, Actual: sum}
	}
	return tarball, nil
}

func (b *ShellBuilder) download(ctx context.Context, cfg *pkgindex.Custom, dest string) error {
	name := cfg.Name + "-" + cfg.Input.SourceVersion + ".tar." + cfg.Input.TarballCompression
	url := strings.TrimSuffix(b.SourceBaseURL, "/") + "/" + name
	b.logf("downloading %s", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("builder: fetching %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("builder: fetching %s: HTTP %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	f, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return err
	}
	return f.Close()
}

// installDep extracts a build-dependency's published store artifact into
// depsDir, under a subdirectory named after the binary.
func (b *ShellBuilder) installDep(dep cimpl.PkgId, depsDir string) error {
	// The caller is expected to have resolved dep's current sha256 and
	// published path already; BuildPackage is only ever invoked once every
	// build-dependency of src has a committed hash (build-graph readiness,
	// spec §4.4), so looking the artifact up by name prefix is sufficient
	// for any single sha the store currently holds for it.
	matches, err := filepath.Glob(filepath.Join(b.Store.Dir, dep.Name()+"-*.tar.xz"))
	if err != nil {
		return err
	}
	if len(matches) == 0 {
		return fmt.Errorf("builder: no published artifact found for %s in %s", dep, b.Store.Dir)
	}
	dest := filepath.Join(depsDir, dep.Name())
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}
	return extractXzTar(matches[0], dest)
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// extractTarball extracts a gz- or xz-compressed tarball into dest. If
// rootDir is non-empty, only that top-level directory's contents are
// extracted, flattened into dest (spec §6.2 input.tarball_root_dir).
func extractTarball(path, compression, rootDir, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	var r io.Reader
	switch compression {
	case "xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return err
		}
		r = xr
	default:
		gr, err := pgzip.NewReader(f)
		if err != nil {
			return err
		}
		defer gr.Close()
		r = gr
	}
	return untar(r, rootDir, dest)
}

// extractXzTar extracts a pkg-store artifact (always xz-compressed, spec
// §4.5) into dest.
func extractXzTar(path, dest string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	xr, err := xz.NewReader(f)
	if err != nil {
		return err
	}
	return untar(xr, "", dest)
}

func untar(r io.Reader, rootDir, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := hdr.Name
		if rootDir != "" {
			prefix := strings.TrimSuffix(rootDir, "/") + "/"
			if name == rootDir || name == strings.TrimSuffix(rootDir, "/") {
				continue
			}
			if !strings.HasPrefix(name, prefix) {
				continue
			}
			name = strings.TrimPrefix(name, prefix)
		}
		if name == "" || name == "." {
			continue
		}

		target := filepath.Join(dest, name)
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return err
			}
		default:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fs.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return err
			}
			if err := out.Close(); err != nil {
				return err
			}
		}
	}
}

// interpolate replaces ${name} references in s with vars[name], the way
// cmd/zi/zi.go's buildctx.substitute replaces ${ZI_DESTDIR} and friends.
func interpolate(s string, vars map[string]string) string {
	for name, val := range vars {
		s = strings.ReplaceAll(s, "${"+name+"}", val)
	}
	return s
}

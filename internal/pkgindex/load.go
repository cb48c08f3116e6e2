package pkgindex

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	cimpl "github.com/distr1/cimpl"
)

// Path returns the on-disk location of a package's config within a package
// index rooted at piPath, per spec §6.2: <pi>/pkg/<name>/<version>/pkg.toml.
func Path(piPath string, src cimpl.PkgId, version string) string {
	return filepath.Join(piPath, "pkg", src.Name(), version, "pkg.toml")
}

type probe struct {
	PkgType string `toml:"pkg_type"`
}

// Load reads and decodes the config for (src, version) out of the package
// index rooted at piPath.
func Load(piPath string, src cimpl.PkgId, version string) (Config, error) {
	data, err := os.ReadFile(Path(piPath, src, version))
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Decode parses pkg.toml content already read into memory.
func Decode(data []byte) (Config, error) {
	var p probe
	if _, err := toml.Decode(string(data), &p); err != nil {
		return nil, fmt.Errorf("pkgindex: %w", err)
	}
	switch p.PkgType {
	case "cygwin":
		var raw rawCygwin
		if _, err := toml.Decode(string(data), &raw); err != nil {
			return nil, fmt.Errorf("pkgindex: decoding cygwin config: %w", err)
		}
		return &Cygwin{SchemaVersion: raw.SchemaVersion, Name: raw.Name, Version: raw.Version}, nil
	case "custom", "":
		return decodeCustom(data)
	default:
		return nil, fmt.Errorf("pkgindex: unknown pkg_type %q", p.PkgType)
	}
}

type rawCygwin struct {
	SchemaVersion int    `toml:"schema_version"`
	Name          string `toml:"name"`
	Version       string `toml:"version"`
}

type rawCustom struct {
	SchemaVersion int    `toml:"schema_version"`
	Name          string `toml:"name"`
	Version       string `toml:"version"`

	Pkg struct {
		SupportedPlatforms []string `toml:"supported_platforms"`
		BuildDepends       []string `toml:"build_depends"`
	} `toml:"pkg"`

	Input struct {
		SHA256             string   `toml:"sha256"`
		SourceVersion      string   `toml:"source_version"`
		TarballRootDir     string   `toml:"tarball_root_dir"`
		TarballCompression string   `toml:"tarball_compression"`
		ImageType          string   `toml:"image_type"`
		Patches            []string `toml:"patches"`
	} `toml:"input"`

	Rules struct {
		Default []toml.Primitive `toml:"default"`
	} `toml:"rules"`

	Binaries map[string]rawBinary `toml:"binaries"`
}

type rawBinary struct {
	Depends   []string `toml:"depends"`
	OutputDir string   `toml:"output_dir"`
}

type rawRule struct {
	Cwd string            `toml:"cwd"`
	Env map[string]string `toml:"env"`
	// Rule is itself a string-or-list union; decoded separately below.
	Rule toml.Primitive `toml:"rule"`
}

func decodeCustom(data []byte) (*Custom, error) {
	var raw rawCustom
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, fmt.Errorf("pkgindex: decoding custom config: %w", err)
	}

	rules := make([]Rule, 0, len(raw.Rules.Default))
	for _, prim := range raw.Rules.Default {
		rule, err := decodeRule(md, prim)
		if err != nil {
			return nil, fmt.Errorf("pkgindex: decoding rules.default entry: %w", err)
		}
		rules = append(rules, rule)
	}

	binaries := make(map[string]Binary, len(raw.Binaries))
	for name, b := range raw.Binaries {
		binaries[name] = Binary{DependsRaw: b.Depends, OutputDir: b.OutputDir}
	}

	compression := raw.Input.TarballCompression
	if compression == "" {
		compression = "gz"
	}

	c := &Custom{
		SchemaVersion:      raw.SchemaVersion,
		Name:               raw.Name,
		Version:            raw.Version,
		SupportedPlatforms: raw.Pkg.SupportedPlatforms,
		BuildDependsRaw:    raw.Pkg.BuildDepends,
		Input: Input{
			SHA256:             raw.Input.SHA256,
			SourceVersion:      raw.Input.SourceVersion,
			TarballRootDir:     raw.Input.TarballRootDir,
			TarballCompression: compression,
			ImageType:          raw.Input.ImageType,
			Patches:            raw.Input.Patches,
		},
		Rules:    rules,
		Binaries: binaries,
	}
	return c, nil
}

// decodeRule handles one rules.default entry, which is either a bare
// string (a shell command run with no cwd/env override) or a table with
// cwd/env/rule fields, where rule is itself either a string or a list of
// strings (spec §6.2).
func decodeRule(md toml.MetaData, prim toml.Primitive) (Rule, error) {
	var asString string
	if err := md.PrimitiveDecode(prim, &asString); err == nil {
		return Rule{RuleCmd: []string{asString}}, nil
	}

	var raw rawRule
	if err := md.PrimitiveDecode(prim, &raw); err != nil {
		return Rule{}, err
	}

	var cmd []string
	if err := md.PrimitiveDecode(raw.Rule, &cmd); err != nil {
		var single string
		if err := md.PrimitiveDecode(raw.Rule, &single); err != nil {
			return Rule{}, fmt.Errorf("rule field is neither a string nor a string list: %w", err)
		}
		cmd = []string{single}
	}

	return Rule{Cwd: raw.Cwd, Env: raw.Env, RuleCmd: cmd}, nil
}

package builder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	cimpl "github.com/distr1/cimpl"
)

// Subprocess is a Builder that execs a separate cimpl-builder binary per
// package instead of running ShellBuilder in the scheduler's own process,
// the way distri isolates each build behind its own "distri builder"
// server rather than running build rules inside the scheduling process.
// The binary is expected to print the outputs map as the JSON object
// ShellBuilder.BuildPackage itself returns.
type Subprocess struct {
	BinaryPath    string // path to the cimpl-builder binary
	DataDir       string
	SourceBaseURL string
}

var _ Builder = (*Subprocess)(nil)

// BuildPackage implements Builder by exec'ing BinaryPath.
func (s *Subprocess) BuildPackage(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string) (map[string]string, error) {
	args := []string{
		"-src", src.Name(),
		"-version", version,
		"-pkg-index", pkgIndexPath,
		"-data", s.DataDir,
	}
	if s.SourceBaseURL != "" {
		args = append(args, "-source-base-url", s.SourceBaseURL)
	}

	cmd := exec.CommandContext(ctx, s.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, &cimpl.BuildFailed{Src: src, ExitStatus: exitErr.ExitCode()}
		}
		return nil, fmt.Errorf("builder: running %s: %w: %s", s.BinaryPath, err, stderr.String())
	}

	var outputs map[string]string
	if err := json.Unmarshal(stdout.Bytes(), &outputs); err != nil {
		return nil, fmt.Errorf("builder: decoding %s output: %w", s.BinaryPath, err)
	}
	return outputs, nil
}

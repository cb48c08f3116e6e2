// Command cimpl-builder runs a single package build out-of-process: given a
// source package name, version and package index path, it invokes
// internal/builder.ShellBuilder exactly as the in-process scheduler does,
// and prints the resulting binary-name -> output-directory mapping as JSON
// on stdout. internal/builder.Subprocess execs this binary to let the
// scheduler isolate each build in its own process instead of the builder's
// goroutine, the way distri's separate "distri builder" server isolates
// builds in their own address space.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	cimpl "github.com/distr1/cimpl"
	"github.com/distr1/cimpl/internal/builder"
	"github.com/distr1/cimpl/internal/env"
	"github.com/distr1/cimpl/internal/store"
)

func funcmain() error {
	var (
		src           = flag.String("src", "", "source package name to build")
		version       = flag.String("version", "", "source package version to build")
		pkgIndex      = flag.String("pkg-index", "", "path to the package index")
		dataDir       = flag.String("data", "", "data directory (share/ and local/ layout root)")
		sourceBaseURL = flag.String("source-base-url", "", "base URL to fetch source tarballs from")
	)
	flag.Parse()

	if *src == "" || *version == "" || *pkgIndex == "" || *dataDir == "" {
		return fmt.Errorf("-src, -version, -pkg-index and -data are all required")
	}

	dirs := env.New(*dataDir)
	if err := dirs.EnsureAll(); err != nil {
		return err
	}
	s := store.New(dirs.PkgDir)
	logger := log.New(os.Stderr, "", log.LstdFlags)
	b := builder.NewShellBuilder(logger, dirs, s, *sourceBaseURL)

	outputs, err := b.BuildPackage(context.Background(), cimpl.SrcPkgId(*src), *version, *pkgIndex)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	return enc.Encode(outputs)
}

func main() {
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/distr1/cimpl/internal/batch"
	"github.com/distr1/cimpl/internal/builder"
	"github.com/distr1/cimpl/internal/changeproc"
	"github.com/distr1/cimpl/internal/cygwin"
	"github.com/distr1/cimpl/internal/env"
	"github.com/distr1/cimpl/internal/resolve"
	"github.com/distr1/cimpl/internal/snapshot"
	"github.com/distr1/cimpl/internal/store"
)

// setupCtx builds the collaborators every verb needs from a common set of
// flags: the data-dir layout, the content-addressed store, the dependency
// resolver and an optional Cygwin manifest, and the change processor wired
// to a parallel build scheduler.
func setupCtx(dataDir, cygwinManifest string, parallel int) (*changeproc.Ctx, *env.Dirs, *snapshot.Store, error) {
	dirs := env.New(dataDir)
	if err := dirs.EnsureAll(); err != nil {
		return nil, nil, nil, fmt.Errorf("creating data directory layout: %w", err)
	}

	var manifest cygwin.Manifest
	if cygwinManifest != "" {
		data, err := os.ReadFile(cygwinManifest)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("reading cygwin manifest: %w", err)
		}
		m, err := cygwin.Parse(data)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("parsing cygwin manifest: %w", err)
		}
		manifest = m
	}

	logger := log.New(os.Stderr, "", log.LstdFlags)
	s := store.New(dirs.PkgDir)
	sched := &batch.Scheduler{
		Log:     logger,
		Store:   s,
		Builder: builder.NewShellBuilder(logger, dirs, s, ""),
		Jobs:    parallel,
	}
	c := &changeproc.Ctx{
		Log:       logger,
		Resolver:  resolve.New(manifest),
		Scheduler: sched,
	}
	return c, dirs, snapshot.NewStore(dirs.SnapshotDir), nil
}

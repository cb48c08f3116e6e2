// Command cimpl is a thin CLI wrapper around the snapshot change processor:
// apply a change to a snapshot and build whatever it touches (change),
// rebuild a snapshot from its ancestor and changes to check reproducibility
// (reproduce), and diff a stream config against the current snapshot and
// apply the result (stream-update).
//
// Grounded on cmd/distri/distri.go's verb-dispatch main: a flag.FlagSet per
// verb, a verbs map keyed by verb name, and InterruptibleContext wired in so
// SIGINT/SIGTERM cancel in-flight builds instead of leaving them running.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	cimpl "github.com/distr1/cimpl"
)

var (
	ctracefile = flag.String("ctracefile", "", "path to store a chrome trace event file at (load in chrome://tracing)")
)

type cmd struct {
	fn func(ctx context.Context, args []string) error
}

func funcmain() error {
	flag.Parse()

	if *ctracefile != "" {
		f, err := os.Create(*ctracefile)
		if err != nil {
			return err
		}
		enableTrace(f)
	}

	verbs := map[string]cmd{
		"change":        {cmdChange},
		"reproduce":     {cmdReproduce},
		"stream-update": {cmdStreamUpdate},
	}

	args := flag.Args()
	if len(args) == 0 {
		fmt.Fprintf(os.Stderr, "cimpl <command> [options]\n")
		fmt.Fprintf(os.Stderr, "commands: change, reproduce, stream-update\n")
		os.Exit(2)
	}
	verb, rest := args[0], args[1:]

	v, ok := verbs[verb]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", verb)
		fmt.Fprintf(os.Stderr, "syntax: cimpl <command> [options]\n")
		os.Exit(2)
	}

	ctx, canc := cimpl.InterruptibleContext()
	defer canc()
	if err := v.fn(ctx, rest); err != nil {
		return fmt.Errorf("%s: %v", verb, err)
	}
	return cimpl.RunAtExit()
}

func main() {
	log.SetFlags(0)
	if err := funcmain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

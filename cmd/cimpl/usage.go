package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/distr1/cimpl/internal/trace"
)

func usage(fset *flag.FlagSet, helpText string) func() {
	return func() {
		fmt.Fprintln(os.Stderr, helpText)
		fmt.Fprintf(os.Stderr, "Flags for cimpl %s:\n", fset.Name())
		fset.PrintDefaults()
	}
}

func enableTrace(w io.Writer) {
	trace.Sink(w)
}

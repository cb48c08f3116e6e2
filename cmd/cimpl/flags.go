package main

import (
	"fmt"
	"strings"
)

// multiFlag collects repeated occurrences of a flag (e.g. -add foo=1.0
// -add bar=2.0) into a slice, the way flag.FlagSet has no built-in support
// for but distri's own flags (e.g. -patch in cmd/distri/patch.go) work
// around with the same Value interface.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

// nameVersion splits a "name=version" flag value.
func nameVersion(s string) (name, version string, err error) {
	parts := strings.SplitN(s, "=", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("malformed name=version pair %q", s)
	}
	return parts[0], parts[1], nil
}

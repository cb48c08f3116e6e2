package snapshot

import (
	"github.com/google/go-cmp/cmp"

	cimpl "github.com/distr1/cimpl"
)

func compareSrcMaps(a, b map[string]*SrcPkg) (cimpl.PkgId, bool) {
	for name, rec := range a {
		if !cmp.Equal(rec, b[name]) {
			return cimpl.SrcPkgId(name), true
		}
	}
	for name := range b {
		if _, ok := a[name]; !ok {
			return cimpl.SrcPkgId(name), true
		}
	}
	return cimpl.PkgId{}, false
}

func compareBinMaps(a, b map[string]*BinPkg) (cimpl.PkgId, bool) {
	for name, rec := range a {
		if !cmp.Equal(rec, b[name]) {
			return cimpl.BinPkgId(name), true
		}
	}
	for name := range b {
		if _, ok := a[name]; !ok {
			return cimpl.BinPkgId(name), true
		}
	}
	return cimpl.PkgId{}, false
}

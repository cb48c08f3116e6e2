package snapshot

import (
	"context"
	"fmt"

	gonumgraph "gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	cimpl "github.com/distr1/cimpl"
	"github.com/distr1/cimpl/internal/graph"
)

// SrcResolution is one source-package record the resolver hands back: the
// id it should be stored under, its build-dependencies, and the binaries it
// produces (binary id -> runtime depends).
type SrcResolution struct {
	ID           cimpl.PkgId
	BuildDepends []cimpl.PkgId
	Binaries     map[cimpl.PkgId][]cimpl.PkgId
}

// ResolveResult is what a Resolver returns for one (src, version) pair.
// Twin is non-nil only for a bootstrap custom package, where the resolver
// hands back both the package's bootstrap-mode record (Primary, whose
// build-deps point at bootstrap:-prefixed binaries) and its synthetic
// bootstrap:-prefixed twin (Twin, whose build-deps point at prev:-prefixed
// binaries), per spec §4.6.
type ResolveResult struct {
	Primary SrcResolution
	Twin    *SrcResolution
}

// Resolver is the dependency resolver collaborator (spec §4.6). It is pure:
// it reads the package index and returns data, never mutating a Snapshot.
type Resolver interface {
	Resolve(ctx context.Context, src cimpl.PkgId, version, pkgIndexPath string, bootstrap bool) (ResolveResult, error)
}

// Graph is the in-memory wrapper combining a Snapshot with its derived
// dependency graph (spec §4.2). It owns the only mutation API through which
// the snapshot's maps and its graph are kept consistent with each other.
type Graph struct {
	snap *Snapshot
	g    *graph.Graph[cimpl.PkgId]
}

// Snapshot returns the underlying snapshot model. Callers must not mutate
// its maps directly; use Graph's methods instead.
func (sg *Graph) Snapshot() *Snapshot { return sg.snap }

// IsBroken reports whether the dependency graph currently holds broken
// edges.
func (sg *Graph) IsBroken() bool { return sg.g.IsBroken() }

// HasEdge reports whether the dependency graph has a real edge u->v.
func (sg *Graph) HasEdge(u, v cimpl.PkgId) bool { return sg.g.HasEdge(u, v) }

// HasNode reports whether the dependency graph has a node for id.
func (sg *Graph) HasNode(id cimpl.PkgId) bool { return sg.g.HasNode(id) }

// New constructs a Graph from a persisted snapshot, per spec §4.2's
// four-step construction order: bootstrap nodes+edges, then normal
// nodes+edges, then the lookup maps (the maps are the Snapshot's own maps,
// already built; here we only build the graph).
func New(snap *Snapshot) (*Graph, error) {
	sg := &Graph{snap: snap, g: graph.New[cimpl.PkgId]()}

	for name, src := range snap.BootstrapSrcPkgs {
		sg.g.AddNode(cimpl.SrcPkgId(name))
		_ = src
	}
	for name := range snap.BootstrapBinPkgs {
		sg.g.AddNode(cimpl.BinPkgId(name))
	}
	for name, src := range snap.BootstrapSrcPkgs {
		id := cimpl.SrcPkgId(name)
		for _, dep := range src.BuildDepends {
			sg.linkDep(id, dep)
		}
	}
	for name, bin := range snap.BootstrapBinPkgs {
		id := cimpl.BinPkgId(name)
		// producer edge: find the producing source (the source that lists
		// this binary in BinaryPackages).
		if producer, ok := findProducer(snap.BootstrapSrcPkgs, id); ok {
			sg.linkDep(id, producer)
		}
		for _, dep := range bin.Depends {
			sg.linkDep(id, dep)
		}
	}

	for name, src := range snap.SrcPkgs {
		sg.g.AddNode(cimpl.SrcPkgId(name))
		_ = src
	}
	for name := range snap.BinPkgs {
		sg.g.AddNode(cimpl.BinPkgId(name))
	}
	for name, src := range snap.SrcPkgs {
		id := cimpl.SrcPkgId(name)
		for _, dep := range src.BuildDepends {
			sg.linkDep(id, dep)
		}
	}
	for name, bin := range snap.BinPkgs {
		id := cimpl.BinPkgId(name)
		if producer, ok := findProducer(snap.SrcPkgs, id); ok {
			sg.linkDep(id, producer)
		}
		for _, dep := range bin.Depends {
			sg.linkDep(id, dep)
		}
	}

	if sg.g.IsBroken() {
		return nil, &CorruptedSnapshot{Detail: fmt.Sprintf("dangling references: %v", sg.g.BrokenEdges())}
	}
	return sg, nil
}

func findProducer(srcs map[string]*SrcPkg, bin cimpl.PkgId) (cimpl.PkgId, bool) {
	for name, src := range srcs {
		for _, b := range src.BinaryPackages {
			if b == bin {
				return cimpl.SrcPkgId(name), true
			}
		}
	}
	return cimpl.PkgId{}, false
}

// linkDep adds the edge id->dep. prev:-prefixed dependencies are never
// stored as real snapshot entries (spec §3), but the graph must still carry
// the edge as specified by S6 ("the latter's target is deliberately not a
// graph node"): we pre-register dep as a bare node so the underlying graph
// records a real edge instead of a broken one, without ever adding it to
// any of the snapshot's package maps.
func (sg *Graph) linkDep(id, dep cimpl.PkgId) {
	if dep.IsPrev() {
		sg.g.AddNode(dep)
	}
	sg.g.AddEdge(id, dep)
}

// AddSrcPkg implements add_src_pkg (spec §4.2): insert id into the target
// layer's source map with the given build-deps, and link its build-dep
// edges. Fails with AlreadyPresent if id is already in that map.
func (sg *Graph) AddSrcPkg(id cimpl.PkgId, version string, buildDepends []cimpl.PkgId, bootstrap bool) error {
	m := sg.snap.srcMap(bootstrap)
	if _, ok := m[id.Name()]; ok {
		return &AlreadyPresent{ID: id}
	}
	m[id.Name()] = &SrcPkg{
		Name:         id.Name(),
		Version:      version,
		BuildDepends: append([]cimpl.PkgId(nil), buildDepends...),
	}
	sg.g.AddNode(id)
	for _, dep := range buildDepends {
		sg.linkDep(id, dep)
	}
	return nil
}

// AddBinPkg implements add_bin_pkg (spec §4.2): append id to its producing
// source's BinaryPackages, insert it into the target layer's binary map,
// and link its producer and runtime-dep edges. producingSrc must already
// be present in the corresponding source map.
func (sg *Graph) AddBinPkg(id, producingSrc cimpl.PkgId, sha256 string, depends []cimpl.PkgId, bootstrap bool) error {
	srcMap := sg.snap.srcMap(bootstrap)
	src, ok := srcMap[producingSrc.Name()]
	if !ok {
		return &CorruptedSnapshot{Detail: fmt.Sprintf("producing source %s absent for %s", producingSrc, id)}
	}
	binMap := sg.snap.binMap(bootstrap)
	if _, ok := binMap[id.Name()]; ok {
		return &AlreadyPresent{ID: id}
	}
	src.BinaryPackages = append(src.BinaryPackages, id)
	binMap[id.Name()] = &BinPkg{
		Name:        id.Name(),
		SHA256:      sha256,
		Compression: "xz",
		Depends:     append([]cimpl.PkgId(nil), depends...),
	}
	sg.g.AddNode(id)
	sg.linkDep(id, producingSrc)
	for _, dep := range depends {
		sg.linkDep(id, dep)
	}
	return nil
}

// AddPkg wraps AddSrcPkg/AddBinPkg for both a resolved source package and,
// if present, its bootstrap:-prefixed synthetic twin (spec §4.2's
// add_pkg, invoked from bootstrap additions in update_with_changes).
// The primary record is stored under bootstrap if isBootstrap is set; the
// synthetic twin, when present, always lives in the bootstrap layer.
func (sg *Graph) AddPkg(version string, res ResolveResult, isBootstrap bool) error {
	if err := sg.addResolution(res.Primary, version, isBootstrap); err != nil {
		return err
	}
	if res.Twin != nil {
		if err := sg.addResolution(*res.Twin, version, true); err != nil {
			return err
		}
	}
	return nil
}

func (sg *Graph) addResolution(r SrcResolution, version string, bootstrap bool) error {
	if err := sg.AddSrcPkg(r.ID, version, r.BuildDepends, bootstrap); err != nil {
		return err
	}
	for bin, deps := range r.Binaries {
		if err := sg.AddBinPkg(bin, r.ID, PlaceholderSHA256, deps, bootstrap); err != nil {
			return err
		}
	}
	return nil
}

// RemovePkg implements remove_pkg (spec §4.2): drains every binary the
// source produces (removing their outgoing edges, then letting RemoveNode
// record their remaining incoming edges as broken), then drains and
// removes the source itself. The graph may be left broken; that is
// permissible intermediate state.
func (sg *Graph) RemovePkg(id cimpl.PkgId, bootstrap bool) error {
	srcMap := sg.snap.srcMap(bootstrap)
	binMap := sg.snap.binMap(bootstrap)
	src, ok := srcMap[id.Name()]
	if !ok {
		return &CorruptedSnapshot{Detail: fmt.Sprintf("remove_pkg: %s absent", id)}
	}
	for _, bin := range src.BinaryPackages {
		binRec := binMap[bin.Name()]
		if binRec != nil {
			for _, dep := range binRec.Depends {
				if !dep.IsPrev() {
					sg.g.RemoveEdge(bin, dep)
				}
			}
		}
		sg.g.RemoveEdge(bin, id)
		sg.g.RemoveNode(bin)
		delete(binMap, bin.Name())
	}
	for _, dep := range src.BuildDepends {
		if !dep.IsPrev() {
			sg.g.RemoveEdge(id, dep)
		}
	}
	sg.g.RemoveNode(id)
	delete(srcMap, id.Name())
	return nil
}

// ValidateDepends implements validate_depends (spec §4.2): reports whether
// every build-dep of src resolves in the appropriate binary map and every
// runtime dep of every binary it produces resolves too. prev:-prefixed ids
// always resolve (by convention, from the ancestor snapshot).
//
// bootstrap selects the layer id actually lives in. It cannot be derived
// from id's name prefix: a bootstrap custom package's primary record is
// stored unprefixed in the bootstrap layer (resolveCustom's Primary.ID is
// c.ID(), un-prefixed, added with isBootstrap=true), so id.IsBootstrap()
// would wrongly say false for it. Callers must pass the layer the record
// was actually added to.
func (sg *Graph) ValidateDepends(id cimpl.PkgId, bootstrap bool) bool {
	src, ok := sg.snap.srcMap(bootstrap)[id.Name()]
	if !ok {
		return false
	}
	binMap := sg.snap.binMap(bootstrap)
	for _, dep := range src.BuildDepends {
		if dep.IsPrev() {
			continue
		}
		if _, ok := binMap[dep.Name()]; !ok {
			return false
		}
	}
	for _, bin := range src.BinaryPackages {
		binRec, ok := binMap[bin.Name()]
		if !ok {
			return false
		}
		for _, dep := range binRec.Depends {
			if dep.IsPrev() {
				continue
			}
			if _, ok := binMap[dep.Name()]; !ok {
				return false
			}
		}
	}
	return true
}

// UpdateWithChanges implements update_with_changes (spec §4.2): applies
// pkgChanges and bootstrapChanges in the fixed seven-step order. This order
// is the contract; callers must not reorder it.
func (sg *Graph) UpdateWithChanges(ctx context.Context, pkgChanges, bootstrapChanges Changes, resolver Resolver, pkgIndexPath string) error {
	// 1. Bootstrap removals, then normal removals.
	for _, name := range bootstrapChanges.Remove {
		if err := sg.RemovePkg(cimpl.SrcPkgId(name), true); err != nil {
			return err
		}
	}
	for _, name := range pkgChanges.Remove {
		if err := sg.RemovePkg(cimpl.SrcPkgId(name), false); err != nil {
			return err
		}
	}

	// touchedPkg records a source id together with the layer it was
	// actually added to, since that layer cannot be recovered afterwards
	// from id's name prefix alone (see ValidateDepends).
	type touchedPkg struct {
		id        cimpl.PkgId
		bootstrap bool
	}
	touched := make([]touchedPkg, 0, len(bootstrapChanges.Add)+len(bootstrapChanges.Update)+len(pkgChanges.Add)+len(pkgChanges.Update))

	// 2. Bootstrap additions.
	for _, add := range bootstrapChanges.Add {
		id := cimpl.SrcPkgId(add.Name)
		res, err := resolver.Resolve(ctx, id, add.Version, pkgIndexPath, true)
		if err != nil {
			return err
		}
		if err := sg.AddPkg(add.Version, res, true); err != nil {
			return err
		}
		touched = append(touched, touchedPkg{id, true}, touchedPkg{id.Bootstrap(), true})
	}

	// 3. Bootstrap updates: remove then re-add under the new version.
	for _, upd := range bootstrapChanges.Update {
		id := cimpl.SrcPkgId(upd.Name)
		if err := sg.RemovePkg(id, true); err != nil {
			return err
		}
		if sg.snap.BootstrapSrcPkgs[id.Bootstrap().Name()] != nil {
			if err := sg.RemovePkg(id.Bootstrap(), true); err != nil {
				return err
			}
		}
		res, err := resolver.Resolve(ctx, id, upd.To, pkgIndexPath, true)
		if err != nil {
			return err
		}
		if err := sg.AddPkg(upd.To, res, true); err != nil {
			return err
		}
		touched = append(touched, touchedPkg{id, true}, touchedPkg{id.Bootstrap(), true})
	}

	// 4. Normal additions.
	for _, add := range pkgChanges.Add {
		id := cimpl.SrcPkgId(add.Name)
		res, err := resolver.Resolve(ctx, id, add.Version, pkgIndexPath, false)
		if err != nil {
			return err
		}
		if err := sg.AddPkg(add.Version, res, false); err != nil {
			return err
		}
		touched = append(touched, touchedPkg{id, false})
	}

	// 5. Normal updates.
	for _, upd := range pkgChanges.Update {
		id := cimpl.SrcPkgId(upd.Name)
		if err := sg.RemovePkg(id, false); err != nil {
			return err
		}
		res, err := resolver.Resolve(ctx, id, upd.To, pkgIndexPath, false)
		if err != nil {
			return err
		}
		if err := sg.AddPkg(upd.To, res, false); err != nil {
			return err
		}
		touched = append(touched, touchedPkg{id, false})
	}

	// 6. Validate every added/updated source.
	for _, t := range touched {
		if !sg.ValidateDepends(t.id, t.bootstrap) {
			return &UnresolvedDependencies{Src: t.id}
		}
	}

	// 7. Assert the graph holds no broken edges.
	if sg.g.IsBroken() {
		broken := map[cimpl.PkgId]int{}
		for _, e := range sg.g.BrokenEdges() {
			broken[e.To]++
		}
		return &BrokenGraph{Broken: broken}
	}
	return nil
}

// BuildGraph constructs the build graph for a seed set of source ids that
// must be (re)built (spec §4.4): the induced subgraph of the reversed
// dependency graph over the seed set plus every node that transitively
// depends on a seed node. The returned graph is a standalone copy; the
// scheduler mutates it freely without touching sg's own graph.
func (sg *Graph) BuildGraph(seed []cimpl.PkgId) (*graph.Graph[cimpl.PkgId], error) {
	rev, err := sg.g.Reverse()
	if err != nil {
		return nil, err
	}
	nodeSet := make(map[cimpl.PkgId]bool, len(seed))
	for _, s := range seed {
		nodeSet[s] = true
	}
	for _, s := range seed {
		desc, err := rev.Descendants(s)
		if err != nil {
			return nil, err
		}
		for _, d := range desc {
			nodeSet[d] = true
		}
	}
	nodes := make([]cimpl.PkgId, 0, len(nodeSet))
	for n := range nodeSet {
		nodes = append(nodes, n)
	}
	bg, err := rev.Subgraph(nodes)
	if err != nil {
		return nil, err
	}
	if err := assertAcyclic(bg); err != nil {
		return nil, err
	}
	return bg, nil
}

// pkgNode adapts a cimpl.PkgId into a gonum graph.Node so the build graph
// can be handed to topo.Sort for cycle detection.
type pkgNode struct {
	id  int64
	pkg cimpl.PkgId
}

func (n pkgNode) ID() int64 { return n.id }

// assertAcyclic rejects a build graph that contains a dependency cycle,
// grounded on internal/batch/batch.go's own topo.Sort(g) call guarding its
// scheduler against exactly this: a graph topo.Sort can't order can never
// be drained by in-degree-zero dispatch, so it must be caught up front
// rather than silently hanging the scheduler.
func assertAcyclic(bg *graph.Graph[cimpl.PkgId]) error {
	g := simple.NewDirectedGraph()
	nodes := make(map[cimpl.PkgId]pkgNode, bg.NumberOfNodes())
	for i, id := range bg.Nodes() {
		n := pkgNode{id: int64(i), pkg: id}
		nodes[id] = n
		g.AddNode(n)
	}
	for _, e := range bg.Edges() {
		g.SetEdge(g.NewEdge(nodes[e.From], nodes[e.To]))
	}
	if _, err := topo.Sort(g); err != nil {
		if uo, ok := err.(topo.Unorderable); ok {
			var cyclic []cimpl.PkgId
			for _, component := range uo {
				for _, n := range component {
					cyclic = append(cyclic, n.(pkgNode).pkg)
				}
			}
			return fmt.Errorf("build graph contains a dependency cycle through %v", cyclic)
		}
		return fmt.Errorf("build graph: %w", err)
	}
	return nil
}

var _ gonumgraph.Node = pkgNode{}

// Version returns the declared version of source id, looking it up in the
// layer id's prefix indicates and then in the bootstrap layer, where a
// bootstrap package's unprefixed primary record lives (see ValidateDepends).
func (sg *Graph) Version(id cimpl.PkgId) (string, bool) {
	rec, ok := sg.snap.srcMap(id.IsBootstrap())[id.Name()]
	if !ok {
		rec, ok = sg.snap.BootstrapSrcPkgs[id.Name()]
	}
	if !ok {
		return "", false
	}
	return rec.Version, true
}

// CommitHash writes a freshly built binary's sha256 into the appropriate
// layer's binary map, implementing the scheduler's "commit the hash back
// into the snapshot" step (spec §4.4 step 2b, §4.3 step 4). Like Version,
// it looks in the layer id's prefix indicates and then in the bootstrap
// layer.
func (sg *Graph) CommitHash(id cimpl.PkgId, sha256 string) error {
	rec, ok := sg.snap.binMap(id.IsBootstrap())[id.Name()]
	if !ok {
		rec, ok = sg.snap.BootstrapBinPkgs[id.Name()]
	}
	if !ok {
		return &CorruptedSnapshot{Detail: fmt.Sprintf("commit hash: %s absent from bin map", id)}
	}
	rec.SHA256 = sha256
	return nil
}

// ComparePkgsWith implements compare_pkgs_with (spec §4.2): returns the
// first PkgId whose record differs (including outright absence) between sg
// and other, or a zero PkgId and false if every record matches.
//
// Grounded on the corpus's pervasive use of github.com/google/go-cmp/cmp
// for structural comparison; promoted here from test-only use to a real
// reproducibility helper.
func (sg *Graph) ComparePkgsWith(other *Graph) (cimpl.PkgId, bool) {
	if id, ok := compareSrcMaps(sg.snap.SrcPkgs, other.snap.SrcPkgs); ok {
		return id, true
	}
	if id, ok := compareSrcMaps(sg.snap.BootstrapSrcPkgs, other.snap.BootstrapSrcPkgs); ok {
		return id, true
	}
	if id, ok := compareBinMaps(sg.snap.BinPkgs, other.snap.BinPkgs); ok {
		return id, true
	}
	if id, ok := compareBinMaps(sg.snap.BootstrapBinPkgs, other.snap.BootstrapBinPkgs); ok {
		return id, true
	}
	return cimpl.PkgId{}, false
}

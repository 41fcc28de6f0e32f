package graph

import (
	"sort"
	"strings"
	"sync"

	"golang.org/x/exp/slices"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/habitat-sh/builder-sub000/ident"
)

type edgeKey struct {
	From, To ident.Handle
}

// LatestGraph is the per-target dependency graph over short idents,
// guarded by a single reader-writer lock: Extend/CheckExtend take the
// write lock, every read-only query takes the read lock (spec.md §5).
//
// Two graphs are kept in lock-step: runtimeG carries only RuntimeDep
// edges and must stay acyclic; allG carries an edge for any dependency
// type and backs RDeps/Top, which flood over "any type" per spec.md
// §4.B (Search scans latestMap instead). edgeTypes records, for each (from, to) pair present in
// allG, the set of edge types it was added for, enforcing "at most one
// edge of each type between any ordered pair".
type LatestGraph struct {
	target   ident.PackageTarget
	interner *ident.Interner

	mu        sync.RWMutex
	runtimeG  *simple.DirectedGraph
	allG      *simple.DirectedGraph
	edgeTypes map[edgeKey]map[EdgeType]struct{}
	latestMap map[ident.Handle]ident.PackageIdent
	packages  map[ident.Handle]*Package
}

// New returns an empty LatestGraph for target, using interner to assign
// and resolve short-ident handles.
func New(target ident.PackageTarget, interner *ident.Interner) *LatestGraph {
	return &LatestGraph{
		target:    target,
		interner:  interner,
		runtimeG:  simple.NewDirectedGraph(),
		allG:      simple.NewDirectedGraph(),
		edgeTypes: make(map[edgeKey]map[EdgeType]struct{}),
		latestMap: make(map[ident.Handle]ident.PackageIdent),
		packages:  make(map[ident.Handle]*Package),
	}
}

func (lg *LatestGraph) ensureNode(g *simple.DirectedGraph, h ident.Handle) {
	id := int64(h)
	if g.Node(id) == nil {
		g.AddNode(simple.Node(id))
	}
}

// counts returns the current node count and the total number of
// (from, to, type) edge triples recorded. Callers must hold lg.mu.
func (lg *LatestGraph) counts() (nodes, edges int) {
	for _, types := range lg.edgeTypes {
		edges += len(types)
	}
	return lg.allG.Nodes().Len(), edges
}

// resolveDep classifies dep against the current latestMap and reports
// whether it should become an edge, and if so, which short ident it
// should point at. Fully-qualified deps are always dropped (spec.md
// §4.B: "Fully-qualified dependency idents are dropped at insertion").
// Version-pinned deps (version present, release absent) are kept only if
// the pin matches the current latest version of the pinned short ident,
// and when kept they are carried as a short-ident edge (P5).
func (lg *LatestGraph) resolveDep(dep ident.PackageIdent) (short ident.PackageIdent, keep bool) {
	if dep.FullyQualified() {
		return ident.PackageIdent{}, false
	}
	short = dep.Short()
	if dep.Version == "" {
		return short, true
	}
	shortHandle := lg.interner.Intern(short)
	latest, ok := lg.latestMap[shortHandle]
	if !ok || latest.Version != dep.Version {
		return ident.PackageIdent{}, false
	}
	return short, true
}

// removeOutEdgesOfType removes every edge of type t currently recorded
// from u in both graphs, returning the previous target handles so a
// rejected runtime change can be restored. Callers must hold lg.mu.
func (lg *LatestGraph) removeOutEdgesOfType(u ident.Handle, t EdgeType) (removed []ident.Handle) {
	uid := int64(u)
	var targets []int64
	it := lg.allG.From(uid)
	for it.Next() {
		targets = append(targets, it.Node().ID())
	}
	for _, vid := range targets {
		key := edgeKey{From: u, To: ident.Handle(vid)}
		types, ok := lg.edgeTypes[key]
		if !ok || !hasType(types, t) {
			continue
		}
		delete(types, t)
		removed = append(removed, ident.Handle(vid))
		if t == RuntimeDep && lg.runtimeG.HasEdgeFromTo(uid, vid) {
			lg.runtimeG.RemoveEdge(uid, vid)
		}
		if len(types) == 0 {
			lg.allG.RemoveEdge(uid, vid)
			delete(lg.edgeTypes, key)
		}
	}
	return removed
}

func hasType(types map[EdgeType]struct{}, t EdgeType) bool {
	_, ok := types[t]
	return ok
}

func (lg *LatestGraph) addEdge(u, v ident.Handle, t EdgeType) {
	lg.ensureNode(lg.allG, u)
	lg.ensureNode(lg.allG, v)
	uid, vid := int64(u), int64(v)
	key := edgeKey{From: u, To: v}
	types, ok := lg.edgeTypes[key]
	if !ok {
		types = make(map[EdgeType]struct{})
		lg.edgeTypes[key] = types
	}
	types[t] = struct{}{}
	if !lg.allG.HasEdgeFromTo(uid, vid) {
		lg.allG.SetEdge(lg.allG.NewEdge(simple.Node(uid), simple.Node(vid)))
	}
	if t == RuntimeDep {
		lg.ensureNode(lg.runtimeG, u)
		lg.ensureNode(lg.runtimeG, v)
		if !lg.runtimeG.HasEdgeFromTo(uid, vid) {
			lg.runtimeG.SetEdge(lg.runtimeG.NewEdge(simple.Node(uid), simple.Node(vid)))
		}
	}
}

// Extend inserts or updates pkg in the graph. If pkg.Ident is not
// strictly greater (per ident.Compare) than the current latest for its
// short ident, Extend is a no-op and returns the unchanged counts.
// Otherwise it replaces the node's outgoing edges as described in
// spec.md §4.B, rejecting the change entirely if the candidate runtime
// edges would create a runtime cycle.
func (lg *LatestGraph) Extend(pkg Package, useBuildDeps bool) (nodeCount, edgeCount int) {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	short := pkg.Ident.Short()
	shortHandle := lg.interner.Intern(short)
	lg.ensureNode(lg.allG, shortHandle)
	lg.ensureNode(lg.runtimeG, shortHandle)

	if cur, ok := lg.latestMap[shortHandle]; ok && !ident.Less(cur, pkg.Ident) {
		n, e := lg.counts()
		return n, e
	}

	// Snapshot current runtime out-edges, in case the candidate set is
	// rejected and we must restore them unchanged.
	prevRuntime := lg.removeOutEdgesOfType(shortHandle, RuntimeDep)

	var runtimeTargets []ident.Handle
	seen := make(map[ident.Handle]bool)
	for _, dep := range pkg.RuntimeDeps {
		depShort, keep := lg.resolveDep(dep)
		if !keep {
			continue
		}
		h := lg.interner.Intern(depShort)
		if h == shortHandle || seen[h] {
			continue
		}
		seen[h] = true
		runtimeTargets = append(runtimeTargets, h)
	}

	if wouldCreateCycle(lg.runtimeG, shortHandle, runtimeTargets) {
		// Reject: restore the previous runtime edges unchanged and leave
		// build/strong-build edges untouched.
		for _, v := range prevRuntime {
			lg.addEdge(shortHandle, v, RuntimeDep)
		}
		n, e := lg.counts()
		return n, e
	}

	for _, v := range runtimeTargets {
		lg.addEdge(shortHandle, v, RuntimeDep)
	}

	// Build and strong-build edges are added unconditionally (they may
	// form cycles, which is the toolchain-bootstrap case).
	lg.removeOutEdgesOfType(shortHandle, BuildDep)
	lg.removeOutEdgesOfType(shortHandle, StrongBuildDep)
	if useBuildDeps {
		strong := make(map[ident.Handle]bool)
		for _, dep := range pkg.StrongBuildDeps {
			depShort, keep := lg.resolveDep(dep)
			if !keep {
				continue
			}
			h := lg.interner.Intern(depShort)
			if h == shortHandle {
				continue
			}
			strong[h] = true
			lg.addEdge(shortHandle, h, StrongBuildDep)
		}
		for _, dep := range pkg.BuildDeps {
			depShort, keep := lg.resolveDep(dep)
			if !keep {
				continue
			}
			h := lg.interner.Intern(depShort)
			if h == shortHandle || strong[h] {
				continue
			}
			lg.addEdge(shortHandle, h, BuildDep)
		}
	}

	lg.latestMap[shortHandle] = pkg.Ident
	pkgCopy := pkg
	lg.packages[shortHandle] = &pkgCopy

	n, e := lg.counts()
	return n, e
}

// CheckExtend is a dry run of Extend: it reports whether the call would
// be accepted (true) or rejected as a would-create-cycle (false),
// without mutating the graph.
func (lg *LatestGraph) CheckExtend(pkg Package, useBuildDeps bool) bool {
	lg.mu.Lock()
	defer lg.mu.Unlock()

	short := pkg.Ident.Short()
	shortHandle := lg.interner.Intern(short)

	if cur, ok := lg.latestMap[shortHandle]; ok && !ident.Less(cur, pkg.Ident) {
		return true // no-op extend always "succeeds" vacuously
	}

	var runtimeTargets []ident.Handle
	seen := make(map[ident.Handle]bool)
	for _, dep := range pkg.RuntimeDeps {
		depShort, keep := lg.resolveDep(dep)
		if !keep {
			continue
		}
		h := lg.interner.Intern(depShort)
		if h == shortHandle || seen[h] {
			continue
		}
		seen[h] = true
		runtimeTargets = append(runtimeTargets, h)
	}

	// Exclude u's own current out-edges from the reachability check: they
	// are about to be replaced regardless of outcome.
	tmp := copyGraph(lg.runtimeG)
	removeAllOut(tmp, shortHandle)
	return !wouldCreateCycle(tmp, shortHandle, runtimeTargets)
}

func copyGraph(g *simple.DirectedGraph) *simple.DirectedGraph {
	cp := simple.NewDirectedGraph()
	nodes := g.Nodes()
	for nodes.Next() {
		cp.AddNode(simple.Node(nodes.Node().ID()))
	}
	edges := g.Edges()
	for edges.Next() {
		e := edges.Edge()
		cp.SetEdge(cp.NewEdge(simple.Node(e.From().ID()), simple.Node(e.To().ID())))
	}
	return cp
}

func removeAllOut(g *simple.DirectedGraph, u ident.Handle) {
	uid := int64(u)
	var targets []int64
	it := g.From(uid)
	for it.Next() {
		targets = append(targets, it.Node().ID())
	}
	for _, vid := range targets {
		g.RemoveEdge(uid, vid)
	}
}

// Resolve returns the current latest fully-qualified ident for id's short
// ident, if known.
func (lg *LatestGraph) Resolve(id ident.PackageIdent) (ident.PackageIdent, bool) {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	h := lg.interner.Intern(id.Short())
	fq, ok := lg.latestMap[h]
	return fq, ok
}

// RDeps floods incoming edges (any type) from short's node and returns
// every reachable node, each paired with its current latest
// fully-qualified ident. If originFilter is non-empty, only idents whose
// Origin matches it are returned.
func (lg *LatestGraph) RDeps(short ident.PackageIdent, originFilter string) []RDep {
	lg.mu.RLock()
	defer lg.mu.RUnlock()

	h := lg.interner.Intern(short.Short())
	id := int64(h)
	if lg.allG.Node(id) == nil {
		return nil
	}

	visited := map[int64]bool{id: true}
	queue := []int64{id}
	var out []RDep
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		it := lg.allG.To(n)
		for it.Next() {
			pid := it.Node().ID()
			if visited[pid] {
				continue
			}
			visited[pid] = true
			queue = append(queue, pid)
			depShort, ok := lg.interner.Lookup(ident.Handle(pid))
			if !ok {
				continue
			}
			if originFilter != "" && depShort.Origin != originFilter {
				continue
			}
			fq := lg.latestMap[ident.Handle(pid)]
			out = append(out, RDep{Ident: depShort, FQID: fq})
		}
	}
	sort.Slice(out, func(i, j int) bool { return ident.Less(out[i].Ident, out[j].Ident) })
	return out
}

// Top returns the k short idents with the most reverse dependencies,
// most-depended-on first.
func (lg *LatestGraph) Top(k int) []TopEntry {
	lg.mu.RLock()
	shorts := make([]ident.PackageIdent, 0, len(lg.latestMap))
	for h := range lg.latestMap {
		s, _ := lg.interner.Lookup(h)
		shorts = append(shorts, s)
	}
	lg.mu.RUnlock()

	entries := make([]TopEntry, 0, len(shorts))
	for _, s := range shorts {
		entries = append(entries, TopEntry{Ident: s, RDepCount: len(lg.RDeps(s, ""))})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].RDepCount != entries[j].RDepCount {
			return entries[i].RDepCount > entries[j].RDepCount
		}
		return ident.Less(entries[i].Ident, entries[j].Ident)
	})
	if k >= 0 && k < len(entries) {
		entries = entries[:k]
	}
	return entries
}

// Search returns every short ident whose Origin/Name contains substr.
func (lg *LatestGraph) Search(substr string) []ident.PackageIdent {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	var out []ident.PackageIdent
	for h := range lg.latestMap {
		s, _ := lg.interner.Lookup(h)
		if strings.Contains(s.String(), substr) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b ident.PackageIdent) int { return ident.Compare(a, b) })
	return out
}

// Stats reports node/edge counts and cyclicity of the combined graph.
func (lg *LatestGraph) Stats() Stats {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	n, e := lg.counts()
	sccs := topo.TarjanSCC(lg.allG)
	cyclic := false
	for _, scc := range sccs {
		if len(scc) > 1 {
			cyclic = true
			break
		}
	}
	return Stats{NodeCount: n, EdgeCount: e, SCCCount: len(sccs), Cyclic: cyclic}
}

// Package returns the latest Package record stored for short, if any.
func (lg *LatestGraph) Package(short ident.PackageIdent) (*Package, bool) {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	h := lg.interner.Intern(short.Short())
	p, found := lg.packages[h]
	return p, found
}

// RuntimeGraph exposes the read-only runtime-only subgraph, e.g. for the
// manifest compiler's within-SCC build ordering. Callers must not
// mutate the returned graph.
func (lg *LatestGraph) RuntimeGraph() graph.Directed {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	return lg.runtimeG
}

// AllGraph exposes the read-only combined (any-edge-type) subgraph.
func (lg *LatestGraph) AllGraph() graph.Directed {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	return lg.allG
}

// EdgeTypesBetween returns the set of edge types recorded from u to v.
func (lg *LatestGraph) EdgeTypesBetween(u, v ident.Handle) []EdgeType {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	types := lg.edgeTypes[edgeKey{From: u, To: v}]
	out := make([]EdgeType, 0, len(types))
	for t := range types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LatestMap returns a snapshot copy of the short-ident -> latest
// fully-qualified-ident map.
func (lg *LatestGraph) LatestMap() map[ident.Handle]ident.PackageIdent {
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	out := make(map[ident.Handle]ident.PackageIdent, len(lg.latestMap))
	for k, v := range lg.latestMap {
		out[k] = v
	}
	return out
}

// Interner returns the interner backing this graph's handles.
func (lg *LatestGraph) Interner() *ident.Interner { return lg.interner }

// Target returns the platform tag this graph is scoped to.
func (lg *LatestGraph) Target() ident.PackageTarget { return lg.target }

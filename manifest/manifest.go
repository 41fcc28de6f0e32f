// Package manifest compiles a PackageBuildManifest for a set of touched
// idents: Component C of the builder core. It is grounded on the
// teacher's build-order computation in
// _examples/distr1-distri/internal/batch/batch.go (topo.TarjanSCC +
// cycle-aware scheduling), extended to express the rebuild-propagation,
// oracle pruning and toolchain-bootstrap iteration rules of spec.md §4.C.
package manifest

import (
	"sort"

	"golang.org/x/xerrors"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	"github.com/habitat-sh/builder-sub000/graph"
	"github.com/habitat-sh/builder-sub000/ident"
)

// Kind discriminates the four UnresolvedPackageIdent variants of
// spec.md §4.C.
type Kind int

const (
	InternalNode Kind = iota
	ExternalLatestVersion
	ExternalPinnedVersion
	ExternalFullyQualified
)

func (k Kind) String() string {
	switch k {
	case InternalNode:
		return "internal"
	case ExternalLatestVersion:
		return "external-latest"
	case ExternalPinnedVersion:
		return "external-pinned"
	case ExternalFullyQualified:
		return "external-fq"
	default:
		return "unknown"
	}
}

// UnresolvedIdent is one node reference inside a manifest. Iteration is
// only meaningful for InternalNode; it is the toolchain-bootstrap round
// number (1-based) described in spec.md's cyclic-build handling.
type UnresolvedIdent struct {
	Kind      Kind
	Ident     ident.PackageIdent
	Iteration int
}

// Reason explains why a candidate was dropped from the rebuild set.
type Reason int

const (
	Direct Reason = iota
	Indirect
	MissingPlan
)

// Edge is one dependency edge inside the manifest DAG.
type Edge struct {
	From, To UnresolvedIdent
	Type     graph.EdgeType
}

// Manifest is the compiled build plan for a touched set (spec.md §4.C's
// PackageBuildManifest).
type Manifest struct {
	Nodes                []UnresolvedIdent
	Edges                []Edge
	ExternalDependencies []UnresolvedIdent
	InputSet             []ident.PackageIdent
	UnbuildableReasons   map[ident.PackageIdent]Reason
}

// DefaultRounds is the toolchain-bootstrap iteration count ("K") used
// when Compute is called with rounds <= 0. spec.md calls this constant
// "magic" and asks that it stay configurable; config.Config threads it
// through as CyclicBuildRounds.
const DefaultRounds = 3

// Compute builds a PackageBuildManifest for touched against g, using
// oracle to prune unbuildable candidates and useBuildDeps to decide
// whether build/strong-build edges participate (mirroring the same flag
// passed to graph.LatestGraph.Extend, so the manifest never contains an
// edge type the live graph itself does not carry).
func Compute(g *graph.LatestGraph, touched []ident.PackageIdent, oracle Oracle, useBuildDeps bool, rounds int) (*Manifest, error) {
	if oracle == nil {
		oracle = NoopOracle
	}
	if rounds <= 0 {
		rounds = DefaultRounds
	}

	interner := g.Interner()
	pg, touchedHandles := preconditionGraph(g, interner, touched)

	rebuildSet, reasons := rebuildCandidates(pg, touchedHandles)
	rebuildSet, reasons = pruneUnbuildable(g, interner, pg, rebuildSet, reasons, touchedHandles, oracle)

	order, err := buildOrder(g, pg, rebuildSet)
	if err != nil {
		return nil, xerrors.Errorf("computing build order: %w", err)
	}

	m := &Manifest{
		UnbuildableReasons: reasons,
		InputSet:           append([]ident.PackageIdent(nil), touched...),
	}
	emit(g, interner, order, rounds, useBuildDeps, m)
	rewriteSameRoundFallbacks(m)

	sort.Slice(m.InputSet, func(i, j int) bool { return ident.Less(m.InputSet[i], m.InputSet[j]) })
	return m, nil
}

// preconditionGraph copies g's combined (any-edge-type) graph and adds a
// node for every touched ident not already present, per spec.md §4.C
// step 1. Non-matching version pins never survive as distinct edges in
// g (graph.LatestGraph normalizes them at Extend time per P5), so there
// is nothing left here to rewrite; the copy step still exists
// explicitly so a future change to that normalization is reflected here
// without a second rewrite pass.
func preconditionGraph(g *graph.LatestGraph, interner *ident.Interner, touched []ident.PackageIdent) (*simple.DirectedGraph, []ident.Handle) {
	pg := simple.NewDirectedGraph()
	src := g.AllGraph()
	nodes := src.Nodes()
	for nodes.Next() {
		pg.AddNode(simple.Node(nodes.Node().ID()))
	}
	edges := src.Edges()
	for edges.Next() {
		e := edges.Edge()
		pg.SetEdge(pg.NewEdge(simple.Node(e.From().ID()), simple.Node(e.To().ID())))
	}

	touchedHandles := make([]ident.Handle, 0, len(touched))
	for _, t := range touched {
		h := interner.Intern(t.Short())
		if pg.Node(int64(h)) == nil {
			pg.AddNode(simple.Node(int64(h)))
		}
		touchedHandles = append(touchedHandles, h)
	}
	return pg, touchedHandles
}

// rebuildCandidates floods the precondition graph from touched along
// reverse edges (predecessors): anything that transitively depends on a
// touched package must be considered for rebuild too.
func rebuildCandidates(pg *simple.DirectedGraph, touchedHandles []ident.Handle) (map[ident.Handle]bool, map[ident.PackageIdent]Reason) {
	set := make(map[ident.Handle]bool, len(touchedHandles))
	queue := make([]ident.Handle, 0, len(touchedHandles))
	for _, h := range touchedHandles {
		if !set[h] {
			set[h] = true
			queue = append(queue, h)
		}
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		id := int64(n)
		if pg.Node(id) == nil {
			continue
		}
		it := pg.To(id)
		for it.Next() {
			p := ident.Handle(it.Node().ID())
			if !set[p] {
				set[p] = true
				queue = append(queue, p)
			}
		}
	}
	return set, make(map[ident.PackageIdent]Reason)
}

// pruneUnbuildable removes oracle-marked nodes and their dependents from
// the rebuild set (Direct/Indirect), and records MissingPlan for touched
// idents absent from the graph's package records. A MissingPlan touched
// ident is flagged but kept in the rebuild set: it was explicitly
// requested, and scenario coverage for an unknown touched package
// expects it to still appear as a lone InternalNode.
func pruneUnbuildable(g *graph.LatestGraph, interner *ident.Interner, pg *simple.DirectedGraph, set map[ident.Handle]bool, reasons map[ident.PackageIdent]Reason, touchedHandles []ident.Handle, oracle Oracle) (map[ident.Handle]bool, map[ident.PackageIdent]Reason) {
	candidates := make([]ident.PackageIdent, 0, len(set))
	for h := range set {
		s, _ := interner.Lookup(h)
		candidates = append(candidates, s)
	}
	sort.Slice(candidates, func(i, j int) bool { return ident.Less(candidates[i], candidates[j]) })

	direct := oracle.Filter(candidates, g.Target())
	directSet := make(map[ident.Handle]bool, len(direct))
	for _, d := range direct {
		h := interner.Intern(d.Short())
		if set[h] {
			directSet[h] = true
			reasons[d.Short()] = Direct
		}
	}

	removed := make(map[ident.Handle]bool, len(directSet))
	for h := range directSet {
		removed[h] = true
	}
	queue := make([]ident.Handle, 0, len(directSet))
	for h := range directSet {
		queue = append(queue, h)
	}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		id := int64(n)
		if pg.Node(id) == nil {
			continue
		}
		it := pg.To(id)
		for it.Next() {
			p := ident.Handle(it.Node().ID())
			if !set[p] || removed[p] {
				continue
			}
			removed[p] = true
			s, _ := interner.Lookup(p)
			if _, already := reasons[s.Short()]; !already {
				reasons[s.Short()] = Indirect
			}
			queue = append(queue, p)
		}
	}

	for h := range removed {
		delete(set, h)
	}

	touchedSet := make(map[ident.Handle]bool, len(touchedHandles))
	for _, h := range touchedHandles {
		touchedSet[h] = true
	}
	for h := range set {
		if !touchedSet[h] {
			continue
		}
		s, _ := interner.Lookup(h)
		if _, ok := g.Package(s); !ok {
			if _, already := reasons[s.Short()]; !already {
				reasons[s.Short()] = MissingPlan
			}
		}
	}

	return set, reasons
}

// sccGroup is one strongly connected component of the rebuild-set
// subgraph, in deterministic within-group build order.
type sccGroup struct {
	members []ident.Handle
}

// buildOrder condenses the rebuild set into SCCs and returns them in
// dependency-first build order, each with its own members pre-ordered.
func buildOrder(g *graph.LatestGraph, pg *simple.DirectedGraph, rebuildSet map[ident.Handle]bool) ([]sccGroup, error) {
	sub := simple.NewDirectedGraph()
	for h := range rebuildSet {
		sub.AddNode(simple.Node(int64(h)))
	}
	for h := range rebuildSet {
		it := pg.From(int64(h))
		for it.Next() {
			v := it.Node().ID()
			if rebuildSet[ident.Handle(v)] {
				sub.SetEdge(sub.NewEdge(simple.Node(int64(h)), simple.Node(v)))
			}
		}
	}

	sccs := topo.TarjanSCC(sub)
	groupOf := make(map[ident.Handle]int, len(rebuildSet))
	rawGroups := make([][]ident.Handle, len(sccs))
	for i, scc := range sccs {
		members := make([]ident.Handle, len(scc))
		for j, n := range scc {
			h := ident.Handle(n.ID())
			members[j] = h
			groupOf[h] = i
		}
		rawGroups[i] = members
	}

	groupDeps := make(map[int]map[int]bool, len(rawGroups))
	for i := range rawGroups {
		groupDeps[i] = make(map[int]bool)
	}
	for h := range rebuildSet {
		gi := groupOf[h]
		it := sub.From(int64(h))
		for it.Next() {
			gv := groupOf[ident.Handle(it.Node().ID())]
			if gv != gi {
				groupDeps[gi][gv] = true
			}
		}
	}

	repOf := func(i int) ident.PackageIdent {
		best := rawGroups[i][0]
		for _, h := range rawGroups[i][1:] {
			bs, _ := g.Interner().Lookup(best)
			hs, _ := g.Interner().Lookup(h)
			if ident.Less(hs, bs) {
				best = h
			}
		}
		s, _ := g.Interner().Lookup(best)
		return s
	}

	groupIdxs := make([]int, len(rawGroups))
	for i := range rawGroups {
		groupIdxs[i] = i
	}
	depsFn := func(i int) []int {
		out := make([]int, 0, len(groupDeps[i]))
		for j := range groupDeps[i] {
			out = append(out, j)
		}
		return out
	}
	lessFn := func(a, b int) bool { return ident.Less(repOf(a), repOf(b)) }
	groupOrder, err := kahnSort(groupIdxs, depsFn, lessFn)
	if err != nil {
		return nil, err
	}

	runtimeG := g.RuntimeGraph()
	out := make([]sccGroup, 0, len(groupOrder))
	for _, gi := range groupOrder {
		members := rawGroups[gi]
		if len(members) == 1 {
			out = append(out, sccGroup{members: members})
			continue
		}
		memberSet := make(map[ident.Handle]bool, len(members))
		for _, h := range members {
			memberSet[h] = true
		}
		within, err := kahnSort(members, func(h ident.Handle) []ident.Handle {
			var deps []ident.Handle
			it := runtimeG.From(int64(h))
			for it.Next() {
				v := ident.Handle(it.Node().ID())
				if memberSet[v] {
					deps = append(deps, v)
				}
			}
			return deps
		}, func(a, b ident.Handle) bool {
			as, _ := g.Interner().Lookup(a)
			bs, _ := g.Interner().Lookup(b)
			return ident.Less(as, bs)
		})
		if err != nil {
			return nil, err
		}
		out = append(out, sccGroup{members: within})
	}
	return out, nil
}

// kahnSort is a deterministic topological sort: nodes are ready once all
// of deps(n) have already been emitted, and ties among simultaneously
// ready nodes are broken by less, matching the teacher's own convention
// of enqueuing the nodes with no outstanding dependencies first
// (_examples/distr1-distri/internal/batch/batch.go).
func kahnSort[T comparable](nodes []T, deps func(T) []T, less func(a, b T) bool) ([]T, error) {
	remaining := make(map[T]bool, len(nodes))
	for _, n := range nodes {
		remaining[n] = true
	}
	outDeg := make(map[T]int, len(nodes))
	dependents := make(map[T][]T, len(nodes))
	for _, n := range nodes {
		cnt := 0
		for _, d := range deps(n) {
			if remaining[d] {
				cnt++
				dependents[d] = append(dependents[d], n)
			}
		}
		outDeg[n] = cnt
	}

	var ready []T
	for _, n := range nodes {
		if outDeg[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]T, 0, len(nodes))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		delete(remaining, n)
		for _, m := range dependents[n] {
			outDeg[m]--
			if outDeg[m] == 0 {
				ready = append(ready, m)
			}
		}
	}
	if len(order) != len(nodes) {
		return nil, xerrors.New("manifest: cycle in a graph expected to be acyclic")
	}
	return order, nil
}

package manifest

import (
	"github.com/habitat-sh/builder-sub000/graph"
	"github.com/habitat-sh/builder-sub000/ident"
)

// depEdge pairs a declared dependency ident with the edge type it should
// be emitted as.
type depEdge struct {
	Dep  ident.PackageIdent
	Type graph.EdgeType
}

func declaredDeps(p *graph.Package, useBuildDeps bool) []depEdge {
	out := make([]depEdge, 0, len(p.RuntimeDeps)+len(p.BuildDeps)+len(p.StrongBuildDeps))
	for _, d := range p.RuntimeDeps {
		out = append(out, depEdge{Dep: d, Type: graph.RuntimeDep})
	}
	if useBuildDeps {
		for _, d := range p.StrongBuildDeps {
			out = append(out, depEdge{Dep: d, Type: graph.StrongBuildDep})
		}
		for _, d := range p.BuildDeps {
			out = append(out, depEdge{Dep: d, Type: graph.BuildDep})
		}
	}
	return out
}

// classifyExternal turns a declared dependency ident into the external
// variant matching its own specificity (spec.md §4.C's three external
// kinds).
func classifyExternal(dep ident.PackageIdent) UnresolvedIdent {
	if dep.FullyQualified() {
		return UnresolvedIdent{Kind: ExternalFullyQualified, Ident: dep}
	}
	if dep.Version != "" {
		return UnresolvedIdent{Kind: ExternalPinnedVersion, Ident: dep}
	}
	return UnresolvedIdent{Kind: ExternalLatestVersion, Ident: dep.Short()}
}

// emit walks groups in build order and, within each multi-member group,
// round-major across 1..rounds, producing manifest nodes and edges.
//
// latestEmitted is a single rolling table keyed by short ident, updated
// after every node is emitted; a dependency resolves to the most recent
// InternalNode recorded there, or else to an external variant. Within a
// cyclic group, round r's members are processed in the group's
// deterministic order before round r+1 begins: in round 1, a member whose
// dependency is a same-group sibling not yet emitted falls back to the
// external variant (ExternalLatestVersion for an unpinned dep), which is
// exactly the toolchain bootstrap (round 1 of a self-hosting compiler
// must use a previously published copy of its own cycle-mates); in later
// rounds the same dependency resolves to the sibling's node from the
// previous round. That fallback is never rewritten afterward — it
// is the mechanism, not a processing artifact — so rewriteSameRoundFallbacks
// only ever touches edges that cross group boundaries, which build-order
// correctness means should not occur in practice; it exists as a safety
// net rather than part of the steady-state emission logic.
func emit(g *graph.LatestGraph, interner *ident.Interner, groups []sccGroup, rounds int, useBuildDeps bool, m *Manifest) {
	latestEmitted := make(map[ident.PackageIdent]UnresolvedIdent)
	externalSeen := make(map[UnresolvedIdent]bool)

	for _, grp := range groups {
		iterCount := 1
		if len(grp.members) > 1 {
			iterCount = rounds
		}
		for r := 1; r <= iterCount; r++ {
			for _, h := range grp.members {
				short, _ := interner.Lookup(h)
				node := UnresolvedIdent{Kind: InternalNode, Ident: short, Iteration: r}
				m.Nodes = append(m.Nodes, node)

				p, ok := g.Package(short)
				if ok {
					for _, de := range declaredDeps(p, useBuildDeps) {
						to := resolveDep(de.Dep, latestEmitted)
						m.Edges = append(m.Edges, Edge{From: node, To: to, Type: de.Type})
						if to.Kind != InternalNode {
							addExternal(m, externalSeen, to)
						}
					}
				}

				latestEmitted[short] = node
			}
		}
	}
}

func resolveDep(dep ident.PackageIdent, latestEmitted map[ident.PackageIdent]UnresolvedIdent) UnresolvedIdent {
	if existing, ok := latestEmitted[dep.Short()]; ok {
		return existing
	}
	return classifyExternal(dep)
}

func addExternal(m *Manifest, seen map[UnresolvedIdent]bool, u UnresolvedIdent) {
	if seen[u] {
		return
	}
	seen[u] = true
	m.ExternalDependencies = append(m.ExternalDependencies, u)
}

// rewriteSameRoundFallbacks is the literal implementation of spec.md
// §4.C step 5's closing rewrite: any ExternalLatestVersion edge that
// points at a short ident also present as an InternalNode elsewhere in
// the manifest is pointed at that ident's highest-iteration node
// instead. Within a cyclic group that condition is the intentional
// bootstrap fallback described in emit, and is left alone: an edge is
// skipped whenever isSameGroupFallback holds for it. That test does not
// know group membership, so an External edge between members of two
// different cyclic groups is skipped as well; only edges with a
// single-round source or target are rewritten.
func rewriteSameRoundFallbacks(m *Manifest) {
	highest := make(map[ident.PackageIdent]UnresolvedIdent)
	for _, n := range m.Nodes {
		cur, ok := highest[n.Ident]
		if !ok || n.Iteration > cur.Iteration {
			highest[n.Ident] = n
		}
	}

	for i, e := range m.Edges {
		if e.To.Kind != ExternalLatestVersion {
			continue
		}
		target, ok := highest[e.To.Ident]
		if !ok {
			continue
		}
		if e.From.Ident == e.To.Ident {
			continue
		}
		if isSameGroupFallback(m, e) {
			continue
		}
		m.Edges[i].To = target
	}
}

// isSameGroupFallback reports whether edge e's source and target idents
// both appear more than once in m.Nodes (both built in multi-round, i.e.
// cyclic, groups), taken as the signature of a same-SCC round-major
// bootstrap edge rather than a genuine cross-group miss.
func isSameGroupFallback(m *Manifest, e Edge) bool {
	sourceRounds := 0
	targetRounds := 0
	for _, n := range m.Nodes {
		if n.Ident == e.From.Ident {
			sourceRounds++
		}
		if n.Ident == e.To.Ident {
			targetRounds++
		}
	}
	return sourceRounds > 1 && targetRounds > 1
}

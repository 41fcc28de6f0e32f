package manifest

import (
	"testing"

	"github.com/habitat-sh/builder-sub000/graph"
	"github.com/habitat-sh/builder-sub000/ident"
)

func diamond() *graph.LatestGraph {
	lg := graph.New(ident.PackageTarget("x86_64-linux"), ident.NewInterner())
	lg.Extend(graph.Package{Ident: ident.MustParse("a/top/1/1")}, false)
	lg.Extend(graph.Package{
		Ident:       ident.MustParse("a/left/1/1"),
		RuntimeDeps: []ident.PackageIdent{ident.MustParse("a/top")},
	}, false)
	lg.Extend(graph.Package{
		Ident:       ident.MustParse("a/right/1/1"),
		RuntimeDeps: []ident.PackageIdent{ident.MustParse("a/top")},
	}, false)
	lg.Extend(graph.Package{
		Ident:       ident.MustParse("a/bottom/1/1"),
		RuntimeDeps: []ident.PackageIdent{ident.MustParse("a/left"), ident.MustParse("a/right")},
	}, false)
	return lg
}

func nodeSet(m *Manifest) map[string]int {
	out := make(map[string]int, len(m.Nodes))
	for _, n := range m.Nodes {
		if n.Kind == InternalNode {
			out[n.Ident.String()] = n.Iteration
		}
	}
	return out
}

func externalSet(m *Manifest) map[string]Kind {
	out := make(map[string]Kind, len(m.ExternalDependencies))
	for _, e := range m.ExternalDependencies {
		out[e.Ident.String()] = e.Kind
	}
	return out
}

// scenario 1 (spec.md §8): touching the root of a diamond rebuilds the
// whole diamond, every dependency resolving internally.
func TestComputeDiamondTouchRoot(t *testing.T) {
	lg := diamond()
	m, err := Compute(lg, []ident.PackageIdent{ident.MustParse("a/top")}, NoopOracle, false, 0)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	nodes := nodeSet(m)
	want := []string{"a/top", "a/left", "a/right", "a/bottom"}
	for _, w := range want {
		if nodes[w] != 1 {
			t.Errorf("node %s iteration = %d, want 1 (present=%v)", w, nodes[w], nodes)
		}
	}
	if len(nodes) != 4 {
		t.Errorf("node count = %d, want 4: %v", len(nodes), nodes)
	}
	if len(m.ExternalDependencies) != 0 {
		t.Errorf("external deps = %v, want none", m.ExternalDependencies)
	}

	for _, e := range m.Edges {
		if e.To.Kind != InternalNode {
			t.Errorf("edge %+v resolved externally, want internal", e)
		}
	}

	pos := make(map[string]int, len(m.Nodes))
	for i, n := range m.Nodes {
		pos[n.Ident.String()] = i
	}
	if pos["a/top"] > pos["a/left"] || pos["a/top"] > pos["a/right"] || pos["a/left"] > pos["a/bottom"] || pos["a/right"] > pos["a/bottom"] {
		t.Errorf("build order violates dependency precedence: %v", pos)
	}
}

// scenario 2: an oracle hit on a/left removes it and its dependent
// a/bottom, recording Direct/Indirect reasons, leaving a/top and a/right
// to build.
func TestComputeDiamondUnbuildableCorner(t *testing.T) {
	lg := diamond()
	oracle := OracleFunc(func(candidates []ident.PackageIdent, _ ident.PackageTarget) []ident.PackageIdent {
		for _, c := range candidates {
			if c.Short() == ident.MustParse("a/left") {
				return []ident.PackageIdent{c}
			}
		}
		return nil
	})

	m, err := Compute(lg, []ident.PackageIdent{ident.MustParse("a/top")}, oracle, false, 0)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	nodes := nodeSet(m)
	if _, ok := nodes["a/left"]; ok {
		t.Errorf("a/left should have been removed: %v", nodes)
	}
	if _, ok := nodes["a/bottom"]; ok {
		t.Errorf("a/bottom should have been removed as an indirect dependent: %v", nodes)
	}
	if nodes["a/top"] != 1 || nodes["a/right"] != 1 {
		t.Errorf("expected a/top and a/right to remain: %v", nodes)
	}

	if m.UnbuildableReasons[ident.MustParse("a/left")] != Direct {
		t.Errorf("a/left reason = %v, want Direct", m.UnbuildableReasons[ident.MustParse("a/left")])
	}
	if m.UnbuildableReasons[ident.MustParse("a/bottom")] != Indirect {
		t.Errorf("a/bottom reason = %v, want Indirect", m.UnbuildableReasons[ident.MustParse("a/bottom")])
	}
}

// scenario 3: touching a leaf floods only to its dependents, not its own
// dependencies; untouched siblings remain external references.
func TestComputeDiamondTouchCorner(t *testing.T) {
	lg := diamond()
	m, err := Compute(lg, []ident.PackageIdent{ident.MustParse("a/left")}, NoopOracle, false, 0)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	nodes := nodeSet(m)
	if len(nodes) != 2 || nodes["a/left"] != 1 || nodes["a/bottom"] != 1 {
		t.Fatalf("nodes = %v, want exactly a/left and a/bottom at iteration 1", nodes)
	}

	ext := externalSet(m)
	if ext["a/top"] != ExternalLatestVersion {
		t.Errorf("a/top should be an external latest-version reference, got %v", ext)
	}
	if ext["a/right"] != ExternalLatestVersion {
		t.Errorf("a/right should be an external latest-version reference, got %v", ext)
	}
}

// scenario 5: a touched ident with no package record at all is still
// emitted as a lone internal node, flagged MissingPlan.
func TestComputeMissingPlan(t *testing.T) {
	lg := graph.New(ident.PackageTarget("x86_64-linux"), ident.NewInterner())
	m, err := Compute(lg, []ident.PackageIdent{ident.MustParse("zz/top")}, NoopOracle, false, 0)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	if len(m.Nodes) != 1 || m.Nodes[0].Ident.String() != "zz/top" || m.Nodes[0].Iteration != 1 {
		t.Fatalf("nodes = %v, want a lone InternalNode(zz/top,1)", m.Nodes)
	}
	if len(m.Edges) != 0 {
		t.Errorf("edges = %v, want none", m.Edges)
	}
	if m.UnbuildableReasons[ident.MustParse("zz/top")] != MissingPlan {
		t.Errorf("reason = %v, want MissingPlan", m.UnbuildableReasons[ident.MustParse("zz/top")])
	}
}

// scenario 4 (structural): a toolchain bootstrap cycle of 4 mutually
// build-dependent packages is expanded into DefaultRounds copies of
// each member, plus a downstream non-cyclic consumer built once.
func TestComputeToolchainCycleIterationCount(t *testing.T) {
	lg := graph.New(ident.PackageTarget("x86_64-linux"), ident.NewInterner())
	lg.Extend(graph.Package{
		Ident:     ident.MustParse("a/gcc/1/1"),
		BuildDeps: []ident.PackageIdent{ident.MustParse("a/glibc")},
	}, true)
	lg.Extend(graph.Package{
		Ident:     ident.MustParse("a/glibc/1/1"),
		BuildDeps: []ident.PackageIdent{ident.MustParse("a/make")},
	}, true)
	lg.Extend(graph.Package{
		Ident:     ident.MustParse("a/make/1/1"),
		BuildDeps: []ident.PackageIdent{ident.MustParse("a/libgcc")},
	}, true)
	lg.Extend(graph.Package{
		Ident:     ident.MustParse("a/libgcc/1/1"),
		BuildDeps: []ident.PackageIdent{ident.MustParse("a/gcc")},
	}, true)
	lg.Extend(graph.Package{
		Ident:       ident.MustParse("a/out/1/1"),
		RuntimeDeps: []ident.PackageIdent{ident.MustParse("a/glibc")},
	}, true)

	m, err := Compute(lg, []ident.PackageIdent{ident.MustParse("a/gcc")}, NoopOracle, true, 0)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	counts := map[string]int{}
	for _, n := range m.Nodes {
		counts[n.Ident.String()]++
	}
	for _, name := range []string{"a/gcc", "a/glibc", "a/make", "a/libgcc"} {
		if counts[name] != DefaultRounds {
			t.Errorf("node %s emitted %d times, want %d", name, counts[name], DefaultRounds)
		}
	}
	if counts["a/out"] != 1 {
		t.Errorf("a/out emitted %d times, want 1", counts["a/out"])
	}

	for _, e := range m.Edges {
		if e.From.Ident.String() == "a/out" && e.To.Kind != InternalNode {
			t.Errorf("a/out's dependency resolved externally: %+v", e)
		}
	}
}

package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/habitat-sh/builder-sub000/graph"
	"github.com/habitat-sh/builder-sub000/ident"
	"github.com/habitat-sh/builder-sub000/manifest"
)

func diamondManifest(t *testing.T, touched ...ident.PackageIdent) *manifest.Manifest {
	t.Helper()
	interner := ident.NewInterner()
	g := graph.New("x86_64-linux", interner)

	top := ident.MustParse("a/top/1/1")
	left := ident.MustParse("a/left/1/1")
	right := ident.MustParse("b/right/1/1")
	bottom := ident.MustParse("b/bottom/1/1")

	g.Extend(graph.Package{Ident: top}, false)
	g.Extend(graph.Package{Ident: left, RuntimeDeps: []ident.PackageIdent{top.Short()}}, false)
	g.Extend(graph.Package{Ident: right, RuntimeDeps: []ident.PackageIdent{top.Short()}}, false)
	g.Extend(graph.Package{Ident: bottom, RuntimeDeps: []ident.PackageIdent{left.Short(), right.Short()}}, false)

	m, err := manifest.Compute(g, touched, manifest.NoopOracle, false, 3)
	require.NoError(t, err)
	return m
}

// TestFilterManifestPackageOnly covers spec's package_only=true request
// shape: the manifest keeps only the named package, dropping its rdeps
// and the edges that reached them.
func TestFilterManifestPackageOnly(t *testing.T) {
	m := diamondManifest(t, ident.MustParse("a/top"))
	require.Len(t, m.Nodes, 4) // top, left, right, bottom all rebuild

	filtered := filterManifest(m, func(id ident.PackageIdent) bool { return id == ident.MustParse("a/top") })
	require.Len(t, filtered.Nodes, 1)
	require.Equal(t, "top", filtered.Nodes[0].Ident.Name)
	for _, e := range filtered.Edges {
		require.NotEqual(t, manifest.InternalNode, e.From.Kind)
	}
}

// TestFilterManifestOriginOnly covers spec's origin_only=true request
// shape: the computed rebuild set is filtered down to the request's
// origin after expansion, per the documented filter-after-expansion
// Open Question resolution.
func TestFilterManifestOriginOnly(t *testing.T) {
	m := diamondManifest(t, ident.MustParse("a/top"))
	require.Len(t, m.Nodes, 4)

	filtered := filterManifest(m, func(id ident.PackageIdent) bool { return id.Origin == "a" })

	var names []string
	for _, n := range filtered.Nodes {
		names = append(names, n.Ident.Name)
	}
	require.ElementsMatch(t, []string{"top", "left"}, names)

	for _, e := range filtered.Edges {
		if e.From.Kind == manifest.InternalNode {
			require.Equal(t, "a", e.From.Ident.Origin)
		}
		if e.To.Kind == manifest.InternalNode {
			require.Equal(t, "a", e.To.Ident.Origin)
		}
	}
}

func TestResolveTouchedDepsOnlyExcludesNamedPackage(t *testing.T) {
	interner := ident.NewInterner()
	g := graph.New("x86_64-linux", interner)
	top := ident.MustParse("a/top/1/1")
	left := ident.MustParse("a/left/1/1")
	g.Extend(graph.Package{Ident: top}, false)
	g.Extend(graph.Package{Ident: left, RuntimeDeps: []ident.PackageIdent{top.Short()}}, false)

	touched := resolveTouched(g, "", "a/top", true)
	require.Len(t, touched, 1)
	require.Equal(t, "left", touched[0].Name)
}

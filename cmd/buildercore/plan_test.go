package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/habitat-sh/builder-sub000/graph"
	"github.com/habitat-sh/builder-sub000/ident"
	"github.com/habitat-sh/builder-sub000/manifest"
)

// TestEntriesFromManifestDiamond builds scenario 1's diamond manifest and
// checks the derived NewEntry batch carries the right, deduplicated
// DependsOn indices.
func TestEntriesFromManifestDiamond(t *testing.T) {
	interner := ident.NewInterner()
	g := graph.New("x86_64-linux", interner)

	top := ident.MustParse("a/top/1/1")
	left := ident.MustParse("a/left/1/1")
	right := ident.MustParse("a/right/1/1")
	bottom := ident.MustParse("a/bottom/1/1")

	g.Extend(graph.Package{Ident: top}, false)
	g.Extend(graph.Package{Ident: left, RuntimeDeps: []ident.PackageIdent{top.Short()}}, false)
	g.Extend(graph.Package{Ident: right, RuntimeDeps: []ident.PackageIdent{top.Short()}}, false)
	g.Extend(graph.Package{Ident: bottom, RuntimeDeps: []ident.PackageIdent{left.Short(), right.Short()}}, false)

	m, err := manifest.Compute(g, []ident.PackageIdent{top.Short()}, manifest.NoopOracle, false, 3)
	require.NoError(t, err)

	entries := entriesFromManifest(m)
	require.Len(t, entries, len(m.Nodes))

	byName := make(map[string]int, len(entries))
	for i, n := range m.Nodes {
		byName[n.Ident.Name] = i
	}

	require.Empty(t, entries[byName["top"]].DependsOn)
	require.ElementsMatch(t, []int{byName["top"]}, entries[byName["left"]].DependsOn)
	require.ElementsMatch(t, []int{byName["top"]}, entries[byName["right"]].DependsOn)
	require.ElementsMatch(t, []int{byName["left"], byName["right"]}, entries[byName["bottom"]].DependsOn)
}

package main

import (
	"github.com/habitat-sh/builder-sub000/manifest"
	"github.com/habitat-sh/builder-sub000/store"
)

// entriesFromManifest turns a compiled Manifest's internal nodes and
// internal-to-internal edges into the NewEntry batch store.CreateGroup
// expects, preserving the manifest's build order so DependsOn indices
// always point backwards in the slice.
func entriesFromManifest(m *manifest.Manifest) []store.NewEntry {
	index := make(map[manifest.UnresolvedIdent]int, len(m.Nodes))
	for i, n := range m.Nodes {
		index[n] = i
	}

	entries := make([]store.NewEntry, len(m.Nodes))
	for i, n := range m.Nodes {
		entries[i] = store.NewEntry{Ident: n.Ident, Iteration: n.Iteration}
	}

	// A dependent may declare the same prerequisite via more than one
	// edge type (runtime and build deps on the same package); dedupe so
	// WaitingOn counts the number of distinct prerequisites, not edges.
	seen := make([]map[int]bool, len(m.Nodes))
	for _, e := range m.Edges {
		if e.To.Kind != manifest.InternalNode {
			continue
		}
		fromIdx, ok := index[e.From]
		if !ok {
			continue
		}
		toIdx, ok := index[e.To]
		if !ok || toIdx == fromIdx {
			continue
		}
		if seen[fromIdx] == nil {
			seen[fromIdx] = make(map[int]bool)
		}
		if seen[fromIdx][toIdx] {
			continue
		}
		seen[fromIdx][toIdx] = true
		entries[fromIdx].DependsOn = append(entries[fromIdx].DependsOn, toIdx)
	}
	return entries
}

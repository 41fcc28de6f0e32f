package main

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/habitat-sh/builder-sub000/ident"
)

func TestReplayGraphRoundTripsJournal(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.bolt")
	target := ident.PackageTarget("x86_64-linux")

	top := uploadedPackage{Ident: "a/top/1/1", Target: string(target)}
	left := uploadedPackage{Ident: "a/left/1/1", Target: string(target), RuntimeDeps: []string{"a/top"}}

	require.NoError(t, appendJournal(storePath, target, top))
	require.NoError(t, appendJournal(storePath, target, left))

	g, err := replayGraph(storePath, target, false)
	require.NoError(t, err)

	fq, ok := g.Resolve(ident.MustParse("a/top"))
	require.True(t, ok)
	require.Equal(t, "1", fq.Version)

	rdeps := g.RDeps(ident.MustParse("a/top"), "")
	require.Len(t, rdeps, 1)
	require.Equal(t, "left", rdeps[0].Ident.Name)
}

func TestReplayGraphMissingJournalIsEmpty(t *testing.T) {
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store.bolt")

	g, err := replayGraph(storePath, "x86_64-linux", false)
	require.NoError(t, err)
	require.Equal(t, 0, g.Stats().NodeCount)
}

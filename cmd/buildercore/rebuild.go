package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/graph"
	"github.com/habitat-sh/builder-sub000/ident"
	"github.com/habitat-sh/builder-sub000/manifest"
	"github.com/habitat-sh/builder-sub000/store"
)

func newRebuildCmd() *cobra.Command {
	var (
		origin      string
		pkgName     string
		targetFlag  string
		depsOnly    bool
		packageOnly bool
		originOnly  bool
		channelFlag string
	)
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "recompute a build manifest for a touched origin or package",
		RunE: func(cmd *cobra.Command, args []string) error {
			if origin == "" && pkgName == "" {
				return xerrors.New("rebuild: one of -origin or -package is required")
			}
			if targetFlag == "" {
				return xerrors.New("rebuild: -target is required")
			}
			if packageOnly && pkgName == "" {
				return xerrors.New("rebuild: -package-only requires -package")
			}
			target := ident.PackageTarget(targetFlag)

			g, err := replayGraph(cfg.StorePath, target, cfg.Features.BuildDeps)
			if err != nil {
				return err
			}

			touched := resolveTouched(g, origin, pkgName, depsOnly)
			if len(touched) == 0 {
				return xerrors.New("rebuild: nothing matched -origin/-package for this target")
			}

			m, err := manifest.Compute(g, touched, manifest.NoopOracle, cfg.Features.BuildDeps, cfg.CyclicBuildRounds)
			if err != nil {
				return xerrors.Errorf("compiling manifest: %w", err)
			}

			// package_only and origin_only both restrict the
			// already-computed manifest rather than narrow the touched
			// set fed to Compute, per spec's "filter rebuild set ...
			// after computation" wording (DESIGN.md's Open Question entry
			// on this).
			if packageOnly {
				named, perr := ident.Parse(pkgName)
				if perr != nil {
					return xerrors.Errorf("parsing -package: %w", perr)
				}
				named = named.Short()
				m = filterManifest(m, func(id ident.PackageIdent) bool { return id == named })
			}
			if originOnly && origin != "" {
				m = filterManifest(m, func(id ident.PackageIdent) bool { return id.Origin == origin })
			}

			s, err := store.Open(cfg.StorePath)
			if err != nil {
				return err
			}
			defer s.Close()

			requestedChannel := channelFlag
			if requestedChannel == "" {
				requestedChannel = cfg.DefaultChannel
			}
			group, err := s.CreateGroup(context.Background(), target, entriesFromManifest(m), requestedChannel)
			if err != nil {
				return xerrors.Errorf("creating job group: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "group %s created with %d entries (%d external dependencies)\n",
				group.ID, len(m.Nodes), len(m.ExternalDependencies))
			return nil
		},
	}
	cmd.Flags().StringVar(&origin, "origin", "", "rebuild every package under this origin")
	cmd.Flags().StringVar(&pkgName, "package", "", "rebuild this origin/name package")
	cmd.Flags().StringVar(&targetFlag, "target", "", "platform target, e.g. x86_64-linux")
	cmd.Flags().BoolVar(&depsOnly, "deps-only", false, "rebuild only -package's dependents, not -package itself")
	cmd.Flags().BoolVar(&packageOnly, "package-only", false, "restrict the manifest to only -package, dropping its rdeps")
	cmd.Flags().BoolVar(&originOnly, "origin-only", false, "filter the computed rebuild set down to -origin's own packages")
	cmd.Flags().StringVar(&channelFlag, "channel", "", "channel this request targets (default: configured default_channel); on success the group is also promoted to stable only when this is \"stable\"")
	return cmd
}

// resolveTouched turns -origin/-package into the touched set
// manifest.Compute floods from. When -package parses as an origin/name
// ident it alone decides the touched set and -origin is not consulted
// here. -deps-only asks for a named package's dependents without the
// package itself, by seeding the touched set from all of its reverse
// dependencies (graph.LatestGraph.RDeps, transitive) instead of the
// package.
func resolveTouched(g *graph.LatestGraph, origin, pkgName string, depsOnly bool) []ident.PackageIdent {
	var named ident.PackageIdent
	hasNamed := false
	if pkgName != "" {
		id, err := ident.Parse(pkgName)
		if err == nil {
			named = id.Short()
			hasNamed = true
		}
	}

	if hasNamed {
		if !depsOnly {
			return []ident.PackageIdent{named}
		}
		rdeps := g.RDeps(named, "")
		out := make([]ident.PackageIdent, 0, len(rdeps))
		for _, d := range rdeps {
			out = append(out, d.Ident)
		}
		return out
	}

	if origin == "" {
		return nil
	}
	var out []ident.PackageIdent
	for _, short := range g.Search(origin + "/") {
		if short.Origin == origin {
			out = append(out, short)
		}
	}
	return out
}

// filterManifest keeps only the InternalNode entries of m for which keep
// returns true, along with every edge whose internal endpoints both
// survived (external endpoints always survive). It implements the
// request-level package_only/origin_only restrictions on an
// already-computed manifest, per spec's "filter ... after computation"
// wording rather than re-deriving the rebuild set with a narrower
// touched input.
func filterManifest(m *manifest.Manifest, keep func(ident.PackageIdent) bool) *manifest.Manifest {
	nodes := make([]manifest.UnresolvedIdent, 0, len(m.Nodes))
	survives := make(map[manifest.UnresolvedIdent]bool, len(m.Nodes))
	for _, n := range m.Nodes {
		if keep(n.Ident) {
			nodes = append(nodes, n)
			survives[n] = true
		}
	}

	edges := make([]manifest.Edge, 0, len(m.Edges))
	for _, e := range m.Edges {
		if e.From.Kind == manifest.InternalNode && !survives[e.From] {
			continue
		}
		if e.To.Kind == manifest.InternalNode && !survives[e.To] {
			continue
		}
		edges = append(edges, e)
	}

	return &manifest.Manifest{
		Nodes:                nodes,
		Edges:                edges,
		ExternalDependencies: m.ExternalDependencies,
		InputSet:             m.InputSet,
		UnbuildableReasons:   m.UnbuildableReasons,
	}
}

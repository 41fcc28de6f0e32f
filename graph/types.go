// Package graph maintains, per target, the latest-version dependency
// graph of packages: Component B of the builder core. It is grounded on
// the teacher's gonum-based scheduling graph in
// _examples/distr1-distri/internal/batch/batch.go, generalized from a
// one-shot build-order graph into a long-lived, incrementally mutated
// per-target structure with typed edges and cycle rejection.
package graph

import (
	"github.com/habitat-sh/builder-sub000/ident"
)

// EdgeType labels an edge in the LatestGraph.
type EdgeType int

const (
	RuntimeDep EdgeType = iota
	BuildDep
	StrongBuildDep
)

func (e EdgeType) String() string {
	switch e {
	case RuntimeDep:
		return "runtime"
	case BuildDep:
		return "build"
	case StrongBuildDep:
		return "strong-build"
	default:
		return "unknown"
	}
}

// Visibility mirrors the package visibility declared at upload time.
type Visibility int

const (
	Public Visibility = iota
	Private
	Hidden
)

// Package is the persisted record bound to a fully qualified ident and
// target (spec.md §3). StrongBuildDeps is the declared subset of
// BuildDeps that must be treated as StrongBuildDep edges when the graph
// is extended with build deps enabled.
type Package struct {
	Ident           ident.PackageIdent
	Target          ident.PackageTarget
	OwnerID         string
	Checksum        string
	ManifestText    string
	RuntimeDeps     []ident.PackageIdent
	BuildDeps       []ident.PackageIdent
	StrongBuildDeps []ident.PackageIdent
	Visibility      Visibility
	PackageType     string
}

// RDep is one entry of a reverse-dependency query result.
type RDep struct {
	Ident ident.PackageIdent // the short ident of the dependent package
	FQID  ident.PackageIdent // its current latest fully-qualified ident
}

// TopEntry is one entry of a Top(k) query result.
type TopEntry struct {
	Ident     ident.PackageIdent
	RDepCount int
}

// Stats summarizes the current state of a LatestGraph for observability
// (spec.md §4.B supplement, grounded on original_source's
// package_graph_target.rs Stats type).
type Stats struct {
	NodeCount int
	EdgeCount int
	SCCCount  int
	Cyclic    bool
}

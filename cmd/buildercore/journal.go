package main

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/graph"
	"github.com/habitat-sh/builder-sub000/ident"
)

// uploadedPackage is the on-the-wire shape of spec.md §6's package-upload
// event, and also the record appended to the on-disk journal so a later
// process invocation can replay the graph it produces.
type uploadedPackage struct {
	Ident           string   `json:"ident"`
	Target          string   `json:"target"`
	OwnerID         string   `json:"owner_id"`
	Checksum        string   `json:"checksum"`
	ManifestText    string   `json:"manifest_text"`
	RuntimeDeps     []string `json:"runtime_deps"`
	BuildDeps       []string `json:"build_deps"`
	StrongBuildDeps []string `json:"strong_build_deps"`
	Visibility      string   `json:"visibility"`
	PackageType     string   `json:"package_type"`
}

func (u uploadedPackage) toPackage() (graph.Package, error) {
	id, err := ident.Parse(u.Ident)
	if err != nil {
		return graph.Package{}, err
	}
	pkg := graph.Package{
		Ident:        id,
		Target:       ident.PackageTarget(u.Target),
		OwnerID:      u.OwnerID,
		Checksum:     u.Checksum,
		ManifestText: u.ManifestText,
		PackageType:  u.PackageType,
	}
	switch u.Visibility {
	case "", "public":
		pkg.Visibility = graph.Public
	case "private":
		pkg.Visibility = graph.Private
	case "hidden":
		pkg.Visibility = graph.Hidden
	default:
		return graph.Package{}, xerrors.Errorf("unknown visibility %q", u.Visibility)
	}
	if pkg.RuntimeDeps, err = parseIdents(u.RuntimeDeps); err != nil {
		return graph.Package{}, err
	}
	if pkg.BuildDeps, err = parseIdents(u.BuildDeps); err != nil {
		return graph.Package{}, err
	}
	if pkg.StrongBuildDeps, err = parseIdents(u.StrongBuildDeps); err != nil {
		return graph.Package{}, err
	}
	return pkg, nil
}

func parseIdents(raw []string) ([]ident.PackageIdent, error) {
	out := make([]ident.PackageIdent, 0, len(raw))
	for _, s := range raw {
		id, err := ident.Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

// journalPathFor returns the path of the append-only upload log for
// target, one JSON object per line, rooted next to the configured store.
func journalPathFor(storePath string, target ident.PackageTarget) string {
	return filepath.Join(filepath.Dir(storePath), "journal-"+string(target)+".jsonl")
}

// appendJournal appends pkg to target's journal file, creating it if
// absent.
func appendJournal(storePath string, target ident.PackageTarget, pkg uploadedPackage) error {
	path := journalPathFor(storePath, target)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return xerrors.Errorf("creating journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return xerrors.Errorf("opening journal %s: %w", path, err)
	}
	defer f.Close()
	buf, err := json.Marshal(pkg)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(buf, '\n')); err != nil {
		return xerrors.Errorf("writing journal entry: %w", err)
	}
	return nil
}

// replayGraph rebuilds a LatestGraph for target by replaying every
// package recorded in its journal, in the order they were appended. This
// stands in for a persistent Component B store: the module has no
// on-disk graph format of its own, so the upload/rebuild/serve
// subcommands agree on the journal as the durable source of truth.
func replayGraph(storePath string, target ident.PackageTarget, useBuildDeps bool) (*graph.LatestGraph, error) {
	interner := ident.NewInterner()
	g := graph.New(target, interner)

	path := journalPathFor(storePath, target)
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return nil, xerrors.Errorf("opening journal %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var u uploadedPackage
		if err := json.Unmarshal(scanner.Bytes(), &u); err != nil {
			return nil, xerrors.Errorf("corrupt journal entry in %s: %w", path, err)
		}
		pkg, err := u.toPackage()
		if err != nil {
			return nil, xerrors.Errorf("replaying journal %s: %w", path, err)
		}
		g.Extend(pkg, useBuildDeps)
	}
	if err := scanner.Err(); err != nil {
		return nil, xerrors.Errorf("reading journal %s: %w", path, err)
	}
	return g, nil
}

// Package channel defines the Channel Promoter port (Component G) and a
// file-based reference implementation. It is grounded on the teacher's
// own channel-promotion logic in
// _examples/distr1-distri/cmd/autobuilder/autobuilder.go, which points a
// branch symlink at a build output directory with
// github.com/google/renameio so readers never observe a half-updated
// channel.
package channel

import (
	"context"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"golang.org/x/xerrors"

	"github.com/habitat-sh/builder-sub000/ident"
)

// Promoter is the Channel Promoter port: once every entry in a job
// group has built successfully, the Group Scheduler calls Promote to
// make the group's packages visible on a named channel.
type Promoter interface {
	Promote(ctx context.Context, groupID string, channelName string, packages []ident.PackageIdent) error
}

// FilePromoter promotes by atomically symlinking
// <root>/channels/<channelName> at <root>/groups/<groupID>, the same
// "commit directory behind a stable symlink" shape as the teacher's
// branch promotion.
type FilePromoter struct {
	root string
}

// NewFilePromoter returns a Promoter rooted at root. root/channels and
// root/groups are created on first use if absent.
func NewFilePromoter(root string) *FilePromoter {
	return &FilePromoter{root: root}
}

func (p *FilePromoter) groupDir(groupID string) string {
	return filepath.Join(p.root, "groups", groupID)
}

func (p *FilePromoter) channelPath(channelName string) string {
	return filepath.Join(p.root, "channels", channelName)
}

// Promote writes a manifest of the promoted package idents into the
// group's directory, then atomically retargets the channel symlink at
// it. A reader following the channel symlink either sees the entire
// previous promotion or the entire new one, never a partial one.
func (p *FilePromoter) Promote(ctx context.Context, groupID string, channelName string, packages []ident.PackageIdent) error {
	dir := p.groupDir(groupID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return xerrors.Errorf("creating group directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(p.root, "channels"), 0o755); err != nil {
		return xerrors.Errorf("creating channels directory: %w", err)
	}

	manifestPath := filepath.Join(dir, "packages.txt")
	var buf []byte
	for _, pkg := range packages {
		buf = append(buf, []byte(pkg.String()+"\n")...)
	}
	if err := renameio.WriteFile(manifestPath, buf, 0o644); err != nil {
		return xerrors.Errorf("writing group manifest: %w", err)
	}

	channelPath := p.channelPath(channelName)
	if err := renameio.Symlink(dir, channelPath); err != nil {
		return xerrors.Errorf("promoting channel %s to group %s: %w", channelName, groupID, err)
	}
	return nil
}

// Resolve returns the group directory a channel currently points at.
func (p *FilePromoter) Resolve(channelName string) (string, error) {
	target, err := os.Readlink(p.channelPath(channelName))
	if err != nil {
		return "", xerrors.Errorf("resolving channel %s: %w", channelName, err)
	}
	return target, nil
}

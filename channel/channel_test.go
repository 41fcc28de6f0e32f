package channel

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/habitat-sh/builder-sub000/ident"
)

func TestPromoteAndResolve(t *testing.T) {
	root := t.TempDir()
	p := NewFilePromoter(root)
	ctx := context.Background()

	pkgs := []ident.PackageIdent{ident.MustParse("a/top/1/1"), ident.MustParse("a/left/1/1")}
	if err := p.Promote(ctx, "group-1", "stable", pkgs); err != nil {
		t.Fatalf("Promote: %v", err)
	}

	target, err := p.Resolve("stable")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if filepath.Base(target) != "group-1" {
		t.Errorf("Resolve(stable) = %s, want a path ending in group-1", target)
	}

	manifest, err := os.ReadFile(filepath.Join(target, "packages.txt"))
	if err != nil {
		t.Fatalf("reading manifest: %v", err)
	}
	want := "a/top/1/1\na/left/1/1\n"
	if string(manifest) != want {
		t.Errorf("manifest = %q, want %q", manifest, want)
	}

	// Promoting a second group must retarget the channel atomically.
	if err := p.Promote(ctx, "group-2", "stable", pkgs[:1]); err != nil {
		t.Fatalf("second Promote: %v", err)
	}
	target, err = p.Resolve("stable")
	if err != nil {
		t.Fatalf("Resolve after second promote: %v", err)
	}
	if filepath.Base(target) != "group-2" {
		t.Errorf("Resolve(stable) after reassignment = %s, want group-2", target)
	}
}

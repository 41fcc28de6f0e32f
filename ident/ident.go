// Package ident implements the identifier algebra: parsing, normalizing,
// and ordering package identifiers, grounded on the teacher's ad hoc
// version-string parsing in version.go and archs.go, generalized to the
// four-component ident the spec requires.
package ident

import (
	"strconv"
	"strings"

	"golang.org/x/xerrors"
)

// PackageTarget is a platform tag, e.g. "x86_64-linux". Two packages with
// the same ident but different targets are distinct entities living in
// disjoint graphs.
type PackageTarget string

// PackageIdent is the four-tuple (origin, name, version?, release?).
//
// Origin and Name are always present and non-empty. If Release is
// non-empty, Version must also be non-empty. An ident is fully qualified
// iff all four fields are set.
type PackageIdent struct {
	Origin  string
	Name    string
	Version string
	Release string
}

// InvalidIdent is returned by Parse when s cannot be parsed into a
// PackageIdent.
type InvalidIdent struct {
	Input  string
	Reason string
}

func (e *InvalidIdent) Error() string {
	return xerrors.Errorf("invalid package ident %q: %s", e.Input, e.Reason).Error()
}

// allowed reports whether r may appear within one ident component.
func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_' || r == '-' || r == '.':
		return true
	}
	return false
}

func validComponent(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !allowed(r) {
			return false
		}
	}
	return true
}

// Parse parses "origin/name[/version[/release]]".
//
// It fails with *InvalidIdent when origin or name is empty, when more than
// four slash-separated components are given, or when a component contains
// a disallowed character.
func Parse(s string) (PackageIdent, error) {
	parts := strings.Split(s, "/")
	if len(parts) > 4 {
		return PackageIdent{}, &InvalidIdent{Input: s, Reason: "more than four components"}
	}
	var id PackageIdent
	id.Origin = parts[0]
	if len(parts) > 1 {
		id.Name = parts[1]
	}
	if len(parts) > 2 {
		id.Version = parts[2]
	}
	if len(parts) > 3 {
		id.Release = parts[3]
	}
	if !validComponent(id.Origin) {
		return PackageIdent{}, &InvalidIdent{Input: s, Reason: "empty or invalid origin"}
	}
	if !validComponent(id.Name) {
		return PackageIdent{}, &InvalidIdent{Input: s, Reason: "empty or invalid name"}
	}
	if id.Version != "" && !validComponent(id.Version) {
		return PackageIdent{}, &InvalidIdent{Input: s, Reason: "invalid version"}
	}
	if id.Release != "" {
		if !validComponent(id.Release) {
			return PackageIdent{}, &InvalidIdent{Input: s, Reason: "invalid release"}
		}
		if id.Version == "" {
			return PackageIdent{}, &InvalidIdent{Input: s, Reason: "release present without version"}
		}
	}
	return id, nil
}

// MustParse is Parse, panicking on error. Intended for tests and fixtures.
func MustParse(s string) PackageIdent {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String renders the ident back into "origin/name[/version[/release]]"
// form, omitting trailing empty components.
func (id PackageIdent) String() string {
	parts := []string{id.Origin, id.Name}
	if id.Version != "" {
		parts = append(parts, id.Version)
	}
	if id.Release != "" {
		parts = append(parts, id.Release)
	}
	return strings.Join(parts, "/")
}

// FullyQualified reports whether all four components are present.
func (id PackageIdent) FullyQualified() bool {
	return id.Origin != "" && id.Name != "" && id.Version != "" && id.Release != ""
}

// Short returns the (origin, name) short ident.
func (id PackageIdent) Short() PackageIdent {
	return PackageIdent{Origin: id.Origin, Name: id.Name}
}

// Versioned returns the (origin, name, version) ident, dropping any release.
func (id PackageIdent) Versioned() PackageIdent {
	return PackageIdent{Origin: id.Origin, Name: id.Name, Version: id.Version}
}

// IsShort reports whether id carries only origin and name.
func (id PackageIdent) IsShort() bool {
	return id.Version == "" && id.Release == ""
}

// versionSegments splits a version string on '.' into segments.
// compareSegment compares two segments numerically when both parse as
// integers and as plain strings otherwise.
func versionSegments(v string) []string {
	if v == "" {
		return nil
	}
	return strings.Split(v, ".")
}

func compareSegment(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	// Not both numeric: fall back to plain string comparison so dotted
	// identifiers with non-numeric segments (e.g. "1.2.0-rc1") still
	// order deterministically instead of panicking.
	return strings.Compare(a, b)
}

func compareVersion(a, b string) int {
	as, bs := versionSegments(a), versionSegments(b)
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		if av == bv {
			continue
		}
		if av == "" {
			return -1
		}
		if bv == "" {
			return 1
		}
		if c := compareSegment(av, bv); c != 0 {
			return c
		}
	}
	return 0
}

// compareRelease treats the release component as an ascending timestamp:
// numeric releases compare numerically, others fall back to string
// comparison (matching the spec's "treated as an ascending timestamp").
func compareRelease(a, b string) int {
	an, aerr := strconv.ParseInt(a, 10, 64)
	bn, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}

// Compare orders idents lexicographically on Origin, then Name, then
// Version (dotted numeric segments), then Release (ascending timestamp).
// It returns a negative number, zero, or a positive number as a < b, a ==
// b, or a > b.
func Compare(a, b PackageIdent) int {
	if c := strings.Compare(a.Origin, b.Origin); c != 0 {
		return c
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	if c := compareVersion(a.Version, b.Version); c != 0 {
		return c
	}
	return compareRelease(a.Release, b.Release)
}

// Less reports whether a sorts strictly before b.
func Less(a, b PackageIdent) bool {
	return Compare(a, b) < 0
}

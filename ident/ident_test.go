package ident

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse(t *testing.T) {
	for _, tt := range []struct {
		in      string
		want    PackageIdent
		wantErr bool
	}{
		{
			in:   "core/glibc",
			want: PackageIdent{Origin: "core", Name: "glibc"},
		},
		{
			in:   "core/glibc/2.27",
			want: PackageIdent{Origin: "core", Name: "glibc", Version: "2.27"},
		},
		{
			in:   "core/glibc/2.27/20230101120000",
			want: PackageIdent{Origin: "core", Name: "glibc", Version: "2.27", Release: "20230101120000"},
		},
		{
			in:      "/glibc",
			wantErr: true, // empty origin
		},
		{
			in:      "core/",
			wantErr: true, // empty name
		},
		{
			in:      "core/glibc/2.27/rel/extra",
			wantErr: true, // too many components
		},
		{
			in:      "core/glibc//20230101120000",
			wantErr: true, // release without version
		},
		{
			in:      "co re/glibc",
			wantErr: true, // disallowed character
		},
	} {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) succeeded, want error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q): unexpected error: %v", tt.in, err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestFullyQualified(t *testing.T) {
	full := MustParse("core/glibc/2.27/20230101120000")
	if !full.FullyQualified() {
		t.Errorf("%v.FullyQualified() = false, want true", full)
	}
	short := MustParse("core/glibc")
	if short.FullyQualified() {
		t.Errorf("%v.FullyQualified() = true, want false", short)
	}
}

func TestShortVersioned(t *testing.T) {
	full := MustParse("core/glibc/2.27/20230101120000")
	if got, want := full.Short(), MustParse("core/glibc"); got != want {
		t.Errorf("Short() = %v, want %v", got, want)
	}
	if got, want := full.Versioned(), MustParse("core/glibc/2.27"); got != want {
		t.Errorf("Versioned() = %v, want %v", got, want)
	}
}

func TestCompare(t *testing.T) {
	for _, tt := range []struct {
		a, b string
		want int
	}{
		{"core/glibc/2.27", "core/glibc/2.9", 1},    // dotted numeric: 27 > 9
		{"core/glibc/2.9", "core/glibc/2.27", -1},
		{"core/glibc/2.27", "core/glibc/2.27", 0},
		{"a/pkg", "b/pkg", -1},                       // origin dominates
		{"core/a", "core/b", -1},                     // name dominates over missing version
		{"core/glibc/1.0/2", "core/glibc/1.0/10", -1}, // release as ascending timestamp
	} {
		a, b := MustParse(tt.a), MustParse(tt.b)
		got := Compare(a, b)
		switch {
		case tt.want < 0 && got >= 0:
			t.Errorf("Compare(%s, %s) = %d, want negative", tt.a, tt.b, got)
		case tt.want > 0 && got <= 0:
			t.Errorf("Compare(%s, %s) = %d, want positive", tt.a, tt.b, got)
		case tt.want == 0 && got != 0:
			t.Errorf("Compare(%s, %s) = %d, want 0", tt.a, tt.b, got)
		}
	}
}

func TestInterner(t *testing.T) {
	in := NewInterner()
	a := in.Intern(MustParse("core/glibc"))
	b := in.Intern(MustParse("core/gcc"))
	aAgain := in.Intern(MustParse("core/glibc"))
	if a != aAgain {
		t.Errorf("re-interning core/glibc produced a different handle: %v != %v", a, aAgain)
	}
	if a == b {
		t.Errorf("distinct idents got the same handle %v", a)
	}
	got, ok := in.Lookup(a)
	if !ok {
		t.Fatalf("Lookup(%v) not found", a)
	}
	if want := MustParse("core/glibc"); got != want {
		t.Errorf("Lookup(%v) = %v, want %v", a, got, want)
	}
	if !in.Less(b, a) {
		t.Errorf("Less(gcc, glibc) = false, want true (gcc < glibc lexicographically)")
	}
}

package manifest

import "github.com/habitat-sh/builder-sub000/ident"

// Oracle classifies short idents as buildable or not: a package is
// unbuildable when it has no plan linkage or auto-build is disabled
// (spec.md §4.C). The manifest compiler never fails on an oracle
// result; unbuildable idents are recorded in the manifest's
// UnbuildableReasons map instead.
type Oracle interface {
	Filter(candidates []ident.PackageIdent, target ident.PackageTarget) []ident.PackageIdent
}

// OracleFunc adapts a plain function to the Oracle interface.
type OracleFunc func(candidates []ident.PackageIdent, target ident.PackageTarget) []ident.PackageIdent

func (f OracleFunc) Filter(candidates []ident.PackageIdent, target ident.PackageTarget) []ident.PackageIdent {
	return f(candidates, target)
}

// NoopOracle marks nothing as unbuildable.
var NoopOracle Oracle = OracleFunc(func([]ident.PackageIdent, ident.PackageTarget) []ident.PackageIdent {
	return nil
})

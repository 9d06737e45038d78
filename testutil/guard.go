// Package testutil provides reusable testing helpers for enforcing architectural
// boundaries across the repository: pure calculation packages stay free of
// storage drivers, and persistence adapters stay in their own tree.
package testutil

import (
	"go/parser"
	"go/token"
	"go/types"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// AssertNoTransitiveDependency shells out to `go list -deps` with the provided pattern
// (e.g. ./... or .) and fails the test if any dependency path satisfies the forbidden predicate.
// The reason string is appended to the failure for clarity.
func AssertNoTransitiveDependency(t testing.TB, pattern string, forbidden func(path string) bool, reason string) {
	t.Helper()
	viols, out, err := transitiveDependencyViolations(pattern, forbidden)
	if err != nil {
		t.Fatalf("go list failed: %v\n%s", err, string(out))
	}
	failIfTransitiveViolations(t, reason, viols)
}

// AssertNoDirectImports scans all non-test .go files in dir (typically "." from within the package)
// and fails if any import path satisfies the forbidden predicate. It does not follow build tags.
func AssertNoDirectImports(t testing.TB, dir string, forbidden func(importPath string) bool, reason string) {
	t.Helper()
	viols, err := directImportViolations(dir, forbidden)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	failIfDirectViolations(t, reason, viols)
}

// StorageImportForbidden matches storage drivers, cloud SDKs and the
// repository's own persistence and blob adapters.
func StorageImportForbidden(path string) bool {
	switch {
	case path == "database/sql":
		return true
	case strings.HasPrefix(path, "github.com/jackc/"),
		strings.HasPrefix(path, "github.com/aws/"),
		strings.HasPrefix(path, "modernc.org/"):
		return true
	}
	return InfraImportForbidden(path) ||
		strings.HasSuffix(path, "/internal/storage") ||
		strings.Contains(path, "/internal/blob")
}

// InfraImportForbidden matches any import of the infra adapter tree.
func InfraImportForbidden(path string) bool {
	return strings.Contains(path, "/internal/infra/") || strings.HasSuffix(path, "/internal/infra")
}

// SurfaceImportForbidden matches the CLI, metrics and logging stacks that
// only the outer layers may pull in.
func SurfaceImportForbidden(path string) bool {
	return strings.HasPrefix(path, "github.com/spf13/") ||
		strings.HasPrefix(path, "github.com/prometheus/") ||
		strings.HasPrefix(path, "github.com/rs/zerolog")
}

// LoadPackages loads pattern including test variants with types, failing the
// test on load errors.
func LoadPackages(t testing.TB, pattern string) []*packages.Package {
	t.Helper()
	cfg := &packages.Config{
		Mode:  packages.NeedName | packages.NeedImports | packages.NeedTypes,
		Tests: true,
	}
	pkgs, err := packages.Load(cfg, pattern)
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	if packages.PrintErrors(pkgs) > 0 {
		t.Fatalf("failed to load packages for %s", pattern)
	}
	return pkgs
}

// AssertImportBoundary fails when a package outside allowed imports a path
// starting with target. Test variants are matched on their base package path.
func AssertImportBoundary(t testing.TB, pkgs []*packages.Package, target string, allowed map[string]bool) {
	t.Helper()
	failIfDirectViolations(t, "imports of "+target+" outside "+allowedList(allowed), importBoundaryViolations(pkgs, target, allowed))
}

func importBoundaryViolations(pkgs []*packages.Package, target string, allowed map[string]bool) []string {
	seen := map[string]bool{}
	var viols []string
	for _, pkg := range pkgs {
		if pkg == nil || allowed[basePath(pkg.PkgPath)] {
			continue
		}
		for path := range pkg.Imports {
			if strings.HasPrefix(path, target) && !seen[pkg.PkgPath+" -> "+path] {
				seen[pkg.PkgPath+" -> "+path] = true
				viols = append(viols, pkg.PkgPath+" -> "+path)
			}
		}
	}
	sort.Strings(viols)
	return viols
}

// AssertImplementationsWithin fails when a named type implementing iface is
// declared outside the allowed packages.
func AssertImplementationsWithin(t testing.TB, pkgs []*packages.Package, iface *types.Interface, allowed map[string]bool) {
	t.Helper()
	viols := implementationViolations(pkgs, iface, allowed)
	if len(viols) > 0 {
		t.Fatalf("interface implemented outside %s:\n%s", allowedList(allowed), strings.Join(viols, "\n"))
	}
}

func implementationViolations(pkgs []*packages.Package, iface *types.Interface, allowed map[string]bool) []string {
	seen := map[string]bool{}
	var viols []string
	for _, pkg := range pkgs {
		if pkg == nil || pkg.Types == nil || allowed[basePath(pkg.PkgPath)] {
			continue
		}
		scope := pkg.Types.Scope()
		for _, name := range scope.Names() {
			tn, ok := scope.Lookup(name).(*types.TypeName)
			if !ok || tn.IsAlias() {
				continue
			}
			if _, isIface := tn.Type().Underlying().(*types.Interface); isIface {
				continue
			}
			if types.Implements(tn.Type(), iface) || types.Implements(types.NewPointer(tn.Type()), iface) {
				id := pkg.PkgPath + "." + name
				if !seen[id] {
					seen[id] = true
					viols = append(viols, id)
				}
			}
		}
	}
	sort.Strings(viols)
	return viols
}

// LookupInterface finds the named interface among pkgs.
func LookupInterface(t testing.TB, pkgs []*packages.Package, pkgPath, name string) *types.Interface {
	t.Helper()
	for _, pkg := range pkgs {
		if pkg == nil || pkg.PkgPath != pkgPath || pkg.Types == nil {
			continue
		}
		obj := pkg.Types.Scope().Lookup(name)
		if obj == nil {
			continue
		}
		if iface, ok := obj.Type().Underlying().(*types.Interface); ok {
			return iface
		}
	}
	t.Fatalf("interface %s.%s not found", pkgPath, name)
	return nil
}

// basePath strips the test variant suffixes packages.Load reports, e.g.
// "a/b [a/b.test]" and "a/b_test".
func basePath(path string) string {
	if i := strings.Index(path, " ["); i >= 0 {
		path = path[:i]
	}
	path = strings.TrimSuffix(path, ".test")
	return strings.TrimSuffix(path, "_test")
}

func allowedList(allowed map[string]bool) string {
	names := make([]string, 0, len(allowed))
	for k := range allowed {
		names = append(names, k)
	}
	sort.Strings(names)
	return "[" + strings.Join(names, ", ") + "]"
}

var goListDeps = func(pattern string) ([]byte, error) {
	cmd := exec.Command("go", "list", "-deps", pattern)
	return cmd.CombinedOutput()
}

func transitiveDependencyViolations(pattern string, forbidden func(path string) bool) ([]string, []byte, error) {
	out, err := goListDeps(pattern)
	if err != nil {
		return nil, out, err
	}
	var viols []string
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if forbidden(line) {
			viols = append(viols, line)
		}
	}
	return viols, out, nil
}

func directImportViolations(dir string, forbidden func(importPath string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	fset := token.NewFileSet()
	var viols []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".go") || strings.HasSuffix(name, "_test.go") {
			continue
		}
		path := filepath.Join(dir, name)
		fileAst, err := parser.ParseFile(fset, path, nil, parser.ImportsOnly)
		if err != nil {
			return nil, err
		}
		for _, imp := range fileAst.Imports {
			ip := strings.Trim(imp.Path.Value, "\"")
			if forbidden(ip) {
				viols = append(viols, ip+" (in "+name+")")
			}
		}
	}
	return viols, nil
}

type fatalLogger interface {
	Fatalf(format string, args ...any)
}

func failIfTransitiveViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden transitive dependency detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

func failIfDirectViolations(t fatalLogger, reason string, viols []string) {
	if len(viols) > 0 {
		t.Fatalf("forbidden direct imports detected (%s):\n%s", reason, strings.Join(viols, "\n"))
	}
}

package testutil

import (
	"fmt"
	"go/types"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

const testForbiddenImport = "some/forbidden/package"

type captureFatal struct{ msg string }

func (c *captureFatal) Fatalf(format string, args ...any) { c.msg = fmt.Sprintf(format, args...) }

func writeGo(t *testing.T, dir, name, src string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(src), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestStorageImportForbidden(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"database/sql", true},
		{"github.com/jackc/pgx/v5", true},
		{"github.com/aws/aws-sdk-go-v2/service/s3", true},
		{"modernc.org/sqlite", true},
		{"dosecore/internal/infra/persistence/memory", true},
		{"dosecore/internal/storage", true},
		{"dosecore/internal/blob/core", true},
		{"dosecore/internal/dosing", false},
		{"dosecore/pkg/domain", false},
		{"encoding/json", false},
		{"gopkg.in/yaml.v3", false},
	}
	for _, c := range cases {
		if got := StorageImportForbidden(c.in); got != c.want {
			t.Fatalf("StorageImportForbidden(%q)=%v want %v", c.in, got, c.want)
		}
	}
}

func TestInfraAndSurfacePredicates(t *testing.T) {
	infra := map[string]bool{
		"dosecore/internal/infra":               true,
		"dosecore/internal/infra/blob/s3":       true,
		"dosecore/internal/infrastructure-docs": false,
		"":                                      false,
	}
	for in, want := range infra {
		if got := InfraImportForbidden(in); got != want {
			t.Fatalf("InfraImportForbidden(%q)=%v want %v", in, got, want)
		}
	}
	surface := map[string]bool{
		"github.com/spf13/cobra":                         true,
		"github.com/prometheus/client_golang/prometheus": true,
		"github.com/rs/zerolog/log":                      true,
		"github.com/oklog/ulid/v2":                       false,
	}
	for in, want := range surface {
		if got := SurfaceImportForbidden(in); got != want {
			t.Fatalf("SurfaceImportForbidden(%q)=%v want %v", in, got, want)
		}
	}
}

func TestAssertNoDirectImportsIgnoresTestsAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "main.go", "package tmp\nimport \"fmt\"\nfunc X() { fmt.Println(1) }")
	writeGo(t, dir, "main_test.go", "package tmp\nimport \"testing\"\nimport \""+testForbiddenImport+"\"\nfunc TestX(t *testing.T) {}")
	writeGo(t, dir, "readme.txt", "import \""+testForbiddenImport+"\"")
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	writeGo(t, sub, "sub.go", "package sub\nimport \""+testForbiddenImport+"\"")

	AssertNoDirectImports(t, dir, func(p string) bool { return p == testForbiddenImport }, "ignored files")
	AssertNoDirectImports(t, t.TempDir(), func(string) bool { return true }, "empty dir")
}

func TestDirectImportViolationsReportsAliasedImports(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "x.go", "package tmp\nimport (\n\t\"os\"\n\talias \""+testForbiddenImport+"\"\n\t. \"io\"\n)\n")
	viols, err := directImportViolations(dir, func(p string) bool { return p == testForbiddenImport })
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(viols) != 1 || !strings.Contains(viols[0], "x.go") {
		t.Fatalf("unexpected violations %v", viols)
	}

	writeGo(t, dir, "broken.go", "package tmp\nimport (")
	if _, err := directImportViolations(dir, func(string) bool { return false }); err == nil {
		t.Fatalf("expected parse error")
	}
	if _, err := directImportViolations(filepath.Join(dir, "missing"), func(string) bool { return false }); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestFailHelpersFormatViolations(t *testing.T) {
	var c captureFatal
	failIfDirectViolations(&c, "reason", nil)
	failIfTransitiveViolations(&c, "reason", nil)
	if c.msg != "" {
		t.Fatalf("no violations must not fail: %q", c.msg)
	}
	failIfDirectViolations(&c, "pure", []string{"database/sql (in a.go)"})
	if !strings.Contains(c.msg, "forbidden direct imports detected (pure)") || !strings.Contains(c.msg, "a.go") {
		t.Fatalf("unexpected message %q", c.msg)
	}
	failIfTransitiveViolations(&c, "deps", []string{"modernc.org/sqlite"})
	if !strings.Contains(c.msg, "transitive") || !strings.Contains(c.msg, "modernc.org/sqlite") {
		t.Fatalf("unexpected message %q", c.msg)
	}
}

func TestTransitiveDependencyViolationsUsesGoList(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })
	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\n\ndosecore/pkg/domain\nmodernc.org/sqlite\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", StorageImportForbidden)
	if err != nil {
		t.Fatalf("violations: %v", err)
	}
	if len(viols) != 1 || viols[0] != "modernc.org/sqlite" {
		t.Fatalf("unexpected violations %v", viols)
	}

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), os.ErrNotExist }
	if _, out, err := transitiveDependencyViolations(".", StorageImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list error, got %v %q", err, out)
	}
}

func TestBasePathStripsTestVariants(t *testing.T) {
	cases := map[string]string{
		"dosecore/internal/core":                               "dosecore/internal/core",
		"dosecore/internal/core [dosecore/internal/core.test]": "dosecore/internal/core",
		"dosecore/internal/core_test":                          "dosecore/internal/core",
		"dosecore/internal/core.test":                          "dosecore/internal/core",
		"dosecore/internal/infra/persistence/storetest":        "dosecore/internal/infra/persistence/storetest",
	}
	for in, want := range cases {
		if got := basePath(in); got != want {
			t.Fatalf("basePath(%q)=%q want %q", in, got, want)
		}
	}
}

func TestImportBoundaryViolations(t *testing.T) {
	target := &packages.Package{PkgPath: "mod/internal/infra/blob/fs"}
	pkgs := []*packages.Package{
		{PkgPath: "mod/internal/blob", Imports: map[string]*packages.Package{target.PkgPath: target}},
		{PkgPath: "mod/internal/cli", Imports: map[string]*packages.Package{target.PkgPath: target}},
		{PkgPath: "mod/internal/cli [mod/internal/cli.test]", Imports: map[string]*packages.Package{target.PkgPath: target}},
		nil,
	}
	viols := importBoundaryViolations(pkgs, "mod/internal/infra/blob", map[string]bool{"mod/internal/blob": true})
	if len(viols) != 2 || !strings.HasPrefix(viols[0], "mod/internal/cli") {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestImplementationViolations(t *testing.T) {
	closer := types.NewInterfaceType([]*types.Func{
		types.NewFunc(0, nil, "Close", types.NewSignatureType(nil, nil, nil, nil,
			types.NewTuple(types.NewVar(0, nil, "", types.Universe.Lookup("error").Type())), false)),
	}, nil).Complete()

	build := func(path string) *packages.Package {
		pkg := types.NewPackage(path, "p")
		tn := types.NewTypeName(0, pkg, "Store", nil)
		named := types.NewNamed(tn, types.NewStruct(nil, nil), nil)
		named.AddMethod(types.NewFunc(0, pkg, "Close", types.NewSignatureType(
			types.NewVar(0, pkg, "s", types.NewPointer(named)), nil, nil, nil,
			types.NewTuple(types.NewVar(0, nil, "", types.Universe.Lookup("error").Type())), false)))
		pkg.Scope().Insert(tn)
		pkg.Scope().Insert(types.NewTypeName(0, pkg, "Closer", closer))
		return &packages.Package{PkgPath: path, Types: pkg}
	}

	pkgs := []*packages.Package{build("mod/allowed"), build("mod/rogue"), {PkgPath: "mod/untyped"}}
	viols := implementationViolations(pkgs, closer, map[string]bool{"mod/allowed": true})
	if len(viols) != 1 || viols[0] != "mod/rogue.Store" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestAllowedList(t *testing.T) {
	if got := allowedList(map[string]bool{"b": true, "a": true}); got != "[a, b]" {
		t.Fatalf("allowedList = %q", got)
	}
}

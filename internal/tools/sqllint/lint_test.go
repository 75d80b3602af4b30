package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintFlagsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	a := writeGo(t, dir, "a.go", "package q\n\nconst QOne = `--sql 11111111-2222-4333-8444-555555555555\nselect 1;\n`\n\nconst QBare = `select 2;`\n")
	b := writeGo(t, dir, "b.go", "package q\n\nconst QTwo = `--sql 11111111-2222-4333-8444-555555555555\ncreate table t (id int);\n`\n\nconst Label = \"not a query\"\n")

	vs, err := lint([]string{a, b})
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(vs) != 2 {
		t.Fatalf("violations = %v, want 2", vs)
	}
	if vs[0].name != "QBare" || !strings.Contains(vs[0].message, "missing") {
		t.Fatalf("first = %v", vs[0])
	}
	if vs[1].name != "QTwo" || !strings.Contains(vs[1].message, "QOne") {
		t.Fatalf("second = %v", vs[1])
	}
}

func TestShippedQueriesAreClean(t *testing.T) {
	files, err := goFiles(filepath.Join("..", "..", "sqlinline"))
	if err != nil {
		t.Fatalf("goFiles: %v", err)
	}
	if len(files) == 0 {
		t.Fatalf("no query files found")
	}
	vs, err := lint(files)
	if err != nil {
		t.Fatalf("lint: %v", err)
	}
	if len(vs) != 0 {
		t.Fatalf("violations = %v", vs)
	}
}

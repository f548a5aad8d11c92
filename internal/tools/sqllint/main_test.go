package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sample = "package q\n\n" +
	"const QGood = `--sql 3c1f6a2e-5d84-4b7a-9e21-0f6d2b7c8a41\nselect 1;\n`\n\n" +
	"const QDup = `--sql 3c1f6a2e-5d84-4b7a-9e21-0f6d2b7c8a41\nupdate t set a = 1;\n`\n\n" +
	"const QBare = `\ndelete from t;\n`\n\n" +
	"const Prose = \"please select a scene\"\n"

func TestCheckFindsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "q.go"), []byte(sample), 0o600); err != nil {
		t.Fatal(err)
	}
	queries, err := collect(dir)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(queries) != 3 {
		t.Fatalf("expected 3 queries, got %d", len(queries))
	}
	violations := check(queries)
	if len(violations) != 2 {
		t.Fatalf("expected 2 violations, got %v", violations)
	}
	if violations[0].name != "QDup" || !strings.Contains(violations[0].message, "QGood") {
		t.Fatalf("unexpected duplicate report: %v", violations[0])
	}
	if violations[1].name != "QBare" {
		t.Fatalf("unexpected missing report: %v", violations[1])
	}
}

func TestRepositoryQueriesPass(t *testing.T) {
	queries, err := collect(filepath.Join("..", "..", "sqlinline"))
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(queries) == 0 {
		t.Fatal("expected queries in sqlinline")
	}
	if v := check(queries); len(v) != 0 {
		t.Fatalf("unexpected violations: %v", v)
	}
}

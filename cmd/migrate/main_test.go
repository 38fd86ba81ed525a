package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	script := `-- +migrate Up
CREATE TABLE lessons (
    id text PRIMARY KEY,
    title text NOT NULL
);
-- index for lookups
CREATE INDEX lessons_title ON lessons (title);
SELECT 1`
	stmts := splitStatements(script)
	if len(stmts) != 3 {
		t.Fatalf("expected 3 statements, got %d: %q", len(stmts), stmts)
	}
	if !strings.HasPrefix(stmts[0], "CREATE TABLE lessons") || !strings.HasSuffix(stmts[0], ");") {
		t.Fatalf("unexpected first statement: %q", stmts[0])
	}
	if stmts[2] != "SELECT 1" {
		t.Fatalf("expected trailing statement without semicolon, got %q", stmts[2])
	}
}

func TestReadMigrationSplitsDirections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0001_test.sql")
	content := "-- +migrate Up\nCREATE TABLE a (id int);\n-- +migrate Down\nDROP TABLE a;\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	upSQL, downSQL, err := readMigration(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := splitStatements(upSQL); len(got) != 1 || got[0] != "CREATE TABLE a (id int);" {
		t.Fatalf("unexpected up statements: %q", got)
	}
	if got := splitStatements(downSQL); len(got) != 1 || got[0] != "DROP TABLE a;" {
		t.Fatalf("unexpected down statements: %q", got)
	}
}

func TestShippedMigrationHasBothDirections(t *testing.T) {
	upSQL, downSQL, err := readMigration(filepath.Join("..", "..", "migrations", "0001_billing.sql"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(upSQL, "CREATE TABLE IF NOT EXISTS student_instructor_accounts") {
		t.Fatalf("up section is missing the accounts table")
	}
	if !strings.Contains(upSQL, "CREATE UNIQUE INDEX IF NOT EXISTS invoices_external_reference") {
		t.Fatalf("up section is missing the unique payment reference index")
	}
	if strings.Contains(upSQL, "CHECK (prepaid_flight_hours") || strings.Contains(upSQL, "CHECK (prepaid_ground_hours") {
		t.Fatalf("hour buckets must accept negative values left by session adjustments")
	}
	if !strings.Contains(downSQL, "DROP TABLE IF EXISTS student_instructor_accounts") {
		t.Fatalf("down section is missing the accounts table")
	}
}

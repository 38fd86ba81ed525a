package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"flightledger/internal/config"
	"flightledger/internal/db"

	"github.com/jmoiron/sqlx"
)

const downMarker = "-- +migrate Down"

// usage: migrate [up|down|status]
func main() {
	command := "up"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	database, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer database.Close()

	if _, err := database.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (filename text primary key, applied_at timestamptz default now())`); err != nil {
		log.Fatalf("failed to ensure schema_migrations: %v", err)
	}
	files, err := filepath.Glob("migrations/*.sql")
	if err != nil {
		log.Fatalf("failed to read migrations: %v", err)
	}
	sort.Strings(files)
	var applied []string
	if err := database.SelectContext(ctx, &applied, `SELECT filename FROM schema_migrations ORDER BY filename`); err != nil {
		log.Fatalf("failed to read migration state: %v", err)
	}

	switch command {
	case "up":
		err = up(ctx, database, files, applied)
	case "down":
		err = down(ctx, database, applied)
	case "status":
		status(files, applied)
	default:
		err = fmt.Errorf("unknown command %q", command)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func up(ctx context.Context, database *sqlx.DB, files, applied []string) error {
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	for _, file := range files {
		name := filepath.Base(file)
		if done[name] {
			continue
		}
		upSQL, _, err := readMigration(file)
		if err != nil {
			return err
		}
		err = db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
			if err := execAll(ctx, tx, upSQL); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (filename) VALUES ($1)`, name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
		fmt.Printf("applied %s\n", name)
	}
	return nil
}

// down reverts the most recently applied migration.
func down(ctx context.Context, database *sqlx.DB, applied []string) error {
	if len(applied) == 0 {
		fmt.Println("nothing to revert")
		return nil
	}
	name := applied[len(applied)-1]
	_, downSQL, err := readMigration(filepath.Join("migrations", name))
	if err != nil {
		return err
	}
	err = db.WithTx(ctx, database, func(tx *sqlx.Tx) error {
		if err := execAll(ctx, tx, downSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE filename = $1`, name)
		return err
	})
	if err != nil {
		return fmt.Errorf("revert %s: %w", name, err)
	}
	fmt.Printf("reverted %s\n", name)
	return nil
}

func status(files, applied []string) {
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	for _, file := range files {
		name := filepath.Base(file)
		state := "pending"
		if done[name] {
			state = "applied"
		}
		fmt.Printf("%-8s %s\n", state, name)
	}
}

func readMigration(path string) (upSQL, downSQL string, err error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", "", err
	}
	upSQL, downSQL, _ = strings.Cut(string(content), downMarker)
	return upSQL, downSQL, nil
}

func execAll(ctx context.Context, tx *sqlx.Tx, script string) error {
	for _, stmt := range splitStatements(script) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%w\n%s", err, stmt)
		}
	}
	return nil
}

// splitStatements cuts a script on lines ending a statement with ";".
// Comment lines are dropped.
func splitStatements(script string) []string {
	var statements []string
	var current strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(script))
	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		current.WriteString(line)
		current.WriteRune('\n')
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			if stmt := strings.TrimSpace(current.String()); stmt != "" {
				statements = append(statements, stmt)
			}
			current.Reset()
		}
	}
	if stmt := strings.TrimSpace(current.String()); stmt != "" {
		statements = append(statements, stmt)
	}
	return statements
}

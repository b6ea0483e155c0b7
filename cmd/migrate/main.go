package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/bookstore/internal/storage/postgres"
)

const runTimeout = 30 * time.Second

func main() {
	if err := run(context.Background(), os.Stdout, os.Args[1:]); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run разбирает `migrate [flags] up|down|status` и выполняет команду.
// Без команды печатает текущий статус миграций.
func run(ctx context.Context, out io.Writer, args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	steps := fs.Int("steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	dsn := fs.String("dsn", "", "PostgreSQL DSN (fallback: BOOKSTORE_POSTGRES_DSN)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	connString := strings.TrimSpace(*dsn)
	if connString == "" {
		connString = strings.TrimSpace(os.Getenv("BOOKSTORE_POSTGRES_DSN"))
	}
	if connString == "" {
		return fmt.Errorf("BOOKSTORE_POSTGRES_DSN (or -dsn) is required")
	}

	command := strings.ToLower(strings.TrimSpace(fs.Arg(0)))
	if command == "" {
		command = "status"
	}

	ctx, cancel := context.WithTimeout(ctx, runTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, connString)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	switch command {
	case "up":
		if err := store.MigrateUp(ctx, *steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		return reportStatus(ctx, out, store, "migrate up ok")
	case "down":
		downSteps := *steps
		if downSteps <= 0 {
			downSteps = 1
		}
		if err := store.MigrateDown(ctx, downSteps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		return reportStatus(ctx, out, store, "migrate down ok")
	case "status":
		return reportStatus(ctx, out, store, "migration status")
	default:
		return fmt.Errorf("unknown command %q (use up|down|status)", command)
	}
}

func reportStatus(ctx context.Context, out io.Writer, store *postgres.Store, label string) error {
	version, count, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d\n", label, version, count)
	return nil
}

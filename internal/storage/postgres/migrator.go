package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

//go:embed sql/migrations/*.sql
var migrationsFS embed.FS

// Advisory lock, под которым конкурентные экземпляры сервиса
// не применяют миграции одновременно.
const schemaLockKey = int64(73219408)

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

var scriptNamePattern = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// migrationScript — пара up/down скриптов одной версии схемы.
type migrationScript struct {
	version int64
	name    string
	up      string
	down    string
}

func (m migrationScript) label() string {
	return fmt.Sprintf("%d_%s", m.version, m.name)
}

// MigrateUp применяет up-миграции.
// steps=0 означает "применить все доступные".
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.runMigrations(ctx, func(ctx context.Context, m *migrator) error {
		return m.up(ctx, steps)
	})
}

// MigrateDown откатывает миграции.
// steps<=0 интерпретируется как 1 шаг для безопасного поведения.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.runMigrations(ctx, func(ctx context.Context, m *migrator) error {
		return m.down(ctx, steps)
	})
}

// MigrationStatus возвращает текущую версию схемы и количество применённых миграций.
func (s *Store) MigrationStatus(ctx context.Context) (version int64, applied int, err error) {
	if s == nil || s.db == nil {
		return 0, 0, fmt.Errorf("postgres store is not initialized")
	}

	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, createVersionTable); err != nil {
		return 0, 0, fmt.Errorf("ensure migration table: %w", err)
	}
	row := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`)
	if err := row.Scan(&version, &applied); err != nil {
		return 0, 0, fmt.Errorf("query migration status: %w", err)
	}
	return version, applied, nil
}

// runMigrations выделяет соединение, берёт advisory lock и передаёт
// управление конкретному направлению миграции.
func (s *Store) runMigrations(ctx context.Context, fn func(context.Context, *migrator) error) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	scripts, err := readMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, "SELECT pg_advisory_lock($1)", schemaLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", schemaLockKey)
	}()

	if _, err := conn.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	return fn(ctx, &migrator{conn: conn, scripts: scripts})
}

type migrator struct {
	conn    *sql.Conn
	scripts []migrationScript
}

func (m *migrator) up(ctx context.Context, steps int) error {
	applied, err := m.appliedVersions(ctx)
	if err != nil {
		return err
	}

	done := 0
	for _, script := range m.scripts {
		if applied[script.version] {
			continue
		}
		if err := m.execOne(ctx, script, false); err != nil {
			return err
		}
		done++
		if steps > 0 && done >= steps {
			break
		}
	}
	return nil
}

func (m *migrator) down(ctx context.Context, steps int) error {
	byVersion := make(map[int64]migrationScript, len(m.scripts))
	for _, script := range m.scripts {
		byVersion[script.version] = script
	}

	rows, err := m.conn.QueryContext(ctx,
		`SELECT version FROM schema_migrations ORDER BY version DESC LIMIT $1`, steps)
	if err != nil {
		return fmt.Errorf("query migrations to rollback: %w", err)
	}
	defer rows.Close()

	var rollback []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		rollback = append(rollback, version)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate migrations to rollback: %w", err)
	}

	for _, version := range rollback {
		script, ok := byVersion[version]
		if !ok {
			return fmt.Errorf("cannot rollback unknown migration version %d", version)
		}
		if err := m.execOne(ctx, script, true); err != nil {
			return err
		}
	}
	return nil
}

func (m *migrator) appliedVersions(ctx context.Context) (map[int64]bool, error) {
	rows, err := m.conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// execOne выполняет скрипт и запись в schema_migrations одной транзакцией.
func (m *migrator) execOne(ctx context.Context, script migrationScript, rollback bool) error {
	tx, err := m.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", script.label(), err)
	}

	body := script.up
	if rollback {
		body = script.down
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute migration %s: %w", script.label(), err)
	}

	if rollback {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, script.version)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
			script.version, script.name)
	}
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", script.label(), err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", script.label(), err)
	}
	return nil
}

// readMigrations разбирает embedded-каталог sql/migrations на пары
// <version>_<name>.up.sql / .down.sql.
func readMigrations(fsys fs.FS) ([]migrationScript, error) {
	files, err := fs.Glob(fsys, "sql/migrations/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migrationScript)
	for _, file := range files {
		base := path.Base(file)
		parts := scriptNamePattern.FindStringSubmatch(base)
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", file, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		script := byVersion[version]
		if script == nil {
			script = &migrationScript{version: version, name: parts[2]}
			byVersion[version] = script
		} else if script.name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s",
				version, script.name, parts[2])
		}

		switch parts[3] {
		case "up":
			if script.up != "" {
				return nil, fmt.Errorf("duplicate up migration for version %d", version)
			}
			script.up = body
		case "down":
			if script.down != "" {
				return nil, fmt.Errorf("duplicate down migration for version %d", version)
			}
			script.down = body
		}
	}

	scripts := make([]migrationScript, 0, len(byVersion))
	for _, script := range byVersion {
		if script.up == "" || script.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", script.label())
		}
		scripts = append(scripts, *script)
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].version < scripts[j].version })

	return scripts, nil
}

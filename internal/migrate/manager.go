// Package migrate applies filesystem-held SQL migrations and seeds with
// bookkeeping tables, so cmd/migrate stays a thin wrapper.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	defaultMigrationsTable = "schema_migrations"
	defaultSeedsTable      = "schema_seeds"
)

// Manager executes SQL migration and seed files stored on disk.
type Manager struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

// NewManager constructs a Manager over the given directories.
func NewManager(db *sql.DB, migrationsDir, seedsDir string) *Manager {
	return &Manager{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies all pending *.up.sql migrations in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, defaultMigrationsTable, m.migrationsDir, ".up.sql")
}

// Down rolls back the most recently applied migration.
func (m *Manager) Down(ctx context.Context) error {
	if err := m.ensureTable(ctx, defaultMigrationsTable); err != nil {
		return err
	}
	applied, err := m.applied(ctx, defaultMigrationsTable)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	downPath := strings.TrimSuffix(filepath.Join(m.migrationsDir, last), ".up.sql") + ".down.sql"
	if _, err := os.Stat(downPath); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	if err := m.execFile(ctx, downPath); err != nil {
		return fmt.Errorf("rollback %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, defaultMigrationsTable), last)
	return err
}

// Seed applies *.sql seed files idempotently.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, defaultSeedsTable, m.seedsDir, ".sql")
}

// Status returns applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx, defaultMigrationsTable); err != nil {
		return nil, err
	}
	return m.applied(ctx, defaultMigrationsTable)
}

func (m *Manager) applyPending(ctx context.Context, table, dir, suffix string) error {
	if err := m.ensureTable(ctx, table); err != nil {
		return err
	}
	applied, err := m.applied(ctx, table)
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	files, err := collectSQL(dir, suffix)
	if err != nil {
		return err
	}
	for _, f := range files {
		if done[f.base] {
			continue
		}
		if err := m.execFile(ctx, f.path); err != nil {
			return fmt.Errorf("apply %s: %w", f.base, err)
		}
		if _, err := m.db.ExecContext(ctx,
			fmt.Sprintf(`insert into %s(name) values ($1)`, table), f.base); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) ensureTable(ctx context.Context, table string) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`
		create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table))
	return err
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at asc, name asc`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// execFile runs every statement of one file inside a single transaction.
func (m *Manager) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type sqlFile struct {
	base string
	path string
}

func collectSQL(dir, suffix string) ([]sqlFile, error) {
	if dir == "" {
		return nil, nil
	}
	var files []sqlFile
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		files = append(files, sqlFile{base: d.Name(), path: path})
		return nil
	})
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].base < files[j].base })
	return files, nil
}

// splitStatements splits on top-level semicolons while respecting
// dollar-quoted bodies ($tag$ ... $tag$), single-quoted strings and line
// comments, so trigger functions survive intact.
func splitStatements(script string) []string {
	var (
		stmts   []string
		current strings.Builder
		dollar  string // active dollar-quote tag, empty when outside
		quoted  bool   // inside a single-quoted literal
		comment bool   // inside a -- line comment
	)
	for i := 0; i < len(script); i++ {
		c := script[i]
		current.WriteByte(c)

		if comment {
			if c == '\n' {
				comment = false
			}
			continue
		}
		if quoted {
			if c == '\'' {
				quoted = false
			}
			continue
		}
		if dollar != "" {
			if c == '$' && strings.HasSuffix(current.String(), dollar) {
				dollar = ""
			}
			continue
		}

		switch c {
		case '\'':
			quoted = true
		case '-':
			if i+1 < len(script) && script[i+1] == '-' {
				comment = true
			}
		case '$':
			if tag, ok := dollarTag(script[i:]); ok {
				dollar = tag
				current.WriteString(tag[1:])
				i += len(tag) - 1
			}
		case ';':
			stmt := strings.TrimSpace(current.String())
			if stmt != "" && stmt != ";" {
				stmts = append(stmts, stmt)
			}
			current.Reset()
		}
	}
	if tail := strings.TrimSpace(current.String()); tail != "" {
		stmts = append(stmts, tail)
	}
	return stmts
}

// dollarTag reads a $tag$ opener at the start of s.
func dollarTag(s string) (string, bool) {
	if len(s) < 2 || s[0] != '$' {
		return "", false
	}
	end := strings.IndexByte(s[1:], '$')
	if end < 0 {
		return "", false
	}
	tag := s[:end+2]
	for _, r := range tag[1 : len(tag)-1] {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "", false
		}
	}
	return tag, true
}

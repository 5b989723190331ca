package migrate

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"clientdesk.org/internal/obs"
)

const (
	defaultTable = "schema_migrations"
	upSuffix     = ".up.sql"
	downSuffix   = ".down.sql"
)

var (
	ErrNothingApplied = errors.New("migrate: no migrations applied")
	ErrMissingDown    = errors.New("migrate: missing down migration")
)

//go:embed sql/*.sql
var embedded embed.FS

// Files returns the schema migrations shipped with the service.
func Files() fs.FS {
	sub, err := fs.Sub(embedded, "sql")
	if err != nil {
		panic(err)
	}
	return sub
}

// Manager applies <version>_<name>.up.sql files from an fs.FS in lexical order and records
// them in a bookkeeping table. Every file runs in its own transaction.
type Manager struct {
	db    *sql.DB
	files fs.FS
	table string
	log   *logrus.Entry
	now   func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithTable overrides the bookkeeping table.
func WithTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.table = name
		}
	}
}

// WithClock overrides the time recorded for applied migrations.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager returns a Manager reading migrations from files, Files() when nil.
func NewManager(db *sql.DB, files fs.FS, opts ...Option) *Manager {
	if files == nil {
		files = Files()
	}
	m := &Manager{
		db:    db,
		files: files,
		table: defaultTable,
		log:   obs.Logger().WithField("component", "migrate"),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies pending migrations and returns their names.
func (m *Manager) Up(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	applied, err := m.history(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[string]bool, len(applied))
	for _, name := range applied {
		done[name] = true
	}
	names, err := m.pending(upSuffix)
	if err != nil {
		return nil, err
	}
	var ran []string
	for _, name := range names {
		if done[name] {
			continue
		}
		if err := m.apply(ctx, name, func(tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx,
				fmt.Sprintf(`insert into %s (name, applied_at) values ($1, $2)`, m.table),
				name, m.now().UTC())
			return err
		}); err != nil {
			return ran, fmt.Errorf("apply migration %s: %w", name, err)
		}
		m.log.WithField("migration", name).Info("migration applied")
		ran = append(ran, name)
	}
	return ran, nil
}

// Down rolls back the most recently applied migration and returns its name.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return "", err
	}
	applied, err := m.history(ctx)
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", ErrNothingApplied
	}
	last := applied[len(applied)-1]
	down := strings.TrimSuffix(last, upSuffix) + downSuffix
	if _, err := fs.Stat(m.files, down); err != nil {
		return "", fmt.Errorf("%w: %s", ErrMissingDown, last)
	}
	if err := m.apply(ctx, down, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`delete from %s where name = $1`, m.table), last)
		return err
	}); err != nil {
		return "", fmt.Errorf("rollback migration %s: %w", last, err)
	}
	m.log.WithField("migration", last).Info("migration rolled back")
	return last, nil
}

// Status returns applied migrations in order.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}
	return m.history(ctx)
}

func (m *Manager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, fmt.Sprintf(`create table if not exists %s (
		name text primary key,
		applied_at timestamptz not null default now()
	)`, m.table))
	if err != nil {
		return fmt.Errorf("ensure %s: %w", m.table, err)
	}
	return nil
}

// apply runs one file and the bookkeeping statement in a single transaction.
func (m *Manager) apply(ctx context.Context, name string, record func(*sql.Tx) error) error {
	body, err := fs.ReadFile(m.files, name)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) history(ctx context.Context) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by name asc`, m.table))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.table, err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (m *Manager) pending(suffix string) ([]string, error) {
	entries, err := fs.ReadDir(m.files, ".")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements splits SQL on semicolons outside quoted strings and drops line comments.
func splitStatements(src string) []string {
	var (
		stmts    []string
		current  strings.Builder
		inString bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}
	for _, line := range strings.Split(src, "\n") {
		if !inString && strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		for _, r := range line {
			switch {
			case r == '\'':
				inString = !inString
				current.WriteRune(r)
			case r == ';' && !inString:
				flush()
			default:
				current.WriteRune(r)
			}
		}
		current.WriteByte('\n')
	}
	flush()
	return stmts
}

package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/kalambet/deskconf/internal/tree"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DBFile is the database file name inside the data directory.
const DBFile = "deskconf.db"

// timeLayout is fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store wraps a SQLite database holding settings documents, one per scope.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, DBFile)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// A single connection keeps ":memory:" databases shared and avoids
	// "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Scopes ---

// GetScope returns the stored document for scope, or ErrNotFound.
func (s *Store) GetScope(ctx context.Context, scope string) (Scope, error) {
	var (
		sc        Scope
		doc       string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT scope, document, revision, updated_at FROM settings_scopes WHERE scope = ?`, scope,
	).Scan(&sc.Name, &doc, &sc.Revision, &updatedAt)
	if err == sql.ErrNoRows {
		return Scope{}, ErrNotFound
	}
	if err != nil {
		return Scope{}, err
	}
	return finishScope(sc, doc, updatedAt)
}

// ListScopes returns every stored scope ordered by name.
func (s *Store) ListScopes(ctx context.Context) ([]Scope, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scope, document, revision, updated_at FROM settings_scopes ORDER BY scope ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Scope
	for rows.Next() {
		var (
			sc             Scope
			doc, updatedAt string
		)
		if err := rows.Scan(&sc.Name, &doc, &sc.Revision, &updatedAt); err != nil {
			return nil, err
		}
		sc, err := finishScope(sc, doc, updatedAt)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// PutScopes replaces the documents of the given scopes in one transaction
// and records each new revision in the history.
func (s *Store) PutScopes(ctx context.Context, docs map[string]tree.Tree) error {
	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Format(timeLayout)
	for _, name := range names {
		doc := docs[name]
		if doc == nil {
			doc = tree.Tree{}
		}
		data, err := json.Marshal(doc)
		if err != nil {
			return fmt.Errorf("encoding scope %s: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO settings_scopes (scope, document, revision, updated_at) VALUES (?, ?, 1, ?)
			ON CONFLICT(scope) DO UPDATE SET
				document = excluded.document,
				revision = settings_scopes.revision + 1,
				updated_at = excluded.updated_at`,
			name, string(data), now,
		); err != nil {
			return fmt.Errorf("writing scope %s: %w", name, err)
		}

		var revision int
		if err := tx.QueryRowContext(ctx, `SELECT revision FROM settings_scopes WHERE scope = ?`, name).Scan(&revision); err != nil {
			return fmt.Errorf("reading revision of %s: %w", name, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO settings_history (id, scope, revision, document, saved_at) VALUES (?, ?, ?, ?, ?)`,
			uuid.New().String(), name, revision, string(data), now,
		); err != nil {
			return fmt.Errorf("recording history of %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing scopes: %w", err)
	}
	return nil
}

// DeleteScope removes a scope's document. Its history is kept.
func (s *Store) DeleteScope(ctx context.Context, scope string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM settings_scopes WHERE scope = ?`, scope)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListHistory returns saved revisions, newest first. An empty scope lists
// all scopes.
func (s *Store) ListHistory(ctx context.Context, scope string, limit int) ([]Revision, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, scope, revision, document, saved_at FROM settings_history`
	args := []any{}
	if scope != "" {
		query += ` WHERE scope = ?`
		args = append(args, scope)
	}
	query += ` ORDER BY saved_at DESC, revision DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Revision
	for rows.Next() {
		var (
			r            Revision
			doc, savedAt string
		)
		if err := rows.Scan(&r.ID, &r.Scope, &r.Revision, &doc, &savedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(doc), &r.Document); err != nil {
			return nil, fmt.Errorf("decoding revision %s: %w", r.ID, err)
		}
		t, err := time.Parse(time.RFC3339Nano, savedAt)
		if err != nil {
			return nil, fmt.Errorf("parsing saved_at: %w", err)
		}
		r.SavedAt = t
		out = append(out, r)
	}
	return out, rows.Err()
}

func finishScope(sc Scope, doc, updatedAt string) (Scope, error) {
	if err := json.Unmarshal([]byte(doc), &sc.Document); err != nil {
		return Scope{}, fmt.Errorf("decoding scope %s: %w", sc.Name, err)
	}
	if sc.Document == nil {
		sc.Document = tree.Tree{}
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Scope{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	sc.UpdatedAt = t
	return sc, nil
}

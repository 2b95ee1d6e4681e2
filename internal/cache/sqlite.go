package cache

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// DBName is the database file SQLiteBridge keeps in each cache directory.
const DBName = "bundle-cache.db"

// Schema version tracking:
// 0 - no database
// 1 - graphs table with seq index
const currentSchemaVersion = 1

// SQLiteBridge stores graphs in a SQLite database per cache directory.
// Databases are opened on first use and kept until Close.
type SQLiteBridge struct {
	mu  sync.Mutex
	dbs map[string]*sql.DB
}

// NewSQLiteBridge returns an SQLiteBridge with no open databases.
func NewSQLiteBridge() *SQLiteBridge {
	return &SQLiteBridge{dbs: make(map[string]*sql.DB)}
}

// db returns the database for dir. With create=false a missing database
// yields (nil, nil).
func (b *SQLiteBridge) db(dir string, create bool) (*sql.DB, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if db, ok := b.dbs[abs]; ok {
		return db, nil
	}

	path := filepath.Join(abs, DBName)
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if !create {
			return nil, nil
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}
	b.dbs[abs] = db
	return db, nil
}

// openDB opens path and brings its schema up to date.
//
// The database is configured with:
//   - WAL mode so readers never block the writer
//   - NORMAL synchronous mode
//   - 5-second busy timeout for processes sharing the cache
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite has one writer; a single connection serializes our writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(db)
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version < 1 {
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_graphs_seq ON graphs(seq)`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// Load implements Bridge.
func (b *SQLiteBridge) Load(ctx context.Context, dir, key string) ([]byte, bool, error) {
	db, err := b.db(dir, false)
	if err != nil || db == nil {
		return nil, false, err
	}
	var graph string
	err = db.QueryRowContext(ctx, `SELECT graph FROM graphs WHERE cache_key = ?`, key).Scan(&graph)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("load cache entry: %w", err)
	}
	return []byte(graph), true, nil
}

// Save implements Bridge. Each save takes the next write sequence number.
func (b *SQLiteBridge) Save(ctx context.Context, dir, key string, data []byte) error {
	db, err := b.db(dir, true)
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, `
		INSERT INTO graphs (cache_key, graph, size, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM graphs))
		ON CONFLICT(cache_key) DO UPDATE SET
			graph = excluded.graph,
			size = excluded.size,
			seq = excluded.seq
	`, key, string(data), len(data))
	if err != nil {
		return fmt.Errorf("save cache entry: %w", err)
	}
	return nil
}

// List implements Maintainer. Entries are ordered by write sequence.
func (b *SQLiteBridge) List(ctx context.Context, dir string) ([]Entry, error) {
	db, err := b.db(dir, false)
	if err != nil || db == nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT cache_key, size, seq FROM graphs ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Size, &e.Seq); err != nil {
			return nil, fmt.Errorf("list cache: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list cache: %w", err)
	}
	return entries, nil
}

// Clear implements Maintainer.
func (b *SQLiteBridge) Clear(ctx context.Context, dir string) (int, error) {
	db, err := b.db(dir, false)
	if err != nil || db == nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM graphs`)
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clear cache: %w", err)
	}
	return int(n), nil
}

// Close closes every open database.
func (b *SQLiteBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var errs []error
	for dir, db := range b.dbs {
		errs = append(errs, db.Close())
		delete(b.dbs, dir)
	}
	return errors.Join(errs...)
}

// verifyPragma checks that a pragma of dir's database has the expected
// value. Used for testing.
func (b *SQLiteBridge) verifyPragma(dir, name, expected string) error {
	db, err := b.db(dir, false)
	if err != nil {
		return err
	}
	if db == nil {
		return fmt.Errorf("no database in %s", dir)
	}
	var value string
	if err := db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

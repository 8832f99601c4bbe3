// Package sqlitestore persists analysis results in a SQLite database
// so that unchanged files aren't re-parsed across process restarts.
package sqlitestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/romshark/intlbuild/internal/analyzer"
)

// FileName is the name of the database file in the cache directory.
const FileName = "analysis.db"

// Store implements analyzer.Store using SQLite in WAL mode.
type Store struct {
	db   *sql.DB
	path string
}

var _ analyzer.Store = new(Store)

// Open creates or opens the database at dbPath.
func Open(dbPath string) (*Store, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, errors.New("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: dbPath}
	if err := s.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS results (
		key        TEXT PRIMARY KEY,
		result     TEXT NOT NULL,
		created_at TEXT NOT NULL
	);`)
	return err
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, key string) (*analyzer.Result, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM results WHERE key = ?`, key,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("querying result: %w", err)
	}
	r := new(analyzer.Result)
	if err := json.Unmarshal([]byte(raw), r); err != nil {
		return nil, false, fmt.Errorf("decoding result: %w", err)
	}
	return r, true, nil
}

func (s *Store) Put(ctx context.Context, key string, r *analyzer.Result) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO results (key, result, created_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET result = excluded.result`,
		key, string(raw), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("storing result: %w", err)
	}
	return nil
}

// Prune removes results stored before t and returns their number.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM results WHERE created_at < ?`,
		before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("pruning results: %w", err)
	}
	return res.RowsAffected()
}

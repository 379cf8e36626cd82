// Package sqlitestore implements the remote document store on a SQLite
// database. Documents are stored as JSON and queried with json_extract, so
// any string field can be used as a query key.
package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"sharedcal/internal/remote"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT NOT NULL,
	id         TEXT NOT NULL,
	body       TEXT NOT NULL,
	seq        INTEGER NOT NULL,
	PRIMARY KEY (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_by_seq ON documents (collection, seq);
`

// Config holds the parameters for opening a store.
type Config struct {
	// Path is the database file. It is created if it does not exist.
	Path string

	// PoolSize is the number of connections. Defaults to max(NumCPU, 4).
	PoolSize int

	// Logger receives open/close messages. Nil discards them.
	Logger *slog.Logger
}

// Store is a remote.Store backed by SQLite.
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

// Open opens (and if needed creates) the database at cfg.Path.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: Path is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = max(runtime.NumCPU(), 4)
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: opening %s: %w", cfg.Path, err)
	}

	logger.Info("Opened document store", "path", cfg.Path, "pool_size", poolSize)
	return &Store{pool: pool, logger: logger, path: cfg.Path}, nil
}

// Close closes every connection.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlitestore: closing %s: %w", s.path, err)
	}
	s.logger.Info("Closed document store", "path", s.path)
	return nil
}

func (s *Store) Upsert(ctx context.Context, collection, id string, doc remote.Document) error {
	if id == "" {
		return fmt.Errorf("sqlitestore: empty document id")
	}
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("sqlitestore: encoding document %s: %w", id, err)
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `
		INSERT INTO documents (collection, id, body, seq)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM documents))
		ON CONFLICT (collection, id) DO UPDATE SET body = excluded.body, seq = excluded.seq`,
		&sqlitex.ExecOptions{Args: []any{collection, id, string(body)}})
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert %s: %w", id, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, `DELETE FROM documents WHERE collection = ? AND id = ?`,
		&sqlitex.ExecOptions{Args: []any{collection, id}})
	if err != nil {
		return fmt.Errorf("sqlitestore: delete %s: %w", id, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, collection, field, value string, limit int) ([]remote.Document, error) {
	if field == "" || strings.ContainsAny(field, `"\`) {
		return nil, fmt.Errorf("sqlitestore: invalid field name %q", field)
	}
	if limit <= 0 {
		limit = -1
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: take: %w", err)
	}
	defer s.pool.Put(conn)

	var docs []remote.Document
	err = sqlitex.Execute(conn, `
		SELECT body FROM documents
		WHERE collection = ? AND json_extract(body, ?) = ?
		ORDER BY seq DESC
		LIMIT ?`,
		&sqlitex.ExecOptions{
			Args: []any{collection, `$."` + field + `"`, value, limit},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				var doc remote.Document
				if err := json.Unmarshal([]byte(stmt.ColumnText(0)), &doc); err != nil {
					// Unreadable bodies are treated like any other malformed record.
					s.logger.Warn("Skipping undecodable document", "error", err)
					return nil
				}
				docs = append(docs, doc)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: query %s=%s: %w", field, value, err)
	}
	return docs, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("sqlitestore: creating schema: %w", err)
	}
	return nil
}

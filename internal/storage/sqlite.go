package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dshills/repoask/internal/fingerprint"
	"github.com/dshills/repoask/internal/vectorstore"
	"github.com/dshills/repoask/pkg/types"
)

// SQLiteStorage persists fingerprints and chunk vectors in one SQLite
// database. It implements both fingerprint.Store and vectorstore.Store.
type SQLiteStorage struct {
	db *sql.DB
}

var (
	_ fingerprint.Store = (*SQLiteStorage)(nil)
	_ vectorstore.Store = (*SQLiteStorage)(nil)
)

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite benefits from single writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable
func (s *SQLiteStorage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// withTx runs fn inside a transaction, committing only if fn succeeds
func (s *SQLiteStorage) withTx(ctx context.Context, fn func(q querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Fingerprint operations

// Load returns the recorded files of repo
func (s *SQLiteStorage) Load(ctx context.Context, repo types.RepoID) (*fingerprint.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path, content_hash, chunk_ids, line_count FROM files WHERE repo = ?`, string(repo))
	if err != nil {
		return nil, fmt.Errorf("failed to load fingerprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snap := fingerprint.NewSnapshot(repo)
	for rows.Next() {
		var f types.SourceFile
		var ids string
		if err := rows.Scan(&f.Path, &f.ContentHash, &ids, &f.LineCount); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		if err := json.Unmarshal([]byte(ids), &f.ChunkIDs); err != nil {
			return nil, fmt.Errorf("corrupt chunk ids for %s: %w", f.Path, err)
		}
		snap.Files[f.Path] = f
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return snap, nil
}

// PutFile records (or replaces) one file's fingerprint
func (s *SQLiteStorage) PutFile(ctx context.Context, repo types.RepoID, file types.SourceFile) error {
	ids := file.ChunkIDs
	if ids == nil {
		ids = []string{}
	}
	encoded, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode chunk ids: %w", err)
	}

	query := `
		INSERT INTO files (repo, path, content_hash, chunk_ids, line_count, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(repo, path) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunk_ids = excluded.chunk_ids,
			line_count = excluded.line_count,
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, string(repo), file.Path, file.ContentHash, string(encoded), file.LineCount); err != nil {
		return fmt.Errorf("failed to upsert file %s: %w", file.Path, err)
	}
	return nil
}

// RemoveFile forgets a file
func (s *SQLiteStorage) RemoveFile(ctx context.Context, repo types.RepoID, path string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE repo = ? AND path = ?`, string(repo), path); err != nil {
		return fmt.Errorf("failed to delete file %s: %w", path, err)
	}
	return nil
}

// Commit records a completed index run
func (s *SQLiteStorage) Commit(ctx context.Context, status types.RepoStatus) error {
	query := `
		INSERT INTO repositories (repo, head, last_indexed_at, total_files, total_chunks, updated_at)
		VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(repo) DO UPDATE SET
			head = excluded.head,
			last_indexed_at = excluded.last_indexed_at,
			total_files = excluded.total_files,
			total_chunks = excluded.total_chunks,
			updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query,
		string(status.Repo), status.Head, status.LastIndexedAt.UnixMilli(), status.Files, status.Chunks)
	if err != nil {
		return fmt.Errorf("failed to commit repository %s: %w", status.Repo, err)
	}
	return nil
}

// Status returns the last committed run of repo
func (s *SQLiteStorage) Status(ctx context.Context, repo types.RepoID) (*types.RepoStatus, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT repo, head, last_indexed_at, total_files, total_chunks FROM repositories WHERE repo = ?`, string(repo))
	st, err := scanStatus(row)
	if err == sql.ErrNoRows {
		return nil, fingerprint.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read repository %s: %w", repo, err)
	}
	return st, nil
}

// List returns every committed repository ordered by ID
func (s *SQLiteStorage) List(ctx context.Context) ([]types.RepoStatus, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT repo, head, last_indexed_at, total_files, total_chunks FROM repositories ORDER BY repo`)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.RepoStatus
	for rows.Next() {
		st, err := scanStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanStatus(row scanner) (*types.RepoStatus, error) {
	var st types.RepoStatus
	var repo string
	var millis int64
	if err := row.Scan(&repo, &st.Head, &millis, &st.Files, &st.Chunks); err != nil {
		return nil, err
	}
	st.Repo = types.RepoID(repo)
	st.LastIndexedAt = time.UnixMilli(millis).UTC()
	return &st, nil
}

package cache

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// goose keeps its configuration in package globals
var gooseMu sync.Mutex

// Entry is the cached outcome of rewriting one source file
type Entry struct {
	Path        string
	SourceHash  string
	ConfigHash  string
	OutputHash  string
	InlineSpans int
	BlockSpans  int
	UpdatedAt   time.Time
}

// Cache records which sources have already been rewritten with which settings
type Cache struct {
	db *sql.DB
}

// Open opens (creating if needed) the cache database at path and applies
// pending migrations
func Open(ctx context.Context, path string) (*Cache, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// Close closes the database connection
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Lookup returns the entry for path, or nil when none is stored
func (c *Cache) Lookup(ctx context.Context, path string) (*Entry, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT path, source_hash, config_hash, output_hash, inline_spans, block_spans, updated_at
		FROM documents WHERE path = ?`, path)

	var (
		entry   Entry
		updated int64
	)
	err := row.Scan(&entry.Path, &entry.SourceHash, &entry.ConfigHash, &entry.OutputHash,
		&entry.InlineSpans, &entry.BlockSpans, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", path, err)
	}
	entry.UpdatedAt = time.Unix(0, updated)
	return &entry, nil
}

// Fresh reports whether path was last rewritten from the same source with
// the same settings
func (c *Cache) Fresh(ctx context.Context, path, sourceHash, configHash string) (bool, error) {
	entry, err := c.Lookup(ctx, path)
	if err != nil || entry == nil {
		return false, err
	}
	return entry.SourceHash == sourceHash && entry.ConfigHash == configHash, nil
}

// Store inserts or replaces the entry for entry.Path
func (c *Cache) Store(ctx context.Context, entry Entry) error {
	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO documents (path, source_hash, config_hash, output_hash, inline_spans, block_spans, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			source_hash = excluded.source_hash,
			config_hash = excluded.config_hash,
			output_hash = excluded.output_hash,
			inline_spans = excluded.inline_spans,
			block_spans = excluded.block_spans,
			updated_at = excluded.updated_at`,
		entry.Path, entry.SourceHash, entry.ConfigHash, entry.OutputHash,
		entry.InlineSpans, entry.BlockSpans, entry.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to store %s: %w", entry.Path, err)
	}
	return nil
}

// Forget removes the entry for path
func (c *Cache) Forget(ctx context.Context, path string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path); err != nil {
		return fmt.Errorf("failed to forget %s: %w", path, err)
	}
	return nil
}

// Count returns the number of cached entries
func (c *Cache) Count(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return n, nil
}

// Hash returns the hex SHA-256 of data
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

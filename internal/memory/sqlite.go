// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteBackend persists the user and system scopes to a single SQLite
// file. SQLite serializes writes at the file level, so the connection
// pool is capped to one connection — callers never need their own lock,
// the driver's own mutex on that single connection does the job.
type SQLiteBackend struct {
	db *sql.DB
}

var _ PersistentBackend = (*SQLiteBackend)(nil)

// OpenSQLiteBackend opens (creating if necessary) the memory-store
// database at path and runs its migrations.
func OpenSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("memory: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory: connect to database: %w", err)
	}

	b := &SQLiteBackend{db: db}
	if err := b.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return b, nil
}

func (b *SQLiteBackend) migrate(ctx context.Context) error {
	statements := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			memory_type TEXT NOT NULL,
			scope TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL,
			timestamp REAL NOT NULL,
			expiry REAL,
			access_count INTEGER DEFAULT 0,
			last_accessed REAL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_memories_scope ON memories(scope)",
		"CREATE INDEX IF NOT EXISTS idx_memories_type ON memories(memory_type)",
		"CREATE INDEX IF NOT EXISTS idx_memories_expiry ON memories(expiry) WHERE expiry IS NOT NULL",
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(id, content)`,
	}
	for _, stmt := range statements {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("memory: migration %q: %w", stmt, err)
		}
	}
	return nil
}

// Put inserts or replaces e, including its full-text index row.
func (b *SQLiteBackend) Put(ctx context.Context, e *Entry) error {
	dataJSON, err := json.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("memory: marshal data: %w", err)
	}
	metaJSON, err := json.Marshal(entryMetadata{Tags: e.Tags, RelevanceScore: e.RelevanceScore})
	if err != nil {
		return fmt.Errorf("memory: marshal metadata: %w", err)
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("memory: begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories
			(id, memory_type, scope, content, metadata, timestamp, expiry, access_count, last_accessed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, string(e.Type), string(e.Scope), string(dataJSON), string(metaJSON),
		float64(e.Timestamp.UnixNano())/1e9, nullableUnixSeconds(e.Expiry),
		e.AccessCount, nullableUnixSeconds(e.LastAccessed))
	if err != nil {
		return fmt.Errorf("memory: insert entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO memories_fts (id, content) VALUES (?, ?)
	`, e.ID, e.content())
	if err != nil {
		return fmt.Errorf("memory: index entry: %w", err)
	}

	return tx.Commit()
}

// Get retrieves and bumps the access counters for entry id.
func (b *SQLiteBackend) Get(ctx context.Context, id string) (*Entry, error) {
	e, err := b.scan(b.db.QueryRowContext(ctx, `
		SELECT id, memory_type, scope, content, metadata, timestamp, expiry, access_count, last_accessed
		FROM memories WHERE id = ?
	`, id))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	_, _ = b.db.ExecContext(ctx, `
		UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE id = ?
	`, float64(now.UnixNano())/1e9, id)
	e.AccessCount++
	e.LastAccessed = &now
	return e, nil
}

// Delete removes an entry and its search index row.
func (b *SQLiteBackend) Delete(ctx context.Context, id string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("memory: delete entry: %w", err)
	}
	_, err := b.db.ExecContext(ctx, `DELETE FROM memories_fts WHERE id = ?`, id)
	return err
}

// Search runs a full-text query over stored entry content, best full-text
// rank first, capped at limit (100 when limit is zero or negative).
func (b *SQLiteBackend) Search(ctx context.Context, query string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := b.db.QueryContext(ctx, `
		SELECT m.id, m.memory_type, m.scope, m.content, m.metadata, m.timestamp, m.expiry, m.access_count, m.last_accessed
		FROM memories_fts f
		JOIN memories m ON m.id = f.id
		WHERE memories_fts MATCH ?
		ORDER BY f.rank
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, fmt.Errorf("memory: search: %w", err)
	}
	defer rows.Close()
	return b.scanAll(rows)
}

// All returns every entry in scope, regardless of expiry (the caller, or
// the periodic sweep, is responsible for evicting expired rows).
func (b *SQLiteBackend) All(ctx context.Context, scope Scope) ([]*Entry, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id, memory_type, scope, content, metadata, timestamp, expiry, access_count, last_accessed
		FROM memories WHERE scope = ?
	`, string(scope))
	if err != nil {
		return nil, fmt.Errorf("memory: list scope: %w", err)
	}
	defer rows.Close()
	return b.scanAll(rows)
}

// Close closes the underlying database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type entryMetadata struct {
	Tags           []string `json:"tags"`
	RelevanceScore float64  `json:"relevance_score"`
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (b *SQLiteBackend) scan(row rowScanner) (*Entry, error) {
	var id, memType, scope, content, metaJSON string
	var timestamp float64
	var expiry, lastAccessed sql.NullFloat64
	var accessCount int

	if err := row.Scan(&id, &memType, &scope, &content, &metaJSON, &timestamp, &expiry, &accessCount, &lastAccessed); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("memory: entry %q not found", id)
		}
		return nil, fmt.Errorf("memory: scan entry: %w", err)
	}

	e := &Entry{
		ID:          id,
		Type:        EntryType(memType),
		Scope:       Scope(scope),
		Timestamp:   time.Unix(0, int64(timestamp*1e9)),
		AccessCount: accessCount,
	}
	if err := json.Unmarshal([]byte(content), &e.Data); err != nil {
		return nil, fmt.Errorf("memory: unmarshal content: %w", err)
	}
	var meta entryMetadata
	if err := json.Unmarshal([]byte(metaJSON), &meta); err == nil {
		e.Tags = meta.Tags
		e.RelevanceScore = meta.RelevanceScore
	}
	if expiry.Valid {
		t := time.Unix(0, int64(expiry.Float64*1e9))
		e.Expiry = &t
	}
	if lastAccessed.Valid {
		t := time.Unix(0, int64(lastAccessed.Float64*1e9))
		e.LastAccessed = &t
	}
	return e, nil
}

func (b *SQLiteBackend) scanAll(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		e, err := b.scan(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableUnixSeconds(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return float64(t.UnixNano()) / 1e9
}

package strategy

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"converter_strategy/internal/core"

	_ "github.com/mattn/go-sqlite3"
)

// MemoryJournal implements core.IJournalStore in memory
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []*core.JournalEntry
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

func (j *MemoryJournal) Append(ctx context.Context, entry *core.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	cp := *entry
	cp.Operations = append([]core.Operation(nil), entry.Operations...)
	j.entries = append(j.entries, &cp)
	return nil
}

func (j *MemoryJournal) List(ctx context.Context, strategy string) ([]*core.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	var out []*core.JournalEntry
	for _, e := range j.entries {
		if strategy == "" || e.Strategy == strategy {
			out = append(out, e)
		}
	}
	return out, nil
}

const journalSchema = `CREATE TABLE IF NOT EXISTS journal (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	strategy   TEXT NOT NULL,
	kind       TEXT NOT NULL,
	data       TEXT NOT NULL,
	checksum   BLOB NOT NULL,
	created_at INTEGER NOT NULL
)`

// SQLiteJournal implements core.IJournalStore on SQLite with checksummed JSON rows
type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLiteJournal(dbPath string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Enable WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(journalSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create journal table: %w", err)
	}

	return &SQLiteJournal{db: db}, nil
}

func (s *SQLiteJournal) Append(ctx context.Context, entry *core.JournalEntry) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}

	checksum := sha256.Sum256(data)
	query := `INSERT INTO journal (id, strategy, kind, data, checksum, created_at) VALUES (?, ?, ?, ?, ?, ?)`
	_, err = tx.ExecContext(ctx, query, entry.ID, entry.Strategy, entry.Kind, string(data), checksum[:], entry.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to write journal entry: %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteJournal) List(ctx context.Context, strategy string) ([]*core.JournalEntry, error) {
	query := `SELECT data, checksum FROM journal WHERE (? = '' OR strategy = ?) ORDER BY seq`
	rows, err := s.db.QueryContext(ctx, query, strategy, strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	defer rows.Close()

	var out []*core.JournalEntry
	for rows.Next() {
		var data string
		var stored []byte
		if err := rows.Scan(&data, &stored); err != nil {
			return nil, fmt.Errorf("failed to scan journal row: %w", err)
		}

		computed := sha256.Sum256([]byte(data))
		if subtle.ConstantTimeCompare(stored, computed[:]) != 1 {
			return nil, errors.New("checksum verification failed: data corruption detected")
		}

		var entry core.JournalEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal journal entry: %w", err)
		}
		entry.CreatedAt = entry.CreatedAt.In(time.UTC)
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func (s *SQLiteJournal) Close() error {
	return s.db.Close()
}

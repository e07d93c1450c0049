// Package history persists retired execution targets.
package history

import (
	"bytes"
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"pairs_trader/internal/core"
	"pairs_trader/pkg/retry"

	"github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS retired_targets (
	handle          TEXT PRIMARY KEY,
	opportunity_key TEXT NOT NULL,
	status          TEXT NOT NULL,
	data            TEXT NOT NULL,
	checksum        BLOB NOT NULL,
	retired_at      INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_retired_targets_retired_at
	ON retired_targets (retired_at DESC);
`

const defaultRecentLimit = 50

// SQLiteStore keeps one JSON document per retired target, checksummed
// with SHA-256 and verified on every read. It implements
// core.ITargetHistory.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath and ensures
// the schema exists.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL keeps readers from blocking the write path and survives
	// crashes mid-commit.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// SaveRetired writes the snapshot, replacing any earlier row for the
// same handle. Transient lock contention is retried with backoff.
func (s *SQLiteStore) SaveRetired(ctx context.Context, snapshot core.TargetSnapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	// Round-trip before committing anything unreadable.
	var check core.TargetSnapshot
	if err := json.Unmarshal(data, &check); err != nil {
		return fmt.Errorf("snapshot validation failed: %w", err)
	}

	checksum := sha256.Sum256(data)

	return retry.Do(ctx, retry.DefaultPolicy, isTransientSQLite, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			_ = tx.Rollback()
		}()

		query := `INSERT OR REPLACE INTO retired_targets
			(handle, opportunity_key, status, data, checksum, retired_at)
			VALUES (?, ?, ?, ?, ?, ?)`
		_, err = tx.ExecContext(ctx, query,
			snapshot.Handle,
			snapshot.OpportunityKey,
			snapshot.Status.String(),
			string(data),
			checksum[:],
			snapshot.RetiredAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to write snapshot: %w", err)
		}

		return tx.Commit()
	})
}

// RecentRetired returns up to limit snapshots, newest first.
func (s *SQLiteStore) RecentRetired(ctx context.Context, limit int) ([]core.TargetSnapshot, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := `SELECT data, checksum FROM retired_targets ORDER BY retired_at DESC LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var snapshots []core.TargetSnapshot
	for rows.Next() {
		var data string
		var storedChecksum []byte
		if err := rows.Scan(&data, &storedChecksum); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		computed := sha256.Sum256([]byte(data))
		if !bytes.Equal(storedChecksum, computed[:]) {
			return nil, fmt.Errorf("checksum verification failed: data corruption detected")
		}

		var snapshot core.TargetSnapshot
		if err := json.Unmarshal([]byte(data), &snapshot); err != nil {
			return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
		}
		snapshots = append(snapshots, snapshot)
	}
	return snapshots, rows.Err()
}

// Ping verifies the database is reachable, for health checks.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// isTransientSQLite matches lock contention that a short backoff
// resolves.
func isTransientSQLite(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

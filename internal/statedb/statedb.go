// Package statedb is a queryable SQLite mirror of persisted download
// state. ./downloads/*.state stays authoritative for resume; this table
// is not rebuilt from it but written from transfer events as transfers
// start and progress, so the CLI's status/list subcommands can query transfer
// history with SQL instead of scanning the state directory. Runs in WAL
// mode with a single-writer connection and idempotent migrations.
package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO required

	"github.com/chiral/transferd/internal/domain"
)

// DB wraps a SQLite connection in WAL mode with idempotent migrations.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite is single-writer
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error { return d.db.Close() }

// Ping checks database connectivity.
func (d *DB) Ping() error { return d.db.Ping() }

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS transfers (
			file_hash     TEXT PRIMARY KEY,
			file_name     TEXT NOT NULL DEFAULT '',
			file_size     INTEGER NOT NULL DEFAULT 0,
			output_path   TEXT NOT NULL DEFAULT '',
			status        TEXT NOT NULL DEFAULT 'started',
			category      TEXT NOT NULL DEFAULT '',
			bytes_done    INTEGER NOT NULL DEFAULT 0,
			chunks_total  INTEGER NOT NULL DEFAULT 0,
			started_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL,
			completed_at  INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transfers_status ON transfers(status)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// TransferStatus is the row shape returned by List/Get.
type TransferStatus struct {
	FileHash    string
	FileName    string
	FileSize    uint64
	OutputPath  string
	Status      string
	Category    string
	BytesDone   uint64
	ChunksTotal int
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// UpsertStarted records a transfer entering the Started state, or
// refreshes its metadata if the row already exists (resume).
func (d *DB) UpsertStarted(fileHash, fileName string, fileSize uint64, outputPath string, chunksTotal int) error {
	now := time.Now().Unix()
	_, err := d.db.Exec(
		`INSERT INTO transfers (file_hash, file_name, file_size, output_path, status, chunks_total, started_at, updated_at)
		 VALUES (?, ?, ?, ?, 'started', ?, ?, ?)
		 ON CONFLICT(file_hash) DO UPDATE SET
			file_name=excluded.file_name,
			file_size=excluded.file_size,
			output_path=excluded.output_path,
			status='started',
			chunks_total=excluded.chunks_total,
			updated_at=excluded.updated_at`,
		fileHash, fileName, fileSize, outputPath, chunksTotal, now, now,
	)
	return err
}

// UpdateProgress records the latest progress snapshot for fileHash.
func (d *DB) UpdateProgress(fileHash string, bytesDone uint64, status string) error {
	_, err := d.db.Exec(
		`UPDATE transfers SET bytes_done = ?, status = ?, updated_at = ? WHERE file_hash = ?`,
		bytesDone, status, time.Now().Unix(), fileHash,
	)
	return err
}

// MarkTerminal records a transfer reaching Completed/Failed/Canceled.
func (d *DB) MarkTerminal(fileHash, status, category string) error {
	now := time.Now().Unix()
	_, err := d.db.Exec(
		`UPDATE transfers SET status = ?, category = ?, updated_at = ?, completed_at = ? WHERE file_hash = ?`,
		status, category, now, now, fileHash,
	)
	return err
}

// Get retrieves a single transfer by file hash.
func (d *DB) Get(fileHash string) (*TransferStatus, error) {
	row := d.db.QueryRow(
		`SELECT file_hash, file_name, file_size, output_path, status, category, bytes_done, chunks_total, started_at, updated_at, completed_at
		 FROM transfers WHERE file_hash = ?`, fileHash,
	)
	return scanTransfer(row)
}

// List returns every known transfer, most recently updated first.
func (d *DB) List() ([]TransferStatus, error) {
	rows, err := d.db.Query(
		`SELECT file_hash, file_name, file_size, output_path, status, category, bytes_done, chunks_total, started_at, updated_at, completed_at
		 FROM transfers ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TransferStatus
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Remove deletes a transfer row.
func (d *DB) Remove(fileHash string) error {
	result, err := d.db.Exec(`DELETE FROM transfers WHERE file_hash = ?`, fileHash)
	if err != nil {
		return err
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTransfer(s scanner) (*TransferStatus, error) {
	var t TransferStatus
	var startedAt, updatedAt int64
	var completedAt sql.NullInt64

	err := s.Scan(&t.FileHash, &t.FileName, &t.FileSize, &t.OutputPath, &t.Status, &t.Category,
		&t.BytesDone, &t.ChunksTotal, &startedAt, &updatedAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	t.StartedAt = time.Unix(startedAt, 0)
	t.UpdatedAt = time.Unix(updatedAt, 0)
	if completedAt.Valid {
		ts := time.Unix(completedAt.Int64, 0)
		t.CompletedAt = &ts
	}
	return &t, nil
}

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	ID        string    `json:"id"`
	Chunks    int       `json:"chunks"`
	CreatedAt time.Time `json:"created_at"`
}

// Backend stores snapshots as ordered lists of chunk blobs.
type Backend interface {
	WriteSnapshot(ctx context.Context, id string, blobs [][]byte) error
	ReadSnapshot(ctx context.Context, id string) ([][]byte, error)
	ListSnapshots(ctx context.Context) ([]SnapshotInfo, error)
	DeleteSnapshot(ctx context.Context, id string) error
	Close() error
}

type SQLiteBackend struct {
	db *sql.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	query := `
	CREATE TABLE IF NOT EXISTS snapshots (
		id         TEXT PRIMARY KEY,
		chunks     INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS chunks (
		snapshot_id TEXT NOT NULL,
		seq         INTEGER NOT NULL,
		blob        BLOB NOT NULL,
		PRIMARY KEY (snapshot_id, seq)
	);`
	if _, err := db.Exec(query); err != nil {
		db.Close()
		return nil, fmt.Errorf("init tables: %w", err)
	}

	_, err = db.Exec(`
		PRAGMA journal_mode = WAL;
		PRAGMA synchronous = NORMAL;
	`)
	if err != nil {
		log.Printf("[Snapshot] Warning: failed to set PRAGMA: %v", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// WriteSnapshot stores every blob in one transaction; a snapshot is either
// fully present or absent.
func (s *SQLiteBackend) WriteSnapshot(ctx context.Context, id string, blobs [][]byte) error {
	if id == "" {
		return errEmptySnapshotID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO snapshots (id, chunks, created_at) VALUES (?, ?, ?)",
		id, len(blobs), time.Now().UnixNano()); err != nil {
		return fmt.Errorf("insert snapshot %s: %w", id, err)
	}

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chunks (snapshot_id, seq, blob) VALUES (?, ?, ?)")
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, blob := range blobs {
		if _, err := stmt.ExecContext(ctx, id, i, blob); err != nil {
			return fmt.Errorf("insert chunk %d of %s: %w", i, id, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteBackend) ReadSnapshot(ctx context.Context, id string) ([][]byte, error) {
	var chunks int
	err := s.db.QueryRowContext(ctx, "SELECT chunks FROM snapshots WHERE id = ?", id).Scan(&chunks)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT blob FROM chunks WHERE snapshot_id = ? ORDER BY seq ASC", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	blobs := make([][]byte, 0, chunks)
	for rows.Next() {
		var blob []byte
		if err := rows.Scan(&blob); err != nil {
			return nil, err
		}
		blobs = append(blobs, blob)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(blobs) != chunks {
		return nil, fmt.Errorf("%w: snapshot %s has %d of %d chunks", ErrCorrupt, id, len(blobs), chunks)
	}
	return blobs, nil
}

func (s *SQLiteBackend) ListSnapshots(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, chunks, created_at FROM snapshots ORDER BY created_at ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		var created int64
		if err := rows.Scan(&info.ID, &info.Chunks, &created); err != nil {
			return nil, err
		}
		info.CreatedAt = time.Unix(0, created)
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

func (s *SQLiteBackend) DeleteSnapshot(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE snapshot_id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

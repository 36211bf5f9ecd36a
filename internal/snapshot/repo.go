package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/starford/offbalance/internal/apperr"
	"github.com/starford/offbalance/internal/checksum"
)

// Snapshot is one stored payload. Body is only populated by Get and Latest.
type Snapshot struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Checksum  string    `json:"checksum"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
	Body      []byte    `json:"-"`
}

// New builds a snapshot for body fetched from url at the given time.
func New(url string, body []byte, fetchedAt time.Time) Snapshot {
	return Snapshot{
		ID:        ulid.Make().String(),
		URL:       url,
		Checksum:  checksum.Sum(body),
		Size:      int64(len(body)),
		FetchedAt: fetchedAt.UTC(),
		Body:      body,
	}
}

// Save stores s unless a snapshot with the same URL and checksum already
// exists, in which case that row's fetch time is bumped and it is returned
// with created=false.
func (db *DB) Save(ctx context.Context, s Snapshot) (Snapshot, bool, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	var existingID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM snapshots WHERE url = ? AND checksum = ?`, s.URL, s.Checksum).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx,
			`UPDATE snapshots SET fetched_at = ? WHERE id = ?`, s.FetchedAt, existingID); err != nil {
			return Snapshot{}, false, fmt.Errorf("snapshot: touch: %w", err)
		}
		s.ID = existingID
		return s, false, tx.Commit()
	case !errors.Is(err, sql.ErrNoRows):
		return Snapshot{}, false, fmt.Errorf("snapshot: lookup: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO snapshots (id, url, checksum, size, body, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ID, s.URL, s.Checksum, s.Size, s.Body, s.FetchedAt)
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("snapshot: insert: %w", err)
	}
	return s, true, tx.Commit()
}

// Latest returns the most recently fetched snapshot for url.
func (db *DB) Latest(ctx context.Context, url string) (Snapshot, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, url, checksum, size, fetched_at, body
		FROM snapshots WHERE url = ?
		ORDER BY fetched_at DESC LIMIT 1
	`, url)
	return scanFull(row)
}

// Get returns the snapshot with the given id.
func (db *DB) Get(ctx context.Context, id string) (Snapshot, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, url, checksum, size, fetched_at, body
		FROM snapshots WHERE id = ?
	`, id)
	return scanFull(row)
}

// List returns snapshot metadata, newest first.
func (db *DB) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, url, checksum, size, fetched_at
		FROM snapshots ORDER BY fetched_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("snapshot: list: %w", err)
	}
	defer rows.Close()

	out := []Snapshot{}
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.ID, &s.URL, &s.Checksum, &s.Size, &s.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanFull(row *sql.Row) (Snapshot, error) {
	var s Snapshot
	err := row.Scan(&s.ID, &s.URL, &s.Checksum, &s.Size, &s.FetchedAt, &s.Body)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, apperr.ErrNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("snapshot: scan: %w", err)
	}
	return s, nil
}

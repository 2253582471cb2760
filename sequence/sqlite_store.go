package sequence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS sequences (
	drive_id   TEXT NOT NULL PRIMARY KEY,
	auth_id    TEXT NOT NULL,
	next_nonce BLOB NOT NULL,
	max_nonce  BLOB NOT NULL,
	status     TEXT NOT NULL
);
`

// SQLiteStore keeps sequences in a sqlite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens the database at dbPath and creates the table if needed.
func OpenSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sequences table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func scanSequence(row interface{ Scan(...any) error }) (*Sequence, error) {
	var seq Sequence
	var status string
	if err := row.Scan(&seq.ID, &seq.AuthID, &seq.NextNonce, &seq.MaxNonce, &status); err != nil {
		return nil, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	seq.Status = st
	return &seq, nil
}

func (s *SQLiteStore) Get(ctx context.Context, driveID string) (*Sequence, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT drive_id, auth_id, next_nonce, max_nonce, status FROM sequences WHERE drive_id = ?`, driveID)
	seq, err := scanSequence(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, newError(KindNotFound, driveID, "")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read sequence: %w", err)
	}
	return seq, nil
}

func (s *SQLiteStore) Put(ctx context.Context, seq *Sequence) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequences (drive_id, auth_id, next_nonce, max_nonce, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(drive_id) DO UPDATE SET
			auth_id = excluded.auth_id,
			next_nonce = excluded.next_nonce,
			max_nonce = excluded.max_nonce,
			status = excluded.status`,
		seq.ID, seq.AuthID, seq.NextNonce, seq.MaxNonce, seq.Status.String())
	if err != nil {
		return fmt.Errorf("failed to write sequence: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]*Sequence, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT drive_id, auth_id, next_nonce, max_nonce, status FROM sequences ORDER BY drive_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sequences: %w", err)
	}
	defer rows.Close()
	var out []*Sequence
	for rows.Next() {
		seq, err := scanSequence(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seq)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

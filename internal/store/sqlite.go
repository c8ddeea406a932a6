package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        user_id TEXT PRIMARY KEY,
        username TEXT NOT NULL,
        email TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS chats (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id TEXT NOT NULL,
        query TEXT NOT NULL,
        response TEXT NOT NULL,
        timestamp DATETIME NOT NULL
    );

    CREATE INDEX IF NOT EXISTS idx_chats_user_ts ON chats (user_id, timestamp DESC);
    `
	_, err := s.db.Exec(schema)
	return err
}

// Profile methods

// GetProfile returns (nil, nil) when no row exists for userID.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*Profile, error) {
	var p Profile
	err := s.db.QueryRowContext(ctx, "SELECT user_id, username, email FROM users WHERE user_id = ?", userID).Scan(&p.UserID, &p.Username, &p.Email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	return &p, nil
}

func (s *SQLiteStore) UpsertProfile(ctx context.Context, p Profile) error {
	_, err := s.db.ExecContext(ctx, "INSERT OR REPLACE INTO users (user_id, username, email) VALUES (?, ?, ?)", p.UserID, p.Username, p.Email)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// Chat history methods

func (s *SQLiteStore) AppendChat(ctx context.Context, rec *ChatRecord) error {
	stmt, err := s.db.PrepareContext(ctx, "INSERT INTO chats (user_id, query, response, timestamp) VALUES (?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare chat insert: %w", err)
	}
	defer stmt.Close()

	// UTC keeps the stored text representation lexically ordered.
	rec.Timestamp = rec.Timestamp.UTC()
	res, err := stmt.ExecContext(ctx, rec.UserID, rec.Query, rec.Response, rec.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to execute chat insert: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read chat id: %w", err)
	}
	rec.ID = id
	return nil
}

// ListChats returns at most limit records for userID, newest first. The
// result is never nil.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string, limit int) ([]ChatRecord, error) {
	query := `
        SELECT id, user_id, query, response, timestamp
        FROM chats
        WHERE user_id = ?
        ORDER BY timestamp DESC, id DESC
        LIMIT ?
    `
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	records := []ChatRecord{}
	for rows.Next() {
		var rec ChatRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Query, &rec.Response, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat rows: %w", err)
	}
	return records, nil
}

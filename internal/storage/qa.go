package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrThreadNotFound is returned when a QA thread URL is unknown.
var ErrThreadNotFound = errors.New("storage: qa thread not found")

// QAThread is the bookkeeping row for one external comment thread. The
// dispatch core treats everything but the replied/asked flags as opaque.
type QAThread struct {
	URL      string
	Username string
	Title    string
	Text     string
	Replied  bool
	Asked    bool
}

// UpsertThread inserts or refreshes a thread's opaque fields, preserving
// the replied/asked flags on conflict.
func (db *DB) UpsertThread(ctx context.Context, t QAThread) error {
	_, err := db.sql.ExecContext(ctx, `
		INSERT INTO qa_threads (url, username, title, text, replied, asked)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (url)
		DO UPDATE SET username = excluded.username,
		              title    = excluded.title,
		              text     = excluded.text
	`, t.URL, t.Username, t.Title, t.Text, t.Replied, t.Asked)
	if err != nil {
		return fmt.Errorf("storage: upsert qa thread: %w", err)
	}
	return nil
}

// GetThread fetches one thread by URL.
func (db *DB) GetThread(ctx context.Context, url string) (QAThread, error) {
	var t QAThread
	err := db.sql.QueryRowContext(ctx, `
		SELECT url, username, title, text, replied, asked
		FROM qa_threads WHERE url = $1
	`, url).Scan(&t.URL, &t.Username, &t.Title, &t.Text, &t.Replied, &t.Asked)
	if errors.Is(err, sql.ErrNoRows) {
		return QAThread{}, ErrThreadNotFound
	}
	if err != nil {
		return QAThread{}, fmt.Errorf("storage: get qa thread: %w", err)
	}
	return t, nil
}

// MarkReplied flags a thread as answered. Toggled by the reply gate when a
// draft for the thread is released.
func (db *DB) MarkReplied(ctx context.Context, url string) error {
	return db.setThreadFlag(ctx, url, "replied")
}

// MarkAsked flags a thread as surfaced to the chat.
func (db *DB) MarkAsked(ctx context.Context, url string) error {
	return db.setThreadFlag(ctx, url, "asked")
}

func (db *DB) setThreadFlag(ctx context.Context, url, column string) error {
	// column is one of two compile-time constants, never user input.
	res, err := db.sql.ExecContext(ctx,
		`UPDATE qa_threads SET `+column+` = TRUE WHERE url = $1`, url)
	if err != nil {
		return fmt.Errorf("storage: mark %s: %w", column, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrThreadNotFound
	}
	return nil
}

// UnaskedThreads lists threads not yet surfaced, in URL order.
func (db *DB) UnaskedThreads(ctx context.Context, limit int) ([]QAThread, error) {
	rows, err := db.sql.QueryContext(ctx, `
		SELECT url, username, title, text, replied, asked
		FROM qa_threads
		WHERE asked = FALSE AND replied = FALSE
		ORDER BY url
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: list unasked threads: %w", err)
	}
	defer rows.Close()

	var out []QAThread
	for rows.Next() {
		var t QAThread
		if err := rows.Scan(&t.URL, &t.Username, &t.Title, &t.Text, &t.Replied, &t.Asked); err != nil {
			return nil, fmt.Errorf("storage: scan qa thread: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

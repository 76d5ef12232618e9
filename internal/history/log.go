// Package history keeps a SQLite log of dispatched control commands.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jfmyers9/nowplaying/internal/player"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Log is a persistent command history backed by SQLite
type Log struct {
	db *sql.DB
}

// Entry is one dispatched command and the state it produced
type Entry struct {
	ID        int64     `json:"id"`
	Command   string    `json:"command"`
	Index     int       `json:"current_index"`
	Title     string    `json:"title"`
	Artist    string    `json:"artist,omitempty"`
	Elapsed   int       `json:"current_time"`
	Playing   bool      `json:"is_playing"`
	Timestamp time.Time `json:"timestamp"`
}

// Open opens (or creates) the history database at dbPath. ":memory:" works
// for tests.
func Open(dbPath string) (*Log, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection keeps :memory: databases consistent
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA journal_mode = WAL",
		"PRAGMA temp_store = MEMORY",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command TEXT NOT NULL,
			track_index INTEGER NOT NULL,
			title TEXT NOT NULL,
			artist TEXT,
			elapsed INTEGER NOT NULL,
			playing BOOLEAN NOT NULL DEFAULT 0,
			timestamp INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_commands_timestamp ON commands(timestamp);
	`

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Log{db: db}, nil
}

// Close closes the database connection
func (l *Log) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

// Add appends an entry and returns its id. A zero Timestamp means now.
func (l *Log) Add(ctx context.Context, e Entry) (int64, error) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	result, err := l.db.ExecContext(ctx, `
		INSERT INTO commands (command, track_index, title, artist, elapsed, playing, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		e.Command,
		e.Index,
		e.Title,
		e.Artist,
		e.Elapsed,
		e.Playing,
		e.Timestamp.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert command: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get insert id: %w", err)
	}
	return id, nil
}

// Recent returns up to limit entries, newest first. limit <= 0 returns all.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	query := `
		SELECT id, command, track_index, title, COALESCE(artist, ''), elapsed, playing, timestamp
		FROM commands
		ORDER BY timestamp DESC, id DESC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var ts int64
		if err := rows.Scan(&e.ID, &e.Command, &e.Index, &e.Title, &e.Artist, &e.Elapsed, &e.Playing, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commands: %w", err)
	}
	return entries, nil
}

// Count returns the number of stored entries
func (l *Log) Count(ctx context.Context) (int, error) {
	var count int
	if err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM commands").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count commands: %w", err)
	}
	return count, nil
}

// Cleanup removes entries older than maxAge
func (l *Log) Cleanup(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UnixMilli()

	result, err := l.db.ExecContext(ctx, "DELETE FROM commands WHERE timestamp < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup old commands: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return deleted, nil
}

// Listener returns a player listener that records every change. Write
// failures are logged, never surfaced to the control caller.
func (l *Log) Listener(logger zerolog.Logger) player.Listener {
	logger = logger.With().Str("component", "history").Logger()

	return func(ctx context.Context, c player.Change) {
		e := Entry{
			Command:   c.Token,
			Index:     c.Snapshot.Index,
			Title:     c.Snapshot.Track.Title,
			Artist:    c.Snapshot.Track.Artist(),
			Elapsed:   c.Snapshot.Elapsed,
			Playing:   c.Snapshot.Playing,
			Timestamp: c.Snapshot.At,
		}
		if _, err := l.Add(context.WithoutCancel(ctx), e); err != nil {
			logger.Warn().Err(err).Str("command", c.Token).Msg("Failed to record command")
		}
	}
}

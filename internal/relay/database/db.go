// Package database stores relay rooms in SQLite.
package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed migrations/*.sql
var migrations embed.FS

var (
	// ErrRoomNotFound is returned for rooms that do not exist.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists is returned when creating a room that already exists.
	ErrRoomExists = errors.New("room already exists")
)

// DB is the relay database.
type DB struct {
	*sql.DB
}

// Open opens the SQLite database at dbPath and applies pending migrations.
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &DB{db}, nil
}

func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")

		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", version).Scan(&count)
		if err != nil {
			return fmt.Errorf("failed to check migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		body, err := migrations.ReadFile(path.Join("migrations", name))
		if err != nil {
			return err
		}
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(body)); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to apply migration %s: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
	return nil
}

// RoomPasswordHash returns the stored password hash of room.
func (db *DB) RoomPasswordHash(ctx context.Context, room string) (string, error) {
	var hash string
	err := db.QueryRowContext(ctx, "SELECT password_hash FROM rooms WHERE name = ?", room).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRoomNotFound
	}
	if err != nil {
		return "", fmt.Errorf("query room: %w", err)
	}
	return hash, nil
}

// CreateRoom inserts a room, failing with ErrRoomExists if the name is taken.
func (db *DB) CreateRoom(ctx context.Context, room, passwordHash string) error {
	res, err := db.ExecContext(ctx,
		"INSERT OR IGNORE INTO rooms (name, password_hash) VALUES (?, ?)", room, passwordHash)
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRoomExists
	}
	return nil
}

// DeleteRoom removes a room. Deleting a missing room is not an error.
func (db *DB) DeleteRoom(ctx context.Context, room string) error {
	if _, err := db.ExecContext(ctx, "DELETE FROM rooms WHERE name = ?", room); err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	return nil
}

// CountRooms returns the number of stored rooms.
func (db *DB) CountRooms(ctx context.Context) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM rooms").Scan(&n); err != nil {
		return 0, fmt.Errorf("count rooms: %w", err)
	}
	return n, nil
}

// Package history is an optional audit trail for decoded state changes
// and sent commands, backed by modernc.org/sqlite. It is a diagnostic
// add-on: nothing in the core packages depends on it, and a bus runs
// fine with no Store wired at all.
package history

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists a rolling audit log of state changes and sent commands.
type Store struct {
	db *sql.DB
}

// Open creates (or reuses) the sqlite database at path and applies
// every migration in order.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("history: read migrations: %w", err)
	}
	for _, e := range entries {
		data, err := migrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("history: read migration %s: %w", e.Name(), err)
		}
		if _, err := s.db.Exec(string(data)); err != nil {
			return fmt.Errorf("history: apply migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RecordStateChange appends one decoded state transition to the audit log.
func (s *Store) RecordStateChange(ctx context.Context, busName, entityID, attr string, value any) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state_history (ts, bus, entity_id, attr, value) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), busName, entityID, attr, fmt.Sprintf("%v", value))
	return err
}

// RecordCommand appends one sent command invocation to the audit log.
func (s *Store) RecordCommand(ctx context.Context, busName, entityID, command string, arg any, frame []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO command_history (ts, bus, entity_id, command, arg, frame_hex) VALUES (?, ?, ?, ?, ?, ?)`,
		time.Now().UTC(), busName, entityID, command, fmt.Sprintf("%v", arg), fmt.Sprintf("%x", frame))
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

package db

import (
	"database/sql"
	"fmt"
)

// The index is a cache of what the daemon appended to thread logs. Thread
// logs stay the source of truth; the index can be rebuilt from them.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS room_entries (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  room TEXT NOT NULL,
  seq INTEGER NOT NULL,               -- position in the room's thread log, from 1
  filename TEXT,                      -- inbox filename; null for rebuilt rows
  sender TEXT NOT NULL,
  clock TEXT NOT NULL,                -- HH:MM:SS as written to thread.md
  bytes INTEGER NOT NULL,             -- body length
  recorded_at INTEGER NOT NULL        -- unix ms; 0 for rebuilt rows
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_room_entries_seq ON room_entries(room, seq);
CREATE INDEX IF NOT EXISTS idx_room_entries_sender ON room_entries(room, sender);
CREATE UNIQUE INDEX IF NOT EXISTS idx_room_entries_filename
  ON room_entries(room, filename) WHERE filename IS NOT NULL;

CREATE TABLE IF NOT EXISTS index_meta (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`

// InitSchema creates the index tables if needed.
func InitSchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("init index schema: %w", err)
	}
	return nil
}

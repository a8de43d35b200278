package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/adamavenir/rooms/internal/types"
)

// EntryRecord describes one consolidated message.
type EntryRecord struct {
	Room       string
	Filename   string
	Sender     string
	Clock      string
	Bytes      int
	RecordedAt time.Time
}

// SenderCount is the number of thread entries written by one sender.
type SenderCount struct {
	Sender string `json:"sender"`
	Count  int    `json:"count"`
}

// RoomStats summarizes a room's indexed entries.
type RoomStats struct {
	Room       string        `json:"room"`
	Entries    int           `json:"entries"`
	LastRecord *time.Time    `json:"last_record,omitempty"`
	Senders    []SenderCount `json:"senders"`
}

// RecordEntry appends a consolidated message to the index. A filename that
// is already indexed for the room is ignored.
func RecordEntry(db *sql.DB, rec EntryRecord) error {
	var filename any
	if rec.Filename != "" {
		filename = rec.Filename
	}
	recordedAt := rec.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}

	_, err := db.Exec(`
		INSERT OR IGNORE INTO room_entries (room, seq, filename, sender, clock, bytes, recorded_at)
		VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM room_entries WHERE room = ?), ?, ?, ?, ?, ?)
	`, rec.Room, rec.Room, filename, rec.Sender, rec.Clock, rec.Bytes, recordedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("index entry %s/%s: %w", rec.Room, rec.Filename, err)
	}
	return nil
}

// CountBySender returns per-sender entry counts, most active first. A
// non-zero since limits the count to entries recorded at or after it;
// rebuilt rows carry no record time and drop out.
func CountBySender(db *sql.DB, room string, since time.Time) ([]SenderCount, error) {
	rows, err := db.Query(`
		SELECT sender, COUNT(*) FROM room_entries
		WHERE room = ? AND recorded_at >= ?
		GROUP BY sender
		ORDER BY COUNT(*) DESC, sender ASC
	`, room, sinceMillis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := []SenderCount{}
	for rows.Next() {
		var c SenderCount
		if err := rows.Scan(&c.Sender, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// GetRoomStats returns entry totals and sender counts for room, limited to
// entries recorded since the given time when it is non-zero.
func GetRoomStats(db *sql.DB, room string, since time.Time) (RoomStats, error) {
	stats := RoomStats{Room: room}

	var last int64
	err := db.QueryRow(`
		SELECT COUNT(*), COALESCE(MAX(recorded_at), 0) FROM room_entries
		WHERE room = ? AND recorded_at >= ?
	`, room, sinceMillis(since)).Scan(&stats.Entries, &last)
	if err != nil {
		return stats, err
	}
	if last > 0 {
		t := time.UnixMilli(last)
		stats.LastRecord = &t
	}

	stats.Senders, err = CountBySender(db, room, since)
	return stats, err
}

func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return since.UnixMilli()
}

// RebuildRoom replaces the room's rows with entries parsed from its thread log.
func RebuildRoom(db *sql.DB, room string, entries []types.ThreadEntry) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM room_entries WHERE room = ?`, room); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT INTO room_entries (room, seq, filename, sender, clock, bytes, recorded_at)
		VALUES (?, ?, NULL, ?, ?, ?, 0)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, entry := range entries {
		if _, err := stmt.Exec(room, i+1, entry.Sender, entry.Time, len(entry.Body)); err != nil {
			return fmt.Errorf("rebuild %s: %w", room, err)
		}
	}

	if _, err := tx.Exec(`
		INSERT INTO index_meta (key, value) VALUES ('rebuilt_at', ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

// PruneRooms deletes rows for rooms not in keep.
func PruneRooms(db *sql.DB, keep []string) (int64, error) {
	rows, err := db.Query(`SELECT DISTINCT room FROM room_entries`)
	if err != nil {
		return 0, err
	}
	var stale []string
	keepSet := make(map[string]bool, len(keep))
	for _, name := range keep {
		keepSet[name] = true
	}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, err
		}
		if !keepSet[name] {
			stale = append(stale, name)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var removed int64
	for _, name := range stale {
		res, err := db.Exec(`DELETE FROM room_entries WHERE room = ?`, name)
		if err != nil {
			return removed, err
		}
		n, _ := res.RowsAffected()
		removed += n
	}
	return removed, nil
}

package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/adamavenir/rooms/internal/db"
	"github.com/adamavenir/rooms/internal/metrics"
	"github.com/adamavenir/rooms/internal/types"
)

// ErrStorage marks failures writing a room's log or archive. They end the
// room's turn for the current cycle.
var ErrStorage = errors.New("room storage")

// ClockLayout is the timestamp written with each thread entry.
const ClockLayout = "15:04:05"

// Outcome describes what consolidating one message did.
type Outcome struct {
	Message  types.Message
	Entry    types.ThreadEntry
	Activity Activity
	Dispatch DispatchResult
	// Duplicate is set when the filename was already archived and the inbox
	// copy was dropped without touching the log.
	Duplicate bool
}

// Consolidate moves one inbox message to Recorded: append to the thread log,
// archive the file, update membership and notify participants.
//
// Append and archive are not atomic together. A crash between them leaves
// the file in the inbox and it will be appended again on the next run.
func (d *Daemon) Consolidate(ctx context.Context, room, filename string) (*Outcome, error) {
	unlock := d.store.LockRoom(room)

	if d.store.IsArchived(room, filename) {
		unlock()
		d.log.Warn().Str("room", room).Str("file", filename).Msg("already archived, dropping inbox copy")
		if err := d.store.Discard(room, filename); err != nil {
			return nil, fmt.Errorf("discard duplicate %s: %w", filename, err)
		}
		return &Outcome{Duplicate: true}, nil
	}

	msg, err := d.readMessage(room, filename)
	if err != nil {
		unlock()
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}

	// The archive must be usable before the log grows, or every retry would
	// append the same entry again.
	if err := d.store.PrepareArchive(room); err != nil {
		unlock()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}

	now := d.now().UTC()
	entry := types.ThreadEntry{
		Sender: msg.Sender,
		Time:   now.Format(ClockLayout),
		Body:   msg.Body,
	}
	if err := d.store.AppendEntry(room, entry); err != nil {
		unlock()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	if err := d.store.Archive(room, filename); err != nil {
		unlock()
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	unlock()
	msg.State = types.MessageRecorded

	d.log.Info().
		Str("sender", msg.Sender).
		Str("room", room).
		Int("bytes", len(msg.Body)).
		Msg("consolidated")
	metrics.MessagesConsolidated.WithLabelValues(room).Inc()
	d.indexEntry(room, filename, entry)

	outcome := &Outcome{Message: msg, Entry: entry}

	// The message is recorded from here on. Later failures are logged but
	// never turn it back into a pending message.
	snapshot := d.presence.ListSessions(ctx)
	activity, err := d.RecordActivity(room, msg.Sender, msg.Body, snapshot)
	if err != nil {
		d.log.Error().Err(err).Str("room", room).Str("file", filename).Msg("update participants")
		return outcome, nil
	}
	outcome.Activity = activity
	outcome.Dispatch = d.Dispatch(ctx, room, msg.Sender, activity.Participants, activity.Mentioned)
	return outcome, nil
}

// indexEntry records the entry in the SQLite index. The index is a cache, so
// failures only warn.
func (d *Daemon) indexEntry(room, filename string, entry types.ThreadEntry) {
	if d.index == nil {
		return
	}
	err := db.RecordEntry(d.index, db.EntryRecord{
		Room:       room,
		Filename:   filename,
		Sender:     entry.Sender,
		Clock:      entry.Time,
		Bytes:      len(entry.Body),
		RecordedAt: d.now(),
	})
	if err != nil {
		d.log.Warn().Err(err).Str("room", room).Msg("index entry")
	}
}

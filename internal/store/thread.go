package store

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"syscall"

	"github.com/adamavenir/rooms/internal/types"
)

// RecordSeparator divides entries in a thread log.
const RecordSeparator = "\n---\n"

var entryHeaderRe = regexp.MustCompile(`^\*\*(.+?)\*\*\s*\((\d{2}:\d{2}:\d{2})\):\n?`)

// FormatEntry renders one thread log record, separator included.
func FormatEntry(entry types.ThreadEntry) string {
	return fmt.Sprintf("%s\n**%s** (%s):\n%s\n", RecordSeparator, entry.Sender, entry.Time, entry.Body)
}

// AppendEntry appends entry to room's thread log.
func (s *Store) AppendEntry(room string, entry types.ThreadEntry) error {
	if err := atomicAppend(s.ThreadPath(room), []byte(FormatEntry(entry))); err != nil {
		return fmt.Errorf("append thread %s: %w", room, err)
	}
	return nil
}

// atomicAppend writes data in one call under an exclusive flock and syncs it,
// so concurrent writers never interleave within a record.
func atomicAppend(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX); err != nil {
		return err
	}
	defer syscall.Flock(int(f.Fd()), syscall.LOCK_UN)

	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}

// ReadThread parses room's thread log. A missing log is empty.
func (s *Store) ReadThread(room string) ([]types.ThreadEntry, error) {
	data, err := os.ReadFile(s.ThreadPath(room))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return ParseThread(string(data)), nil
}

// ParseThread splits a thread log into entries. Text before the first
// record (the room header) is ignored. A chunk without a record header is
// treated as part of the previous body, since bodies may contain the
// separator themselves.
func ParseThread(content string) []types.ThreadEntry {
	chunks := strings.Split(content, RecordSeparator)
	entries := make([]types.ThreadEntry, 0, len(chunks))
	for i, chunk := range chunks {
		if i == 0 {
			continue
		}
		trimmed := strings.TrimLeft(chunk, "\n")
		match := entryHeaderRe.FindStringSubmatchIndex(trimmed)
		if match == nil {
			if n := len(entries); n > 0 {
				entries[n-1].Body = strings.TrimRight(entries[n-1].Body+RecordSeparator+chunk, "\n")
			}
			continue
		}
		entries = append(entries, types.ThreadEntry{
			Sender: trimmed[match[2]:match[3]],
			Time:   trimmed[match[4]:match[5]],
			Body:   strings.TrimRight(trimmed[match[1]:], "\n"),
		})
	}
	return entries
}

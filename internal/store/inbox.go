package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/adamavenir/rooms/internal/types"
)

// ListPending returns the message filenames in room's inbox, sorted by name.
// The arrival token is fixed width, so this is arrival order.
// A room without an inbox has nothing pending.
func (s *Store) ListPending(room string) ([]string, error) {
	entries, err := os.ReadDir(s.inboxPath(room))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !core.IsMessageFile(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ReadMessage loads an inbox file. The body is whitespace-trimmed and the
// sender comes from the filename.
func (s *Store) ReadMessage(room, filename string) (types.Message, error) {
	data, err := os.ReadFile(filepath.Join(s.inboxPath(room), filename))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return types.Message{}, fmt.Errorf("%w: %s/%s", ErrMessageNotInInbox, room, filename)
		}
		return types.Message{}, err
	}

	name := core.ParseMessageName(filename)
	return types.Message{
		Filename:     filename,
		Room:         room,
		Sender:       name.Sender,
		Body:         strings.TrimSpace(string(data)),
		ArrivalToken: name.ArrivalToken,
		State:        types.MessagePending,
	}, nil
}

// IsArchived reports whether filename is already in room's processed archive.
func (s *Store) IsArchived(room, filename string) bool {
	_, err := os.Lstat(filepath.Join(s.processedPath(room), filename))
	return err == nil
}

// PrepareArchive makes sure room's processed archive exists and is a
// directory.
func (s *Store) PrepareArchive(room string) error {
	dir := s.processedPath(room)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create processed dir: %w", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fmt.Errorf("stat processed dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("processed archive %s is not a directory", dir)
	}
	return nil
}

// Archive moves filename from the inbox into the processed archive under the
// same name. It refuses to overwrite an archived message.
func (s *Store) Archive(room, filename string) error {
	if err := s.PrepareArchive(room); err != nil {
		return err
	}
	dst := filepath.Join(s.processedPath(room), filename)
	if _, err := os.Lstat(dst); err == nil {
		return fmt.Errorf("%w: %s/%s", ErrAlreadyArchived, room, filename)
	}
	if err := os.Rename(filepath.Join(s.inboxPath(room), filename), dst); err != nil {
		return fmt.Errorf("archive %s/%s: %w", room, filename, err)
	}
	return nil
}

// Discard removes an inbox file whose name is already archived.
func (s *Store) Discard(room, filename string) error {
	if err := os.Remove(filepath.Join(s.inboxPath(room), filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ListProcessed returns the archived filenames for room, sorted by name.
func (s *Store) ListProcessed(room string) ([]string, error) {
	entries, err := os.ReadDir(s.processedPath(room))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Post drops a message into room's inbox and returns its filename.
// The file is written under a hidden temp name and renamed into place so a
// scan never sees a partial body.
func (s *Store) Post(room, sender, body string, now time.Time) (string, error) {
	if _, err := s.Room(room); err != nil {
		return "", err
	}
	sender = strings.TrimSpace(sender)
	if sender == "" || strings.ContainsAny(sender, `/\`) {
		return "", fmt.Errorf("invalid sender %q", sender)
	}

	filename := core.FormatMessageName(now, sender)
	dst := filepath.Join(s.inboxPath(room), filename)
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("%w: %s/%s", ErrMessageExists, room, filename)
	}

	tmp, err := os.CreateTemp(s.inboxPath(room), ".post-*.tmp")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(body + "\n"); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	if err := os.Rename(tmpName, dst); err != nil {
		_ = os.Remove(tmpName)
		return "", err
	}
	return filename, nil
}

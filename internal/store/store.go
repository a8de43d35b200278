// Package store keeps room state on the filesystem.
//
// Layout under the root directory:
//
//	<root>/<room>/inbox/       pending message files
//	<root>/<room>/processed/   consolidated message files
//	<root>/<room>/thread.md    append-only thread log
//	<root>/<room>/room.yaml    membership record
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adamavenir/rooms/internal/types"
)

const (
	inboxDir       = "inbox"
	processedDir   = "processed"
	threadFile     = "thread.md"
	membershipFile = "room.yaml"
)

var (
	ErrRoomNotFound      = errors.New("room not found")
	ErrRoomExists        = errors.New("room already exists")
	ErrInvalidRoomName   = errors.New("invalid room name")
	ErrAlreadyArchived   = errors.New("message already archived")
	ErrMessageExists     = errors.New("message already queued")
	ErrMessageNotInInbox = errors.New("message not in inbox")
)

var roomNameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// Store is the filesystem-backed room store rooted at one directory.
type Store struct {
	root string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New returns a store rooted at root. The directory is not created.
func New(root string) *Store {
	return &Store{root: root, locks: make(map[string]*sync.Mutex)}
}

// Root returns the store's root directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureRoot creates the root directory if needed.
func (s *Store) EnsureRoot() error {
	return os.MkdirAll(s.root, 0o755)
}

// ValidateRoomName rejects names that are not safe as a single path element.
func ValidateRoomName(name string) error {
	if !roomNameRe.MatchString(name) || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidRoomName, name)
	}
	return nil
}

// LockRoom serializes mutations of one room's log and archive.
func (s *Store) LockRoom(name string) func() {
	s.mu.Lock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func (s *Store) roomDir(name string) string {
	return filepath.Join(s.root, name)
}

func (s *Store) inboxPath(room string) string {
	return filepath.Join(s.roomDir(room), inboxDir)
}

func (s *Store) processedPath(room string) string {
	return filepath.Join(s.roomDir(room), processedDir)
}

// ThreadPath returns the thread log location for room.
func (s *Store) ThreadPath(room string) string {
	return filepath.Join(s.roomDir(room), threadFile)
}

func (s *Store) membershipPath(room string) string {
	return filepath.Join(s.roomDir(room), membershipFile)
}

// RoomExists reports whether room has an inbox.
func (s *Store) RoomExists(name string) bool {
	info, err := os.Stat(s.inboxPath(name))
	return err == nil && info.IsDir()
}

// Room returns the room handle, or ErrRoomNotFound.
func (s *Store) Room(name string) (types.Room, error) {
	if err := ValidateRoomName(name); err != nil {
		return types.Room{}, err
	}
	if !s.RoomExists(name) {
		return types.Room{}, fmt.Errorf("%w: %s", ErrRoomNotFound, name)
	}
	return types.Room{Name: name, Dir: s.roomDir(name)}, nil
}

// ListRooms returns every directory under the root that has an inbox, sorted
// by name. Hidden directories are skipped.
func (s *Store) ListRooms() ([]types.Room, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	rooms := make([]types.Room, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if !s.RoomExists(entry.Name()) {
			continue
		}
		rooms = append(rooms, types.Room{Name: entry.Name(), Dir: s.roomDir(entry.Name())})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

// CreateRoom materializes a room: inbox, processed archive, thread header and
// membership record. It fails with ErrRoomExists if the room has an inbox.
func (s *Store) CreateRoom(name, createdBy string, now time.Time) (types.Room, error) {
	if err := ValidateRoomName(name); err != nil {
		return types.Room{}, err
	}
	if s.RoomExists(name) {
		return types.Room{}, fmt.Errorf("%w: %s", ErrRoomExists, name)
	}

	for _, dir := range []string{s.inboxPath(name), s.processedPath(name)} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return types.Room{}, fmt.Errorf("create room %s: %w", name, err)
		}
	}

	now = now.UTC()
	header := fmt.Sprintf("# Room: %s\n**Created:** %s\n", name, now.Format("2006-01-02T15:04:05Z"))
	if _, err := os.Stat(s.ThreadPath(name)); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(s.ThreadPath(name), []byte(header), 0o644); err != nil {
			return types.Room{}, fmt.Errorf("create room %s: %w", name, err)
		}
	}

	if _, ok, err := s.LoadMembership(name); err != nil {
		return types.Room{}, err
	} else if !ok {
		m := types.Membership{
			CreatedBy:    createdBy,
			CreatedAt:    now.Format(time.RFC3339Nano),
			Participants: []string{},
		}
		if err := s.SaveMembership(name, m); err != nil {
			return types.Room{}, err
		}
	}

	return types.Room{Name: name, Dir: s.roomDir(name)}, nil
}

// EnsureLobby creates the default room when no room exists yet.
// It reports whether a room was created.
func (s *Store) EnsureLobby(name string, now time.Time) (bool, error) {
	if err := s.EnsureRoot(); err != nil {
		return false, err
	}
	rooms, err := s.ListRooms()
	if err != nil {
		return false, err
	}
	if len(rooms) > 0 {
		return false, nil
	}
	if _, err := s.CreateRoom(name, "system", now); err != nil {
		return false, err
	}
	return true, nil
}

// Summarize collects listing details for room.
func (s *Store) Summarize(name string) (types.RoomSummary, error) {
	summary := types.RoomSummary{Name: name, Participants: []string{}}

	m, _, err := s.LoadMembership(name)
	if err != nil {
		return summary, err
	}
	summary.CreatedBy = m.CreatedBy
	if m.Participants != nil {
		summary.Participants = m.Participants
	}

	pending, err := s.ListPending(name)
	if err != nil {
		return summary, err
	}
	summary.Pending = len(pending)

	processed, err := countFiles(s.processedPath(name))
	if err != nil {
		return summary, err
	}
	summary.Processed = processed

	if info, err := os.Stat(s.ThreadPath(name)); err == nil {
		mod := info.ModTime()
		summary.LastActivity = &mod
	}
	return summary, nil
}

func countFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			count++
		}
	}
	return count, nil
}

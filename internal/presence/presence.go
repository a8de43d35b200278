// Package presence answers which agents are reachable and delivers text to
// their interactive sessions. Both capabilities degrade to "nobody here"
// when the backing tool is missing.
package presence

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/adamavenir/rooms/internal/types"
)

// ErrUnavailable is returned by actuators that cannot reach any session.
var ErrUnavailable = errors.New("session actuator unavailable")

// Directory lists reachable agents.
type Directory interface {
	// ListSessions returns agents keyed by lower-case identifier. It returns
	// an empty snapshot, never an error, when presence cannot be determined.
	ListSessions(ctx context.Context) Snapshot
}

// Actuator drives an agent's interactive session.
type Actuator interface {
	HasSession(ctx context.Context, session string) bool
	SendText(ctx context.Context, session, text string) error
	Submit(ctx context.Context, session string) error
}

// Snapshot is a point-in-time presence listing keyed by lower-case id.
type Snapshot map[string]types.PresenceEntry

// Resolve looks up a mention token case-insensitively and returns the
// canonical display name.
func (s Snapshot) Resolve(token string) (string, bool) {
	entry, ok := s[strings.ToLower(token)]
	if !ok {
		return "", false
	}
	return entry.Name, true
}

// Entries returns the snapshot sorted by display name.
func (s Snapshot) Entries() []types.PresenceEntry {
	entries := make([]types.PresenceEntry, 0, len(s))
	for _, entry := range s {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// Empty is a directory with nobody present.
type Empty struct{}

func (Empty) ListSessions(context.Context) Snapshot { return Snapshot{} }

// Noop is an actuator with no sessions.
type Noop struct{}

func (Noop) HasSession(context.Context, string) bool { return false }

func (Noop) SendText(context.Context, string, string) error { return ErrUnavailable }

func (Noop) Submit(context.Context, string) error { return ErrUnavailable }

// DisplayName turns a session identifier into the name shown in rooms:
// first letter upper case, the rest lower case.
func DisplayName(id string) string {
	if id == "" {
		return id
	}
	runes := []rune(strings.ToLower(id))
	runes[0] = []rune(strings.ToUpper(string(runes[0])))[0]
	return string(runes)
}

package types

import "time"

// MessageState represents where a message sits in its lifecycle.
type MessageState string

const (
	MessagePending  MessageState = "pending"
	MessageRecorded MessageState = "recorded"
)

// PresenceStatus represents whether a reachable agent is attached to its session.
type PresenceStatus string

const (
	PresenceActive PresenceStatus = "active"
	PresenceIdle   PresenceStatus = "idle"
)

// Room is a named conversation channel backed by a directory.
type Room struct {
	Name string `json:"name"`
	Dir  string `json:"dir"`
}

// Message is a single inbox file.
type Message struct {
	Filename     string       `json:"filename"`
	Room         string       `json:"room"`
	Sender       string       `json:"sender"`
	Body         string       `json:"body"`
	ArrivalToken string       `json:"arrival_token,omitempty"`
	State        MessageState `json:"state"`
}

// ThreadEntry is one record of a room's thread log. Time is the
// processing clock time, HH:MM:SS in UTC.
type ThreadEntry struct {
	Sender string `json:"sender"`
	Time   string `json:"time"`
	Body   string `json:"body"`
}

// Membership is the room.yaml document.
type Membership struct {
	CreatedBy    string   `yaml:"created_by" json:"created_by"`
	CreatedAt    string   `yaml:"created_at" json:"created_at"`
	Participants []string `yaml:"participants" json:"participants"`

	// Extra keeps keys written by other tools so a save does not drop them.
	Extra map[string]any `yaml:",inline" json:"-"`
}

// PresenceEntry is a point-in-time view of one reachable agent.
type PresenceEntry struct {
	Name   string         `json:"name"`
	Status PresenceStatus `json:"status"`
}

// RoomSummary describes a room for listings.
type RoomSummary struct {
	Name         string     `json:"name"`
	Participants []string   `json:"participants"`
	Pending      int        `json:"pending"`
	Processed    int        `json:"processed"`
	CreatedBy    string     `json:"created_by,omitempty"`
	LastActivity *time.Time `json:"last_activity,omitempty"`
}

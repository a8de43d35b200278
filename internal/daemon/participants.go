package daemon

import (
	"fmt"
	"time"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/adamavenir/rooms/internal/metrics"
	"github.com/adamavenir/rooms/internal/presence"
	"github.com/adamavenir/rooms/internal/types"
)

// Resolution is a mention token that matched a present agent.
type Resolution struct {
	Token string // as written, without the @
	Name  string // canonical display name from presence
}

// ResolveMentions extracts @tokens from body and keeps the ones that match a
// present agent. Order and duplicates follow the text.
func ResolveMentions(body string, snapshot presence.Snapshot) []Resolution {
	tokens := core.ExtractMentions(body)
	resolved := make([]Resolution, 0, len(tokens))
	for _, token := range tokens {
		name, ok := snapshot.Resolve(token)
		if !ok {
			continue
		}
		resolved = append(resolved, Resolution{Token: token, Name: name})
	}
	return resolved
}

// Addition records a participant added by a message.
type Addition struct {
	Name   string `json:"name"`
	Reason string `json:"reason"` // "sender" or "mention"
	Token  string `json:"token,omitempty"`
}

// Activity is the membership result of recording one message.
type Activity struct {
	Participants []string
	// Mentioned holds participants written as "@name" in the body. It is a
	// text check against Participants and does not consult presence.
	Mentioned []string
	Added     []Addition
	Changed   bool
}

// RecordActivity makes sender a participant of room and adds every mention
// that resolves to a present agent. room.yaml is only written when the
// participant list changed.
func (d *Daemon) RecordActivity(room, sender, body string, snapshot presence.Snapshot) (Activity, error) {
	m, ok, err := d.store.LoadMembership(room)
	if err != nil {
		return Activity{}, err
	}
	if !ok {
		m = types.Membership{
			CreatedBy: sender,
			CreatedAt: d.now().UTC().Format(time.RFC3339Nano),
		}
	}

	participants := append([]string(nil), m.Participants...)
	var added []Addition

	if !core.ContainsName(participants, sender) {
		participants = append(participants, sender)
		added = append(added, Addition{Name: sender, Reason: "sender"})
	}

	for _, res := range ResolveMentions(body, snapshot) {
		if core.ContainsName(participants, res.Name) {
			continue
		}
		participants = append(participants, res.Name)
		added = append(added, Addition{Name: res.Name, Reason: "mention", Token: "@" + res.Token})
		d.log.Info().
			Str("room", room).
			Str("participant", res.Name).
			Str("mention", "@"+res.Token).
			Msg("auto-added participant")
	}

	activity := Activity{
		Participants: participants,
		Added:        added,
		Changed:      len(added) > 0,
	}
	if activity.Changed {
		m.Participants = participants
		if err := d.store.SaveMembership(room, m); err != nil {
			return Activity{}, fmt.Errorf("save membership: %w", err)
		}
		for _, a := range added {
			metrics.ParticipantsAdded.WithLabelValues(room, a.Reason).Inc()
		}
	}

	activity.Mentioned = core.MentionedIn(body, participants)
	return activity, nil
}

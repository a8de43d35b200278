package daemon

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/adamavenir/rooms/internal/metrics"
)

// NotificationKind selects the wording of a notification.
type NotificationKind string

const (
	// Directed goes to participants written as @name in the message.
	Directed NotificationKind = "directed"
	// Ambient goes to every other participant.
	Ambient NotificationKind = "ambient"
)

// Notification is one message to be typed into a participant's session.
type Notification struct {
	Participant string           `json:"participant"`
	Session     string           `json:"session"`
	Kind        NotificationKind `json:"kind"`
	Text        string           `json:"text"`
}

// DispatchResult reports what Dispatch delivered.
type DispatchResult struct {
	Sent    []Notification `json:"sent"`
	Skipped []string       `json:"skipped"`
}

// Dispatch notifies every participant but the sender whose session exists.
// Delivery is serialized and best-effort: offline participants and failed
// deliveries are skipped, never retried.
func (d *Daemon) Dispatch(ctx context.Context, room, sender string, participants, mentioned []string) DispatchResult {
	var result DispatchResult
	start := time.Now()

	for _, participant := range participants {
		if strings.EqualFold(participant, sender) {
			continue
		}
		if d.cfg.DispatchBudget > 0 && time.Since(start) > d.cfg.DispatchBudget {
			d.log.Warn().Str("room", room).Str("participant", participant).Msg("dispatch budget exhausted, skipping")
			metrics.NotificationsSkipped.WithLabelValues("budget").Inc()
			result.Skipped = append(result.Skipped, participant)
			continue
		}

		session := d.cfg.SessionName(participant)
		if !d.actuator.HasSession(ctx, session) {
			metrics.NotificationsSkipped.WithLabelValues("offline").Inc()
			result.Skipped = append(result.Skipped, participant)
			continue
		}

		kind := Ambient
		if core.ContainsName(mentioned, participant) {
			kind = Directed
		}
		n := Notification{
			Participant: participant,
			Session:     session,
			Kind:        kind,
			Text:        d.composeNotification(kind, room, sender, participant, d.now().UTC()),
		}

		if err := d.deliver(ctx, n); err != nil {
			d.log.Debug().Err(err).Str("participant", participant).Str("session", session).Msg("notify failed")
			metrics.NotificationsSkipped.WithLabelValues("failed").Inc()
			result.Skipped = append(result.Skipped, participant)
			continue
		}

		d.log.Info().Str("room", room).Str("participant", participant).Str("session", session).Str("kind", string(kind)).Msg("notified")
		metrics.NotificationsSent.WithLabelValues(string(kind)).Inc()
		result.Sent = append(result.Sent, n)
	}
	return result
}

// deliver types the text, waits, presses Enter and waits again so the
// session settles before the next participant.
func (d *Daemon) deliver(ctx context.Context, n Notification) error {
	if err := d.actuator.SendText(ctx, n.Session, n.Text); err != nil {
		return err
	}
	d.sleep(ctx, d.cfg.SendPause)
	if err := d.actuator.Submit(ctx, n.Session); err != nil {
		return err
	}
	d.sleep(ctx, d.cfg.SubmitPause)
	return nil
}

func (d *Daemon) composeNotification(kind NotificationKind, room, sender, participant string, now time.Time) string {
	roomPath := path.Join(d.cfg.SignalsPrefix, room)
	threadPath := path.Join(roomPath, "thread.md")
	replyFile := path.Join(roomPath, "inbox", core.FormatMessageName(now, participant))
	tag := fmt.Sprintf("[Room:%s %s]", room, now.Format("15:04"))

	if kind == Directed {
		return fmt.Sprintf(
			"%s: @%s from %s. Read: cat %s -- WRITE reply to %s (NOT thread.md) -- "+
				"Keep short (1-2 lines). No confirmations of confirmations.",
			tag, participant, sender, threadPath, replyFile,
		)
	}
	return fmt.Sprintf(
		"%s: New msg from %s. Read: tail -50 %s (need more context? tail -200 or -500) -- "+
			"Default: SILENCE. Only reply if your SME domain adds new info. "+
			"If replying, WRITE to %s (NOT thread.md, 1-2 lines).",
		tag, sender, threadPath, replyFile,
	)
}

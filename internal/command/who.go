package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/adamavenir/rooms/internal/db"
	"github.com/adamavenir/rooms/internal/types"
	"github.com/spf13/cobra"
)

const presenceOffline = "offline"

type participantStatus struct {
	Name     string `json:"name"`
	Session  string `json:"session"`
	Status   string `json:"status"`
	Messages int    `json:"messages"`
}

// NewWhoCmd creates the who command.
func NewWhoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "who [room]",
		Short: "Show present agents, or a room's participants",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			directory, _, err := newPresence(ctx.Config)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			snapshot := directory.ListSessions(cmd.Context())
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				entries := snapshot.Entries()
				if ctx.JSONMode {
					return json.NewEncoder(out).Encode(map[string]any{"agents": entries})
				}
				if len(entries) == 0 {
					fmt.Fprintln(out, "No agents present")
					return nil
				}
				for _, entry := range entries {
					fmt.Fprintf(out, "  %s  %s\n", render(senderStyle(entry.Name), entry.Name), formatPresence(entry.Status))
				}
				return nil
			}

			room := args[0]
			if _, err := ctx.Store.Room(room); err != nil {
				return writeCommandError(cmd, err)
			}
			membership, _, err := ctx.Store.LoadMembership(room)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			counts := messageCounts(ctx, room)

			statuses := make([]participantStatus, 0, len(membership.Participants))
			for _, name := range membership.Participants {
				status := presenceOffline
				if entry, ok := snapshot[strings.ToLower(name)]; ok {
					status = string(entry.Status)
				}
				statuses = append(statuses, participantStatus{
					Name:     name,
					Session:  ctx.Config.SessionName(name),
					Status:   status,
					Messages: counts[strings.ToLower(name)],
				})
			}

			if ctx.JSONMode {
				return json.NewEncoder(out).Encode(map[string]any{
					"room":         room,
					"created_by":   membership.CreatedBy,
					"participants": statuses,
				})
			}
			if len(statuses) == 0 {
				fmt.Fprintf(out, "No participants in %s\n", room)
				return nil
			}
			fmt.Fprintf(out, "%s (%s):\n", render(headerStyle, room), pluralize(len(statuses), "participant"))
			for _, s := range statuses {
				status := s.Status
				if status != presenceOffline {
					status = formatPresence(types.PresenceStatus(status))
				} else {
					status = render(dimStyle, status)
				}
				fmt.Fprintf(out, "  %s  %s  %s  %s\n",
					render(senderStyle(s.Name), s.Name), status, pluralize(s.Messages, "message"), render(dimStyle, s.Session))
			}
			return nil
		},
	}

	return cmd
}

// messageCounts reads per-sender counts from the index, keyed by lowercased
// sender. The index is optional here, so any failure yields no counts.
func messageCounts(ctx *CommandContext, room string) map[string]int {
	counts := map[string]int{}
	index, err := ctx.OpenIndex()
	if err != nil {
		ctx.Logger.Debug().Err(err).Msg("open index")
		return counts
	}
	defer index.Close()

	senders, err := db.CountBySender(index, room, time.Time{})
	if err != nil {
		ctx.Logger.Debug().Err(err).Str("room", room).Msg("count senders")
		return counts
	}
	for _, sc := range senders {
		counts[strings.ToLower(sc.Sender)] += sc.Count
	}
	return counts
}

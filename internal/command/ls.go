package command

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adamavenir/rooms/internal/types"
	"github.com/spf13/cobra"
)

// NewLsCmd creates the ls command.
func NewLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			rooms, err := ctx.Store.ListRooms()
			if err != nil {
				return writeCommandError(cmd, err)
			}

			summaries := make([]types.RoomSummary, 0, len(rooms))
			for _, room := range rooms {
				summary, err := ctx.Store.Summarize(room.Name)
				if err != nil {
					ctx.Logger.Warn().Err(err).Str("room", room.Name).Msg("summarize room")
				}
				summaries = append(summaries, summary)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"rooms": summaries})
			}

			out := cmd.OutOrStdout()
			if len(summaries) == 0 {
				fmt.Fprintf(out, "No rooms in %s\n", ctx.Config.RootDir)
				return nil
			}
			fmt.Fprintf(out, "Rooms (%d):\n", len(summaries))
			for _, s := range summaries {
				participants := "-"
				if len(s.Participants) > 0 {
					participants = strings.Join(s.Participants, ", ")
				}
				fmt.Fprintf(out, "  %s  %s  %s  %d pending  active %s\n",
					render(headerStyle, s.Name),
					participants,
					pluralize(s.Processed, "message"),
					s.Pending,
					formatAgo(s.LastActivity),
				)
			}
			return nil
		},
	}

	return cmd
}

package command

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/adamavenir/rooms/internal/db"
	"github.com/spf13/cobra"
)

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <room>",
		Short: "Show per-sender message counts from the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if _, err := ctx.Store.Room(args[0]); err != nil {
				return writeCommandError(cmd, err)
			}

			var since time.Time
			if value, _ := cmd.Flags().GetString("since"); value != "" {
				since, err = core.ParseSince(value, time.Now())
				if err != nil {
					return writeCommandError(cmd, err)
				}
			}

			index, err := ctx.OpenIndex()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer index.Close()

			stats, err := db.GetRoomStats(index, args[0], since)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s: %s, last recorded %s\n",
				render(headerStyle, stats.Room), pluralize(stats.Entries, "message"), formatAgo(stats.LastRecord))
			for _, sender := range stats.Senders {
				fmt.Fprintf(out, "  %-16s %d\n", sender.Sender, sender.Count)
			}
			if stats.Entries == 0 && since.IsZero() {
				fmt.Fprintln(out, "Hint: run 'rooms rebuild' if the thread already has messages")
			}
			return nil
		},
	}

	cmd.Flags().String("since", "", "only count messages since (30m, 2h, 1d, today, RFC 3339)")

	return cmd
}

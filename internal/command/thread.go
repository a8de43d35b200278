package command

import (
	"encoding/json"
	"fmt"

	"github.com/adamavenir/rooms/internal/types"
	"github.com/spf13/cobra"
)

// NewThreadCmd creates the thread command.
func NewThreadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "thread <room>",
		Short: "Show a room's thread log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			last, _ := cmd.Flags().GetInt("last")
			if last < 0 {
				return writeCommandError(cmd, fmt.Errorf("--last must be >= 0"))
			}

			if _, err := ctx.Store.Room(args[0]); err != nil {
				return writeCommandError(cmd, err)
			}
			entries, err := ctx.Store.ReadThread(args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if last > 0 && len(entries) > last {
				entries = entries[len(entries)-last:]
			}
			if entries == nil {
				entries = []types.ThreadEntry{}
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"room":    args[0],
					"entries": entries,
				})
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No messages in %s\n", args[0])
				return nil
			}
			for i, entry := range entries {
				if i > 0 {
					fmt.Fprintln(out)
				}
				fmt.Fprintln(out, FormatEntry(entry))
			}
			return nil
		},
	}

	cmd.Flags().Int("last", 0, "show only the last N entries")

	return cmd
}

package command

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// NewNewCmd creates the new command.
func NewNewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "new <room>",
		Short: "Create a room",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			createdBy, _ := cmd.Flags().GetString("by")
			if createdBy == "" {
				createdBy = os.Getenv("USER")
			}
			if createdBy == "" {
				createdBy = "system"
			}

			if err := ctx.Store.EnsureRoot(); err != nil {
				return writeCommandError(cmd, err)
			}
			room, err := ctx.Store.CreateRoom(args[0], createdBy, time.Now())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			ctx.Logger.Debug().Str("room", room.Name).Str("created_by", createdBy).Msg("room created")

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"name":       room.Name,
					"dir":        room.Dir,
					"created_by": createdBy,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created room %s at %s\n", room.Name, room.Dir)
			return nil
		},
	}

	cmd.Flags().String("by", "", "creator recorded in room.yaml (default $USER)")

	return cmd
}

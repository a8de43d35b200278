package command

import (
	"encoding/json"
	"fmt"

	"github.com/adamavenir/rooms/internal/db"
	"github.com/spf13/cobra"
)

type rebuiltRoom struct {
	Room    string `json:"room"`
	Entries int    `json:"entries"`
}

// NewRebuildCmd creates the rebuild command.
func NewRebuildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the index from thread logs",
		Long: `Rebuild the SQLite index from every room's thread.md.

Thread logs are the source of truth. Use this command when:
- You see schema errors (e.g., "no such column")
- The index is missing or corrupted
- thread.md files were edited or copied in by hand`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			index, err := ctx.OpenIndex()
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer index.Close()

			rooms, err := ctx.Store.ListRooms()
			if err != nil {
				return writeCommandError(cmd, err)
			}

			rebuilt := make([]rebuiltRoom, 0, len(rooms))
			names := make([]string, 0, len(rooms))
			for _, room := range rooms {
				entries, err := ctx.Store.ReadThread(room.Name)
				if err != nil {
					return writeCommandError(cmd, fmt.Errorf("read %s: %w", room.Name, err))
				}
				if err := db.RebuildRoom(index, room.Name, entries); err != nil {
					return writeCommandError(cmd, err)
				}
				rebuilt = append(rebuilt, rebuiltRoom{Room: room.Name, Entries: len(entries)})
				names = append(names, room.Name)
			}

			pruned, err := db.PruneRooms(index, names)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"rooms":  rebuilt,
					"pruned": pruned,
				})
			}
			out := cmd.OutOrStdout()
			for _, r := range rebuilt {
				fmt.Fprintf(out, "  %s  %d entries\n", r.Room, r.Entries)
			}
			fmt.Fprintf(out, "Index rebuilt (%s", pluralize(len(rebuilt), "room"))
			if pruned > 0 {
				fmt.Fprintf(out, ", %d stale rows pruned", pruned)
			}
			fmt.Fprintln(out, ")")
			return nil
		},
	}

	return cmd
}

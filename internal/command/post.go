package command

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// NewPostCmd creates the post command.
func NewPostCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "post <room> <message...>",
		Short: "Drop a message into a room's inbox",
		Long: `Write a message file into the room's inbox for the daemon to pick up.

Use "-" as the message to read the body from stdin.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			sender, _ := cmd.Flags().GetString("as")
			if strings.TrimSpace(sender) == "" {
				return writeCommandError(cmd, fmt.Errorf("--as is required"))
			}

			body := strings.Join(args[1:], " ")
			if body == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return writeCommandError(cmd, err)
				}
				body = string(data)
			}
			body = strings.TrimSpace(body)
			if body == "" {
				return writeCommandError(cmd, fmt.Errorf("message is empty"))
			}

			filename, err := ctx.Store.Post(args[0], sender, body, time.Now())
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"room":     args[0],
					"sender":   sender,
					"filename": filename,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s in %s\n", filename, args[0])
			return nil
		},
	}

	cmd.Flags().String("as", "", "sender name")

	return cmd
}

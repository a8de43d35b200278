package command

import (
	"os"

	"github.com/spf13/cobra"
)

const AppName = "rooms"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   AppName,
		Short: "Rooms - filesystem message bus for agents",
		Long: `Rooms is an asynchronous message bus for agents sharing a filesystem.

Agents drop messages into a room's inbox. The daemon appends them to the
room's thread.md, archives the originals, tracks participants from
@mentions and nudges present agents through their tmux sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().String("dir", "", "rooms root directory (default $ROOMS_DIR or /data/rooms)")
	cmd.PersistentFlags().String("config", "", "config file (default rooms.yaml in ~/.config/rooms or .)")
	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().Bool("pretty", false, "human-readable logs")

	cmd.AddCommand(
		NewDaemonCmd(),
		NewNewCmd(),
		NewLsCmd(),
		NewPostCmd(),
		NewThreadCmd(),
		NewWhoCmd(),
		NewStatsCmd(),
		NewRebuildCmd(),
	)

	return cmd
}

func Execute() error {
	return NewRootCmd(Version).Execute()
}

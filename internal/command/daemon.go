package command

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/adamavenir/rooms/internal/daemon"
	"github.com/adamavenir/rooms/internal/metrics"
	"github.com/adamavenir/rooms/internal/presence"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

// NewDaemonCmd creates the daemon command.
func NewDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the room consolidation daemon",
		Long: `Start the daemon that consolidates room inboxes into thread logs.

Each cycle the daemon:
- Appends every pending inbox message to the room's thread.md
- Moves the message into processed/
- Adds the sender and present @mentioned agents to room.yaml
- Types a notification into each other participant's tmux session

Only one daemon can run per rooms directory (enforced via lock file).
Use Ctrl+C or SIGTERM to stop after the current cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			cfg := cmdCtx.Config
			log := cmdCtx.Logger

			directory, actuator, err := newPresence(cfg)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			index, err := cmdCtx.OpenIndex()
			if err != nil {
				log.Warn().Err(err).Str("path", cfg.IndexPath()).Msg("index unavailable, continuing without it")
			}
			if index != nil {
				defer index.Close()
			}

			d := daemon.New(cfg, daemon.Deps{
				Store:    cmdCtx.Store,
				Presence: directory,
				Actuator: actuator,
				Index:    index,
				Logger:   log,
			})

			once, _ := cmd.Flags().GetBool("once")
			if once {
				if daemon.IsLocked(cfg.StateDir()) {
					return writeCommandError(cmd, fmt.Errorf("daemon already running for %s", cfg.RootDir))
				}
				if err := cmdCtx.Store.EnsureRoot(); err != nil {
					return writeCommandError(cmd, err)
				}
				if _, err := cmdCtx.Store.EnsureLobby(core.DefaultLobby, time.Now()); err != nil {
					return writeCommandError(cmd, err)
				}
				result := d.ScanOnce(cmd.Context())
				if cmdCtx.JSONMode {
					return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scanned %s: %s consolidated, %d failed\n",
					pluralize(result.Rooms, "room"), pluralize(result.Consolidated, "message"), result.Failed)
				return nil
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if cfg.MetricsAddr != "" {
				go func() {
					if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
						log.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server")
					}
				}()
			}

			if err := d.Start(ctx); err != nil {
				return writeCommandError(cmd, err)
			}

			if cmdCtx.JSONMode {
				json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"status":        "started",
					"dir":           cfg.RootDir,
					"poll_interval": cfg.PollInterval.String(),
				})
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (dir: %s, poll interval: %s)\n", cfg.RootDir, cfg.PollInterval)
				fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop")
			}

			<-ctx.Done()

			if !cmdCtx.JSONMode {
				fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
			}
			if err := d.Stop(); err != nil {
				return writeCommandError(cmd, err)
			}

			if cmdCtx.JSONMode {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
					"status": "stopped",
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon stopped")
			return nil
		},
	}

	cmd.Flags().Duration("poll-interval", 0, "how often to scan inboxes (default 1s)")
	cmd.Flags().Bool("watch", false, "also wake on inbox file events")
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().String("presence", "", "presence backend: tmux or none")
	cmd.Flags().Bool("once", false, "run a single scan cycle and exit")

	cmd.AddCommand(NewDaemonStatusCmd())

	return cmd
}

// NewDaemonStatusCmd creates the daemon status command.
func NewDaemonStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check if daemon is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			stateDir := cmdCtx.Config.StateDir()
			running := daemon.IsLocked(stateDir)
			info, err := daemon.ReadLock(stateDir)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if cmdCtx.JSONMode {
				payload := map[string]any{
					"running": running,
					"dir":     cmdCtx.Config.RootDir,
				}
				if running && info != nil {
					payload["pid"] = info.PID
					payload["started_at"] = info.StartedAt
					payload["instance"] = info.Instance
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(payload)
			}

			out := cmd.OutOrStdout()
			if !running {
				fmt.Fprintln(out, "Daemon is not running")
				if info != nil {
					fmt.Fprintf(out, "Stale lock from pid %d\n", info.PID)
				}
				return nil
			}
			started := time.Unix(info.StartedAt, 0)
			fmt.Fprintf(out, "Daemon is running (pid %d, started %s)\n", info.PID, humanize.Time(started))
			return nil
		},
	}

	return cmd
}

func newPresence(cfg core.Config) (presence.Directory, presence.Actuator, error) {
	switch cfg.Presence {
	case "tmux":
		tmux := presence.NewTmux(cfg.SessionSuffix, cfg.ToolTimeout)
		return tmux, tmux, nil
	case "none":
		return presence.Empty{}, presence.Noop{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown presence backend %q", cfg.Presence)
	}
}

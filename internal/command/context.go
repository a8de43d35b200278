package command

import (
	"database/sql"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/adamavenir/rooms/internal/db"
	"github.com/adamavenir/rooms/internal/logging"
	"github.com/adamavenir/rooms/internal/store"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	Config   core.Config
	Store    *store.Store
	Logger   zerolog.Logger
	JSONMode bool
}

// flagKeys maps persistent flags to config keys.
var flagKeys = map[string]string{
	"dir":           "dir",
	"log-level":     "log.level",
	"pretty":        "log.pretty",
	"poll-interval": "poll_interval",
	"watch":         "watch",
	"metrics-addr":  "metrics_addr",
	"presence":      "presence",
}

// GetContext resolves configuration from flags, environment and config file.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	jsonMode, _ := cmd.Flags().GetBool("json")
	configFile, _ := cmd.Flags().GetString("config")

	v := core.NewViper()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, err
			}
		}
	}

	cfg, err := core.LoadConfig(v, configFile)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Pretty: cfg.Log.Pretty,
		Out:    cmd.ErrOrStderr(),
	})

	return &CommandContext{
		Config:   cfg,
		Store:    store.New(cfg.RootDir),
		Logger:   logger,
		JSONMode: jsonMode,
	}, nil
}

// OpenIndex opens the SQLite index under the state dir.
func (c *CommandContext) OpenIndex() (*sql.DB, error) {
	return db.Open(c.Config.IndexPath())
}

package core

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// DefaultRootDir is used when ROOMS_DIR is not set.
	DefaultRootDir       = "/data/rooms"
	DefaultSignalsPrefix = "AI_Agents/signals/rooms"
	DefaultSessionSuffix = "_session"
	DefaultLobby         = "lobby"
)

// Config is the process-wide configuration, resolved once at startup.
type Config struct {
	RootDir        string        `mapstructure:"dir"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Watch          bool          `mapstructure:"watch"`
	Rooms          []string      `mapstructure:"rooms"`
	Presence       string        `mapstructure:"presence"`
	SignalsPrefix  string        `mapstructure:"signals_prefix"`
	SessionSuffix  string        `mapstructure:"session_suffix"`
	ToolTimeout    time.Duration `mapstructure:"tool_timeout"`
	SendPause      time.Duration `mapstructure:"send_pause"`
	SubmitPause    time.Duration `mapstructure:"submit_pause"`
	DispatchBudget time.Duration `mapstructure:"dispatch_budget"`
	MetricsAddr    string        `mapstructure:"metrics_addr"`
	Log            LogConfig     `mapstructure:"log"`

	roomFilters []glob.Glob
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		RootDir:        DefaultRootDir,
		PollInterval:   1 * time.Second,
		Presence:       "tmux",
		SignalsPrefix:  DefaultSignalsPrefix,
		SessionSuffix:  DefaultSessionSuffix,
		ToolTimeout:    5 * time.Second,
		SendPause:      500 * time.Millisecond,
		SubmitPause:    300 * time.Millisecond,
		DispatchBudget: 30 * time.Second,
		Log:            LogConfig{Level: "info"},
	}
}

// NewViper returns a viper instance seeded with defaults and env bindings.
// Keys map to ROOMS_<KEY> env vars, with ROOMS_DIR naming the root.
func NewViper() *viper.Viper {
	def := DefaultConfig()
	v := viper.New()
	v.SetEnvPrefix("rooms")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("dir", def.RootDir)
	v.SetDefault("poll_interval", def.PollInterval)
	v.SetDefault("watch", def.Watch)
	v.SetDefault("rooms", []string{})
	v.SetDefault("presence", def.Presence)
	v.SetDefault("signals_prefix", def.SignalsPrefix)
	v.SetDefault("session_suffix", def.SessionSuffix)
	v.SetDefault("tool_timeout", def.ToolTimeout)
	v.SetDefault("send_pause", def.SendPause)
	v.SetDefault("submit_pause", def.SubmitPause)
	v.SetDefault("dispatch_budget", def.DispatchBudget)
	v.SetDefault("metrics_addr", "")
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.pretty", false)
	return v
}

// LoadConfig reads .env, the optional config file and the environment into cfg.
// configFile may be empty, in which case rooms.yaml is looked up in
// $HOME/.config/rooms and the working directory.
func LoadConfig(v *viper.Viper, configFile string) (Config, error) {
	// .env is optional
	_ = godotenv.Load()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("rooms")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "rooms"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize fills zero values with defaults and compiles room filters.
func (c *Config) Normalize() error {
	def := DefaultConfig()
	if strings.TrimSpace(c.RootDir) == "" {
		c.RootDir = def.RootDir
	}
	abs, err := filepath.Abs(c.RootDir)
	if err != nil {
		return fmt.Errorf("resolve rooms dir: %w", err)
	}
	c.RootDir = abs

	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.Presence == "" {
		c.Presence = def.Presence
	}
	if c.SignalsPrefix == "" {
		c.SignalsPrefix = def.SignalsPrefix
	}
	if c.SessionSuffix == "" {
		c.SessionSuffix = def.SessionSuffix
	}
	if c.ToolTimeout <= 0 {
		c.ToolTimeout = def.ToolTimeout
	}
	if c.SendPause < 0 {
		c.SendPause = 0
	}
	if c.SubmitPause < 0 {
		c.SubmitPause = 0
	}
	if c.DispatchBudget <= 0 {
		c.DispatchBudget = def.DispatchBudget
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}

	c.roomFilters = c.roomFilters[:0]
	for _, pattern := range c.Rooms {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		g, err := glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid room pattern %q: %w", pattern, err)
		}
		c.roomFilters = append(c.roomFilters, g)
	}
	return nil
}

// WatchesRoom reports whether the daemon should process room name.
// With no patterns configured every room is watched.
func (c *Config) WatchesRoom(name string) bool {
	if len(c.roomFilters) == 0 {
		return true
	}
	for _, g := range c.roomFilters {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// StateDir is where daemon bookkeeping (lock, index) lives.
func (c *Config) StateDir() string {
	return filepath.Join(c.RootDir, ".rooms")
}

// IndexPath is the SQLite index location.
func (c *Config) IndexPath() string {
	return filepath.Join(c.StateDir(), "index.db")
}

// SessionName returns the presence session identifier for a display name.
func (c *Config) SessionName(name string) string {
	return strings.ToLower(name) + c.SessionSuffix
}

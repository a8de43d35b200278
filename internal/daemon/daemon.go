package daemon

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/adamavenir/rooms/internal/presence"
	"github.com/adamavenir/rooms/internal/store"
	"github.com/adamavenir/rooms/internal/types"
	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Daemon polls room inboxes and consolidates messages into thread logs.
type Daemon struct {
	cfg      core.Config
	store    *store.Store
	presence presence.Directory
	actuator presence.Actuator
	index    *sql.DB // optional
	log      zerolog.Logger

	instance string
	lockPath string
	locked   bool

	now         func() time.Time
	sleep       func(context.Context, time.Duration)
	readMessage func(room, filename string) (types.Message, error)

	stopCh   chan struct{}
	stopOnce sync.Once
	wakeCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	watcher    *fsnotify.Watcher
	debounceMu sync.Mutex
	debounce   *time.Timer
}

// Deps are the collaborators a daemon works with. Presence and Actuator
// default to nobody-present implementations; Index may be nil.
type Deps struct {
	Store    *store.Store
	Presence presence.Directory
	Actuator presence.Actuator
	Index    *sql.DB
	Logger   zerolog.Logger
}

const lockSettle = 5 * time.Second

// LockInfo represents the daemon lock file contents.
type LockInfo struct {
	PID       int    `json:"pid"`
	StartedAt int64  `json:"started_at"`
	Instance  string `json:"instance"`
}

// New creates a daemon for the configured root.
func New(cfg core.Config, deps Deps) *Daemon {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = core.DefaultConfig().PollInterval
	}
	if deps.Store == nil {
		deps.Store = store.New(cfg.RootDir)
	}
	if deps.Presence == nil {
		deps.Presence = presence.Empty{}
	}
	if deps.Actuator == nil {
		deps.Actuator = presence.Noop{}
	}

	instance := uuid.NewString()
	d := &Daemon{
		cfg:      cfg,
		store:    deps.Store,
		presence: deps.Presence,
		actuator: deps.Actuator,
		index:    deps.Index,
		log:      deps.Logger.With().Str("component", "daemon").Str("instance", instance[:8]).Logger(),
		instance: instance,
		lockPath: filepath.Join(cfg.StateDir(), "daemon.lock"),
		now:      time.Now,
		sleep:    sleepContext,
		stopCh:   make(chan struct{}),
		wakeCh:   make(chan struct{}, 1),
	}
	d.readMessage = d.store.ReadMessage
	return d
}

// Start acquires the lock, bootstraps the lobby and begins the scan loop.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.store.EnsureRoot(); err != nil {
		return fmt.Errorf("create rooms dir: %w", err)
	}
	if err := d.acquireLock(); err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}

	created, err := d.store.EnsureLobby(core.DefaultLobby, d.now())
	if err != nil {
		_ = d.releaseLock()
		return fmt.Errorf("bootstrap lobby: %w", err)
	}
	if created {
		d.log.Info().Str("room", core.DefaultLobby).Msg("created default room")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if d.cfg.Watch {
		if err := d.startWatcher(loopCtx); err != nil {
			d.log.Warn().Err(err).Msg("inbox watcher unavailable, polling only")
		}
	}

	rooms, _ := d.store.ListRooms()
	names := make([]string, 0, len(rooms))
	for _, room := range rooms {
		if d.cfg.WatchesRoom(room.Name) {
			names = append(names, room.Name)
		}
	}
	d.log.Info().
		Str("dir", d.cfg.RootDir).
		Strs("rooms", names).
		Dur("poll_interval", d.cfg.PollInterval).
		Bool("watch", d.watcher != nil).
		Msg("room daemon running")

	d.wg.Add(1)
	go d.watchLoop(loopCtx)
	return nil
}

// Stop asks the loop to finish its current cycle, waits for it and releases
// the lock.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()

	d.stopWatcher()
	return d.releaseLock()
}

// Wake requests an early scan. Extra requests while one is pending collapse.
func (d *Daemon) Wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *Daemon) stopped() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// acquireLock creates the lock file exclusively. A lock left by a dead
// process is removed and creation retried once.
func (d *Daemon) acquireLock() error {
	if err := os.MkdirAll(filepath.Dir(d.lockPath), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(LockInfo{
		PID:       os.Getpid(),
		StartedAt: d.now().Unix(),
		Instance:  d.instance,
	})
	if err != nil {
		return err
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(d.lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(d.lockPath)
				return werr
			}
			d.locked = true
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return err
		}
		if err := d.checkStaleLock(); err != nil {
			return err
		}
		if err := os.Remove(d.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return errors.New("lock contended")
}

// checkStaleLock returns an error unless the existing lock may be replaced.
// A lock that cannot be parsed yet may still be mid-write, so it only counts
// as stale once it is older than lockSettle.
func (d *Daemon) checkStaleLock() error {
	info, err := ReadLock(d.cfg.StateDir())
	if err != nil {
		if st, serr := os.Stat(d.lockPath); serr == nil && time.Since(st.ModTime()) < lockSettle {
			return errors.New("lock being written by another daemon")
		}
		d.log.Debug().Err(err).Msg("replacing unreadable lock")
		return nil
	}
	if info == nil {
		return nil
	}
	if processAlive(info.PID) {
		return fmt.Errorf("daemon already running (pid %d)", info.PID)
	}
	d.log.Debug().Int("pid", info.PID).Msg("replacing stale lock")
	return nil
}

// releaseLock removes the lock file if this daemon wrote it.
func (d *Daemon) releaseLock() error {
	if !d.locked {
		return nil
	}
	d.locked = false
	if err := os.Remove(d.lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReadLock returns the lock held under stateDir, or nil if there is none.
func ReadLock(stateDir string) (*LockInfo, error) {
	data, err := os.ReadFile(filepath.Join(stateDir, "daemon.lock"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// IsLocked returns true if a live daemon holds the lock under stateDir.
func IsLocked(stateDir string) bool {
	info, err := ReadLock(stateDir)
	if err != nil || info == nil {
		return false
	}
	return processAlive(info.PID)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	// Signal 0 checks existence without delivering anything.
	return syscall.Kill(pid, 0) == nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

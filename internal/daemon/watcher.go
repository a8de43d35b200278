package daemon

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/adamavenir/rooms/internal/core"
	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 200 * time.Millisecond

// startWatcher watches the root for new rooms and every inbox for new
// messages. Events only wake the scan loop early; consolidation always
// happens inside a normal cycle.
func (d *Daemon) startWatcher(ctx context.Context) error {
	if d.watcher != nil {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	d.watcher = watcher

	if err := d.addWatchPaths(); err != nil {
		_ = watcher.Close()
		d.watcher = nil
		return err
	}

	d.wg.Add(1)
	go d.watchEvents(ctx)
	return nil
}

func (d *Daemon) addWatchPaths() error {
	if err := d.watcher.Add(d.cfg.RootDir); err != nil {
		return err
	}
	rooms, err := d.store.ListRooms()
	if err != nil {
		return err
	}
	for _, room := range rooms {
		d.watchRoom(room.Dir)
	}
	return nil
}

func (d *Daemon) watchRoom(roomDir string) {
	for _, dir := range []string{roomDir, filepath.Join(roomDir, "inbox")} {
		if err := d.watcher.Add(dir); err != nil {
			d.log.Debug().Err(err).Str("path", dir).Msg("watch failed")
		}
	}
}

func (d *Daemon) watchEvents(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleWatchEvent(event)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Debug().Err(err).Msg("watcher error")
		}
	}
}

func (d *Daemon) handleWatchEvent(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			switch filepath.Dir(event.Name) {
			case d.cfg.RootDir:
				d.watchRoom(event.Name)
			default:
				if filepath.Base(event.Name) == "inbox" {
					d.watchRoom(filepath.Dir(event.Name))
				}
			}
			return
		}
	}

	if event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Write) {
		if filepath.Base(filepath.Dir(event.Name)) == "inbox" && core.IsMessageFile(filepath.Base(event.Name)) {
			d.scheduleWake()
		}
	}
}

func (d *Daemon) scheduleWake() {
	d.debounceMu.Lock()
	defer d.debounceMu.Unlock()

	if d.debounce != nil {
		d.debounce.Stop()
	}
	d.debounce = time.AfterFunc(watchDebounce, func() {
		if d.stopped() {
			return
		}
		d.Wake()
	})
}

func (d *Daemon) stopWatcher() {
	d.debounceMu.Lock()
	if d.debounce != nil {
		d.debounce.Stop()
		d.debounce = nil
	}
	d.debounceMu.Unlock()

	if d.watcher != nil {
		_ = d.watcher.Close()
		d.watcher = nil
	}
}

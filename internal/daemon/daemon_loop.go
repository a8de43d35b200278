package daemon

import (
	"context"
	"errors"
	"time"

	"github.com/adamavenir/rooms/internal/metrics"
	"github.com/adamavenir/rooms/internal/types"
)

// ScanResult summarizes one scan cycle.
type ScanResult struct {
	Rooms        int `json:"rooms"`
	Consolidated int `json:"consolidated"`
	Failed       int `json:"failed"`
}

// watchLoop is the main daemon loop. Cycles never overlap and a stop request
// is only observed between cycles.
func (d *Daemon) watchLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if d.stopped() || ctx.Err() != nil {
			return
		}
		d.ScanOnce(ctx)

		select {
		case <-ctx.Done():
			return
		case <-d.stopCh:
			return
		case <-ticker.C:
		case <-d.wakeCh:
		}
	}
}

// ScanOnce runs one full cycle over every watched room. Cancelling ctx does
// not interrupt the cycle; in-flight messages are always finished.
func (d *Daemon) ScanOnce(ctx context.Context) ScanResult {
	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	defer func() { metrics.ScanDuration.Observe(time.Since(start).Seconds()) }()

	var result ScanResult
	rooms, err := d.store.ListRooms()
	if err != nil {
		d.log.Error().Err(err).Str("dir", d.cfg.RootDir).Msg("list rooms")
		return result
	}

	for _, room := range rooms {
		if !d.cfg.WatchesRoom(room.Name) {
			continue
		}
		result.Rooms++
		d.scanRoom(ctx, room, &result)
	}
	return result
}

// scanRoom consolidates a room's pending messages in filename order. A failed
// message is left pending and the scan moves on; a storage failure ends the
// room's turn for this cycle.
func (d *Daemon) scanRoom(ctx context.Context, room types.Room, result *ScanResult) {
	pending, err := d.store.ListPending(room.Name)
	if err != nil {
		d.log.Error().Err(err).Str("room", room.Name).Msg("list inbox")
		return
	}
	metrics.PendingMessages.WithLabelValues(room.Name).Set(float64(len(pending)))

	for _, filename := range pending {
		d.log.Debug().Str("room", room.Name).Str("file", filename).Msg("found")

		outcome, err := d.Consolidate(ctx, room.Name, filename)
		if err != nil {
			result.Failed++
			metrics.MessageFailures.WithLabelValues(room.Name).Inc()
			d.log.Error().Err(err).Str("room", room.Name).Str("file", filename).Msg("consolidate failed")
			if errors.Is(err, ErrStorage) {
				return
			}
			continue
		}
		if !outcome.Duplicate {
			result.Consolidated++
		}
	}
}

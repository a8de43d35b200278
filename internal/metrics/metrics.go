package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Pipeline metrics
	MessagesConsolidated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_messages_consolidated_total",
			Help: "Messages appended to a thread log and archived",
		},
		[]string{"room"},
	)

	MessageFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_message_failures_total",
			Help: "Consolidation attempts that left the message pending",
		},
		[]string{"room"},
	)

	ParticipantsAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_participants_added_total",
			Help: "Participants added to a room's membership",
		},
		[]string{"room", "reason"}, // "sender" or "mention"
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_notifications_sent_total",
			Help: "Notifications delivered to agent sessions",
		},
		[]string{"kind"}, // "directed" or "ambient"
	)

	NotificationsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rooms_notifications_skipped_total",
			Help: "Notifications not delivered",
		},
		[]string{"reason"}, // "offline", "failed", "budget"
	)

	ScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "rooms_scan_duration_seconds",
			Help:    "Duration of one scan cycle",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15},
		},
	)

	PendingMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "rooms_pending_messages",
			Help: "Inbox messages seen at the start of the last scan",
		},
		[]string{"room"},
	)
)

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

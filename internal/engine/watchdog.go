package engine

import (
	"context"
	"time"

	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
)

// watchdog detects sessions that are nominally connected but silent. The
// lamp heartbeats every few seconds; staleThreshold of silence means the
// link is dead even if the transport has not noticed.
//
// One watchdog runs per session, bound to the session's context. The
// manager joins it before starting a replacement session, so two watchdogs
// never overlap.
type watchdog struct {
	log      *logging.Logger
	tick     time.Duration
	stale    time.Duration
	lastSeen func() time.Time
	onStale  func(silence time.Duration)
}

// newWatchdog creates a watchdog with the standard tick and threshold.
func newWatchdog(log *logging.Logger, lastSeen func() time.Time, onStale func(time.Duration)) *watchdog {
	return &watchdog{
		log:      log.With("component", "watchdog"),
		tick:     watchdogTick,
		stale:    staleThreshold,
		lastSeen: lastSeen,
		onStale:  onStale,
	}
}

// run samples lastSeen on every tick until ctx ends. It fires onStale at
// most once, then returns; the reconnect it triggers tears this session
// down anyway.
func (w *watchdog) run(ctx context.Context) {
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			silence := time.Since(w.lastSeen())
			if silence <= w.stale {
				continue
			}
			w.log.Warn("session stale, forcing reconnect",
				"silence", silence.Round(time.Second).String(),
				"threshold", w.stale.String())
			w.onStale(silence)
			return
		}
	}
}

package engine

import (
	"context"
	"time"

	"github.com/ptrevors/beurerd/internal/infrastructure/logging"
)

// pollTier names an adaptive polling cadence.
type pollTier int

const (
	tierOn pollTier = iota
	tierOff
	tierUnreachable
)

// String returns a human-readable tier name.
func (t pollTier) String() string {
	switch t {
	case tierOn:
		return "on"
	case tierOff:
		return "off"
	default:
		return "unreachable"
	}
}

// interval returns the cadence for a tier.
func (t pollTier) interval() time.Duration {
	switch t {
	case tierOn:
		return pollIntervalOn
	case tierOff:
		return pollIntervalOff
	default:
		return pollIntervalUnreachable
	}
}

// tierFor maps engine state to a polling tier: a lit lamp is polled
// frequently, a soft-off lamp occasionally, an unreachable one rarely.
func tierFor(connected bool, st DeviceState) pollTier {
	switch {
	case !connected:
		return tierUnreachable
	case st.On():
		return tierOn
	default:
		return tierOff
	}
}

// pollController drives periodic status refreshes at an adaptive cadence.
// The refresh itself is delegated; the controller never blocks on it.
type pollController struct {
	log     *logging.Logger
	tier    func() pollTier
	refresh func()

	// kick wakes the loop early so a tier change takes effect
	// immediately instead of after the old interval expires.
	kick chan struct{}
}

// newPollController creates a controller. tier is sampled before every
// sleep; refresh is invoked on schedule while any tier's interval elapses.
func newPollController(log *logging.Logger, tier func() pollTier, refresh func()) *pollController {
	return &pollController{
		log:     log.With("component", "poll"),
		tier:    tier,
		refresh: refresh,
		kick:    make(chan struct{}, 1),
	}
}

// Kick re-evaluates the tier without waiting for the current interval.
func (p *pollController) Kick() {
	select {
	case p.kick <- struct{}{}:
	default:
	}
}

// run polls until ctx ends.
func (p *pollController) run(ctx context.Context) {
	current := p.tier()
	timer := time.NewTimer(current.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-timer.C:
			p.refresh()
			current = p.tier()
			timer.Reset(current.interval())

		case <-p.kick:
			next := p.tier()
			if next == current {
				continue
			}
			p.log.Debug("poll tier changed",
				"from", current.String(),
				"to", next.String(),
				"interval", next.interval().String())
			current = next
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(current.interval())
		}
	}
}

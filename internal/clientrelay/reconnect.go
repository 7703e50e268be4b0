package clientrelay

import (
	"context"
	"time"

	"github.com/brandongregoryscott/pipegate/internal/logger"
)

// BackoffConfig controls RunWithReconnect's retry delays: start small,
// double on each consecutive failure, cap at Max.
type BackoffConfig struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff is a sane default for long-lived tunnels.
var DefaultBackoff = BackoffConfig{Initial: time.Second, Max: 30 * time.Second}

// RunWithReconnect calls Run repeatedly until ctx is canceled, with
// exponentially increasing delay between attempts. A connection that stayed
// up longer than Max before dropping resets the delay back to Initial.
func (r *Relay) RunWithReconnect(ctx context.Context, cfg BackoffConfig) {
	delay := cfg.Initial
	log := logger.Client()

	for {
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		err := r.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Warn().Err(err).Dur("retry_in", delay).Msg("tunnel connection lost, reconnecting")
		}

		// A connection that stayed up a while before dropping is treated as
		// healthy; reset backoff instead of penalizing it for an eventual
		// disconnect.
		if time.Since(started) > cfg.Max {
			delay = cfg.Initial
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cfg.Max {
			delay = cfg.Max
		}
	}
}

package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

const DefaultSweepInterval = 5 * time.Minute

// StartReaper sweeps the registry on a fixed interval until ctx is done.
// The per-call sweep keeps the registry clean under traffic; this covers idle periods.
func StartReaper(ctx context.Context, reg *SessionRegistry, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		log.Info().Str("module", "app.reaper").Dur("interval", interval).Dur("threshold", reg.threshold).Msg("reaper started")

		for {
			select {
			case <-ticker.C:
				if n := reg.Sweep(); n > 0 {
					log.Info().Str("module", "app.reaper").Int("reaped", n).Msg("sweep completed")
				}
			case <-ctx.Done():
				log.Info().Str("module", "app.reaper").Err(ctx.Err()).Msg("reaper shutting down")
				return
			}
		}
	}()
}

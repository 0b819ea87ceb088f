package gauges

import (
	"context"
)

// Run sweeps the registry every sweep period until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := r.clock.Ticker(r.sweepPeriod)
	defer ticker.Stop()

	r.logger.Logger.Info().
		Dur("sweep_period", r.sweepPeriod).
		Dur("stale_timeout", r.staleTimeout).
		Msg("Staleness sweeper started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Staleness sweeper stopped")
			return
		case <-ticker.C:
			evicted := r.Sweep()
			for _, address := range evicted {
				r.logger.WithField("address", address.String()).Info("Device went silent, removed its gauges")
			}
			if len(evicted) > 0 {
				r.logger.WithField("tracked", r.Len()).Debug("Sweep finished")
			}
		}
	}
}

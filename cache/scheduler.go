package cache

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"go.ntppool.org/dnsresults/aggregator"
)

// Run refreshes the cache every Interval until ctx is cancelled. After a
// failed cycle the next one is tried sooner, backing off up to Interval.
// A cycle in progress when ctx is cancelled is finished before Run returns.
func (c *Cache) Run(ctx context.Context) error {
	log := c.log

	expback := backoff.NewExponentialBackOff()
	expback.InitialInterval = c.opts.Interval / 10
	expback.MaxInterval = c.opts.Interval

	log.InfoContext(ctx, "starting background refresh", "interval", c.opts.Interval)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			log.InfoContext(ctx, "background refresh stopped")
			return nil
		case <-timer.C:
		}

		// finish the cycle even if ctx is cancelled meanwhile
		_, err := c.Refresh(context.WithoutCancel(ctx))

		wait := c.opts.Interval
		var perr *aggregator.PartialDataError
		switch {
		case err == nil, errors.As(err, &perr):
			expback.Reset()
		default:
			if next := expback.NextBackOff(); next > 0 && next < wait {
				wait = next
			}
			log.WarnContext(ctx, "refresh failed", "err", err, "retry_in", wait, "state", c.State())
		}

		timer.Reset(wait)
	}
}

package runtime

import (
	"context"
	"errors"
	"time"

	"geogate/internal/access"
	"geogate/internal/config"
	"geogate/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const trackerCleanupLockKey = "geogate:leader:tracker_cleanup"

// TrackerPurger deletes tracker entries whose window started before cutoff.
type TrackerPurger interface {
	PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// StartTrackerCleanupRoutine periodically drops tracker rows whose window
// has expired. With a redis client only the current leader runs it.
func StartTrackerCleanupRoutine(ctx context.Context, client *redis.Client, purger TrackerPurger, settings access.SettingsFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if settings == nil {
		settings = config.GetAccessFilter
	}

	updates := config.TrackerCleanupIntervalUpdates()
	loop := func(loopCtx context.Context) {
		runTrackerCleanupLoop(loopCtx, purger, settings, config.GetTrackerCleanupInterval(), updates)
	}

	if client == nil {
		loop(ctx)
		return
	}

	err := support.RunWithLeader(ctx, client, trackerCleanupLockKey, support.DefaultLeadershipTTL, loop)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Tracker cleanup routine stopped", "error", err)
	}
}

func runTrackerCleanupLoop(ctx context.Context, purger TrackerPurger, settings access.SettingsFunc, interval time.Duration, intervals <-chan time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case next := <-intervals:
			if next > 0 && next != interval {
				interval = next
				ticker.Reset(interval)
				log.Debug("Tracker cleanup interval changed", "interval", interval)
			}
		case <-ticker.C:
			runTrackerCleanup(ctx, purger, settings(), time.Now())
		}
	}
}

// runTrackerCleanup returns the number of purged rows. Without a window
// entries accumulate forever and nothing is purged.
func runTrackerCleanup(ctx context.Context, purger TrackerPurger, filter config.AccessFilter, now time.Time) int64 {
	window := filter.Window()
	if window <= 0 {
		return 0
	}

	start := time.Now()
	removed, err := purger.PurgeExpired(ctx, now.Add(-window))
	if err != nil {
		log.Error("Failed to purge expired tracker entries", "error", err)
		return 0
	}
	if removed > 0 {
		log.Info("Expired tracker entries purged", "count", removed, "duration", time.Since(start))
	}
	return removed
}

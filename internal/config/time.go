package config

import (
	"sync"
	"sync/atomic"
	"time"
)

const defaultTrackerCleanupInterval = time.Hour

var (
	trackerCleanupInterval  atomic.Value
	trackerCleanupListeners []chan time.Duration
	listenersMu             sync.Mutex
)

func init() {
	trackerCleanupInterval.Store(defaultTrackerCleanupInterval)
}

func SetBetweenTime() {
	setTrackerCleanupInterval(calculateTrackerCleanupInterval(GetConfig()))
}

// CalculateBetweenTime converts a timer to a duration of at least one second.
func CalculateBetweenTime(timer Timer) time.Duration {
	intervalMs := CalculateMillisecondsOfPeriod(timer)

	minInterval := uint64(1000)
	if intervalMs < minInterval {
		intervalMs = minInterval
	}

	return time.Duration(intervalMs) * time.Millisecond
}

func CalculateMillisecondsOfPeriod(timer Timer) uint64 {
	return uint64(timer.Days)*24*60*60*1000 +
		uint64(timer.Hours)*60*60*1000 +
		uint64(timer.Minutes)*60*1000 +
		uint64(timer.Seconds)*1000
}

func GetTrackerCleanupInterval() time.Duration {
	return trackerCleanupInterval.Load().(time.Duration)
}

// TrackerCleanupIntervalUpdates returns a channel primed with the current
// interval that receives every later change.
func TrackerCleanupIntervalUpdates() <-chan time.Duration {
	ch := make(chan time.Duration, 1)
	listenersMu.Lock()
	trackerCleanupListeners = append(trackerCleanupListeners, ch)
	listenersMu.Unlock()

	ch <- GetTrackerCleanupInterval()
	return ch
}

func setTrackerCleanupInterval(interval time.Duration) {
	if interval <= 0 {
		interval = defaultTrackerCleanupInterval
	}
	if GetTrackerCleanupInterval() == interval {
		return
	}
	trackerCleanupInterval.Store(interval)

	listenersMu.Lock()
	defer listenersMu.Unlock()
	for _, ch := range trackerCleanupListeners {
		select {
		case ch <- interval:
		default:
		}
	}
}

func calculateTrackerCleanupInterval(cfg Config) time.Duration {
	timer := cfg.Maintenance.TrackerCleanupTimer
	if timer.Days == 0 && timer.Hours == 0 && timer.Minutes == 0 && timer.Seconds == 0 {
		return defaultTrackerCleanupInterval
	}
	return CalculateBetweenTime(timer)
}

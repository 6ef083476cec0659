package access

import (
	"context"
	"fmt"
	"time"

	"geogate/internal/audit"
	"geogate/internal/config"
	"geogate/internal/domain"
)

// TrackerStore is the abuse counter table plus the escalation that moves an
// IP from the counter into a deny record.
type TrackerStore interface {
	Hit(ctx context.Context, ip uint32, now time.Time, window time.Duration) (int, error)
	Escalate(ctx context.Context, ip uint32) error
}

// Tracker counts "not found" responses per IP and bans IPs that exceed the
// configured threshold inside the window.
type Tracker struct {
	counters TrackerStore
	records  RecordStore
	resolver CountryResolver
	settings SettingsFunc
	sink     audit.Sink
	now      func() time.Time
}

func NewTracker(counters TrackerStore, records RecordStore, resolver CountryResolver, settings SettingsFunc, sink audit.Sink) *Tracker {
	if settings == nil {
		settings = config.GetAccessFilter
	}
	if sink == nil {
		sink = audit.Discard{}
	}
	return &Tracker{
		counters: counters,
		records:  records,
		resolver: resolver,
		settings: settings,
		sink:     sink,
		now:      time.Now,
	}
}

// RecordMiss registers one "not found" event for ip. It never returns an
// error or panics into the caller's response path.
func (t *Tracker) RecordMiss(ctx context.Context, ip string) {
	defer func() {
		if recovered := recover(); recovered != nil {
			reportPanic(ctx, t.sink, "record_miss", ip, recovered)
		}
	}()

	if err := t.recordMiss(ctx, ip); err != nil {
		reportFault(ctx, t.sink, "record_miss", ip, err)
	}
}

func (t *Tracker) recordMiss(ctx context.Context, ip string) error {
	filter := t.settings()
	if !filter.Track404 {
		return nil
	}
	if filter.Track404Threshold < 1 {
		return config.ErrInvalidThreshold
	}

	key, ok := domain.IPv4ToUint32(ip)
	if !ok {
		return nil
	}

	opCtx, cancel := detach(ctx)
	defer cancel()

	count, err := t.counters.Hit(opCtx, key, t.now(), filter.Window())
	if err != nil {
		return fmt.Errorf("count miss: %w", err)
	}
	if count <= filter.Track404Threshold {
		return nil
	}

	// Read before Escalate overwrites the code with XX.
	country := t.knownCountry(opCtx, key)

	if err := t.counters.Escalate(opCtx, key); err != nil {
		return fmt.Errorf("escalate: %w", err)
	}

	if country == "" {
		country = t.lookupCountry(opCtx, domain.Uint32ToIPv4(key))
	}

	t.sink.Emit(ctx, audit.Event{
		Time:        t.now().UTC(),
		IP:          domain.Uint32ToIPv4(key),
		CountryCode: country,
		Reason:      audit.ReasonBanned,
	})
	return nil
}

func (t *Tracker) knownCountry(ctx context.Context, key uint32) string {
	if t.records == nil {
		return ""
	}
	record, found, err := t.records.Get(ctx, key)
	if err != nil || !found || record.CountryCode == domain.UnknownCountryCode {
		return ""
	}
	return record.CountryCode
}

func (t *Tracker) lookupCountry(ctx context.Context, ip string) string {
	if t.resolver == nil {
		return domain.UnknownCountryCode
	}
	code, ok := t.resolver.Lookup(ctx, ip)
	if !ok {
		return domain.UnknownCountryCode
	}
	return code
}

package access

import (
	"context"
	"testing"
	"time"

	"geogate/internal/audit"
	"geogate/internal/config"
	"geogate/internal/domain"
)

func newTestTracker(t *testing.T, filter config.AccessFilter, resolver CountryResolver) (*Tracker, *recordingSink, *time.Time) {
	t.Helper()
	records, counters, _ := newTestStores(t)
	sink := &recordingSink{}
	tracker := NewTracker(counters, records, resolver, staticFilter(filter), sink)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tracker.now = func() time.Time { return now }
	return tracker, sink, &now
}

func TestRecordMissEscalatesAboveThreshold(t *testing.T) {
	filter := config.AccessFilter{Track404: true, Track404Threshold: 3}
	resolver := &fakeResolver{codes: map[string]string{"192.0.2.10": "RU"}}
	tracker, sink, _ := newTestTracker(t, filter, resolver)
	ctx := context.Background()
	records := tracker.records.(interface {
		Get(context.Context, uint32) (domain.AccessRecord, bool, error)
	})
	key := mustKey(t, "192.0.2.10")

	for i := 0; i < 3; i++ {
		tracker.RecordMiss(ctx, "192.0.2.10")
	}
	if _, found, _ := records.Get(ctx, key); found {
		t.Fatalf("IP escalated at the threshold, want only above it")
	}

	tracker.RecordMiss(ctx, "192.0.2.10")

	record, found, err := records.Get(ctx, key)
	if err != nil || !found {
		t.Fatalf("deny record found=%v err=%v", found, err)
	}
	if record.Allowed || record.CountryCode != domain.UnknownCountryCode {
		t.Fatalf("record = %+v, want denied XX", record)
	}

	banned := sink.byReason(audit.ReasonBanned)
	if len(banned) != 1 {
		t.Fatalf("got %d ban events, want 1", len(banned))
	}
	if banned[0].IP != "192.0.2.10" || banned[0].CountryCode != "RU" {
		t.Fatalf("ban event = %+v", banned[0])
	}

	counters := tracker.counters.(interface {
		Get(context.Context, uint32) (domain.AbuseTrackerEntry, bool, error)
	})
	if _, found, _ := counters.Get(ctx, key); found {
		t.Fatalf("tracker row survived escalation")
	}
}

func TestRecordMissUsesPriorCountry(t *testing.T) {
	filter := config.AccessFilter{Track404: true, Track404Threshold: 1}
	resolver := &fakeResolver{codes: map[string]string{}}
	tracker, sink, _ := newTestTracker(t, filter, resolver)
	ctx := context.Background()

	key := mustKey(t, "192.0.2.11")
	seed := tracker.records.(interface {
		InsertIfAbsent(context.Context, domain.AccessRecord) (bool, error)
	})
	if _, err := seed.InsertIfAbsent(ctx, domain.AccessRecord{IP: key, Allowed: true, CountryCode: "US"}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	tracker.RecordMiss(ctx, "192.0.2.11")
	tracker.RecordMiss(ctx, "192.0.2.11")

	banned := sink.byReason(audit.ReasonBanned)
	if len(banned) != 1 || banned[0].CountryCode != "US" {
		t.Fatalf("ban events = %+v, want one with prior country US", banned)
	}
	if calls := resolver.calls.Load(); calls != 0 {
		t.Fatalf("resolver called %d times, want 0", calls)
	}
}

func TestRecordMissWindowResetsCount(t *testing.T) {
	filter := config.AccessFilter{Track404: true, Track404Threshold: 3, Track404Window: 1}
	tracker, sink, now := newTestTracker(t, filter, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		tracker.RecordMiss(ctx, "192.0.2.12")
	}

	*now = now.Add(2 * time.Hour)
	tracker.RecordMiss(ctx, "192.0.2.12")

	if len(sink.byReason(audit.ReasonBanned)) != 0 {
		t.Fatalf("IP banned although the window expired")
	}

	counters := tracker.counters.(interface {
		Get(context.Context, uint32) (domain.AbuseTrackerEntry, bool, error)
	})
	entry, found, err := counters.Get(ctx, mustKey(t, "192.0.2.12"))
	if err != nil || !found {
		t.Fatalf("tracker entry found=%v err=%v", found, err)
	}
	if entry.Count != 1 || entry.FirstSeen != now.Unix() {
		t.Fatalf("entry = %+v, want reset to count 1 at %d", entry, now.Unix())
	}
}

func TestRecordMissDisabledDoesNothing(t *testing.T) {
	tracker, sink, _ := newTestTracker(t, config.AccessFilter{Track404: false, Track404Threshold: 1}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tracker.RecordMiss(ctx, "192.0.2.13")
	}

	counters := tracker.counters.(interface {
		Get(context.Context, uint32) (domain.AbuseTrackerEntry, bool, error)
	})
	if _, found, _ := counters.Get(ctx, mustKey(t, "192.0.2.13")); found {
		t.Fatalf("tracker counted while disabled")
	}
	if len(sink.events) != 0 {
		t.Fatalf("unexpected events %+v", sink.events)
	}
}

func TestRecordMissInvalidThresholdIsReported(t *testing.T) {
	tracker, sink, _ := newTestTracker(t, config.AccessFilter{Track404: true, Track404Threshold: 0}, nil)

	tracker.RecordMiss(context.Background(), "192.0.2.14")

	faults := sink.byReason(audit.ReasonStoreFault)
	if len(faults) != 1 || faults[0].Operation != "record_miss" {
		t.Fatalf("fault events = %+v", faults)
	}
}

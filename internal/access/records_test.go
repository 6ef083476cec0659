package access

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"geogate/internal/config"
	"geogate/internal/domain"
)

func TestParseIP(t *testing.T) {
	tests := []struct {
		raw     string
		want    uint32
		wantErr bool
	}{
		{raw: "3405803777", want: 3405803777},
		{raw: "0", want: 0},
		{raw: "4294967296", wantErr: true},
		{raw: "203.0.113.1", wantErr: true},
		{raw: "-1", wantErr: true},
		{raw: "", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseIP(tt.raw)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidIP) {
				t.Fatalf("ParseIP(%q) error = %v, want ErrInvalidIP", tt.raw, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("ParseIP(%q) = %d, %v", tt.raw, got, err)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if allowed, err := ParseStatus("1"); err != nil || !allowed {
		t.Fatalf("ParseStatus(1) = %v, %v", allowed, err)
	}
	if allowed, err := ParseStatus("0"); err != nil || allowed {
		t.Fatalf("ParseStatus(0) = %v, %v", allowed, err)
	}
	if _, err := ParseStatus("yes"); !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("ParseStatus(yes) error = %v", err)
	}
}

func TestRecordsSetStatusAndRemove(t *testing.T) {
	store, _, _ := newTestStores(t)
	ctx := context.Background()
	records := NewRecords(store, staticFilter(usOnly))
	key := mustKey(t, "198.51.100.40")

	if err := records.SetStatus(ctx, key, true); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("SetStatus on missing record error = %v", err)
	}

	if _, err := store.InsertIfAbsent(ctx, domain.AccessRecord{IP: key, Allowed: false, CountryCode: "FR"}); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	if err := records.SetStatus(ctx, key, true); err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	record, _, _ := store.Get(ctx, key)
	if !record.Allowed {
		t.Fatalf("record not allowed after override")
	}

	if err := records.Remove(ctx, key); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := records.Remove(ctx, key); !errors.Is(err, ErrRecordNotFound) {
		t.Fatalf("second Remove error = %v", err)
	}
}

func TestRecordsBulkSetRejectsBadCodes(t *testing.T) {
	store, _, _ := newTestStores(t)
	records := NewRecords(store, staticFilter(usOnly))

	if _, err := records.BulkSetStatusByCountry(context.Background(), []string{"fr"}, true); !errors.Is(err, config.ErrInvalidCountry) {
		t.Fatalf("error = %v, want ErrInvalidCountry", err)
	}
}

func TestRecordsSummaryMarksAllowList(t *testing.T) {
	store, _, _ := newTestStores(t)
	ctx := context.Background()
	seed := []domain.AccessRecord{
		{IP: mustKey(t, "198.51.100.50"), Allowed: true, CountryCode: "US"},
		{IP: mustKey(t, "198.51.100.51"), Allowed: false, CountryCode: "FR"},
		{IP: mustKey(t, "198.51.100.52"), Allowed: false, CountryCode: "XX"},
	}
	for _, record := range seed {
		if _, err := store.InsertIfAbsent(ctx, record); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	summary, err := NewRecords(store, staticFilter(usOnly)).Summary(ctx)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if summary.All != 3 || summary.Allowed != 1 || summary.Denied != 2 {
		t.Fatalf("summary totals = %+v", summary)
	}
	for _, country := range summary.Countries {
		if country.InAllowList != (country.CountryCode == "US") {
			t.Fatalf("country %s InAllowList = %v", country.CountryCode, country.InAllowList)
		}
	}

	list, err := NewRecords(store, staticFilter(usOnly)).ListByCountry(ctx, "FR")
	if err != nil || len(list) != 1 || list[0].Address != "198.51.100.51" {
		t.Fatalf("ListByCountry = %+v, %v", list, err)
	}
}

func TestApplySettingsReflagsChangedCountries(t *testing.T) {
	config.SetSettingsFilePath(filepath.Join(t.TempDir(), "settings.json"))
	t.Cleanup(func() { config.SetSettingsFilePath("") })

	base, err := config.DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	base.AccessFilter = config.AccessFilter{Enabled: true, Countries: []string{"US", "DE"}}
	if err := config.SetConfig(base); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	store, _, _ := newTestStores(t)
	ctx := context.Background()
	seed := []domain.AccessRecord{
		{IP: mustKey(t, "198.51.100.60"), Allowed: false, CountryCode: "FR"},
		{IP: mustKey(t, "198.51.100.61"), Allowed: true, CountryCode: "US"},
		{IP: mustKey(t, "198.51.100.62"), Allowed: true, CountryCode: "DE"},
		{IP: mustKey(t, "198.51.100.63"), Allowed: false, CountryCode: "XX"},
	}
	for _, record := range seed {
		if _, err := store.InsertIfAbsent(ctx, record); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	next := base
	next.AccessFilter.Countries = []string{"US", "FR"}

	records := NewRecords(store, nil)
	result, err := records.ApplySettings(ctx, next)
	if err != nil {
		t.Fatalf("ApplySettings: %v", err)
	}
	if result.Allowed != 1 || result.Denied != 1 {
		t.Fatalf("reflagged = %+v, want one allowed and one denied", result)
	}

	want := map[string]bool{
		"198.51.100.60": true,
		"198.51.100.61": true,
		"198.51.100.62": false,
		"198.51.100.63": false,
	}
	for ip, allowed := range want {
		record, _, _ := store.Get(ctx, mustKey(t, ip))
		if record.Allowed != allowed {
			t.Fatalf("%s allowed = %v, want %v", ip, record.Allowed, allowed)
		}
	}

	if got := config.GetAccessFilter().Countries; len(got) != 2 || got[1] != "FR" {
		t.Fatalf("active countries = %v", got)
	}
}

func TestApplySettingsRejectsInvalidConfig(t *testing.T) {
	store, _, db := newTestStores(t)
	records := NewRecords(store, nil)

	next := config.GetConfig()
	next.AccessFilter = config.AccessFilter{Enabled: true, Countries: []string{"XX"}}

	if _, err := records.ApplySettings(context.Background(), next); !errors.Is(err, config.ErrInvalidCountry) {
		t.Fatalf("error = %v, want ErrInvalidCountry", err)
	}
	if n := countRecords(t, db); n != 0 {
		t.Fatalf("unexpected records %d", n)
	}
}

func TestApplySettingsConcurrentUpdatesMatchActiveSettings(t *testing.T) {
	config.SetSettingsFilePath(filepath.Join(t.TempDir(), "settings.json"))
	t.Cleanup(func() { config.SetSettingsFilePath("") })

	base, err := config.DefaultConfig()
	if err != nil {
		t.Fatalf("DefaultConfig: %v", err)
	}
	base.AccessFilter = config.AccessFilter{Enabled: true, Countries: []string{"US"}}
	if err := config.SetConfig(base); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}

	store, _, _ := newTestStores(t)
	ctx := context.Background()
	seed := []domain.AccessRecord{
		{IP: mustKey(t, "198.51.100.70"), Allowed: false, CountryCode: "FR"},
		{IP: mustKey(t, "198.51.100.71"), Allowed: false, CountryCode: "DE"},
	}
	for _, record := range seed {
		if _, err := store.InsertIfAbsent(ctx, record); err != nil {
			t.Fatalf("seed record: %v", err)
		}
	}

	records := NewRecords(store, nil)
	lists := [][]string{{"US", "FR"}, {"US", "DE"}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := base
			next.AccessFilter.Countries = lists[i%2]
			if _, err := records.ApplySettings(ctx, next); err != nil {
				t.Errorf("ApplySettings: %v", err)
			}
		}(i)
	}
	wg.Wait()

	active := config.GetAccessFilter()
	for _, seeded := range seed {
		record, _, _ := store.Get(ctx, seeded.IP)
		if record.Allowed != active.AllowsCountry(record.CountryCode) {
			t.Fatalf("%s allowed = %v, active countries %v", record.CountryCode, record.Allowed, active.Countries)
		}
	}
}

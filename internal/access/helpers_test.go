package access

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"geogate/internal/audit"
	"geogate/internal/config"
	"geogate/internal/database"
	"geogate/internal/domain"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupAccessTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("set busy timeout: %v", err)
	}
	if err := db.AutoMigrate(&domain.AccessRecord{}, &domain.AbuseTrackerEntry{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

func newTestStores(t *testing.T) (*database.AccessRecordStore, *database.AbuseTrackerStore, *gorm.DB) {
	t.Helper()
	db := setupAccessTestDB(t)
	return database.NewAccessRecordStore(db), database.NewAbuseTrackerStore(db), db
}

func mustKey(t *testing.T, raw string) uint32 {
	t.Helper()
	key, ok := domain.IPv4ToUint32(raw)
	if !ok {
		t.Fatalf("invalid test IP %q", raw)
	}
	return key
}

func countRecords(t *testing.T, db *gorm.DB) int64 {
	t.Helper()
	var count int64
	if err := db.Model(&domain.AccessRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("count records: %v", err)
	}
	return count
}

func staticFilter(filter config.AccessFilter) SettingsFunc {
	return func() config.AccessFilter { return filter }
}

// fakeResolver answers from a fixed table and counts calls.
type fakeResolver struct {
	codes map[string]string
	calls atomic.Int32
	gate  chan struct{}
}

func (f *fakeResolver) Lookup(_ context.Context, ip string) (string, bool) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	code, ok := f.codes[ip]
	return code, ok
}

type panickingResolver struct{}

func (panickingResolver) Lookup(context.Context, string) (string, bool) {
	panic("resolver exploded")
}

var errStoreDown = errors.New("store down")

// brokenRecords fails every call.
type brokenRecords struct{}

func (brokenRecords) Get(context.Context, uint32) (domain.AccessRecord, bool, error) {
	return domain.AccessRecord{}, false, errStoreDown
}

func (brokenRecords) InsertIfAbsent(context.Context, domain.AccessRecord) (bool, error) {
	return false, errStoreDown
}

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (r *recordingSink) Emit(_ context.Context, event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) byReason(reason string) []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []audit.Event
	for _, event := range r.events {
		if event.Reason == reason {
			out = append(out, event)
		}
	}
	return out
}

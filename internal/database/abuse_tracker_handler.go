package database

import (
	"context"
	"errors"
	"time"

	"geogate/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// The whole tracker state machine is a single upsert so concurrent hits
// for one IP are serialized by the row lock instead of read-then-write.
const (
	trackerHitSQL = `INSERT INTO abuse_tracker_entries (ip, first_seen, count) VALUES (?, ?, 1)
ON CONFLICT (ip) DO UPDATE SET count = abuse_tracker_entries.count + 1
RETURNING count`

	trackerWindowedHitSQL = `INSERT INTO abuse_tracker_entries (ip, first_seen, count) VALUES (?, ?, 1)
ON CONFLICT (ip) DO UPDATE SET
	count = CASE WHEN excluded.first_seen - abuse_tracker_entries.first_seen > ? THEN 1 ELSE abuse_tracker_entries.count + 1 END,
	first_seen = CASE WHEN excluded.first_seen - abuse_tracker_entries.first_seen > ? THEN excluded.first_seen ELSE abuse_tracker_entries.first_seen END
RETURNING count`
)

// AbuseTrackerStore persists per-IP "not found" counters.
type AbuseTrackerStore struct {
	db *gorm.DB
}

func NewAbuseTrackerStore(db *gorm.DB) *AbuseTrackerStore {
	return &AbuseTrackerStore{db: db}
}

func (s *AbuseTrackerStore) conn(ctx context.Context) (*gorm.DB, error) {
	db := s.db
	if db == nil {
		db = DB
	}
	if db == nil {
		return nil, ErrNotInitialised
	}
	if ctx != nil {
		db = db.WithContext(ctx)
	}
	return db, nil
}

// Hit records one event for ip at now and returns the resulting count.
// A missing row starts at 1; with window > 0 a row whose first event is
// older than window restarts at 1 with first_seen = now.
func (s *AbuseTrackerStore) Hit(ctx context.Context, ip uint32, now time.Time, window time.Duration) (int, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	var row *gorm.DB
	if seconds := int64(window / time.Second); seconds > 0 {
		row = db.Raw(trackerWindowedHitSQL, int64(ip), now.Unix(), seconds, seconds)
	} else {
		row = db.Raw(trackerHitSQL, int64(ip), now.Unix())
	}

	var count int
	if err := row.Row().Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// Escalate writes a deny record for ip and drops its tracker row in one
// transaction, so a banned IP never keeps a counter behind.
func (s *AbuseTrackerStore) Escalate(ctx context.Context, ip uint32) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}

	return db.Transaction(func(tx *gorm.DB) error {
		record := domain.AccessRecord{
			IP:          ip,
			Allowed:     false,
			CountryCode: domain.UnknownCountryCode,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "ip"}},
			DoUpdates: clause.AssignmentColumns([]string{"allowed", "country_code"}),
		}).Create(&record).Error; err != nil {
			return err
		}

		return tx.Where("ip = ?", ip).Delete(&domain.AbuseTrackerEntry{}).Error
	})
}

func (s *AbuseTrackerStore) Get(ctx context.Context, ip uint32) (domain.AbuseTrackerEntry, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.AbuseTrackerEntry{}, false, err
	}

	var entry domain.AbuseTrackerEntry
	err = db.Where("ip = ?", ip).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AbuseTrackerEntry{}, false, nil
	}
	if err != nil {
		return domain.AbuseTrackerEntry{}, false, err
	}
	return entry, true, nil
}

// PurgeExpired deletes counters whose window started before cutoff. Such rows
// would be reset on their next hit anyway.
func (s *AbuseTrackerStore) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Where("first_seen < ?", cutoff.Unix()).Delete(&domain.AbuseTrackerEntry{})
	return result.RowsAffected, result.Error
}

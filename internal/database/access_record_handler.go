package database

import (
	"context"
	"errors"

	"geogate/internal/api/dto"
	"geogate/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AccessRecordStore persists the per-IP allow/deny cache.
type AccessRecordStore struct {
	db *gorm.DB
}

// NewAccessRecordStore wraps db; a nil db falls back to the global handle at call time.
func NewAccessRecordStore(db *gorm.DB) *AccessRecordStore {
	return &AccessRecordStore{db: db}
}

func (s *AccessRecordStore) conn(ctx context.Context) (*gorm.DB, error) {
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

// Get returns the record for ip. found is false when no row exists.
func (s *AccessRecordStore) Get(ctx context.Context, ip uint32) (domain.AccessRecord, bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return domain.AccessRecord{}, false, err
	}

	var record domain.AccessRecord
	err = db.Where("ip = ?", ip).Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.AccessRecord{}, false, nil
	}
	if err != nil {
		return domain.AccessRecord{}, false, err
	}
	return record, true, nil
}

// InsertIfAbsent stores record unless a row for the same IP already exists,
// in which case the existing row wins, inserted is false and no error is returned.
func (s *AccessRecordStore) InsertIfAbsent(ctx context.Context, record domain.AccessRecord) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "ip"}},
		DoNothing: true,
	}).Create(&record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// SetStatus overrides the allowed flag of an existing record.
func (s *AccessRecordStore) SetStatus(ctx context.Context, ip uint32, allowed bool) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Model(&domain.AccessRecord{}).
		Where("ip = ?", ip).
		Update("allowed", allowed)
	return result.RowsAffected, result.Error
}

func (s *AccessRecordStore) Remove(ctx context.Context, ip uint32) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Where("ip = ?", ip).Delete(&domain.AccessRecord{})
	return result.RowsAffected, result.Error
}

// BulkSetStatusByCountry flips allowed on every record cached under one of countries.
func (s *AccessRecordStore) BulkSetStatusByCountry(ctx context.Context, countries []string, allowed bool) (int64, error) {
	if len(countries) == 0 {
		return 0, nil
	}

	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}

	result := db.Model(&domain.AccessRecord{}).
		Where("country_code IN ?", countries).
		Update("allowed", allowed)
	return result.RowsAffected, result.Error
}

func (s *AccessRecordStore) ListByCountry(ctx context.Context, country string) ([]domain.AccessRecord, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var records []domain.AccessRecord
	if err := db.Where("country_code = ?", country).Order("ip ASC").Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Summary counts records overall and per country. InAllowList is left for the caller.
func (s *AccessRecordStore) Summary(ctx context.Context) (dto.AccessSummary, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return dto.AccessSummary{}, err
	}

	var rows []struct {
		CountryCode  string
		Total        int64
		AllowedCount int64
		DeniedCount  int64
	}

	err = db.Model(&domain.AccessRecord{}).
		Select(`country_code,
			COUNT(*) AS total,
			SUM(CASE WHEN allowed THEN 1 ELSE 0 END) AS allowed_count,
			SUM(CASE WHEN allowed THEN 0 ELSE 1 END) AS denied_count`).
		Group("country_code").
		Order("country_code ASC").
		Scan(&rows).Error
	if err != nil {
		return dto.AccessSummary{}, err
	}

	summary := dto.AccessSummary{Countries: make([]dto.CountrySummary, 0, len(rows))}
	for _, row := range rows {
		summary.All += row.Total
		summary.Allowed += row.AllowedCount
		summary.Denied += row.DeniedCount
		summary.Countries = append(summary.Countries, dto.CountrySummary{
			CountryCode: row.CountryCode,
			Count:       row.Total,
			Allowed:     row.AllowedCount,
			Denied:      row.DeniedCount,
		})
	}
	return summary, nil
}

package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"geogate/internal/api/dto"
	"geogate/internal/config"
	"geogate/internal/domain"
)

var (
	ErrInvalidIP      = errors.New("ip must be the decimal form of an IPv4 address")
	ErrInvalidStatus  = errors.New("status must be 0 or 1")
	ErrRecordNotFound = errors.New("access record not found")
)

// AdminStore is the mutation and reporting side of the access record table.
type AdminStore interface {
	SetStatus(ctx context.Context, ip uint32, allowed bool) (int64, error)
	Remove(ctx context.Context, ip uint32) (int64, error)
	BulkSetStatusByCountry(ctx context.Context, countries []string, allowed bool) (int64, error)
	ListByCountry(ctx context.Context, country string) ([]domain.AccessRecord, error)
	Summary(ctx context.Context) (dto.AccessSummary, error)
}

// Records is the administrative surface over cached access records.
type Records struct {
	store      AdminStore
	settings   SettingsFunc
	swapConfig func(config.Config) (config.Config, error)

	// applyMu keeps the config swap and the re-flag that follows it in one
	// step, so cached records end up matching the last applied settings.
	applyMu sync.Mutex
}

func NewRecords(store AdminStore, settings SettingsFunc) *Records {
	if settings == nil {
		settings = config.GetAccessFilter
	}
	return &Records{
		store:      store,
		settings:   settings,
		swapConfig: config.SwapConfig,
	}
}

// ParseIP accepts the decimal key form used by the admin API.
func ParseIP(raw string) (uint32, error) {
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidIP, raw)
	}
	return uint32(value), nil
}

func ParseStatus(raw string) (bool, error) {
	switch raw {
	case "1":
		return true, nil
	case "0":
		return false, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

func (r *Records) SetStatus(ctx context.Context, ip uint32, allowed bool) error {
	affected, err := r.store.SetStatus(ctx, ip, allowed)
	if err != nil {
		return fmt.Errorf("set status for %s: %w", domain.Uint32ToIPv4(ip), err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (r *Records) Remove(ctx context.Context, ip uint32) error {
	affected, err := r.store.Remove(ctx, ip)
	if err != nil {
		return fmt.Errorf("remove %s: %w", domain.Uint32ToIPv4(ip), err)
	}
	if affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// BulkSetStatusByCountry flips every cached record under countries.
func (r *Records) BulkSetStatusByCountry(ctx context.Context, countries []string, allowed bool) (int64, error) {
	for _, code := range countries {
		if !config.IsCountryCode(code) {
			return 0, fmt.Errorf("%w: %q", config.ErrInvalidCountry, code)
		}
	}
	return r.store.BulkSetStatusByCountry(ctx, countries, allowed)
}

func (r *Records) ListByCountry(ctx context.Context, country string) ([]dto.AccessRecordInfo, error) {
	if !config.IsCountryCode(country) {
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidCountry, country)
	}

	records, err := r.store.ListByCountry(ctx, country)
	if err != nil {
		return nil, err
	}

	out := make([]dto.AccessRecordInfo, 0, len(records))
	for _, record := range records {
		out = append(out, dto.AccessRecordInfo{
			IP:      record.IP,
			Address: record.Address(),
			Allowed: record.Allowed,
		})
	}
	return out, nil
}

func (r *Records) Summary(ctx context.Context) (dto.AccessSummary, error) {
	summary, err := r.store.Summary(ctx)
	if err != nil {
		return dto.AccessSummary{}, err
	}

	filter := r.settings()
	for i := range summary.Countries {
		summary.Countries[i].InAllowList = filter.AllowsCountry(summary.Countries[i].CountryCode)
	}
	return summary, nil
}

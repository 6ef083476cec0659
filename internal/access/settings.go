package access

import (
	"context"
	"errors"
	"fmt"

	"geogate/internal/config"

	"github.com/charmbracelet/log"
)

// Reflagged reports how many cached records changed after a settings update.
type Reflagged struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// ApplySettings validates and saves next, then re-flags cached records of
// countries that were added to or removed from the allow list. Invalid
// settings are rejected before anything is stored.
func (r *Records) ApplySettings(ctx context.Context, next config.Config) (Reflagged, error) {
	normalized, err := next.AccessFilter.Normalize()
	if err != nil {
		return Reflagged{}, err
	}
	next.AccessFilter = normalized

	r.applyMu.Lock()
	defer r.applyMu.Unlock()

	var errs []error
	prev, err := r.swapConfig(next)
	if err != nil {
		// next is already validated, so the snapshot is active and only
		// persisting or broadcasting it failed.
		errs = append(errs, err)
	}
	added, removed := config.DiffCountries(prev.AccessFilter.Countries, normalized.Countries)

	var result Reflagged
	if len(added) > 0 {
		affected, err := r.store.BulkSetStatusByCountry(ctx, added, true)
		if err != nil {
			errs = append(errs, fmt.Errorf("allow records of %v: %w", added, err))
		}
		result.Allowed = affected
	}
	if len(removed) > 0 {
		affected, err := r.store.BulkSetStatusByCountry(ctx, removed, false)
		if err != nil {
			errs = append(errs, fmt.Errorf("deny records of %v: %w", removed, err))
		}
		result.Denied = affected
	}

	log.Info("Access settings updated", "added", added, "removed", removed, "allowed_records", result.Allowed, "denied_records", result.Denied)

	return result, errors.Join(errs...)
}

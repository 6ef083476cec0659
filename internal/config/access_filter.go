package config

import (
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"geogate/internal/domain"
)

const (
	MaxTrack404Threshold = 255
	MaxTrack404Window    = 99
)

var (
	ErrInvalidCountry   = errors.New("invalid country code")
	ErrNoCountries      = errors.New("at least one allowed country is required")
	ErrInvalidThreshold = errors.New("404 threshold must be between 1 and 255 when tracking is enabled")
	ErrInvalidWindow    = errors.New("404 window must be between 1 and 99 hours")

	countryCodePattern = regexp.MustCompile(`^[A-Z]{2}$`)
)

// IsCountryCode reports whether code is an ISO 3166-1 alpha-2 code in upper case.
func IsCountryCode(code string) bool {
	return countryCodePattern.MatchString(code)
}

// IsKnownCountry reports whether code names a real country. The reserved
// code used for banned IPs is not one, so listing it can never lift an abuse
// ban and a resolver answering it counts as unknown.
func IsKnownCountry(code string) bool {
	return IsCountryCode(code) && code != domain.UnknownCountryCode
}

// Normalize trims and deduplicates the country list and validates the filter.
func (f AccessFilter) Normalize() (AccessFilter, error) {
	out := f

	seen := make(map[string]struct{}, len(f.Countries))
	countries := make([]string, 0, len(f.Countries))
	for _, raw := range f.Countries {
		for _, code := range strings.Fields(raw) {
			if !IsKnownCountry(code) {
				return AccessFilter{}, fmt.Errorf("%w: %q", ErrInvalidCountry, code)
			}
			if _, ok := seen[code]; ok {
				continue
			}
			seen[code] = struct{}{}
			countries = append(countries, code)
		}
	}
	out.Countries = countries

	if err := out.Validate(); err != nil {
		return AccessFilter{}, err
	}
	return out, nil
}

func (f AccessFilter) Validate() error {
	if f.Enabled && len(f.Countries) == 0 {
		return ErrNoCountries
	}
	for _, code := range f.Countries {
		if !IsKnownCountry(code) {
			return fmt.Errorf("%w: %q", ErrInvalidCountry, code)
		}
	}
	if f.Track404 && (f.Track404Threshold < 1 || f.Track404Threshold > MaxTrack404Threshold) {
		return ErrInvalidThreshold
	}
	if f.Track404Window > MaxTrack404Window {
		return ErrInvalidWindow
	}
	return nil
}

func (f AccessFilter) AllowsCountry(code string) bool {
	return slices.Contains(f.Countries, code)
}

// Window returns the tracker window, 0 when hits accumulate forever.
func (f AccessFilter) Window() time.Duration {
	return time.Duration(f.Track404Window) * time.Hour
}

// DiffCountries returns the codes present only in next (added) and only in prev (removed).
func DiffCountries(prev, next []string) (added, removed []string) {
	for _, code := range next {
		if !slices.Contains(prev, code) {
			added = append(added, code)
		}
	}
	for _, code := range prev {
		if !slices.Contains(next, code) {
			removed = append(removed, code)
		}
	}
	return added, removed
}

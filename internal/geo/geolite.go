package geo

import (
	"context"
	"fmt"
	"net"
	"sync"

	"geogate/internal/config"
	"geogate/internal/domain"

	"github.com/charmbracelet/log"
	"github.com/oschwald/geoip2-golang"
)

// GeoLiteResolver resolves countries from a local GeoLite2-Country database.
type GeoLiteResolver struct {
	mu     sync.RWMutex
	reader *geoip2.Reader
}

func OpenGeoLiteResolver(path string) (*GeoLiteResolver, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("geolite: open %s: %w", path, err)
	}
	return &GeoLiteResolver{reader: reader}, nil
}

func NewGeoLiteResolverFromBytes(data []byte) (*GeoLiteResolver, error) {
	reader, err := geoip2.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("geolite: load database: %w", err)
	}
	return &GeoLiteResolver{reader: reader}, nil
}

func (r *GeoLiteResolver) Lookup(_ context.Context, ip string) (string, bool) {
	if !domain.IsIPv4(ip) {
		return "", false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.reader == nil {
		return "", false
	}

	record, err := r.reader.Country(net.ParseIP(ip))
	if err != nil {
		log.Debug("geolite lookup failed", "ip", ip, "error", err)
		return "", false
	}

	code := record.Country.IsoCode
	if !config.IsKnownCountry(code) {
		return "", false
	}
	return code, true
}

// Reload swaps in the database at path. The previous database stays active
// when the new one cannot be opened.
func (r *GeoLiteResolver) Reload(path string) error {
	reader, err := geoip2.Open(path)
	if err != nil {
		return fmt.Errorf("geolite: open %s: %w", path, err)
	}

	r.mu.Lock()
	previous := r.reader
	r.reader = reader
	r.mu.Unlock()

	if previous != nil {
		_ = previous.Close()
	}
	return nil
}

func (r *GeoLiteResolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.reader == nil {
		return nil
	}
	err := r.reader.Close()
	r.reader = nil
	return err
}

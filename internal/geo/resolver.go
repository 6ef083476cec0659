package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"geogate/internal/config"
	"geogate/internal/domain"

	"github.com/charmbracelet/log"
)

const (
	DefaultEndpoint = "http://www.geoplugin.net/json.gp"
	DefaultTimeout  = 5 * time.Second

	maxResponseBytes = 64 << 10
)

// HTTPResolver resolves countries through a geoplugin-compatible JSON endpoint.
// It performs exactly one request per lookup and keeps no cache.
type HTTPResolver struct {
	endpoint string
	client   *http.Client
}

type geopluginResponse struct {
	CountryCode *string `json:"geoplugin_countryCode"`
}

func NewHTTPResolver(endpoint string, timeout time.Duration) *HTTPResolver {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPResolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Lookup returns the ISO country code of ip. ok is false for non-IPv4 input,
// transport or decode failures and responses without a usable country field.
func (r *HTTPResolver) Lookup(ctx context.Context, ip string) (string, bool) {
	if !domain.IsIPv4(ip) {
		return "", false
	}

	code, err := r.lookup(ctx, ip)
	if err != nil {
		log.Debug("country lookup failed", "ip", ip, "error", err)
		return "", false
	}
	return code, true
}

func (r *HTTPResolver) lookup(ctx context.Context, ip string) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := url.Parse(r.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	query := target.Query()
	query.Set("ip", ip)
	target.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var payload geopluginResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&payload); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if payload.CountryCode == nil {
		return "", fmt.Errorf("response has no country code")
	}
	if !config.IsKnownCountry(*payload.CountryCode) {
		return "", fmt.Errorf("malformed country code %q", *payload.CountryCode)
	}
	return *payload.CountryCode, nil
}

package geo

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	maxMindDownloadURL = "https://download.maxmind.com/app/geoip_download"
	countryEdition     = "GeoLite2-Country"
	countryFileName    = "GeoLite2-Country.mmdb"
	userAgent          = "geogate-geolite-updater/1.0"

	DefaultUpdateInterval = 7 * 24 * time.Hour
)

var ErrNoLicenseKey = errors.New("geolite: license key is not configured")

// Updater downloads the GeoLite2-Country database and reloads a resolver
// from it.
type Updater struct {
	licenseKey  string
	path        string
	downloadURL string
	client      *http.Client
	group       singleflight.Group
}

func NewUpdater(licenseKey, path string) *Updater {
	return &Updater{
		licenseKey:  strings.TrimSpace(licenseKey),
		path:        path,
		downloadURL: maxMindDownloadURL,
		client:      &http.Client{Timeout: 2 * time.Minute},
	}
}

// EnsureDatabase downloads the database when no file exists at the
// configured path yet.
func (u *Updater) EnsureDatabase(ctx context.Context) error {
	if _, err := os.Stat(u.path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("geolite: stat %s: %w", u.path, err)
	}
	return u.Download(ctx)
}

// Download fetches the current database into the configured path.
// Concurrent calls share one download.
func (u *Updater) Download(ctx context.Context) error {
	_, err, _ := u.group.Do("download", func() (any, error) {
		if u.licenseKey == "" {
			return nil, ErrNoLicenseKey
		}
		return nil, u.download(ctx)
	})
	return err
}

// Update downloads a fresh database and reloads resolver from it.
func (u *Updater) Update(ctx context.Context, resolver *GeoLiteResolver) error {
	if err := u.Download(ctx); err != nil {
		return err
	}
	if err := resolver.Reload(u.path); err != nil {
		return fmt.Errorf("geolite: reload: %w", err)
	}
	log.Info("GeoLite database updated", "path", u.path)
	return nil
}

// Run updates resolver every interval until ctx is done.
func (u *Updater) Run(ctx context.Context, resolver *GeoLiteResolver, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := u.Update(ctx, resolver); err != nil {
				log.Error("GeoLite update failed", "error", err)
			}
		}
	}
}

func (u *Updater) download(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.buildDownloadURL(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", countryEdition, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("download %s: unexpected status %d: %s", countryEdition, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	gzipReader, err := gzip.NewReader(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: open gzip: %w", countryEdition, err)
	}
	defer gzipReader.Close()

	tarReader := tar.NewReader(gzipReader)
	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("%s: read tar: %w", countryEdition, err)
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != countryFileName {
			continue
		}

		if err := writeToFile(u.path, tarReader); err != nil {
			return fmt.Errorf("%s: write file: %w", countryEdition, err)
		}
		return nil
	}

	return fmt.Errorf("%s: mmdb file not found in archive", countryEdition)
}

func (u *Updater) buildDownloadURL() string {
	query := url.Values{}
	query.Set("edition_id", countryEdition)
	query.Set("license_key", u.licenseKey)
	query.Set("suffix", "tar.gz")
	return u.downloadURL + "?" + query.Encode()
}

// writeToFile replaces destPath atomically.
func writeToFile(destPath string, data io.Reader) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), "geolite-*.mmdb")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmpFile.Name())
	}()

	if _, err := io.Copy(tmpFile, data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("copy data: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpFile.Name(), destPath); err != nil {
		return fmt.Errorf("replace file: %w", err)
	}
	return nil
}

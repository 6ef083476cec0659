package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
)

type Config struct {
	AccessFilter AccessFilter `json:"access_filter"`

	Resolver struct {
		Endpoint       string `json:"endpoint"`
		TimeoutSeconds uint32 `json:"timeout_seconds"`
	} `json:"resolver"`

	Maintenance struct {
		TrackerCleanupTimer Timer `json:"tracker_cleanup_timer"`
	} `json:"maintenance"`
}

// AccessFilter is the snapshot read by the admission gate, the decision
// engine and the abuse tracker.
type AccessFilter struct {
	Enabled   bool     `json:"enabled"`
	Countries []string `json:"countries"`

	Track404          bool `json:"track_404"`
	Track404Threshold int  `json:"track_404_threshold"`
	// Track404Window is measured in whole hours, 0 means hits never expire.
	Track404Window uint32 `json:"track_404_window,omitempty"`

	TrustForwardedHeaders bool `json:"trust_forwarded_headers"`
}

type Timer struct {
	Days    uint32 `json:"days"`
	Hours   uint32 `json:"hours"`
	Minutes uint32 `json:"minutes"`
	Seconds uint32 `json:"seconds"`
}

const defaultSettingsFilePath = "data/settings.json"

var (
	//go:embed default_settings.json
	defaultConfig []byte

	configValue      atomic.Value
	settingsFilePath atomic.Value
	configMu         sync.Mutex
)

func init() {
	configValue.Store(Config{})
	settingsFilePath.Store(defaultSettingsFilePath)
}

// SetSettingsFilePath changes where ReadSettings and SetConfig persist the configuration.
func SetSettingsFilePath(path string) {
	if path == "" {
		path = defaultSettingsFilePath
	}
	settingsFilePath.Store(path)
}

func getSettingsFilePath() string {
	return settingsFilePath.Load().(string)
}

// DefaultConfig returns the embedded default configuration.
func DefaultConfig() (Config, error) {
	var cfg Config
	if err := json.Unmarshal(defaultConfig, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: decode defaults: %w", err)
	}
	return cfg, nil
}

func ReadSettings() error {
	path := getSettingsFilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("config: read settings file: %w", err)
		}

		log.Warn("Settings file not found, creating with default configuration", "path", path)

		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("config: create settings directory: %w", err)
		}
		if err := os.WriteFile(path, defaultConfig, 0o644); err != nil {
			return fmt.Errorf("config: write default settings: %w", err)
		}

		data = defaultConfig
	}

	var newConfig Config
	if err := json.Unmarshal(data, &newConfig); err != nil {
		return fmt.Errorf("config: decode settings file: %w", err)
	}

	if _, err := applyConfigUpdate(newConfig, configUpdateOptions{source: "file"}); err != nil {
		return err
	}

	log.Debug("Settings file loaded successfully", "path", path)
	return nil
}

// SetConfig validates, stores, persists and broadcasts a new configuration.
// An invalid configuration is rejected and the previous snapshot stays active.
func SetConfig(newConfig Config) error {
	_, err := SwapConfig(newConfig)
	return err
}

// SwapConfig works like SetConfig and also returns the snapshot it replaced,
// read under the same lock that stores the new one. When validation fails
// the previous snapshot is returned unchanged together with the error.
func SwapConfig(newConfig Config) (Config, error) {
	return applyConfigUpdate(newConfig, configUpdateOptions{persistToFile: true, broadcast: true, source: "local"})
}

type configUpdateOptions struct {
	persistToFile bool
	broadcast     bool
	source        string
}

func applyConfigUpdate(newConfig Config, opts configUpdateOptions) (Config, error) {
	normalized, err := newConfig.AccessFilter.Normalize()
	if err != nil {
		return GetConfig(), err
	}
	newConfig.AccessFilter = normalized

	configMu.Lock()
	defer configMu.Unlock()

	previous := GetConfig()
	configValue.Store(newConfig)
	SetBetweenTime()

	var errs []error

	if opts.persistToFile {
		data, err := json.MarshalIndent(newConfig, "", "  ")
		if err != nil {
			errs = append(errs, fmt.Errorf("config: encode settings: %w", err))
		} else if err := os.WriteFile(getSettingsFilePath(), data, 0o644); err != nil {
			errs = append(errs, fmt.Errorf("config: write settings file: %w", err))
		}
	}

	if opts.broadcast {
		payload, err := json.Marshal(newConfig)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: encode broadcast: %w", err))
		} else if err := broadcastConfigUpdate(payload); err != nil {
			errs = append(errs, fmt.Errorf("config: broadcast update: %w", err))
		}
	}

	log.Debug("Configuration applied", "source", opts.source)

	return previous, errors.Join(errs...)
}

func GetConfig() Config {
	return configValue.Load().(Config)
}

// GetAccessFilter returns the current access filter snapshot.
func GetAccessFilter() AccessFilter {
	return GetConfig().AccessFilter
}

func (cfg Config) ResolverTimeout() time.Duration {
	if cfg.Resolver.TimeoutSeconds == 0 {
		return 5 * time.Second
	}
	return time.Duration(cfg.Resolver.TimeoutSeconds) * time.Second
}

package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"geogate/internal/access"
	"geogate/internal/audit"
	"geogate/internal/config"
	"geogate/internal/database"
	"geogate/internal/gate"
	"geogate/internal/geo"
	"geogate/internal/support"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Services holds the wired access filter components.
type Services struct {
	Engine   *access.Engine
	Tracker  *access.Tracker
	Records  *access.Records
	Gate     *gate.Gate
	Counters *database.AbuseTrackerStore

	// GeoLite and GeoLiteUpdater are set when countries come from a local
	// database that is refreshed with a MaxMind license key.
	GeoLite        *geo.GeoLiteResolver
	GeoLiteUpdater *geo.Updater

	closers []func() error
}

// Setup loads settings, opens the database and wires the access filter.
// redisClient may be nil for a single node.
func Setup(ctx context.Context, redisClient *redis.Client) (*Services, error) {
	if err := config.ReadSettings(); err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	if redisClient != nil {
		config.EnableRedisSynchronization(ctx, redisClient)
	}

	db, err := database.SetupDB()
	if err != nil {
		return nil, fmt.Errorf("set up database: %w", err)
	}
	config.SetBetweenTime()

	svc := &Services{}
	svc.closers = append(svc.closers, database.Close)

	resolver, err := svc.newResolver(ctx)
	if err != nil {
		_ = svc.Close()
		return nil, err
	}

	sink := audit.MultiSink{audit.NewLogSink(nil)}
	if redisClient != nil {
		sink = append(sink, audit.NewRedisSink(redisClient, audit.DefaultStreamKey, audit.DefaultStreamMaxLen))
	}

	records := database.NewAccessRecordStore(db)
	svc.Counters = database.NewAbuseTrackerStore(db)

	svc.Engine = access.NewEngine(records, resolver, config.GetAccessFilter, sink)
	svc.Tracker = access.NewTracker(svc.Counters, records, resolver, config.GetAccessFilter, sink)
	svc.Records = access.NewRecords(records, config.GetAccessFilter)
	svc.Gate = gate.New(svc.Engine, svc.Tracker)

	filter := config.GetAccessFilter()
	log.Info("Access filter ready",
		"enabled", filter.Enabled,
		"countries", filter.Countries,
		"track_404", filter.Track404,
	)
	return svc, nil
}

// newResolver prefers a local GeoLite2 database when GEOLITE_COUNTRY_DB is set.
func (s *Services) newResolver(ctx context.Context) (access.CountryResolver, error) {
	path := support.GetEnv("GEOLITE_COUNTRY_DB", "")
	if path == "" {
		cfg := config.GetConfig()
		log.Info("Resolving countries over HTTP", "endpoint", cfg.Resolver.Endpoint)
		return geo.NewHTTPResolver(cfg.Resolver.Endpoint, cfg.ResolverTimeout()), nil
	}

	if key := support.GetEnv("MAXMIND_LICENSE_KEY", ""); key != "" {
		s.GeoLiteUpdater = geo.NewUpdater(key, path)
		if err := s.GeoLiteUpdater.EnsureDatabase(ctx); err != nil {
			return nil, fmt.Errorf("download geolite database: %w", err)
		}
	}

	reader, err := geo.OpenGeoLiteResolver(path)
	if err != nil {
		return nil, fmt.Errorf("open geolite database: %w", err)
	}
	s.GeoLite = reader
	s.closers = append(s.closers, reader.Close)

	log.Info("Resolving countries from local GeoLite2 database", "path", path)
	return reader, nil
}

// Close releases resources in reverse setup order.
func (s *Services) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"geogate/internal/app/bootstrap"
	"geogate/internal/app/server"
	"geogate/internal/config"
	"geogate/internal/geo"
	"geogate/internal/jobs/runtime"
	"geogate/internal/support"
)

const (
	defaultAdminPort  = 8082
	defaultPublicPort = 8084
)

func Run() error {
	if err := godotenv.Load(); err != nil {
		log.Warn("No .env file found. Falling back to system environment variables.")
	}

	adminPortFlag := flag.Int("admin-port", defaultAdminPort, "Port for the admin API")
	publicPortFlag := flag.Int("public-port", defaultPublicPort, "Port for the gated public server")
	upstreamFlag := flag.String("upstream", "", "URL of the application to proxy behind the gate")
	staticFlag := flag.String("static-dir", "", "Directory to serve behind the gate when no upstream is set")
	settingsFlag := flag.String("settings", "", "Path of the settings file")
	productionFlag := flag.Bool("production", false, "Run in production mode")
	flag.Parse()

	setLogLevel(*productionFlag)
	config.SetSettingsFilePath(firstNonEmpty(support.GetEnv("SETTINGS_FILE", ""), *settingsFlag))

	adminPort := resolvePort("ADMIN_PORT", "BACKEND_PORT", *adminPortFlag)
	publicPort := resolvePort("PUBLIC_PORT", "FRONTEND_PORT", *publicPortFlag)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := optionalRedis()
	if err != nil {
		return err
	}
	defer func() {
		config.DisableRedisSynchronization()
		if err := support.CloseRedisClient(); err != nil {
			log.Warn("error closing redis client", "error", err)
		}
	}()

	heartbeatCancel := runtime.LaunchNodeHeartbeat(ctx, redisClient)
	defer heartbeatCancel()

	services, err := bootstrap.Setup(ctx, redisClient)
	if err != nil {
		return err
	}
	defer func() {
		if err := services.Close(); err != nil {
			log.Warn("error closing services", "error", err)
		}
	}()

	app, err := server.PublicHandler(
		firstNonEmpty(support.GetEnv("UPSTREAM_URL", ""), *upstreamFlag),
		firstNonEmpty(support.GetEnv("STATIC_DIR", ""), *staticFlag),
	)
	if err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		runtime.StartTrackerCleanupRoutine(groupCtx, redisClient, services.Counters, config.GetAccessFilter)
		return nil
	})
	if services.GeoLiteUpdater != nil {
		group.Go(func() error {
			services.GeoLiteUpdater.Run(groupCtx, services.GeoLite, geo.DefaultUpdateInterval)
			return nil
		})
	}
	group.Go(func() error {
		return server.OpenRoutes(groupCtx, adminPort, services.Records)
	})
	group.Go(func() error {
		return server.ServePublic(groupCtx, publicPort, server.GatedHandler(services.Gate, app))
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("geogate stopped")
	return nil
}

// optionalRedis returns nil without error when REDIS_URL is unset.
func optionalRedis() (*redis.Client, error) {
	client, err := support.GetRedisClient()
	if errors.Is(err, support.ErrRedisNotConfigured) {
		log.Info("REDIS_URL not set, running as a single node")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get redis client: %w", err)
	}

	if nodes, err := runtime.CountActiveNodes(context.Background(), client); err == nil {
		log.Info("Joining shared deployment", "node", runtime.NodeID(), "active_nodes", nodes)
	}
	return client, nil
}

func setLogLevel(production bool) {
	level := log.DebugLevel
	if production {
		level = log.InfoLevel
	}
	if raw := support.GetEnv("LOG_LEVEL", ""); raw != "" {
		parsed, err := log.ParseLevel(raw)
		if err != nil {
			log.Warn("invalid LOG_LEVEL", "value", raw)
		} else {
			level = parsed
		}
	}
	log.SetLevel(level)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func resolvePort(primaryEnv, legacyEnv string, fallback int) int {
	if port := readPort(primaryEnv); port != 0 {
		return port
	}
	if port := readPort(legacyEnv); port != 0 {
		return port
	}
	return fallback
}

func readPort(envKey string) int {
	raw := os.Getenv(envKey)
	if raw == "" {
		return 0
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		log.Warn("invalid port override", "env", envKey, "value", raw)
		return 0
	}
	return port
}

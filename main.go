package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"oauth-gateway/config"
	"oauth-gateway/configstore"
	"oauth-gateway/internal/redis"
	"oauth-gateway/oidc"
	"oauth-gateway/webserver"

	log "github.com/sirupsen/logrus"
)

const (
	discoveryTimeout = 5 * time.Second
	shutdownTimeout  = 10 * time.Second
)

func init() {
	log.SetOutput(os.Stdout)
	// log level will be set in config processing based on passed env variable
	// for now set to debug for initial startup logs
	log.SetLevel(log.DebugLevel)
	log.SetFormatter(&log.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
}

func main() {
	log.Info("initializing OAuth-Gateway")

	cfg, err := config.LoadAndProcessConfig()
	if err != nil {
		log.Fatal(err)
	}
	level, err := log.ParseLevel(cfg.Settings.LogLevel)
	if err != nil {
		log.WithError(err).Warn("invalid log level, using info")
		level = log.InfoLevel
	}
	log.SetLevel(level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := StartServer(ctx, cfg); err != nil {
		log.Fatal(err)
	}
}

// StartServer wires the config store, the gate and the webserver and serves until ctx is done.
func StartServer(ctx context.Context, cfg *config.Config) error {
	var redisClient *goredis.Client
	if cfg.Settings.AuthConfig.Driver == "redis" || cfg.Settings.State.StoreDriver == "redis" {
		client, err := redis.New(ctx, cfg.Settings.Redis)
		if err != nil {
			return err
		}
		defer func() {
			_ = client.Close()
		}()
		redisClient = client
	}

	store := configstore.New(createBackend(cfg.Settings.AuthConfig, redisClient), configstore.OptionsFromSettings(cfg.Settings.AuthConfig))
	initial, err := cfg.Content.InitialDocument()
	if err != nil {
		return err
	}
	if err := store.SeedIfEmpty(ctx, initial); err != nil {
		log.WithError(err).Warn("cannot seed auth config")
	}
	store.Start(ctx)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	gate := oidc.NewGate(
		store,
		createStateStore(cfg.Settings.State, redisClient),
		oidc.NewProviders(discoveryTimeout),
		oidc.NewRedirectBuilder(cfg.Content.BaseUrl),
		oidc.NewMetrics(registry),
	)

	ws, err := webserver.NewWebserver(cfg, store, gate, registry)
	if err != nil {
		return err
	}
	defer func() {
		err := ws.Close()
		if err != nil {
			log.WithError(err).Error("error closing webserver")
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- ws.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return ws.Shutdown(shutdownCtx)
	}
}

func createBackend(settings config.SettingsAuthConfig, client *goredis.Client) configstore.Backend {
	if settings.Driver == "redis" {
		log.WithField("key", settings.RedisKey).Info("using redis auth config backend")
		return configstore.NewRedisBackend(client, settings.RedisKey, settings.RedisChannel)
	}
	log.WithField("path", settings.Path).Info("using file auth config backend")
	return configstore.NewFileBackend(settings.Path)
}

func createStateStore(settings config.SettingsState, client *goredis.Client) oidc.StateStore {
	if settings.StoreDriver == "redis" {
		return oidc.NewRedisStateStore(client, settings.TTL)
	}
	return oidc.NewMemoryStateStore(settings.TTL)
}

package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gormdb "webservice-io/internal/adapters/gorm"
	natsreg "webservice-io/internal/adapters/nats"
	"webservice-io/internal/config"
	"webservice-io/internal/core/health"
	"webservice-io/internal/core/ngsi"
	"webservice-io/internal/core/webservices"
	api "webservice-io/internal/delivery/http"

	"github.com/rs/zerolog"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().
		Str("svc", "webservice-io").Logger()

	cfg := config.MustLoad()
	log.Info().Str("registry", cfg.RegistryType).Str("broker", cfg.ContextBrokerURL).
		Str("listen", cfg.ListenAddr).Int("types", len(cfg.Types)).Msg("boot")

	alarms := health.New(log)

	reg, closeRegistry, err := openRegistry(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("registry", cfg.RegistryType).Msg("registry init")
	}
	defer closeRegistry()

	broker := ngsi.New(ngsi.Config{
		BaseURL:     cfg.ContextBrokerURL,
		ProviderURL: cfg.ProviderURL,
		Timestamp:   cfg.Timestamp,
		Timeout:     cfg.RemoteTimeout,
	}, alarms, log)

	svc := webservices.NewService(webservices.WithAlarms(reg, alarms), broker, cfg.Defaults(), log)

	handler := api.New(svc, alarms, log)
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: handler}

	// graceful-shutdown
	ctx, stop := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("listen", cfg.ListenAddr).Msg("HTTP up")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http")
		}
	}()

	<-ctx.Done()
	_ = srv.Shutdown(context.Background())
	log.Info().Msg("bye")
}

// openRegistry builds the backend selected by REGISTRY_TYPE and its cleanup.
func openRegistry(cfg config.Config, log zerolog.Logger) (webservices.Registry, func(), error) {
	switch cfg.RegistryType {
	case config.RegistryPostgres:
		db, err := gormdb.New(cfg.PostgresDSN, log)
		if err != nil {
			return nil, nil, err
		}
		closer := func() {
			if sqlDB, err := db.DB(); err == nil {
				_ = sqlDB.Close()
			}
		}
		return gormdb.NewRegistry(db, log), closer, nil
	case config.RegistryNATS:
		nc, err := natsreg.New(cfg.NATSURL, log)
		if err != nil {
			return nil, nil, err
		}
		kv, err := nc.EnsureBucket(cfg.RegistryBucket)
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return natsreg.NewRegistry(kv, log), nc.Close, nil
	default:
		return webservices.NewMemoryRegistry(log), func() {}, nil
	}
}

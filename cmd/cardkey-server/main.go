package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/backend"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/service"
	"github.com/BrandonDHaskell/cardkey/internal/config"
	"github.com/BrandonDHaskell/cardkey/internal/events"
	"github.com/BrandonDHaskell/cardkey/internal/grpcapi"
	"github.com/BrandonDHaskell/cardkey/internal/httpapi"
	"github.com/BrandonDHaskell/cardkey/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stdout)
	if err != nil {
		logrus.WithError(err).Fatal("logger")
	}
	log := logger.WithField("service", "cardkey-server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Stores
	stores, err := backend.Open(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer stores.Close()

	// Audit sinks
	sinks := service.FanOut{service.StoreSink{Store: stores.Audit}}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, cfg.NATSToken, "cardkey-server")
		if err != nil {
			log.WithError(err).Fatal("connect nats")
		}
		defer nc.Close()
		sinks = append(sinks, events.NewAuditPublisher(nc, cfg.NATSSubject))
		log.WithField("subject", cfg.NATSSubject).Info("publishing audit events to nats")
	}

	// Services
	registry := service.NewBindingRegistry(stores.Cards, stores.Bindings, cfg.LockWait, nil)
	verifySvc := service.NewVerificationService(stores.Cards, registry, sinks, service.VerificationConfig{
		LockWait: cfg.LockWait,
		Logger:   log,
	})
	querySvc := service.NewQueryService(stores.Cards, registry, stores.Audit, cfg.RecentLogs, nil)
	gateway := service.NewGateway(service.NewCredentialGate(stores.Credentials, cfg.APIEnabled), verifySvc, querySvc, sinks, log)

	pruner := service.NewCallLogPruner(stores.Audit, service.PrunerConfig{
		RetentionDays: cfg.CallLogRetentionDays,
		Interval:      time.Duration(cfg.PruneIntervalHours) * time.Hour,
	}, log)
	pruner.Start(ctx)
	defer pruner.Stop()

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      log,
		Addr:        cfg.HTTPAddr,
		Gateway:     gateway,
		Health:      service.NewHealthService(stores.Health, version),
		RateLimit:   cfg.RateLimit,
		CORSOrigins: cfg.CORSOrigins,
	})

	go func() {
		log.Infof("http listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server error")
			stop()
		}
	}()

	// gRPC
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("grpc listen")
		}
		gs, hs := grpcapi.NewGRPCServer(gateway, log)
		go func() {
			log.Infof("grpc listening on %s", cfg.GRPCAddr)
			if err := gs.Serve(lis); err != nil {
				log.WithError(err).Error("grpc server error")
				stop()
			}
		}()
		defer func() {
			hs.Shutdown()
			gs.GracefulStop()
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

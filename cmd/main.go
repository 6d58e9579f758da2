// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package main runs the coapgw daemon: a CoAP over UDP gateway that serves
// mounted resources and bridges observed topics to an MQTT broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/absmach/coapgw"
	"github.com/absmach/coapgw/examples/simple"
	"github.com/absmach/coapgw/pkg/codec/coap"
	"github.com/absmach/coapgw/pkg/health"
	"github.com/absmach/coapgw/pkg/metrics"
	"github.com/absmach/coapgw/pkg/pubsub/mqtt"
	"github.com/absmach/coapgw/pkg/registry"
	"github.com/absmach/coapgw/pkg/responder"
	"github.com/absmach/coapgw/pkg/server/udp"
	"github.com/absmach/coapgw/pkg/store/sqlite"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	svcName             = "coapgw"
	httpShutdownTimeout = 5 * time.Second
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := coapgw.NewConfig(env.Options{Prefix: coapgw.EnvPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	m := metrics.New(svcName, nil)
	checker := health.NewChecker(10 * time.Second)

	builders := map[string]registry.Builder{
		"store": simple.NewBuilder(nil, logger),
	}

	if cfg.DBPath != "" {
		db, err := sqlite.Open(sqlite.Config{Path: cfg.DBPath, BusyTimeout: 5})
		if err != nil {
			logger.Error("failed to open database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()

		builders["sqlite"] = simple.NewBuilder(db, logger)
		checker.RegisterCritical("database", db.HealthCheck)
	}

	if cfg.MQTTURL != "" {
		client, err := mqtt.Connect(mqtt.Config{
			URL:      cfg.MQTTURL,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			QoS:      cfg.MQTTQoS,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to MQTT broker", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer client.Close()

		builders["mqtt"] = mqtt.NewBuilder(client, logger)
		checker.RegisterCritical("mqtt", client.HealthCheck)
	}

	reg := registry.New()
	if err := reg.Register("/", simple.New(logger)); err != nil {
		logger.Error("failed to mount default handler", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if cfg.MountsFile != "" {
		if err := reg.LoadFile(cfg.MountsFile, builders); err != nil {
			logger.Error("failed to load mounts", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
	logger.Info("resources mounted", slog.Any("prefixes", reg.Prefixes()))

	mgr := responder.NewManager(responder.Config{
		MailboxSize: cfg.MailboxSize,
		Logger:      logger,
		Metrics:     m,
	}, reg)

	server := udp.New(udp.Config{
		Address:         cfg.Address(),
		SessionTimeout:  cfg.SessionTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		MaxSessions:     cfg.MaxSessions,
		BufferSize:      cfg.BufferSize,
		WorkerPoolSize:  cfg.WorkerPoolSize,
		Logger:          logger,
		Metrics:         m,
	}, &coap.Codec{}, mgr)

	checker.RegisterCritical("coap_listener", health.Ready(server.Ready()))
	checker.Register("sessions", health.Limit("sessions", server.Sessions, cfg.MaxSessions))
	checker.Register("responders", health.Limit("responders", mgr.Count, cfg.MaxResponders))

	g.Go(func() error {
		logger.Info("CoAP server started", slog.String("address", cfg.Address()))
		return server.Listen(ctx)
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	g.Go(func() error {
		return serveHTTP(ctx, "metrics", cfg.MetricsPort, metricsMux, logger)
	})
	g.Go(func() error {
		return serveHTTP(ctx, "health", cfg.HealthPort, checker.Mux(), logger)
	})

	g.Go(func() error {
		return StopSignalHandler(ctx, cancel, logger)
	})

	if err := g.Wait(); err != nil {
		logger.Error(fmt.Sprintf("%s service terminated with error: %s", svcName, err))
		os.Exit(1)
	}
	logger.Info(svcName + " service stopped")
}

// setupLogger creates a structured logger with the specified level and format.
func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// serveHTTP runs an HTTP server on port until ctx is cancelled.
// A port of 0 disables the server.
func serveHTTP(ctx context.Context, name string, port int, h http.Handler, logger *slog.Logger) error {
	if port == 0 {
		return nil
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting "+name+" server", slog.String("address", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s server: %w", name, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func StopSignalHandler(ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) error {
	c := make(chan os.Signal, 2)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
	select {
	case sig := <-c:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
		return nil
	case <-ctx.Done():
		return nil
	}
}

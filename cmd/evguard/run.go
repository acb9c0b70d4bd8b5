package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"evguard/internal/alerts"
	"evguard/internal/api"
	"evguard/internal/clock"
	"evguard/internal/config"
	"evguard/internal/engine"
	"evguard/internal/ingest"
	"evguard/internal/logging"
	"evguard/internal/metrics"
	"evguard/internal/storage"
)

const (
	reloadInterval = 3 * time.Second
	drainTimeout   = 10 * time.Second
)

func run(parent context.Context, configPath string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfgManager, err := config.NewManager(configPath)
	if err != nil {
		return err
	}
	cfg := cfgManager.Get()
	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("starting evguard", "version", version, "config", configPath)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	promCollectors := metrics.NewCollectors(reg)
	stateStore := metrics.NewStore(0)
	alertStore := alerts.NewStore(cfg.Alerts.StoreLimit)

	sink := alerts.NewSink(alertStore, logger, promCollectors, cfg.Alerts.DeliveryTimeout)
	closers, err := addForwarders(parent, cfg, sink, logger)
	defer func() {
		for _, c := range closers {
			_ = c()
		}
	}()
	if err != nil {
		return err
	}

	eng := engine.NewEngine(cfg.Detection, sink, logger, stateStore, promCollectors)
	ingress := ingest.NewIngress(ingest.NewDecoder(clock.System()), cfg.Ingest.ChannelBuffer, logger, promCollectors)

	ingestCtx, stopIngest := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stopIngest()

	if _, err := ingest.StartSessionUDP(ingestCtx, cfg.Ingest.Session.UDPAddr, ingress, logger); err != nil {
		return fmt.Errorf("session udp: %w", err)
	}
	if _, err := ingest.StartSignalUDP(ingestCtx, cfg.Ingest.Signal.UDPAddr, ingress, logger); err != nil {
		return fmt.Errorf("signal udp: %w", err)
	}
	if _, err := ingest.StartSignalTCP(ingestCtx, cfg.Ingest.Signal.TCPAddr, ingress, logger); err != nil {
		return fmt.Errorf("signal tcp: %w", err)
	}
	ingest.StartKafka(ingestCtx, cfg.Ingest.Session.Kafka, ingress, logger)
	ingest.StartFileTail(ingestCtx, cfg.Ingest.Signal.FileTail, ingress, logger)
	ingest.StartREST(ingestCtx, cfg.Ingest.REST, ingress, logger)
	api.Start(ingestCtx, api.NewServer(cfgManager, stateStore, alertStore, reg, logger, version))

	go cfgManager.Watch(ingestCtx, reloadInterval, func(next *config.Config) {
		logger.Info("config reloaded", "path", cfgManager.Path())
		eng.UpdateConfig(next)
		sink.SetTimeout(next.Alerts.DeliveryTimeout)
	}, func(err error) {
		logger.Warn("config reload failed, keeping previous config", "err", err)
	})

	// Detectors outlive ingest so that records already queued are evaluated before exit.
	runCtx, stopRun := context.WithCancel(context.WithoutCancel(parent))
	defer stopRun()
	done := make(chan error, 1)
	go func() {
		done <- eng.Run(runCtx, ingress.Sessions(), ingress.Samples())
	}()

	<-ingestCtx.Done()
	logger.Info("shutting down, draining queued records")
	ingress.Close()

	select {
	case err = <-done:
	case <-time.After(drainTimeout):
		logger.Warn("drain timed out", "timeout", drainTimeout.String())
		stopRun()
		err = <-done
	}
	logger.Info("evguard stopped")
	return err
}

func addForwarders(ctx context.Context, cfg *config.Config, sink *alerts.Sink, logger *slog.Logger) ([]func() error, error) {
	var closers []func() error
	if cfg.Alerts.Kafka.Enabled {
		kf := alerts.NewKafkaForwarder(cfg.Alerts.Kafka)
		sink.AddForwarder(kf)
		closers = append(closers, kf.Close)
		logger.Info("alert kafka egress enabled", "brokers", cfg.Alerts.Kafka.Brokers, "topic", cfg.Alerts.Kafka.Topic)
	}
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return closers, err
	}
	if store == nil {
		logger.Info("alert journal disabled")
		return closers, nil
	}
	closers = append(closers, store.Close)
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.Init(initCtx); err != nil {
		return closers, fmt.Errorf("init alert journal: %w", err)
	}
	sink.AddForwarder(storage.NewForwarder(store))
	logger.Info("alert journal enabled", "driver", cfg.Storage.Driver)
	return closers, nil
}

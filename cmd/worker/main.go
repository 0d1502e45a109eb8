// Worker consumes domain events from Kafka and re-emits them as OpenTelemetry log records.
// Set KAFKA_BROKERS, EVENTS_KAFKA_TOPIC, KAFKA_GROUP_ID and OTEL_EXPORTER_OTLP_ENDPOINT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"securepay/backend/internal/config"
	"securepay/backend/internal/logger"
	"securepay/backend/internal/telemetry/consumer"
	telemetryotel "securepay/backend/internal/telemetry/otel"
)

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if cfg.OTelEndpoint == "" {
		log.Warn("OTEL_EXPORTER_OTLP_ENDPOINT not set; relayed events are dropped")
	}
	providers, err := telemetryotel.NewProviders(context.Background(), telemetryotel.Options{
		Endpoint:    cfg.OTelEndpoint,
		Insecure:    cfg.OTelInsecure,
		ServiceName: cfg.OTelServiceName,
		Environment: cfg.Env,
		Logger:      log,
	})
	if err != nil {
		log.Fatal("otel providers", zap.Error(err))
	}

	c, err := consumer.New(consumer.Config{
		Brokers: cfg.Brokers(),
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	}, log)
	if err != nil {
		log.Fatal("kafka consumer", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker consuming", zap.String("topic", cfg.Topic), zap.String("group", cfg.GroupID))
	if err := c.Run(ctx, telemetryotel.NewEventEmitter(providers.LoggerProvider)); err != nil {
		log.Error("worker run", zap.Error(err))
	}

	log.Info("worker shutting down")
	if err := c.Close(); err != nil {
		log.Warn("kafka consumer close", zap.Error(err))
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Warn("otel shutdown", zap.Error(err))
	}
}

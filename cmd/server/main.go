package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	dapr "github.com/dapr/go-sdk/client"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"newsletter-go/internal/app"
	"newsletter-go/internal/config"
	"newsletter-go/internal/events"
	"newsletter-go/internal/logging"
	"newsletter-go/internal/repository"
	"newsletter-go/internal/telemetry"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code once every deferred cleanup has run.
func run() int {
	settings, err := config.Load()
	if err != nil {
		log.Printf("Invalid configuration: %v", err)
		return 1
	}

	logger := logging.NewLogger(logging.Options{Level: settings.LogLevel})

	tp, err := telemetry.InitTracing(telemetry.Options{
		ServiceName:    settings.ServiceName,
		ServiceVersion: settings.ServiceVersion,
		Exporter:       settings.TraceExporter,
	})
	if err != nil {
		log.Printf("Failed to initialize tracing: %v", err)
		return 1
	}
	defer func() {
		if err := telemetry.ShutdownTracing(context.Background(), tp); err != nil {
			log.Printf("Error shutting down tracer provider: %v", err)
		}
	}()

	appConfig := &app.Config{
		Settings:       settings,
		Logger:         logger,
		TracerProvider: otel.GetTracerProvider(),
	}

	if settings.DaprEnabled() {
		client, err := dapr.NewClientWithAddress(settings.DaprGRPCAddress)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to dapr sidecar")
			return 1
		}
		defer client.Close()

		appConfig.FormRepository = repository.NewDaprFormRepository(client, settings.DaprStateStore, settings.FormStateTTL)
		appConfig.Publisher = events.NewDaprPublisher(client, settings.DaprPubSub, settings.DaprTopic)
		logger.WithFields(logrus.Fields{
			"address":     settings.DaprGRPCAddress,
			"state_store": settings.DaprStateStore,
			"pubsub":      settings.DaprPubSub,
		}).Info("Using dapr for form state and events")
	}

	application, err := app.Build(appConfig)
	if err != nil {
		logger.WithError(err).Error("Failed to build application")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(application.Run)
	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return application.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("Server stopped with error")
		return 1
	}

	logger.Info("Server exited")
	return 0
}

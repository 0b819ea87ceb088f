package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"
	container "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Container"
	"gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Exporter/controllers"
)

func main() {
	envFile := pflag.String("env-file", "", "path of a .env file to load before reading the environment")
	port := pflag.StringP("port", "p", "", "metrics listen port, overrides METRICS_PORT")
	pflag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	// Initialize dependency injection container
	ctr, err := container.NewExporterContainer(envFiles...)
	if err != nil {
		// no logger before the container exists
		fmt.Fprintf(os.Stderr, "Failed to initialize container: %v\n", err)
		os.Exit(1)
	}
	defer ctr.Shutdown(context.Background())

	logger := ctr.GetLogger()
	logger.Info("Starting Ruuvi exporter")

	config := ctr.GetConfig()
	if *port != "" {
		config.Server.Port = *port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := ctr.GetRegistry()
	source := ctr.GetSource()
	pipeline := ctr.GetPipeline()

	gin.SetMode(gin.ReleaseMode)
	router := controllers.NewRouter(logger)
	controllers.NewMetricsController(ctr.GetGatherer(), logger).RegisterRoutes(router)
	controllers.NewHealthController(registry, source, pipeline).RegisterRoutes(router)

	srv := &http.Server{
		Addr:         ":" + config.Server.Port,
		Handler:      router,
		ReadTimeout:  config.Server.ReadTimeout,
		WriteTimeout: config.Server.WriteTimeout,
		IdleTimeout:  config.Server.IdleTimeout,
	}

	var wg conc.WaitGroup
	wg.Go(func() { registry.Run(ctx) })
	wg.Go(func() { pipeline.Run(ctx) })
	wg.Go(func() {
		// blocks until the broker accepts the connection; the scrape
		// endpoint is served meanwhile and reports not ready
		if err := source.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.FatalWithError(err, "Failed to start MQTT source")
		}
	})
	wg.Go(func() {
		logger.Info("HTTP server starting on port " + config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.FatalWithError(err, "Failed to start HTTP server")
		}
	})

	logger.Info("Ruuvi exporter running... press Ctrl+C to stop")
	<-ctx.Done()

	logger.Info("Shutting down...")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorWithError(err, "Server forced to shutdown")
	}
	wg.Wait()
}

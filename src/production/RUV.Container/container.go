package container

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	config "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Config"
	gauges "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Gauges"
	ruvlistener "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Listener"
	logger "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Logger"
)

// ExporterContainer manages the exporter's dependencies and their lifecycle
type ExporterContainer struct {
	config *config.Config
	logger *logger.Logger
	clock  clock.Clock

	registry *gauges.Registry
	runtime  *prometheus.Registry

	source   ruvlistener.Source
	pipeline *ruvlistener.Pipeline

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions
	cleanupFuncs []func() error
}

// NewExporterContainer loads configuration from the environment (and the
// given .env files) and builds the container
func NewExporterContainer(envFiles ...string) (*ExporterContainer, error) {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	log := logger.NewLogger(&cfg.Logging).WithService("ruuvi-exporter")
	return New(cfg, log, clock.New()), nil
}

// New builds a container from explicit dependencies
func New(cfg *config.Config, log *logger.Logger, clk clock.Clock) *ExporterContainer {
	runtime := prometheus.NewRegistry()
	runtime.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &ExporterContainer{
		config: cfg,
		logger: log,
		clock:  clk,
		registry: gauges.New(gauges.Options{
			StaleTimeout: cfg.Gauges.StaleTimeout,
			SweepPeriod:  cfg.Gauges.SweepPeriod,
			Clock:        clk,
			Logger:       log,
		}),
		runtime: runtime,
	}
}

// GetConfig returns the configuration
func (c *ExporterContainer) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *ExporterContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetRegistry returns the sensor gauge registry
func (c *ExporterContainer) GetRegistry() *gauges.Registry {
	return c.registry
}

// GetGatherer returns everything the scrape endpoint exposes: the sensor
// gauges plus Go runtime and process metrics
func (c *ExporterContainer) GetGatherer() prometheus.Gatherer {
	return prometheus.Gatherers{c.registry.Gatherer(), c.runtime}
}

// GetSource returns the advertisement source, creating the MQTT gateway
// source on first use. The container stops it on Shutdown.
func (c *ExporterContainer) GetSource() ruvlistener.Source {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.sourceLocked()
}

func (c *ExporterContainer) sourceLocked() ruvlistener.Source {
	if c.source == nil {
		c.source = ruvlistener.NewMQTTSource(c.config, c.clock, c.logger)
	}
	return c.source
}

// SetSource replaces the advertisement source. The previous source is
// stopped and the pipeline is rebuilt on the next GetPipeline call.
func (c *ExporterContainer) SetSource(src ruvlistener.Source) {
	c.mu.Lock()
	prev := c.source
	c.source = src
	c.pipeline = nil
	c.mu.Unlock()

	if prev != nil && prev != src {
		prev.Stop()
	}
}

// GetPipeline returns the pipeline feeding the source into the registry
func (c *ExporterContainer) GetPipeline() *ruvlistener.Pipeline {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pipeline == nil {
		c.pipeline = ruvlistener.NewPipeline(c.sourceLocked().Events(), c.registry, c.logger)
	}
	return c.pipeline
}

// AddCleanupFunc adds a cleanup function
func (c *ExporterContainer) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown stops the current source, then runs the cleanup functions in
// reverse registration order
func (c *ExporterContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	src := c.source
	c.source = nil
	c.pipeline = nil
	c.mu.Unlock()

	if src != nil {
		src.Stop()
	}

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

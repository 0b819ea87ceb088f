// Package gauges exposes the latest RuuviTag readings as Prometheus gauges and
// removes devices that have gone silent.
//
// A Registry owns the six per-quantity gauge vectors and the last-seen table
// as one aggregate guarded by a single lock. Record and Sweep hold the write
// lock for their whole duration, so a Record that returns before a Sweep
// starts is always visible to that Sweep. Gather and the scrape Gatherer hold
// the read lock and observe a consistent snapshot.
package gauges

import (
	"bytes"
	"slices"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/samber/lo"
	logger "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Logger"
	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

const (
	// DefaultStaleTimeout is how long a device may stay silent before its
	// metrics are removed.
	DefaultStaleTimeout = 10 * time.Second
	// DefaultSweepPeriod is how often the last-seen table is scanned.
	DefaultSweepPeriod = 1 * time.Second
)

// Options configures a Registry. Zero values fall back to the defaults.
type Options struct {
	StaleTimeout time.Duration
	SweepPeriod  time.Duration
	Clock        clock.Clock
	Logger       *logger.Logger
}

// Sample is one exposed value: metric name, address label and value.
type Sample struct {
	Metric  string
	Address string
	Value   float64
}

// Registry is the staleness-tracked store of per-device sensor gauges.
type Registry struct {
	mu       sync.RWMutex
	vectors  *vectorSet
	lastSeen map[ruvmodels.DeviceAddress]time.Time

	prom         *prometheus.Registry
	clock        clock.Clock
	staleTimeout time.Duration
	sweepPeriod  time.Duration
	logger       *logger.Logger
}

// New creates a Registry with its gauges registered on a dedicated
// prometheus registry.
func New(opts Options) *Registry {
	if opts.StaleTimeout <= 0 {
		opts.StaleTimeout = DefaultStaleTimeout
	}
	if opts.SweepPeriod <= 0 {
		opts.SweepPeriod = DefaultSweepPeriod
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Nop()
	}

	prom := prometheus.NewRegistry()
	return &Registry{
		vectors:      newVectorSet(prom),
		lastSeen:     make(map[ruvmodels.DeviceAddress]time.Time),
		prom:         prom,
		clock:        opts.Clock,
		staleTimeout: opts.StaleTimeout,
		sweepPeriod:  opts.SweepPeriod,
		logger:       opts.Logger.WithComponent("gauges"),
	}
}

// Record publishes a reading for the device. Quantities present in the
// reading overwrite the current value; absent ones are removed. The device's
// last-seen time is refreshed unconditionally.
func (r *Registry) Record(address ruvmodels.DeviceAddress, reading ruvmodels.SensorReading) {
	label := address.String()

	r.mu.Lock()
	defer r.mu.Unlock()

	r.vectors.apply(label, reading)
	r.lastSeen[address] = r.clock.Now()
}

// Sweep removes every device whose last-seen time is at least the stale
// timeout in the past and returns the evicted addresses.
func (r *Registry) Sweep() []ruvmodels.DeviceAddress {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	var evicted []ruvmodels.DeviceAddress
	for address, seen := range r.lastSeen {
		if now.Sub(seen) < r.staleTimeout {
			continue
		}
		r.vectors.remove(address.String())
		delete(r.lastSeen, address)
		evicted = append(evicted, address)
	}
	sortAddresses(evicted)
	return evicted
}

// Gather returns the current value of every exposed gauge, ordered by metric
// name and then address. It never evicts.
func (r *Registry) Gather() []Sample {
	families, err := r.Gatherer().Gather()
	if err != nil {
		// Only possible on inconsistent registration, which New rules out.
		r.logger.ErrorWithError(err, "Failed to gather sensor gauges")
	}

	var samples []Sample
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			samples = append(samples, Sample{
				Metric:  family.GetName(),
				Address: addressLabel(metric),
				Value:   metric.GetGauge().GetValue(),
			})
		}
	}
	return samples
}

// Gatherer returns a prometheus.Gatherer over the sensor gauges that takes
// the registry read lock for the duration of each gather.
func (r *Registry) Gatherer() prometheus.Gatherer {
	return prometheus.GathererFunc(func() ([]*dto.MetricFamily, error) {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return r.prom.Gather()
	})
}

// LastSeen returns when the device was last recorded.
func (r *Registry) LastSeen(address ruvmodels.DeviceAddress) (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen, ok := r.lastSeen[address]
	return seen, ok
}

// Devices returns the tracked devices in address order.
func (r *Registry) Devices() []ruvmodels.DeviceAddress {
	r.mu.RLock()
	devices := lo.Keys(r.lastSeen)
	r.mu.RUnlock()

	sortAddresses(devices)
	return devices
}

// Len returns the number of tracked devices.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.lastSeen)
}

// StaleTimeout returns the configured silence limit.
func (r *Registry) StaleTimeout() time.Duration {
	return r.staleTimeout
}

func addressLabel(metric *dto.Metric) string {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == AddressLabel {
			return pair.GetValue()
		}
	}
	return ""
}

func sortAddresses(addresses []ruvmodels.DeviceAddress) {
	slices.SortFunc(addresses, func(a, b ruvmodels.DeviceAddress) int {
		return bytes.Compare(a[:], b[:])
	})
}

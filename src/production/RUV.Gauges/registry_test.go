package gauges

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	logger "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Logger"
	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

var (
	deviceA = ruvmodels.DeviceAddress{0xC5, 0xD2, 0x1A, 0x8F, 0x00, 0x01}
	deviceB = ruvmodels.DeviceAddress{0xF1, 0x0E, 0x22, 0x4B, 0x9A, 0x02}
)

func i32(v int32) *int32   { return &v }
func u32(v uint32) *uint32 { return &v }
func u16(v uint16) *uint16 { return &v }

func fullReading() ruvmodels.SensorReading {
	return ruvmodels.SensorReading{
		TemperatureMilliC: i32(24300),
		HumidityPer10k:    u32(5349),
		PressurePa:        u32(100044),
		BatteryMilliV:     u16(2977),
		MovementCounter:   u32(66),
		SequenceNumber:    u32(205),
	}
}

func newTestRegistry(t *testing.T) (*Registry, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	reg := New(Options{
		StaleTimeout: DefaultStaleTimeout,
		SweepPeriod:  DefaultSweepPeriod,
		Clock:        mock,
	})
	return reg, mock
}

// lookup returns the value exposed for metric and address.
func lookup(samples []Sample, metric string, address ruvmodels.DeviceAddress) (float64, bool) {
	for _, s := range samples {
		if s.Metric == metric && s.Address == address.String() {
			return s.Value, true
		}
	}
	return 0, false
}

func metricsFor(samples []Sample, address ruvmodels.DeviceAddress) []string {
	var names []string
	for _, s := range samples {
		if s.Address == address.String() {
			names = append(names, s.Metric)
		}
	}
	return names
}

func TestRecordPresence(t *testing.T) {
	reg, _ := newTestRegistry(t)

	reg.Record(deviceA, ruvmodels.SensorReading{TemperatureMilliC: i32(21500)})

	value, ok := lookup(reg.Gather(), MetricTemperature, deviceA)
	require.True(t, ok)
	assert.InDelta(t, 21.5, value, 1e-9)
}

func TestRecordUnitConversions(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Record(deviceA, fullReading())
	samples := reg.Gather()

	tests := []struct {
		metric string
		want   float64
	}{
		{metric: MetricTemperature, want: 24.3},
		{metric: MetricHumidity, want: 0.5349},
		{metric: MetricPressure, want: 100.044},
		{metric: MetricBatteryPotential, want: 2977},
		{metric: MetricMovementCounter, want: 66},
		{metric: MetricSequenceNumber, want: 205},
	}

	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			got, ok := lookup(samples, tt.metric, deviceA)
			require.True(t, ok)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
	assert.Len(t, samples, len(tests))
}

func TestRecordNegativeTemperature(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Record(deviceA, ruvmodels.SensorReading{TemperatureMilliC: i32(-163835)})

	value, ok := lookup(reg.Gather(), MetricTemperature, deviceA)
	require.True(t, ok)
	assert.InDelta(t, -163.835, value, 1e-9)
}

func TestRecordFieldOmission(t *testing.T) {
	reg, _ := newTestRegistry(t)

	reg.Record(deviceA, ruvmodels.SensorReading{
		TemperatureMilliC: i32(21000),
		HumidityPer10k:    u32(4000),
	})
	_, ok := lookup(reg.Gather(), MetricHumidity, deviceA)
	require.True(t, ok)

	reg.Record(deviceA, ruvmodels.SensorReading{TemperatureMilliC: i32(21100)})

	samples := reg.Gather()
	_, ok = lookup(samples, MetricHumidity, deviceA)
	assert.False(t, ok, "humidity must disappear once a reading omits it")
	value, ok := lookup(samples, MetricTemperature, deviceA)
	require.True(t, ok)
	assert.InDelta(t, 21.1, value, 1e-9)
	assert.Equal(t, 1, reg.Len())
}

func TestRecordEmptyReadingKeepsDeviceTracked(t *testing.T) {
	reg, _ := newTestRegistry(t)

	reg.Record(deviceA, fullReading())
	reg.Record(deviceA, ruvmodels.SensorReading{})

	assert.Empty(t, metricsFor(reg.Gather(), deviceA))
	_, ok := reg.LastSeen(deviceA)
	assert.True(t, ok)
}

func TestSweepStalenessEviction(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.Record(deviceA, fullReading())

	for elapsed := time.Second; elapsed < DefaultStaleTimeout; elapsed += time.Second {
		mock.Add(time.Second)
		assert.Empty(t, reg.Sweep(), "evicted at %s", elapsed)
		assert.Len(t, metricsFor(reg.Gather(), deviceA), 6, "at %s", elapsed)
	}

	mock.Add(time.Second)
	assert.Equal(t, []ruvmodels.DeviceAddress{deviceA}, reg.Sweep())
	assert.Empty(t, metricsFor(reg.Gather(), deviceA))
	_, ok := reg.LastSeen(deviceA)
	assert.False(t, ok)
	assert.Zero(t, reg.Len())
}

func TestSweepRefreshResetsClock(t *testing.T) {
	reg, mock := newTestRegistry(t)

	reg.Record(deviceA, fullReading())
	mock.Add(9 * time.Second)
	reg.Record(deviceA, fullReading())

	for i := 0; i < 6; i++ {
		mock.Add(time.Second)
		assert.Empty(t, reg.Sweep())
	}
	// t=15s, six seconds after the refresh
	assert.Len(t, metricsFor(reg.Gather(), deviceA), 6)

	mock.Add(4 * time.Second)
	assert.Equal(t, []ruvmodels.DeviceAddress{deviceA}, reg.Sweep())
}

func TestSweepNoFalseEvictionUnderSteadyTraffic(t *testing.T) {
	reg, mock := newTestRegistry(t)

	// 30 seconds of readings every 100ms with a sweep every second
	for tick := 1; tick <= 300; tick++ {
		mock.Add(100 * time.Millisecond)
		reg.Record(deviceA, fullReading())
		if tick%10 == 0 {
			require.Empty(t, reg.Sweep(), "evicted at tick %d", tick)
		}
	}
	assert.Len(t, metricsFor(reg.Gather(), deviceA), 6)
}

func TestSweepIndependenceAcrossDevices(t *testing.T) {
	reg, mock := newTestRegistry(t)

	reg.Record(deviceA, fullReading())
	mock.Add(5 * time.Second)
	reg.Record(deviceB, ruvmodels.SensorReading{TemperatureMilliC: i32(-5000)})
	seenB, _ := reg.LastSeen(deviceB)
	before, _ := lookup(reg.Gather(), MetricTemperature, deviceB)

	mock.Add(5 * time.Second)
	assert.Equal(t, []ruvmodels.DeviceAddress{deviceA}, reg.Sweep())

	samples := reg.Gather()
	assert.Empty(t, metricsFor(samples, deviceA))
	assert.Equal(t, []string{MetricTemperature}, metricsFor(samples, deviceB))
	after, ok := lookup(samples, MetricTemperature, deviceB)
	require.True(t, ok)
	assert.Equal(t, before, after)
	stillSeen, ok := reg.LastSeen(deviceB)
	require.True(t, ok)
	assert.Equal(t, seenB, stillSeen)
}

func TestSweepEvictsSeveralDevicesInOneTick(t *testing.T) {
	reg, mock := newTestRegistry(t)

	reg.Record(deviceB, fullReading())
	reg.Record(deviceA, fullReading())
	mock.Add(DefaultStaleTimeout)

	assert.Equal(t, []ruvmodels.DeviceAddress{deviceA, deviceB}, reg.Sweep())
	assert.Empty(t, reg.Gather())
}

func TestRecordAfterEvictionReregisters(t *testing.T) {
	reg, mock := newTestRegistry(t)

	reg.Record(deviceA, fullReading())
	first := reg.Gather()

	mock.Add(DefaultStaleTimeout)
	require.Len(t, reg.Sweep(), 1)
	require.Empty(t, reg.Gather())

	reg.Record(deviceA, fullReading())
	assert.Equal(t, first, reg.Gather())
	seen, ok := reg.LastSeen(deviceA)
	require.True(t, ok)
	assert.Equal(t, mock.Now(), seen)
}

func TestSweepEmptyAndRepeated(t *testing.T) {
	reg, mock := newTestRegistry(t)

	assert.NotPanics(t, func() { assert.Empty(t, reg.Sweep()) })

	reg.Record(deviceA, fullReading())
	mock.Add(DefaultStaleTimeout)
	assert.Len(t, reg.Sweep(), 1)
	assert.Empty(t, reg.Sweep(), "second sweep must be a no-op")
}

func TestGatherDoesNotEvict(t *testing.T) {
	reg, mock := newTestRegistry(t)

	reg.Record(deviceA, fullReading())
	seen, _ := reg.LastSeen(deviceA)
	mock.Add(time.Minute)

	assert.Len(t, reg.Gather(), 6)
	again, ok := reg.LastSeen(deviceA)
	require.True(t, ok)
	assert.Equal(t, seen, again)
	assert.Equal(t, 1, reg.Len())
}

func TestGatherOrdering(t *testing.T) {
	reg, _ := newTestRegistry(t)

	reg.Record(deviceB, fullReading())
	reg.Record(deviceA, fullReading())

	samples := reg.Gather()
	require.Len(t, samples, 12)
	for i := 1; i < len(samples); i++ {
		prev, cur := samples[i-1], samples[i]
		assert.True(t, prev.Metric < cur.Metric || (prev.Metric == cur.Metric && prev.Address < cur.Address),
			"%v before %v", prev, cur)
	}
	assert.Equal(t, []ruvmodels.DeviceAddress{deviceA, deviceB}, reg.Devices())
}

func TestGathererExposition(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Record(deviceA, ruvmodels.SensorReading{
		TemperatureMilliC: i32(24300),
		SequenceNumber:    u32(205),
	})

	expected := `
# HELP ruuvi_temperature temperature reported by ruuvi sensor
# TYPE ruuvi_temperature gauge
ruuvi_temperature{address="C5:D2:1A:8F:00:01"} 24.3
# HELP ruuvi_sequence_number sequence_number reported by ruuvi sensor
# TYPE ruuvi_sequence_number gauge
ruuvi_sequence_number{address="C5:D2:1A:8F:00:01"} 205
`
	require.NoError(t, testutil.GatherAndCompare(reg.Gatherer(), strings.NewReader(expected),
		MetricTemperature, MetricSequenceNumber))

	count, err := testutil.GatherAndCount(reg.Gatherer())
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestNewDefaults(t *testing.T) {
	reg := New(Options{})
	assert.Equal(t, DefaultStaleTimeout, reg.StaleTimeout())
	assert.Equal(t, DefaultSweepPeriod, reg.sweepPeriod)
	assert.NotNil(t, reg.clock)
}

func TestRunSweepsOnTicker(t *testing.T) {
	reg, mock := newTestRegistry(t)
	reg.Record(deviceA, fullReading())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Run(ctx)
	}()

	// the ticker may not exist yet on the first advances; keep moving time
	// until a tick lands past the timeout
	assert.Eventually(t, func() bool {
		mock.Add(DefaultSweepPeriod)
		return reg.Len() == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

func TestRunLogsEvictions(t *testing.T) {
	var buf bytes.Buffer
	mock := clock.NewMock()
	reg := New(Options{
		Clock:  mock,
		Logger: logger.New(zerolog.New(&buf).Level(zerolog.DebugLevel)),
	})
	reg.Record(deviceA, fullReading())
	reg.Record(deviceB, fullReading())
	mock.Add(9 * time.Second)
	reg.Record(deviceB, fullReading())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		reg.Run(ctx)
	}()

	assert.Eventually(t, func() bool {
		mock.Add(DefaultSweepPeriod)
		_, seen := reg.LastSeen(deviceA)
		return !seen
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	<-done

	out := buf.String()
	assert.Contains(t, out, `"address":"`+deviceA.String()+`"`)
	assert.Contains(t, out, `"message":"Device went silent, removed its gauges"`)
	assert.Contains(t, out, `"tracked":1`)
}

func TestConcurrentRecordAndSweep(t *testing.T) {
	reg := New(Options{
		StaleTimeout: time.Second,
		SweepPeriod:  10 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var falseEvictions []ruvmodels.DeviceAddress
	var mu sync.Mutex

	// a device refreshed every few milliseconds must never be swept
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(2 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reg.Record(deviceA, fullReading())
			}
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(10 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				evicted := reg.Sweep()
				mu.Lock()
				falseEvictions = append(falseEvictions, evicted...)
				mu.Unlock()
			}
		}
	}()

	// concurrent scrapes
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			for _, s := range reg.Gather() {
				assert.Equal(t, deviceA.String(), s.Address)
			}
		}
	}()

	wg.Wait()
	assert.Empty(t, falseEvictions)
}

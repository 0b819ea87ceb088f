package gauges

import (
	"github.com/prometheus/client_golang/prometheus"
	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

// AddressLabel is the only label carried by every sensor gauge.
const AddressLabel = "address"

// Exposed metric names. These are referenced by existing scrape configs and
// dashboards and must not change.
const (
	MetricTemperature      = "ruuvi_temperature"
	MetricHumidity         = "ruuvi_humidity"
	MetricPressure         = "ruuvi_pressure"
	MetricBatteryPotential = "ruuvi_battery_potential"
	MetricMovementCounter  = "ruuvi_movement_counter"
	MetricSequenceNumber   = "ruuvi_sequence_number"
)

// quantity maps one optional reading field onto one gauge vector.
type quantity struct {
	name  string
	help  string
	value func(ruvmodels.SensorReading) (float64, bool)
}

var quantities = []quantity{
	{
		name: MetricTemperature,
		help: "temperature reported by ruuvi sensor",
		value: func(r ruvmodels.SensorReading) (float64, bool) {
			if r.TemperatureMilliC == nil {
				return 0, false
			}
			return float64(*r.TemperatureMilliC) * 1e-3, true
		},
	},
	{
		name: MetricHumidity,
		help: "humidity reported by ruuvi sensor",
		value: func(r ruvmodels.SensorReading) (float64, bool) {
			if r.HumidityPer10k == nil {
				return 0, false
			}
			return float64(*r.HumidityPer10k) * 1e-4, true
		},
	},
	{
		name: MetricPressure,
		help: "pressure reported by ruuvi sensor",
		value: func(r ruvmodels.SensorReading) (float64, bool) {
			if r.PressurePa == nil {
				return 0, false
			}
			return float64(*r.PressurePa) * 1e-3, true
		},
	},
	{
		name: MetricBatteryPotential,
		help: "battery_potential reported by ruuvi sensor",
		value: func(r ruvmodels.SensorReading) (float64, bool) {
			if r.BatteryMilliV == nil {
				return 0, false
			}
			return float64(*r.BatteryMilliV), true
		},
	},
	{
		name: MetricMovementCounter,
		help: "movement_counter reported by ruuvi sensor",
		value: func(r ruvmodels.SensorReading) (float64, bool) {
			if r.MovementCounter == nil {
				return 0, false
			}
			return float64(*r.MovementCounter), true
		},
	},
	{
		name: MetricSequenceNumber,
		help: "sequence_number reported by ruuvi sensor",
		value: func(r ruvmodels.SensorReading) (float64, bool) {
			if r.SequenceNumber == nil {
				return 0, false
			}
			return float64(*r.SequenceNumber), true
		},
	},
}

// vectorSet is the fixed collection of per-quantity gauge vectors. It is not
// synchronized on its own; Registry serializes every call.
type vectorSet struct {
	vecs []*prometheus.GaugeVec
}

func newVectorSet(reg prometheus.Registerer) *vectorSet {
	set := &vectorSet{vecs: make([]*prometheus.GaugeVec, len(quantities))}
	for i, q := range quantities {
		set.vecs[i] = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: q.name,
			Help: q.help,
		}, []string{AddressLabel})
		reg.MustRegister(set.vecs[i])
	}
	return set
}

// apply sets every quantity the reading carries and removes the rest.
func (s *vectorSet) apply(address string, reading ruvmodels.SensorReading) {
	for i, q := range quantities {
		if v, ok := q.value(reading); ok {
			s.vecs[i].WithLabelValues(address).Set(v)
		} else {
			s.vecs[i].DeleteLabelValues(address)
		}
	}
}

// remove drops the address from every vector. Missing label sets are ignored.
func (s *vectorSet) remove(address string) {
	for _, vec := range s.vecs {
		vec.DeleteLabelValues(address)
	}
}

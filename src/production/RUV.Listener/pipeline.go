package ruvlistener

import (
	"context"
	"sync/atomic"

	decoder "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Decoder"
	logger "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Logger"
	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

// Recorder receives decoded readings. *gauges.Registry implements it.
type Recorder interface {
	Record(address ruvmodels.DeviceAddress, reading ruvmodels.SensorReading)
}

// PipelineStats counts what the pipeline has seen so far.
type PipelineStats struct {
	Received uint64 `json:"received"`
	Recorded uint64 `json:"recorded"`
	Dropped  uint64 `json:"dropped"`
}

// Pipeline decodes advertisements from a single channel and records them.
// Being the only consumer keeps every device's readings in arrival order.
type Pipeline struct {
	events   <-chan ruvmodels.Advertisement
	recorder Recorder
	logger   *logger.Logger

	received atomic.Uint64
	recorded atomic.Uint64
	dropped  atomic.Uint64
}

func NewPipeline(events <-chan ruvmodels.Advertisement, recorder Recorder, logger *logger.Logger) *Pipeline {
	return &Pipeline{
		events:   events,
		recorder: recorder,
		logger:   logger.WithComponent("pipeline"),
	}
}

// Run consumes events until ctx is cancelled or the channel is closed.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case adv, ok := <-p.events:
			if !ok {
				p.logger.Info("Advertisement channel closed, pipeline stopping")
				return
			}
			p.handle(adv)
		}
	}
}

func (p *Pipeline) handle(adv ruvmodels.Advertisement) {
	p.received.Add(1)

	reading, err := decoder.Decode(adv.Data)
	if err != nil {
		p.dropped.Add(1)
		p.logger.WithError(err).
			WithField("address", adv.Address.String()).
			WithField("source", adv.Source).
			Debug("Dropping undecodable advertisement")
		return
	}

	p.recorder.Record(adv.Address, reading)
	p.recorded.Add(1)

	p.logger.Logger.Debug().
		Str("address", adv.Address.String()).
		Str("source", adv.Source).
		Int("rssi", adv.RSSI).
		Time("received_at", adv.ReceivedAt).
		Msg("Recorded advertisement")
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{
		Received: p.received.Load(),
		Recorded: p.recorded.Load(),
		Dropped:  p.dropped.Load(),
	}
}

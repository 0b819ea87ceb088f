package ruvlistener

import (
	"context"

	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

// Source delivers raw advertisements from some transport.
type Source interface {
	Start(ctx context.Context) error
	Events() <-chan ruvmodels.Advertisement
	Stop()
	IsConnected() bool
}

var _ Source = (*MQTTSource)(nil)

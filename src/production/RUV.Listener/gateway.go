package ruvlistener

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	decoder "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Decoder"
	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

// gatewayMessage is the JSON document a Ruuvi Gateway publishes for every
// advertisement it relays, on topic ruuvi/<gateway mac>/<tag mac>.
type gatewayMessage struct {
	GatewayMAC string `json:"gw_mac"`
	RSSI       int    `json:"rssi"`
	Data       string `json:"data"`
	MAC        string `json:"mac,omitempty"`
}

// ParseGatewayMessage turns a gateway MQTT message into an advertisement.
// The tag address comes from the last topic segment, or the "mac" field when
// the topic does not carry one.
func ParseGatewayMessage(topic string, payload []byte, receivedAt time.Time) (ruvmodels.Advertisement, error) {
	var msg gatewayMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return ruvmodels.Advertisement{}, errors.Wrap(err, "invalid gateway payload")
	}

	address, err := tagAddress(topic, msg.MAC)
	if err != nil {
		return ruvmodels.Advertisement{}, err
	}

	raw, err := hex.DecodeString(strings.TrimSpace(msg.Data))
	if err != nil {
		return ruvmodels.Advertisement{}, errors.Wrap(err, "invalid advertisement hex")
	}
	data, err := decoder.ManufacturerData(raw)
	if err != nil {
		return ruvmodels.Advertisement{}, err
	}

	return ruvmodels.Advertisement{
		Address:    address,
		Data:       data,
		ReceivedAt: receivedAt,
		Source:     msg.GatewayMAC,
		RSSI:       msg.RSSI,
	}, nil
}

func tagAddress(topic, fallback string) (ruvmodels.DeviceAddress, error) {
	parts := strings.Split(topic, "/")
	if address, err := ruvmodels.ParseDeviceAddress(parts[len(parts)-1]); err == nil {
		return address, nil
	}
	if fallback != "" {
		return ruvmodels.ParseDeviceAddress(fallback)
	}
	return ruvmodels.DeviceAddress{}, errors.Newf("no tag address in topic %q", topic)
}

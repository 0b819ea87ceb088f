// Package decoder turns Ruuvi manufacturer-specific advertisement data into
// sensor readings. Data formats 3 (RAWv1) and 5 (RAWv2) are supported.
package decoder

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	ruvmodels "gitlab.com/maplesense1/ruuvi_exporter/src/production/RUV.Models"
)

// RuuviCompanyID is the Bluetooth SIG company identifier of Ruuvi Innovations.
const RuuviCompanyID uint16 = 0x0499

const (
	FormatRAWv1 byte = 3
	FormatRAWv2 byte = 5

	rawV1Length = 14
	rawV2Length = 24

	pressureOffsetPa = 50000
)

var (
	ErrTooShort            = errors.New("manufacturer data too short")
	ErrUnknownManufacturer = errors.New("unknown manufacturer")
	ErrUnsupportedFormat   = errors.New("unsupported data format")
	ErrInvalidLength       = errors.New("invalid payload length")
)

// Decode parses manufacturer-specific data: a little-endian company id
// followed by the Ruuvi payload.
func Decode(data []byte) (ruvmodels.SensorReading, error) {
	if len(data) < 3 {
		return ruvmodels.SensorReading{}, errors.Wrapf(ErrTooShort, "got %d bytes", len(data))
	}
	id := binary.LittleEndian.Uint16(data[0:2])
	if id != RuuviCompanyID {
		return ruvmodels.SensorReading{}, errors.Wrapf(ErrUnknownManufacturer, "company id 0x%04X", id)
	}
	return decodePayload(data[2:])
}

// decodePayload parses a Ruuvi payload without the company id prefix.
func decodePayload(payload []byte) (ruvmodels.SensorReading, error) {
	if len(payload) == 0 {
		return ruvmodels.SensorReading{}, errors.Wrap(ErrTooShort, "empty payload")
	}
	switch payload[0] {
	case FormatRAWv1:
		return decodeRAWv1(payload)
	case FormatRAWv2:
		return decodeRAWv2(payload)
	default:
		return ruvmodels.SensorReading{}, errors.Wrapf(ErrUnsupportedFormat, "format %d", payload[0])
	}
}

func decodeRAWv1(p []byte) (ruvmodels.SensorReading, error) {
	if len(p) != rawV1Length {
		return ruvmodels.SensorReading{}, errors.Wrapf(ErrInvalidLength, "RAWv1 expects %d bytes, got %d", rawV1Length, len(p))
	}

	// humidity in 0.5% steps
	humidity := uint32(p[1]) * 50

	// sign and magnitude, fraction in hundredths
	temperature := int32(p[2]&0x7F)*1000 + int32(p[3])*10
	if p[2]&0x80 != 0 {
		temperature = -temperature
	}

	pressure := uint32(binary.BigEndian.Uint16(p[4:6])) + pressureOffsetPa
	battery := binary.BigEndian.Uint16(p[12:14])

	return ruvmodels.SensorReading{
		TemperatureMilliC: &temperature,
		HumidityPer10k:    &humidity,
		PressurePa:        &pressure,
		BatteryMilliV:     &battery,
	}, nil
}

func decodeRAWv2(p []byte) (ruvmodels.SensorReading, error) {
	if len(p) != rawV2Length {
		return ruvmodels.SensorReading{}, errors.Wrapf(ErrInvalidLength, "RAWv2 expects %d bytes, got %d", rawV2Length, len(p))
	}

	var reading ruvmodels.SensorReading

	if raw := int16(binary.BigEndian.Uint16(p[1:3])); raw != -0x8000 {
		// 0.005 degC steps
		v := int32(raw) * 5
		reading.TemperatureMilliC = &v
	}
	if raw := binary.BigEndian.Uint16(p[3:5]); raw != 0xFFFF {
		// 0.0025% steps, i.e. a quarter of one part per 10000
		v := uint32(raw) / 4
		reading.HumidityPer10k = &v
	}
	if raw := binary.BigEndian.Uint16(p[5:7]); raw != 0xFFFF {
		v := uint32(raw) + pressureOffsetPa
		reading.PressurePa = &v
	}

	// p[7:13] carries acceleration, which is not exported

	power := binary.BigEndian.Uint16(p[13:15])
	if raw := power >> 5; raw != 0x07FF {
		v := raw + 1600
		reading.BatteryMilliV = &v
	}
	if raw := p[15]; raw != 0xFF {
		v := uint32(raw)
		reading.MovementCounter = &v
	}
	if raw := binary.BigEndian.Uint16(p[16:18]); raw != 0xFFFF {
		v := uint32(raw)
		reading.SequenceNumber = &v
	}

	return reading, nil
}

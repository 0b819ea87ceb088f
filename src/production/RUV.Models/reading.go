package ruvmodels

import "time"

// SensorReading holds the fields decoded from a single advertisement.
// A nil field means the tag does not report that quantity, not zero.
type SensorReading struct {
	TemperatureMilliC *int32  // millidegree Celsius
	HumidityPer10k    *uint32 // relative humidity, parts per 10000
	PressurePa        *uint32 // pascal
	BatteryMilliV     *uint16 // millivolt
	MovementCounter   *uint32
	SequenceNumber    *uint32
}

// Advertisement is a raw manufacturer-specific payload received from a tag.
// ReceivedAt is always the local receipt time.
type Advertisement struct {
	Address    DeviceAddress
	Data       []byte // company id (little endian) followed by the payload
	ReceivedAt time.Time
	Source     string // gateway address the advertisement came through
	RSSI       int    // signal strength at the gateway, dBm
}

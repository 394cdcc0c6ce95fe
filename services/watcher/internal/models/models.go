package models

import "time"

// Field names used by storage backends for grouping and ordering.
const (
	FieldDeviceName  = "device_name"
	FieldTimestamp   = "timestamp"
	FieldOnline      = "online"
	FieldTemperature = "temperature"
	FieldHumidity    = "humidity"
)

// UnknownDevice names readings whose resource id matched no known sensor.
const UnknownDevice = "Unknown"

// Reading is a normalized sensor measurement. Timestamp is the time reported
// by the bridge, not the time the reading was stored.
type Reading struct {
	DeviceName  string    `json:"device_name" bson:"device_name"`
	Timestamp   time.Time `json:"timestamp" bson:"timestamp"`
	Online      bool      `json:"online" bson:"online"`
	Temperature float64   `json:"temperature" bson:"temperature"`
	Humidity    float64   `json:"humidity" bson:"humidity"`
}

// NewReading builds a Reading with the timestamp normalized to UTC.
func NewReading(deviceName string, ts time.Time, online bool, temperature, humidity float64) Reading {
	return Reading{
		DeviceName:  deviceName,
		Timestamp:   ts.UTC(),
		Online:      online,
		Temperature: temperature,
		Humidity:    humidity,
	}
}

// Sensor is a discovery-time sensor description.
type Sensor struct {
	ID   string
	Name string
}

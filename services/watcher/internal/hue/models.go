package hue

import "time"

// discoveredBridge is one entry of the discovery service response.
type discoveredBridge struct {
	ID                string `json:"id"`
	InternalIPAddress string `json:"internalipaddress"`
}

type deviceList struct {
	Data []device `json:"data"`
}

type device struct {
	ID       string    `json:"id"`
	Metadata metadata  `json:"metadata"`
	Services []service `json:"services"`
}

type metadata struct {
	Name string `json:"name"`
}

// service links a device to one of its resources (rid) of type rtype.
type service struct {
	RID   string `json:"rid"`
	RType string `json:"rtype"`
}

type temperatureList struct {
	Data []temperatureResource `json:"data"`
}

type temperatureResource struct {
	ID          string      `json:"id"`
	Temperature temperature `json:"temperature"`
}

type temperature struct {
	TemperatureReport temperatureReport `json:"temperature_report"`
}

type temperatureReport struct {
	Changed     time.Time `json:"changed"`
	Temperature float64   `json:"temperature"`
}

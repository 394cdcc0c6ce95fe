// Package hue talks to a Philips Hue bridge over the CLIP v2 API and turns its
// temperature resources into readings.
package hue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

const (
	DefaultBridgeHost   = "hue-bridge"
	DefaultDiscoveryURL = "https://discovery.meethue.com/"

	ApplicationKeyHeader = "hue-application-key"
	devicePath           = "/clip/v2/resource/device"
	temperaturePath      = "/clip/v2/resource/temperature"
	configPath           = "/api/0/config"

	temperatureRType = "temperature"
)

// Options configures a Client.
type Options struct {
	BridgeHost   string
	DiscoveryURL string
	Timeout      time.Duration
}

// Client resolves the bridge and reads its sensors.
type Client struct {
	bridgeHost   string
	discoveryURL string
	bridge       *http.Client
	public       *http.Client
	logger       *slog.Logger
}

// NewClient builds a client. Requests to the bridge skip certificate
// verification: the bridge only serves a self-signed certificate on the
// local network.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.BridgeHost == "" {
		opts.BridgeHost = DefaultBridgeHost
	}
	if opts.DiscoveryURL == "" {
		opts.DiscoveryURL = DefaultDiscoveryURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed bridge certificate

	return &Client{
		bridgeHost:   opts.BridgeHost,
		discoveryURL: opts.DiscoveryURL,
		bridge:       &http.Client{Timeout: opts.Timeout, Transport: transport},
		public:       &http.Client{Timeout: opts.Timeout},
		logger:       logger,
	}
}

// DiscoverBridge returns the bridge address. The well-known hostname is tried
// first; any error or non-200 answer falls back to the discovery service.
func (c *Client) DiscoverBridge(ctx context.Context) (string, error) {
	c.logger.Info("discovering bridge", "host", c.bridgeHost)

	err := c.probe(ctx, "http://"+c.bridgeHost+configPath)
	if err == nil {
		c.logger.Info("bridge answered on well-known host", "host", c.bridgeHost)
		return c.bridgeHost, nil
	}
	c.logger.Info("no answer from well-known host, trying discovery", "error", err)

	var bridges []discoveredBridge
	if err := c.getJSON(ctx, c.public, c.discoveryURL, "", &bridges); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrDiscovery, err)
	}
	if len(bridges) == 0 || bridges[0].InternalIPAddress == "" {
		return "", fmt.Errorf("%w: discovery service returned no bridges", models.ErrDiscovery)
	}

	c.logger.Info("bridge discovered", "address", bridges[0].InternalIPAddress, "candidates", len(bridges))
	return bridges[0].InternalIPAddress, nil
}

func (c *Client) probe(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.public.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	return nil
}

// ListSensors returns the bridge devices that expose a temperature service.
func (c *Client) ListSensors(ctx context.Context, address, key string) ([]models.Sensor, error) {
	url := "https://" + address + devicePath
	c.logger.Debug("listing devices", "url", url)

	var body deviceList
	if err := c.getJSON(ctx, c.bridge, url, key, &body); err != nil {
		return nil, err
	}

	sensors := make([]models.Sensor, 0, len(body.Data))
	for _, d := range body.Data {
		svc, ok := temperatureService(d)
		if !ok {
			continue
		}
		if svc.RID == "" {
			c.logger.Warn("no temperature service id for device", "device", d.Metadata.Name)
		}
		sensors = append(sensors, models.Sensor{ID: svc.RID, Name: d.Metadata.Name})
	}

	for _, s := range sensors {
		c.logger.Info("sensor", "name", s.Name, "id", s.ID)
	}
	c.logger.Info("sensors discovered", "count", len(sensors))

	return sensors, nil
}

func temperatureService(d device) (service, bool) {
	for _, s := range d.Services {
		if s.RType == temperatureRType {
			return s, true
		}
	}
	return service{}, false
}

// FetchReadings returns the current temperature report of every sensor. The
// bridge gives no reachability for temperature resources, so every reading is
// online; humidity is not queried and stays zero.
func (c *Client) FetchReadings(ctx context.Context, address, key string, sensors []models.Sensor) ([]models.Reading, error) {
	url := "https://" + address + temperaturePath
	c.logger.Debug("fetching temperatures", "url", url)

	var body temperatureList
	if err := c.getJSON(ctx, c.bridge, url, key, &body); err != nil {
		return nil, err
	}

	names := make(map[string]string, len(sensors))
	for _, s := range sensors {
		if s.ID != "" {
			names[s.ID] = s.Name
		}
	}

	readings := make([]models.Reading, 0, len(body.Data))
	for _, res := range body.Data {
		name, ok := names[res.ID]
		if !ok {
			c.logger.Warn("sensor not found for temperature data", "id", res.ID)
			name = models.UnknownDevice
		}
		report := res.Temperature.TemperatureReport
		readings = append(readings, models.NewReading(name, report.Changed, true, report.Temperature, 0))
	}

	return readings, nil
}

func (c *Client) getJSON(ctx context.Context, client *http.Client, url, key string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", models.ErrRequest, err)
	}
	if key != "" {
		req.Header.Set(ApplicationKeyHeader, key)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %s from %s", models.ErrRequest, resp.Status, url)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", models.ErrParse, url, err)
	}
	return nil
}

// Bridge is a discovered bridge with its sensor table, ready to be polled.
type Bridge struct {
	client  *Client
	address string
	key     string
	sensors []models.Sensor
}

// Connect discovers the bridge and enumerates its sensors.
func (c *Client) Connect(ctx context.Context, key string) (*Bridge, error) {
	if key == "" {
		return nil, errors.New("hue application key is empty")
	}

	address, err := c.DiscoverBridge(ctx)
	if err != nil {
		return nil, err
	}

	sensors, err := c.ListSensors(ctx, address, key)
	if err != nil {
		return nil, fmt.Errorf("list sensors: %w", err)
	}

	return &Bridge{client: c, address: address, key: key, sensors: sensors}, nil
}

// Address returns the resolved bridge address.
func (b *Bridge) Address() string { return b.address }

// Sensors returns a copy of the sensor table.
func (b *Bridge) Sensors() []models.Sensor {
	out := make([]models.Sensor, len(b.sensors))
	copy(out, b.sensors)
	return out
}

// FetchReadings polls the bridge once.
func (b *Bridge) FetchReadings(ctx context.Context) ([]models.Reading, error) {
	return b.client.FetchReadings(ctx, b.address, b.key, b.sensors)
}

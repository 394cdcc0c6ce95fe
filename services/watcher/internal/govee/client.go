// Package govee reads thermo-hygrometers through the Govee cloud API.
package govee

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/utils"
)

const (
	DefaultBaseURL = "https://openapi.api.govee.com"
	APIKeyHeader   = "Govee-API-Key"

	devicesPath = "/router/api/v1/user/devices"
	statePath   = "/router/api/v1/device/state"

	codeOK = 200
)

// Device is a Govee device from the account device list.
type Device struct {
	SKU          string          `json:"sku"`
	ID           string          `json:"device"`
	Name         string          `json:"deviceName"`
	Type         string          `json:"type"`
	Capabilities []rawCapability `json:"capabilities"`
}

type deviceListResponse struct {
	Code    int      `json:"code"`
	Message string   `json:"message"`
	Data    []Device `json:"data"`
}

type statePayload struct {
	SKU          string          `json:"sku"`
	Device       string          `json:"device"`
	Capabilities []rawCapability `json:"capabilities,omitempty"`
}

type stateRequest struct {
	RequestID string       `json:"requestId"`
	Payload   statePayload `json:"payload"`
}

type stateResponse struct {
	RequestID string       `json:"requestId"`
	Code      int          `json:"code"`
	Msg       string       `json:"msg"`
	Payload   statePayload `json:"payload"`
}

// Options configures a Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Client talks to the Govee cloud API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
	now     func() time.Time
}

// NewClient builds a client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		apiKey:  opts.APIKey,
		http:    &http.Client{Timeout: opts.Timeout},
		logger:  logger,
		now:     time.Now,
	}
}

// ListDevices returns the account devices that expose a temperature sensor.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var body deviceListResponse
	if err := c.do(ctx, http.MethodGet, devicesPath, nil, &body); err != nil {
		return nil, err
	}
	if body.Code != codeOK {
		return nil, fmt.Errorf("%w: device list code %d: %s", models.ErrRequest, body.Code, body.Message)
	}

	devices := make([]Device, 0, len(body.Data))
	for _, d := range body.Data {
		if !hasInstance(d.Capabilities, InstanceTemperature) {
			continue
		}
		c.logger.Info("sensor", "name", d.Name, "id", d.ID, "sku", d.SKU)
		devices = append(devices, d)
	}
	c.logger.Info("sensors discovered", "count", len(devices))
	return devices, nil
}

func hasInstance(caps []rawCapability, instance string) bool {
	for _, c := range caps {
		if c.Instance == instance {
			return true
		}
	}
	return false
}

// DeviceReading queries the state of one device. Govee reports no measurement
// time, so the reading carries the query time truncated to the second.
func (c *Client) DeviceReading(ctx context.Context, d Device) (models.Reading, error) {
	req := stateRequest{
		RequestID: uuid.NewString(),
		Payload:   statePayload{SKU: d.SKU, Device: d.ID},
	}

	var resp stateResponse
	if err := c.do(ctx, http.MethodPost, statePath, req, &resp); err != nil {
		return models.Reading{}, err
	}
	if resp.Code != codeOK {
		return models.Reading{}, fmt.Errorf("%w: device %s state code %d: %s", models.ErrRequest, d.Name, resp.Code, resp.Msg)
	}
	if len(resp.Payload.Capabilities) == 0 {
		return models.Reading{}, fmt.Errorf("%w: device %s returned no capabilities", models.ErrParse, d.Name)
	}

	var (
		online      bool
		temperature float64
		humidity    float64
	)
	for _, raw := range resp.Payload.Capabilities {
		capability, err := decodeCapability(raw)
		if err != nil {
			return models.Reading{}, fmt.Errorf("%w: device %s: %w", models.ErrParse, d.Name, err)
		}
		switch v := capability.(type) {
		case Online:
			online = v.Value
		case Temperature:
			temperature = utils.FahrenheitToCelsius(v.Fahrenheit)
		case Humidity:
			humidity = v.Percent
		case nil:
			c.logger.Debug("ignoring capability", "device", d.Name, "instance", raw.Instance)
		}
	}

	ts := c.now().UTC().Truncate(time.Second)
	return models.NewReading(d.Name, ts, online, temperature, humidity), nil
}

// FetchReadings queries every device in order. The first failure aborts the
// fetch without partial results.
func (c *Client) FetchReadings(ctx context.Context, devices []Device) ([]models.Reading, error) {
	readings := make([]models.Reading, 0, len(devices))
	for _, d := range devices {
		r, err := c.DeviceReading(ctx, d)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%w: encode request: %w", models.ErrRequest, err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("%w: build request: %w", models.ErrRequest, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrRequest, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: unexpected status %s from %s", models.ErrRequest, resp.Status, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %w", models.ErrParse, path, err)
	}
	return nil
}

// Account is a Govee account with its temperature devices, ready to be polled.
type Account struct {
	client  *Client
	devices []Device
}

// Connect enumerates the account's temperature devices.
func (c *Client) Connect(ctx context.Context) (*Account, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("govee api key is empty")
	}
	devices, err := c.ListDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	return &Account{client: c, devices: devices}, nil
}

// Sensors returns the device table as sensors.
func (a *Account) Sensors() []models.Sensor {
	out := make([]models.Sensor, 0, len(a.devices))
	for _, d := range a.devices {
		out = append(out, models.Sensor{ID: d.ID, Name: d.Name})
	}
	return out
}

// FetchReadings polls every device once.
func (a *Account) FetchReadings(ctx context.Context) ([]models.Reading, error) {
	return a.client.FetchReadings(ctx, a.devices)
}

package hue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

const testKey = "test-application-key"

const devicesJSON = `{
  "errors": [],
  "data": [
    {"id": "d1", "metadata": {"name": "Bedroom"}, "services": [
      {"rid": "m1", "rtype": "motion"},
      {"rid": "A", "rtype": "temperature"}
    ]},
    {"id": "d2", "metadata": {"name": "Kitchen"}, "services": [
      {"rid": "B", "rtype": "temperature"},
      {"rid": "l2", "rtype": "light_level"}
    ]},
    {"id": "d3", "metadata": {"name": "Hallway lamp"}, "services": [
      {"rid": "x3", "rtype": "light"}
    ]}
  ]
}`

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newBridgeServer(t *testing.T, temperatures string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc(devicePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(ApplicationKeyHeader) != testKey {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, devicesJSON)
	})
	mux.HandleFunc(temperaturePath, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(ApplicationKeyHeader) != testKey {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, temperatures)
	})
	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func hostOf(url string) string {
	url = strings.TrimPrefix(url, "https://")
	return strings.TrimPrefix(url, "http://")
}

func newTestClient(bridgeHost, discoveryURL string) *Client {
	return NewClient(Options{
		BridgeHost:   bridgeHost,
		DiscoveryURL: discoveryURL,
		Timeout:      2 * time.Second,
	}, newTestLogger())
}

func TestListSensorsKeepsTemperatureDevices(t *testing.T) {
	srv := newBridgeServer(t, `{"data": []}`)
	c := newTestClient("", "")

	sensors, err := c.ListSensors(context.Background(), hostOf(srv.URL), testKey)
	if err != nil {
		t.Fatalf("ListSensors: %v", err)
	}

	want := []models.Sensor{{ID: "A", Name: "Bedroom"}, {ID: "B", Name: "Kitchen"}}
	if len(sensors) != len(want) {
		t.Fatalf("expected %d sensors, got %d: %+v", len(want), len(sensors), sensors)
	}
	for i := range want {
		if sensors[i] != want[i] {
			t.Errorf("sensor %d: got %+v, want %+v", i, sensors[i], want[i])
		}
	}
}

func TestListSensorsEmptyServiceID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(devicePath, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"data":[{"metadata":{"name":"Attic"},"services":[{"rid":"","rtype":"temperature"}]}]}`)
	})
	srv := httptest.NewTLSServer(mux)
	defer srv.Close()

	sensors, err := newTestClient("", "").ListSensors(context.Background(), hostOf(srv.URL), testKey)
	if err != nil {
		t.Fatalf("ListSensors: %v", err)
	}
	if len(sensors) != 1 || sensors[0].ID != "" || sensors[0].Name != "Attic" {
		t.Fatalf("unexpected sensors: %+v", sensors)
	}
}

func TestListSensorsRejectedKey(t *testing.T) {
	srv := newBridgeServer(t, `{"data": []}`)

	_, err := newTestClient("", "").ListSensors(context.Background(), hostOf(srv.URL), "wrong")
	if !errors.Is(err, models.ErrRequest) {
		t.Fatalf("expected ErrRequest, got %v", err)
	}
}

func TestFetchReadingsOnlyReportedSensors(t *testing.T) {
	srv := newBridgeServer(t, `{"data":[
		{"id":"A","type":"temperature","temperature":{"temperature_report":{"changed":"2025-03-14T09:15:02.125Z","temperature":21.37}}}
	]}`)
	c := newTestClient("", "")
	sensors := []models.Sensor{{ID: "A", Name: "Bedroom"}, {ID: "B", Name: "Kitchen"}}

	readings, err := c.FetchReadings(context.Background(), hostOf(srv.URL), testKey, sensors)
	if err != nil {
		t.Fatalf("FetchReadings: %v", err)
	}
	if len(readings) != 1 {
		t.Fatalf("expected 1 reading, got %d: %+v", len(readings), readings)
	}

	r := readings[0]
	if r.DeviceName != "Bedroom" {
		t.Errorf("device name: got %q, want Bedroom", r.DeviceName)
	}
	wantTS := time.Date(2025, 3, 14, 9, 15, 2, 125_000_000, time.UTC)
	if !r.Timestamp.Equal(wantTS) {
		t.Errorf("timestamp: got %v, want %v", r.Timestamp, wantTS)
	}
	if r.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp not UTC: %v", r.Timestamp.Location())
	}
	if !r.Online || r.Humidity != 0 || r.Temperature != 21.37 {
		t.Errorf("unexpected reading values: %+v", r)
	}
}

func TestFetchReadingsUnknownSensor(t *testing.T) {
	srv := newBridgeServer(t, `{"data":[
		{"id":"Z","temperature":{"temperature_report":{"changed":"2025-03-14T09:15:02Z","temperature":18.5}}}
	]}`)
	c := newTestClient("", "")

	readings, err := c.FetchReadings(context.Background(), hostOf(srv.URL), testKey, []models.Sensor{{ID: "A", Name: "Bedroom"}})
	if err != nil {
		t.Fatalf("FetchReadings: %v", err)
	}
	if len(readings) != 1 || readings[0].DeviceName != models.UnknownDevice {
		t.Fatalf("expected one Unknown reading, got %+v", readings)
	}
}

func TestFetchReadingsMalformedBody(t *testing.T) {
	srv := newBridgeServer(t, `{"data":[{"id":"A","temperature":{"temperature_report":{"changed":"not a time"}}}]}`)
	c := newTestClient("", "")

	readings, err := c.FetchReadings(context.Background(), hostOf(srv.URL), testKey, []models.Sensor{{ID: "A", Name: "Bedroom"}})
	if !errors.Is(err, models.ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
	if readings != nil {
		t.Fatalf("expected no partial readings, got %+v", readings)
	}
}

func TestDiscoverBridgeDirectHost(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != configPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"name":"Hue Bridge"}`)
	}))
	defer direct.Close()

	discoveryCalls := 0
	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		discoveryCalls++
		_, _ = io.WriteString(w, `[]`)
	}))
	defer discovery.Close()

	addr, err := newTestClient(hostOf(direct.URL), discovery.URL).DiscoverBridge(context.Background())
	if err != nil {
		t.Fatalf("DiscoverBridge: %v", err)
	}
	if addr != hostOf(direct.URL) {
		t.Errorf("address: got %q, want %q", addr, hostOf(direct.URL))
	}
	if discoveryCalls != 0 {
		t.Errorf("discovery service should not be called, got %d calls", discoveryCalls)
	}
}

func TestDiscoverBridgeFallsBackOnServerError(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer direct.Close()

	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"id":"001788fffe6a2b3c","internalipaddress":"192.168.1.40","port":443}]`)
	}))
	defer discovery.Close()

	addr, err := newTestClient(hostOf(direct.URL), discovery.URL).DiscoverBridge(context.Background())
	if err != nil {
		t.Fatalf("DiscoverBridge: %v", err)
	}
	if addr != "192.168.1.40" {
		t.Errorf("address: got %q, want 192.168.1.40", addr)
	}
}

func TestDiscoverBridgeFallsBackOnNetworkError(t *testing.T) {
	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"internalipaddress":"10.0.0.7"}]`)
	}))
	defer discovery.Close()

	// A closed listener refuses the probe.
	closed := httptest.NewServer(http.NotFoundHandler())
	closedHost := hostOf(closed.URL)
	closed.Close()

	addr, err := newTestClient(closedHost, discovery.URL).DiscoverBridge(context.Background())
	if err != nil {
		t.Fatalf("DiscoverBridge: %v", err)
	}
	if addr != "10.0.0.7" {
		t.Errorf("address: got %q, want 10.0.0.7", addr)
	}
}

func TestDiscoverBridgeNoCandidates(t *testing.T) {
	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer direct.Close()

	for name, body := range map[string]string{"empty list": `[]`, "garbage": `<html>`} {
		t.Run(name, func(t *testing.T) {
			discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = io.WriteString(w, body)
			}))
			defer discovery.Close()

			_, err := newTestClient(hostOf(direct.URL), discovery.URL).DiscoverBridge(context.Background())
			if !errors.Is(err, models.ErrDiscovery) {
				t.Fatalf("expected ErrDiscovery, got %v", err)
			}
		})
	}
}

func TestBridgeFetchReadings(t *testing.T) {
	srv := newBridgeServer(t, `{"data":[
		{"id":"A","temperature":{"temperature_report":{"changed":"2025-03-14T09:15:02Z","temperature":20}}},
		{"id":"B","temperature":{"temperature_report":{"changed":"2025-03-14T09:16:02Z","temperature":22}}}
	]}`)

	direct := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer direct.Close()
	discovery := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"internalipaddress":"`+hostOf(srv.URL)+`"}]`)
	}))
	defer discovery.Close()

	bridge, err := newTestClient(hostOf(direct.URL), discovery.URL).Connect(context.Background(), testKey)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(bridge.Sensors()) != 2 {
		t.Fatalf("expected 2 sensors, got %+v", bridge.Sensors())
	}

	readings, err := bridge.FetchReadings(context.Background())
	if err != nil {
		t.Fatalf("FetchReadings: %v", err)
	}
	if len(readings) != 2 || readings[0].DeviceName != "Bedroom" || readings[1].DeviceName != "Kitchen" {
		t.Fatalf("unexpected readings: %+v", readings)
	}
}

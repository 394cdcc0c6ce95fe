package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	VendorHue   = "hue"
	VendorGovee = "govee"
)

const (
	defaultVendor          = VendorHue
	defaultHueBridgeHost   = "hue-bridge"
	defaultHueDiscoveryURL = "https://discovery.meethue.com/"
	defaultHueKeyFile      = "secrets/hue_application_key.txt"
	defaultGoveeKeyFile    = "secrets/govee_api_key.txt"
	defaultGoveeBaseURL    = "https://openapi.api.govee.com"
	defaultStorageBackend  = "mongo"
	defaultMongoURL        = "mongodb://localhost:27017"
	defaultSQLitePath      = "data/readings.db"
	defaultCSVPath         = "data/temperatures.csv"
	defaultPollInterval    = time.Second
	defaultRequestTimeout  = 10 * time.Second
	defaultHTTPAddr        = ":8080"
	defaultMQTTTopic       = "thermo/readings"
	defaultKafkaTopic      = "thermo.readings"
)

// Config holds runtime configuration for the watcher service.
type Config struct {
	Vendor string

	HueBridgeHost   string
	HueDiscoveryURL string
	HueKeyFile      string

	GoveeKeyFile string
	GoveeBaseURL string

	StorageBackend string
	MongoURL       string
	DatabaseURL    string
	SQLitePath     string
	CSVPath        string

	PollInterval   time.Duration
	RequestTimeout time.Duration

	HTTPAddr    string
	BearerToken string

	MQTTBroker   string
	MQTTTopic    string
	KafkaBrokers []string
	KafkaTopic   string

	DryRun   bool
	LogLevel slog.Level
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{
		Vendor:          strings.ToLower(envOr("BRIDGE_VENDOR", defaultVendor)),
		HueBridgeHost:   envOr("HUE_BRIDGE_HOST", defaultHueBridgeHost),
		HueDiscoveryURL: envOr("HUE_DISCOVERY_URL", defaultHueDiscoveryURL),
		HueKeyFile:      envOr("HUE_APPLICATION_KEY_FILE", defaultHueKeyFile),
		GoveeKeyFile:    envOr("GOVEE_API_KEY_FILE", defaultGoveeKeyFile),
		GoveeBaseURL:    envOr("GOVEE_BASE_URL", defaultGoveeBaseURL),
		StorageBackend:  strings.ToLower(envOr("STORAGE_BACKEND", defaultStorageBackend)),
		MongoURL:        envOr("MONGO_URL", defaultMongoURL),
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		SQLitePath:      envOr("SQLITE_PATH", defaultSQLitePath),
		CSVPath:         envOr("CSV_PATH", defaultCSVPath),
		BearerToken:     strings.TrimSpace(os.Getenv("API_BEARER_TOKEN")),
		MQTTBroker:      strings.TrimSpace(os.Getenv("MQTT_BROKER")),
		MQTTTopic:       envOr("MQTT_TOPIC", defaultMQTTTopic),
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      envOr("KAFKA_TOPIC", defaultKafkaTopic),
	}

	switch cfg.Vendor {
	case VendorHue, VendorGovee:
	default:
		return cfg, fmt.Errorf("invalid BRIDGE_VENDOR: %q", cfg.Vendor)
	}

	switch cfg.StorageBackend {
	case "mongo", "postgres", "sqlite", "csv":
	default:
		return cfg, fmt.Errorf("invalid STORAGE_BACKEND: %q", cfg.StorageBackend)
	}
	if cfg.StorageBackend == "postgres" && cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required for the postgres backend")
	}

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", defaultPollInterval); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = durationEnv("REQUEST_TIMEOUT", defaultRequestTimeout); err != nil {
		return cfg, err
	}

	// An explicitly empty HTTP_ADDR disables the status server.
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = strings.TrimSpace(v)
	} else {
		cfg.HTTPAddr = defaultHTTPAddr
	}

	dryRun := strings.TrimSpace(os.Getenv("DRY_RUN"))
	cfg.DryRun = dryRun == "1" || strings.EqualFold(dryRun, "true")

	if v := strings.TrimSpace(os.Getenv("LOG_LEVEL")); v != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return cfg, fmt.Errorf("invalid LOG_LEVEL: %w", err)
		}
	}

	return cfg, nil
}

// KeyFile returns the credential file for the configured vendor.
func (c Config) KeyFile() string {
	if c.Vendor == VendorGovee {
		return c.GoveeKeyFile
	}
	return c.HueKeyFile
}

// ReadSecret returns the trimmed contents of a credential file.
func ReadSecret(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credential file: %w", err)
	}
	secret := strings.TrimSpace(string(raw))
	if secret == "" {
		return "", fmt.Errorf("credential file %s is empty", path)
	}
	return secret, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return d, nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

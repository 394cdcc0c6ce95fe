package utils

import (
	"fmt"
	"time"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
)

type readingKey struct {
	device string
	ts     time.Time
}

// LatestByDevice reduces stored readings to the newest timestamp per device.
func LatestByDevice(stored []models.Reading) map[string]time.Time {
	latest := make(map[string]time.Time, len(stored))
	for _, r := range stored {
		if prev, ok := latest[r.DeviceName]; !ok || r.Timestamp.After(prev) {
			latest[r.DeviceName] = r.Timestamp
		}
	}
	return latest
}

// FilterNewReadings selects candidates that should be stored. A candidate is
// kept when its device has no stored timestamp or its timestamp is strictly
// after the stored one; equal timestamps are duplicates. Repeats of the same
// (device, timestamp) pair within candidates are kept only once.
func FilterNewReadings(candidates []models.Reading, latest map[string]time.Time) []models.Reading {
	out := make([]models.Reading, 0, len(candidates))
	seen := make(map[readingKey]struct{}, len(candidates))
	for _, cand := range candidates {
		if prev, ok := latest[cand.DeviceName]; ok && !cand.Timestamp.After(prev) {
			continue
		}

		key := readingKey{device: cand.DeviceName, ts: cand.Timestamp.UTC()}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, cand)
	}
	return out
}

// FahrenheitToCelsius converts a temperature reported in °F.
func FahrenheitToCelsius(f float64) float64 {
	return (f - 32.0) * 5.0 / 9.0
}

// ReadingString prints a reading for logging.
func ReadingString(r models.Reading) string {
	return fmt.Sprintf("%s@%s %.2f°C %.1f%%", r.DeviceName, r.Timestamp.Format(time.RFC3339Nano), r.Temperature, r.Humidity)
}

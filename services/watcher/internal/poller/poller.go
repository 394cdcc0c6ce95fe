// Package poller runs the fetch, deduplicate and store cycle against a
// single storage sink.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/metrics"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/models"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/notify"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/storage"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/utils"
)

// Source returns the current readings of every sensor.
type Source interface {
	FetchReadings(ctx context.Context) ([]models.Reading, error)
}

// State is the loop position.
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateStoring
	StateSleeping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePolling:
		return "polling"
	case StateStoring:
		return "storing"
	case StateSleeping:
		return "sleeping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Options tunes the loop.
type Options struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	DryRun         bool
}

// Poller owns the source, the sink and the optional notifier once started.
type Poller struct {
	source   Source
	sink     storage.Sink
	notifier notify.Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger

	interval time.Duration
	timeout  time.Duration
	dryRun   bool

	state atomic.Int32

	mu     sync.RWMutex
	latest map[string]models.Reading
}

// New builds a poller. notifier may be nil.
func New(source Source, sink storage.Sink, notifier notify.Notifier, m *metrics.Metrics, opts Options, logger *slog.Logger) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if m == nil {
		m = metrics.New()
	}
	return &Poller{
		source:   source,
		sink:     sink,
		notifier: notifier,
		metrics:  m,
		logger:   logger,
		interval: opts.Interval,
		timeout:  opts.RequestTimeout,
		dryRun:   opts.DryRun,
		latest:   make(map[string]models.Reading),
	}
}

// State reports the current loop position.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Run loops until ctx is cancelled. Cancellation is observed between ticks
// and during the sleep; a tick in progress finishes first.
func (p *Poller) Run(ctx context.Context) error {
	defer p.setState(StateStopped)
	p.logger.Info("poller started", "interval", p.interval, "dry_run", p.dryRun)

	timer := time.NewTimer(p.interval)
	defer timer.Stop()

	for {
		if ctx.Err() != nil {
			p.logger.Info("poller stopped")
			return nil
		}

		if err := p.Tick(ctx); err != nil {
			p.logger.Error("poll tick failed", "error", err)
		}

		p.setState(StateSleeping)
		timer.Reset(p.interval)
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return nil
		case <-timer.C:
		}
	}
}

// Tick runs one fetch, deduplicate and store cycle. Its calls are detached
// from ctx cancellation and bounded by the request timeout instead.
func (p *Poller) Tick(ctx context.Context) error {
	started := time.Now()
	work := context.WithoutCancel(ctx)

	p.setState(StatePolling)
	readings, err := p.fetch(work)
	if err != nil {
		p.metrics.ObserveTick(metrics.ResultFetchError, started)
		return fmt.Errorf("fetch readings: %w", err)
	}
	p.metrics.Fetched(len(readings))
	p.logger.Debug("fetched readings", "count", len(readings))

	p.setState(StateStoring)
	stored, err := p.latestStored(work)
	if err != nil {
		p.metrics.ObserveTick(metrics.ResultQueryError, started)
		return fmt.Errorf("load latest readings: %w", err)
	}
	p.remember(stored)

	pending := utils.FilterNewReadings(readings, utils.LatestByDevice(stored))
	p.metrics.Skipped(len(readings) - len(pending))

	if len(pending) == 0 {
		p.logger.Debug("no new readings to store")
		p.metrics.ObserveTick(metrics.ResultOK, started)
		return nil
	}

	if p.dryRun {
		for _, r := range pending {
			p.logger.Info("dry-run: would store reading", "reading", utils.ReadingString(r))
		}
		p.metrics.ObserveTick(metrics.ResultOK, started)
		return nil
	}

	if err := p.save(work, pending); err != nil {
		p.metrics.ObserveTick(metrics.ResultSaveError, started)
		return fmt.Errorf("store readings: %w", err)
	}
	p.metrics.Stored(len(pending))
	p.remember(pending)
	p.logger.Info("stored new readings", "count", len(pending))

	p.publish(work, pending)
	p.metrics.ObserveTick(metrics.ResultOK, started)
	return nil
}

func (p *Poller) fetch(ctx context.Context) ([]models.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.source.FetchReadings(ctx)
}

func (p *Poller) latestStored(ctx context.Context) ([]models.Reading, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.sink.LatestItemPerDevice(ctx, models.FieldDeviceName, models.FieldTimestamp)
}

func (p *Poller) save(ctx context.Context, readings []models.Reading) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.sink.SaveItems(ctx, readings)
}

func (p *Poller) publish(ctx context.Context, readings []models.Reading) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.notifier.Publish(ctx, readings); err != nil {
		p.metrics.NotifyFailed()
		p.logger.Warn("notify failed", "error", err)
	}
}

func (p *Poller) remember(readings []models.Reading) {
	if len(readings) == 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range readings {
		if prev, ok := p.latest[r.DeviceName]; !ok || r.Timestamp.After(prev.Timestamp) {
			p.latest[r.DeviceName] = r
		}
	}
}

// Latest returns the newest known reading per device, sorted by name. It is
// safe to call while Run is active.
func (p *Poller) Latest() []models.Reading {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]models.Reading, 0, len(p.latest))
	for _, r := range p.latest {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceName < out[j].DeviceName })
	return out
}

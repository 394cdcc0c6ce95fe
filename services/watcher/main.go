package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/config"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/govee"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/hue"
	httpserver "github.com/02loveslollipop/thermo-watcher/services/watcher/internal/http"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/metrics"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/notify"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/poller"
	"github.com/02loveslollipop/thermo-watcher/services/watcher/internal/storage"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("watcher failed: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	key, err := config.ReadSecret(cfg.KeyFile())
	if err != nil {
		return err
	}

	source, err := connectSource(ctx, cfg, key, logger)
	if err != nil {
		return err
	}

	sink, err := storage.Open(ctx, storage.Config{
		Backend:     cfg.StorageBackend,
		MongoURL:    cfg.MongoURL,
		DatabaseURL: cfg.DatabaseURL,
		SQLitePath:  cfg.SQLitePath,
		CSVPath:     cfg.CSVPath,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("close storage", "error", err)
		}
	}()
	logger.Info("storage ready", "backend", cfg.StorageBackend)

	notifier, err := buildNotifier(cfg, logger)
	if err != nil {
		return err
	}
	if notifier != nil {
		defer func() {
			if err := notifier.Close(); err != nil {
				logger.Warn("close notifier", "error", err)
			}
		}()
	}

	m := metrics.New()
	p := poller.New(source, sink, notifier, m, poller.Options{
		Interval:       cfg.PollInterval,
		RequestTimeout: cfg.RequestTimeout,
		DryRun:         cfg.DryRun,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.Run(gctx)
	})
	if cfg.HTTPAddr != "" {
		srv := httpserver.New(httpserver.Config{Addr: cfg.HTTPAddr, BearerToken: cfg.BearerToken}, p, m.Handler())
		logger.Info("status API listening", "addr", cfg.HTTPAddr)
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}

	return g.Wait()
}

// connectSource resolves the vendor and loads its sensors. Any failure here
// is fatal.
func connectSource(ctx context.Context, cfg config.Config, key string, logger *slog.Logger) (poller.Source, error) {
	switch cfg.Vendor {
	case config.VendorGovee:
		client := govee.NewClient(govee.Options{
			BaseURL: cfg.GoveeBaseURL,
			APIKey:  key,
			Timeout: cfg.RequestTimeout,
		}, logger)
		account, err := client.Connect(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect govee account: %w", err)
		}
		return account, nil
	default:
		client := hue.NewClient(hue.Options{
			BridgeHost:   cfg.HueBridgeHost,
			DiscoveryURL: cfg.HueDiscoveryURL,
			Timeout:      cfg.RequestTimeout,
		}, logger)
		bridge, err := client.Connect(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("connect hue bridge: %w", err)
		}
		return bridge, nil
	}
}

func buildNotifier(cfg config.Config, logger *slog.Logger) (notify.Notifier, error) {
	var multi notify.Multi
	if cfg.MQTTBroker != "" {
		m, err := notify.NewMQTT(cfg.MQTTBroker, cfg.MQTTTopic, logger)
		if err != nil {
			return nil, err
		}
		multi = append(multi, m)
	}
	if len(cfg.KafkaBrokers) > 0 {
		multi = append(multi, notify.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, logger))
	}
	if len(multi) == 0 {
		return nil, nil
	}
	return multi, nil
}

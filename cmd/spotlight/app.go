package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/gauthierbraillon/spotlight/internal/api"
	"github.com/gauthierbraillon/spotlight/internal/config"
	"github.com/gauthierbraillon/spotlight/internal/engagement"
	"github.com/gauthierbraillon/spotlight/internal/exposure"
	"github.com/gauthierbraillon/spotlight/internal/kv"
	"github.com/gauthierbraillon/spotlight/internal/metrics"
)

// app wires the collaborators one command run needs.
type app struct {
	cfg        *config.Config
	logger     *slog.Logger
	kv         kv.Store
	registry   *prometheus.Registry
	metrics    *metrics.Metrics
	engagement *engagement.Store
	exposure   *exposure.Tracker
	client     *api.Client

	close func() error
}

func newApp(configDir string, stderr io.Writer) (*app, error) {
	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	engOpts := []engagement.Option{engagement.WithLogger(logger), engagement.WithMetrics(m)}
	if cfg.EngagementCapacity > 0 {
		engOpts = append(engOpts, engagement.WithCapacity(cfg.EngagementCapacity))
	}
	eng := engagement.NewStore(store, engOpts...)
	eng.Load()

	tracker := exposure.NewTracker(store, exposure.WithLogger(logger), exposure.WithMetrics(m))
	tracker.Load()

	clientOpts := []api.ClientOption{api.WithBaseURL(cfg.APIURL)}
	if cfg.APIToken != "" {
		clientOpts = append(clientOpts, api.WithToken(cfg.APIToken))
	}
	if cfg.RequestsPerSecond > 0 {
		clientOpts = append(clientOpts, api.WithRateLimit(cfg.RequestsPerSecond, 1))
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		kv:         store,
		registry:   reg,
		metrics:    m,
		engagement: eng,
		exposure:   tracker,
		client:     api.NewClient(clientOpts...),
		close:      closeStore,
	}, nil
}

// openStore opens the configured persistence backend inside the config dir.
func openStore(cfg *config.Config) (kv.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store {
	case config.StoreMemory:
		return kv.NewMemory(), noop, nil
	case config.StoreFile:
		return kv.NewFile(filepath.Join(cfg.Dir, "state")), noop, nil
	case config.StoreRedis:
		r, err := kv.OpenRedis(cfg.StoreURL)
		if err != nil {
			return nil, nil, err
		}
		return r, r.Close, nil
	case config.StorePostgres:
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		p, err := kv.OpenPostgres(ctx, cfg.StoreURL)
		if err != nil {
			return nil, nil, err
		}
		return p, p.Close, nil
	default:
		if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
			return nil, nil, fmt.Errorf("failed to create config directory: %w", err)
		}
		db, err := kv.OpenSQLite(filepath.Join(cfg.Dir, "spotlight.db"))
		if err != nil {
			return nil, nil, err
		}
		return db, db.Close, nil
	}
}

// writeMetrics dumps every gathered metric family in the text exposition format.
func (a *app) writeMetrics(w io.Writer) error {
	families, err := a.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to write metrics: %w", err)
		}
	}
	return nil
}

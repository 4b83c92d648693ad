package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/yieldforecast/forecaster/internal/cache"
	"github.com/yieldforecast/forecaster/internal/forecast"
	"github.com/yieldforecast/forecaster/internal/gate"
	"github.com/yieldforecast/forecaster/internal/model"
	"github.com/yieldforecast/forecaster/internal/runner"
	"github.com/yieldforecast/forecaster/internal/store"

	"github.com/redis/go-redis/v9"
)

// app wires the forecaster components from the configuration.
type app struct {
	orch  *forecast.Orchestrator
	store *store.Store
	rc    *redis.Client
}

func newApp(ctx context.Context, cfg model.Config) (*app, error) {
	db, err := store.Open(cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	a := &app{store: db}
	c, err := a.newCache(ctx, cfg.Cache)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	audit := runner.NewAuditLog(cfg.Job.AuditLog)
	if p := audit.Path(); p != "" {
		slog.DebugContext(ctx, "job audit log", "path", p)
	}
	r := runner.New(
		runner.WithDrainTimeout(cfg.Job.DrainTimeout),
		runner.WithAuditLog(audit),
	)
	if cfg.Job.ProjectID() == "" {
		slog.WarnContext(ctx, "project identifier is not configured, jobs will likely fail", "env", model.ProjectIDEnv)
	}

	a.orch = forecast.New(forecast.Options{
		Runner:       r,
		Records:      db,
		History:      db,
		Cache:        c,
		Gate:         newGate(cfg.Gate),
		Forecast:     cfg.Job.Forecast,
		Availability: cfg.Job.Availability,
		Env:          cfg.Job.Environ(),
		IncludeDates: cfg.Cache.IncludeDates,
	})
	return a, nil
}

func (a *app) newCache(ctx context.Context, cfg model.Cache) (cache.Cache, error) {
	switch cfg.Backend {
	case model.CacheBackendRedis:
		a.rc = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rc := cache.NewRedis(a.rc, cfg.Redis.Prefix, cfg.TTL)
		if err := rc.Ping(ctx); err != nil {
			_ = a.rc.Close()
			return nil, fmt.Errorf("connecting to redis %s: %w", cfg.Redis.Addr, err)
		}
		return rc, nil
	default:
		return cache.NewMemory(cache.WithEviction(cache.TTL(cfg.TTL))), nil
	}
}

func newGate(cfg model.Gate) gate.Gate {
	if cfg.Scope == model.GateScopeFingerprint {
		return gate.NewKeyed()
	}
	return gate.NewGlobal()
}

// Close kills running jobs and releases the connections.
func (a *app) Close(ctx context.Context) {
	a.orch.Close()
	var errs []error
	if a.rc != nil {
		errs = append(errs, a.rc.Close())
	}
	errs = append(errs, a.store.Close())
	if err := errors.Join(errs...); err != nil {
		slog.WarnContext(ctx, "closing forecaster", "error", err)
	}
}

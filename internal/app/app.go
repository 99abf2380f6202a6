package app

import (
	"context"
	"fmt"
	"time"

	"publicsquare/internal/archive"
	"publicsquare/pkg/analysis"
	"publicsquare/pkg/banner"
	"publicsquare/pkg/config"
	"publicsquare/pkg/lifecycle"
	"publicsquare/pkg/logger"
	"publicsquare/pkg/realtime"
	"publicsquare/pkg/registry"
	"publicsquare/pkg/store"
	"publicsquare/pkg/validation"
)

// App encapsulates the server components and lifecycle.
type App struct {
	eff     config.EffectiveConfigResult
	version string

	st     store.Storage
	mgr    *lifecycle.Manager
	reg    *registry.Registry
	client *analysis.Client
	hub    *realtime.Hub
}

// New initializes everything that does not need a running context:
// storage, the analysis client, the hub and the lifecycle manager. Call
// Run to start the HTTP server and block until shutdown.
func New(eff config.EffectiveConfigResult, version string) (*App, error) {
	cfg := eff.Config

	validation.Set(validation.Rules{MaxContentLen: cfg.Validation.MaxContentLen})

	var st store.Storage
	if eff.DBPath != "" {
		p, err := store.OpenPebble(eff.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", eff.DBPath, err)
		}
		st = p
	} else {
		logger.Warn("store_memory_only", "msg", "no db path configured, state is lost on restart")
		st = store.NewMemory()
	}

	heur := analysis.NewHeuristic(cfg.Analysis.Denylist, cfg.Analysis.ClaimMarkers, cfg.Analysis.ClaimMinLen)
	client := analysis.NewClient(analysis.Config{
		BaseURL:              cfg.Analysis.BaseURL,
		ModerationWebhookURL: cfg.Analysis.ModerationWebhookURL,
		FactCheckWebhookURL:  cfg.Analysis.FactCheckWebhookURL,
		Timeout:              cfg.Analysis.Timeout.Duration(),
	}, heur)

	hub := realtime.NewHub(realtime.HubOptions{
		SendQueue:     cfg.Channel.SendQueue,
		MaxEventBytes: int64(cfg.Channel.MaxEventBytes),
	})

	reg := registry.New(st)
	mgr := lifecycle.New(st, client, hub, reg)
	hub.OnEvent = mgr.ApplyEvent
	hub.OnPresence = mgr.AdjustParticipants

	if err := mgr.LoadFromStore(); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("rehydrate state: %w", err)
	}

	return &App{eff: eff, version: version, st: st, mgr: mgr, reg: reg, client: client, hub: hub}, nil
}

// Run starts the archive sweeper and the HTTP server, then blocks until
// ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	banner.PrintWithEff(a.eff, a.version)

	stopArchive, err := archive.Start(ctx, *a.eff.Config, a.st, a.mgr, a.reg)
	if err != nil {
		return err
	}
	defer stopArchive()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.closeStore()
		return err
	}

	a.hub.Shutdown()
	a.closeStore()
	return nil
}

func (a *App) closeStore() {
	// pebble flushes on close; give it a bounded window
	done := make(chan struct{})
	go func() {
		if err := a.st.Close(); err != nil {
			logger.Error("store_close_failed", "error", err)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Error("store_close_timeout")
	}
}

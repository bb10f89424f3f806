package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"listenmode/internal/browser"
	"listenmode/internal/clock"
	"listenmode/internal/config"
	"listenmode/internal/coordinator"
	"listenmode/internal/log"
	"listenmode/internal/mangle"
	"listenmode/internal/metrics"
	"listenmode/internal/recorder"
	"listenmode/internal/resolver"
	"listenmode/internal/settings"
)

// app is everything a running server owns.
type app struct {
	cfg      config.Config
	store    settings.Store
	engine   *mangle.Engine
	recent   *settings.Recent
	metrics  *metrics.Metrics
	recorder *recorder.Recorder
	sessions *browser.SessionManager
}

func newApp(cfg config.Config) (*app, error) {
	store, err := settings.OpenBolt(cfg.Settings.StorePath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: store}

	a.engine, err = mangle.NewEngine(cfg.Mangle)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, fmt.Errorf("init decision journal: %w", err)
	}
	a.recent, err = settings.NewRecent(cfg.ListenMode.RecentChannels)
	if err != nil {
		_ = a.Close(context.Background())
		return nil, fmt.Errorf("init recent channels: %w", err)
	}
	a.metrics = metrics.New(prometheus.NewRegistry())

	if cfg.Recorder.Enable {
		a.recorder, err = recorder.NewRecorder(cfg.Recorder.TraceDir)
		if err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
		if err := a.recorder.Start("serve"); err != nil {
			_ = a.Close(context.Background())
			return nil, err
		}
		log.Info(map[string]any{"path": a.recorder.Path()}, "flight recorder started")
	}

	opts := browser.Options{
		Browser:    cfg.Browser,
		ListenMode: cfg.ListenMode,
		Sink:       a.engine,
		Sessions:   a.metrics,
		Factory:    a.newCoordinator,
	}
	if a.recorder != nil {
		opts.Tracer = a.recorder
	}
	a.sessions = browser.NewSessionManager(opts)
	return a, nil
}

// newCoordinator is the browser.CoordinatorFactory for every watch session.
func (a *app) newCoordinator(sessionID string, surface *browser.Surface) *coordinator.Coordinator {
	lm := a.cfg.ListenMode
	observers := []coordinator.Observer{a.metrics, a.recent, mangle.NewJournal(a.engine)}
	if a.recorder != nil {
		observers = append(observers, a.recorder)
	}
	return coordinator.New(coordinator.Options{
		SessionID: sessionID,
		Clock:     clock.System{},
		Debounce:  lm.DebounceWindow(),
		Settings:  settings.Source{Store: a.store},
		Toggle:    surface,
		Resolver:  resolver.New(clock.System{}, surface, lm.Interval(), lm.Attempts()),
		Observers: observers,
	})
}

// Close stops the browser and releases the store and trace file.
func (a *app) Close(ctx context.Context) error {
	var err error
	if a.sessions != nil {
		err = multierr.Append(err, a.sessions.Shutdown(ctx))
	}
	if a.recorder != nil {
		err = multierr.Append(err, a.recorder.Close())
	}
	if a.store != nil {
		err = multierr.Append(err, a.store.Close())
	}
	return err
}

// Package main runs the offline sync daemon: it queues mutating calls while
// the device is offline, replays them when connectivity returns, and serves
// cached responses. Host apps talk to it over REST/WebSocket on localhost.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/Shahabul87/enterprise-auth-template-sub020/cmd/offlinesyncd/handlers"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/cache"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/config"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/connectivity"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/logging"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/remote"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/store"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/queue"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/sync/scheduler"
	"github.com/Shahabul87/enterprise-auth-template-sub020/internal/telemetry"
)

// Version is set at build time.
var Version = "dev"

const (
	defaultConfigPath = "offlinesyncd.yaml"
	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(Version)
		return
	}

	if err := run(*cfgPath); err != nil {
		logging.Error("offlinesyncd exited", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.Logging.Level))
	logging.Info("Starting offlinesyncd", map[string]interface{}{
		"version": Version,
		"config":  cfg.String(),
	})

	d, err := newDaemon(ctx, cfg)
	if err != nil {
		return err
	}
	if err := d.start(ctx); err != nil {
		d.shutdown(context.Background())
		return err
	}
	d.serve()
	logging.Info("Listening", map[string]interface{}{"addr": cfg.Server.Addr})

	<-ctx.Done()
	logging.Info("Shutdown signal received", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	d.shutdown(shutdownCtx)
	return nil
}

// daemon owns every long-lived component. Each is constructed once here and
// passed explicitly.
type daemon struct {
	cfg       config.Config
	store     store.Store
	push      *connectivity.PushProbe
	monitor   *connectivity.Monitor
	engine    *queue.Engine
	cache     *cache.ResponseCache
	scheduler *scheduler.Scheduler
	ws        *WSHub
	server    *http.Server

	telemetryShutdown telemetry.ShutdownFunc
	lifecycle         conc.WaitGroup
}

func newDaemon(ctx context.Context, cfg config.Config) (*daemon, error) {
	mp, telemetryShutdown, err := telemetry.Init(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(mp)
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("create instruments: %w", err)
	}

	st, err := store.Open(cfg)
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &daemon{
		cfg:               cfg,
		store:             st,
		telemetryShutdown: telemetryShutdown,
	}

	var probe connectivity.Probe
	switch cfg.Connectivity.Probe {
	case config.ProbePush:
		d.push = connectivity.NewPushProbe()
		probe = d.push
	default:
		probe = connectivity.NewHTTPProbe(cfg.Connectivity.ProbeURL, cfg.ProbeInterval(), cfg.ProbeTimeout(), cfg.Connectivity.ProbeAttempts)
	}
	d.monitor = connectivity.NewMonitor(probe,
		connectivity.WithDebounce(cfg.Debounce()),
		connectivity.WithMetrics(metrics),
	)

	caller := remote.NewHTTPCaller(cfg, remote.WithMetrics(metrics))
	d.engine = queue.NewEngine(st, caller, d.monitor, queue.ConfigFrom(cfg), queue.WithMetrics(metrics))
	if err := d.engine.Initialize(ctx); err != nil {
		d.shutdown(ctx)
		return nil, fmt.Errorf("initialize queue: %w", err)
	}

	d.cache = cache.NewFromConfig(st, cfg, cache.WithMetrics(metrics))
	d.scheduler = scheduler.NewScheduler(d.engine, d.monitor, &scheduler.SchedulerConfig{
		ReplayInterval: cfg.ReplayInterval(),
	})
	d.ws = NewWSHub()

	d.server = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           d.handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return d, nil
}

func (d *daemon) handler() http.Handler {
	return handlers.NewRouter(handlers.Deps{
		Engine:    d.engine,
		Scheduler: d.scheduler,
		Monitor:   d.monitor,
		Push:      d.push,
		Cache:     d.cache,
		WebSocket: HandleWebSocket(d.ws),
		Version:   Version,
	})
}

// start begins connectivity monitoring and background replay. Actions
// restored from the store are replayed right away when online.
func (d *daemon) start(ctx context.Context) error {
	d.bridgeEvents(ctx)
	if err := d.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start connectivity monitor: %w", err)
	}
	d.scheduler.Start(ctx)

	if d.engine.Len() > 0 && d.engine.TriggerReplay() {
		logging.Info("Replaying actions restored from storage", map[string]interface{}{
			"pending": d.engine.Len(),
		})
	}
	return nil
}

func (d *daemon) serve() {
	d.lifecycle.Go(func() {
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("HTTP server failed", err, map[string]interface{}{
				"addr": d.server.Addr,
			})
		}
	})
}

// shutdown stops components in dependency order: API, scheduler, monitor,
// engine, store, telemetry. It is safe on a partially built daemon.
func (d *daemon) shutdown(ctx context.Context) {
	start := time.Now()
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			logging.Error("Shutdown step failed", err, map[string]interface{}{"step": name})
		}
	}

	if d.server != nil {
		step("http server", func() error { return d.server.Shutdown(ctx) })
	}
	if d.scheduler != nil {
		d.scheduler.Stop()
	}
	if d.monitor != nil {
		d.monitor.Dispose()
	}
	if d.push != nil {
		d.push.Close()
	}
	if d.engine != nil {
		step("queue engine", d.engine.Close)
	}
	if d.ws != nil {
		d.ws.Close()
	}
	d.lifecycle.Wait()

	if d.store != nil {
		step("store", d.store.Close)
	}
	if d.telemetryShutdown != nil {
		step("telemetry", func() error { return d.telemetryShutdown(ctx) })
	}

	logging.Info("Shutdown complete", map[string]interface{}{
		"duration": time.Since(start).String(),
	})
}

// Package orchestrator assembles the churn client and everything that
// observes it into one process.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/churnwatch/churnwatch/internal/api"
	"github.com/churnwatch/churnwatch/internal/churn"
	"github.com/churnwatch/churnwatch/internal/config"
	"github.com/churnwatch/churnwatch/internal/feed"
	"github.com/churnwatch/churnwatch/internal/liveness"
	"github.com/churnwatch/churnwatch/internal/metrics"
	"github.com/churnwatch/churnwatch/internal/midgard"
	"github.com/churnwatch/churnwatch/internal/store"
	"github.com/churnwatch/churnwatch/pkg/logger"
)

// Options selects which observers run next to the client.
type Options struct {
	// Serve starts the metrics exporter and API server when they are
	// enabled in the configuration. Short-lived commands leave it off.
	Serve bool
	// Resync installs the cron refresh schedule.
	Resync  bool
	Version string
}

// Orchestrator owns the lifecycle of one churn client and its observers.
//
// Start order: client, watchdog, cron, metrics, API. Stop runs in reverse.
type Orchestrator struct {
	cfg    *config.Config
	logger *logger.Logger

	store    store.Store
	midgard  *midgard.Client
	dialer   *feed.WebSocketDialer
	client   *churn.Client
	watchdog *liveness.Watchdog
	cron     *cron.Cron

	collector *metrics.Collector
	exporter  *metrics.Exporter
	server    *api.Server

	mu      sync.Mutex
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds every component from cfg. Nothing touches the network until
// Start.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Orchestrator, error) {
	st, err := store.Open(ctx, cfg, log.Named("store"))
	if err != nil {
		return nil, err
	}

	mg, err := midgard.NewClient(midgard.Endpoints{
		MimirURL:   cfg.Network.MimirURL,
		NetworkURL: cfg.Network.NetworkURL,
	}, cfg.Network.HTTPTimeout, log.Named("midgard"))
	if err != nil {
		st.Close()
		return nil, err
	}

	dialer := feed.NewWebSocketDialer(cfg.Network.RPCWebSocketURL, cfg.Network.SubscribeQuery,
		cfg.Network.DialTimeout, log.Named("feed"))

	client, err := churn.NewClient(churn.Options{
		API:                 mg,
		Dialer:              dialer,
		Store:               st,
		Logger:              log,
		DefaultInterval:     cfg.Churn.DefaultInterval,
		DefaultBlockSeconds: cfg.Churn.DefaultBlockSeconds,
		MaxBackoff:          cfg.Churn.MaxBackoff,
	})
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to create churn client: %w", err)
	}

	octx, cancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:     cfg,
		logger:  log,
		store:   st,
		midgard: mg,
		dialer:  dialer,
		client:  client,
		ctx:     octx,
		cancel:  cancel,
	}

	if cfg.Churn.LivenessWindow > 0 {
		o.watchdog = liveness.NewWatchdog(client, cfg.Churn.LivenessWindow, log)
	}

	if opts.Resync && cfg.Churn.RefreshSchedule != "" {
		o.cron = cron.New(cron.WithLogger(cron.PrintfLogger(zap.NewStdLog(log.Logger))))
		if _, err := o.cron.AddFunc(cfg.Churn.RefreshSchedule, client.Refresh); err != nil {
			o.abort()
			return nil, fmt.Errorf("invalid refresh schedule %q: %w", cfg.Churn.RefreshSchedule, err)
		}
	}

	if opts.Serve && cfg.Metrics.Enabled {
		o.collector = metrics.NewCollector(cfg.Metrics.Namespace, log)
		o.exporter = metrics.NewExporter(o.collector, cfg.Metrics.Host, cfg.Metrics.Port, cfg.Metrics.Path, log)
	}

	if opts.Serve && cfg.API.Enabled {
		o.server = api.NewServer(cfg.API, client, opts.Version, log.Named("api"))
	}

	return o, nil
}

// abort releases what New acquired when a later step fails
func (o *Orchestrator) abort() {
	o.cancel()
	o.client.Stop()
	o.store.Close()
}

// Client returns the churn client
func (o *Orchestrator) Client() *churn.Client {
	return o.client
}

// Server returns the API server, nil unless serving with the API enabled
func (o *Orchestrator) Server() *api.Server {
	return o.server
}

// Exporter returns the metrics exporter, nil unless serving with metrics enabled
func (o *Orchestrator) Exporter() *metrics.Exporter {
	return o.exporter
}

// Start connects the client and starts every observer.
//
// Returns an error if already started or if a listener cannot bind; the
// components started so far are stopped again in that case.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.started {
		return fmt.Errorf("orchestrator already started")
	}
	if o.stopped {
		return fmt.Errorf("orchestrator has been stopped")
	}
	o.started = true

	if err := o.client.Start(); err != nil {
		return fmt.Errorf("failed to start churn client: %w", err)
	}

	if o.watchdog != nil {
		if err := o.watchdog.Start(); err != nil {
			o.stopLocked()
			return fmt.Errorf("failed to start watchdog: %w", err)
		}
	}

	if o.cron != nil {
		o.cron.Start()
		o.logger.Info("refresh schedule installed", zap.String("schedule", o.cfg.Churn.RefreshSchedule))
	}

	if o.collector != nil {
		updates := o.client.Subscribe()
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.collector.Run(o.ctx, updates)
		}()

		if err := o.exporter.Start(); err != nil {
			o.stopLocked()
			return fmt.Errorf("failed to start metrics exporter: %w", err)
		}
	}

	if o.server != nil {
		updates := o.client.Subscribe()
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.server.RunHub(o.ctx, updates)
		}()

		if err := o.server.Start(); err != nil {
			o.stopLocked()
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}

	o.logger.Info("churnwatch started",
		zap.String("feed", o.dialer.URL()),
		zap.Bool("api", o.server != nil),
		zap.Bool("metrics", o.exporter != nil))

	return nil
}

// Stop stops every component and closes the store. Idempotent.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *Orchestrator) stopLocked() {
	if o.stopped {
		return
	}
	o.stopped = true

	if o.server != nil {
		if err := o.server.Stop(); err != nil {
			o.logger.Warn("failed to stop API server", zap.Error(err))
		}
	}
	if o.exporter != nil {
		if err := o.exporter.Stop(); err != nil {
			o.logger.Warn("failed to stop metrics exporter", zap.Error(err))
		}
	}
	if o.cron != nil {
		<-o.cron.Stop().Done()
	}
	if o.watchdog != nil {
		o.watchdog.Stop()
	}

	o.cancel()
	o.client.Stop()
	o.wg.Wait()

	if err := o.store.Close(); err != nil {
		o.logger.Warn("failed to close store", zap.Error(err))
	}

	o.logger.Info("churnwatch stopped")
}

// WatchConfig applies endpoint changes from source until Stop.
func (o *Orchestrator) WatchConfig(source ConfigSource) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()

		for {
			select {
			case <-o.ctx.Done():
				return

			case update, ok := <-source.Updates():
				if !ok {
					return
				}
				if update.Error != nil || update.NewConfig == nil {
					continue
				}
				o.applyConfig(update.NewConfig)
			}
		}
	}()
}

// applyConfig points the clients at new endpoints. A new feed URL forces a
// reconnect; new Midgard URLs only need a refresh. Other settings take
// effect on restart.
func (o *Orchestrator) applyConfig(cfg *config.Config) {
	endpoints := midgard.Endpoints{
		MimirURL:   cfg.Network.MimirURL,
		NetworkURL: cfg.Network.NetworkURL,
	}

	midgardChanged := endpoints != o.midgard.Endpoints()
	if midgardChanged {
		if err := o.midgard.SetEndpoints(endpoints); err != nil {
			o.logger.Warn("ignoring reloaded midgard endpoints", zap.Error(err))
			midgardChanged = false
		}
	}

	feedChanged := cfg.Network.RPCWebSocketURL != o.dialer.URL()
	if feedChanged {
		o.dialer.SetURL(cfg.Network.RPCWebSocketURL)
	}

	switch {
	case feedChanged:
		o.logger.Info("feed endpoint changed, reconnecting", zap.String("url", cfg.Network.RPCWebSocketURL))
		o.client.Reconnect()
	case midgardChanged:
		o.logger.Info("midgard endpoints changed, refreshing",
			zap.String("mimir", endpoints.MimirURL),
			zap.String("network", endpoints.NetworkURL))
		o.client.Refresh()
	}
}

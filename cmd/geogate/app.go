package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/c360/geogate/component"
	"github.com/c360/geogate/config"
	"github.com/c360/geogate/dispatch"
	"github.com/c360/geogate/errors"
	"github.com/c360/geogate/events"
	gwhttp "github.com/c360/geogate/gateway/http"
	"github.com/c360/geogate/gateway/websocket"
	"github.com/c360/geogate/health"
	"github.com/c360/geogate/metric"
	"github.com/c360/geogate/natsclient"
	"github.com/c360/geogate/pkg/cache"
	"github.com/c360/geogate/pkg/tlsutil"
	"github.com/c360/geogate/registry"
	"github.com/c360/geogate/upstream/geo"
	"github.com/c360/geogate/upstream/llm"
)

// app owns every long-lived piece of the process.
type app struct {
	logger   *slog.Logger
	metrics  *metric.MetricsRegistry
	monitor  *health.Monitor
	group    *component.Group
	registry *registry.Registry
	nats     *natsclient.Client
	cache    *cache.TTL[string]
	ws       *websocket.Server
	http     *gwhttp.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		logger:   logger,
		metrics:  metric.NewMetricsRegistry(),
		monitor:  health.NewMonitor(),
		group:    component.NewGroup(logger),
		registry: registry.New(),
	}
	core := a.metrics.CoreMetrics()

	wsCfg := cfg.Server.WebSocket
	httpCfg := cfg.Server.HTTP
	wsTLS, err := tlsutil.LoadServer(wsCfg.TLS)
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "load websocket tls")
	}
	httpTLS, err := tlsutil.LoadServer(httpCfg.TLS)
	if err != nil {
		return nil, errors.Wrap(err, "app", "newApp", "load http tls")
	}

	geoClient := geo.New(geo.Config{
		BaseURL:       cfg.Geo.BaseURL,
		APIKey:        cfg.Geo.APIKey,
		Timeout:       cfg.Geo.Timeout.Std(),
		RateLimit:     cfg.Geo.RateLimit,
		Burst:         cfg.Geo.Burst,
		RetryAttempts: cfg.Geo.RetryAttempts,
		Logger:        logger,
		Metrics:       core,
	})

	llmClient := llm.New(llm.Config{
		BaseURL:      cfg.LLM.BaseURL,
		APIKey:       cfg.LLM.APIKey,
		Model:        cfg.LLM.Model,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		Timeout:      cfg.LLM.Timeout.Std(),
		SystemPrompt: cfg.LLM.SystemPrompt,
		Logger:       logger,
		Metrics:      core,
	})
	if !llmClient.Enabled() {
		logger.Warn("llm api key not set, enrichment disabled")
	}

	if cfg.Cache.Enabled {
		a.cache, err = cache.NewTTL[string](ctx, cfg.Cache.GeocodeTTL.Std(), cfg.Cache.SweepInterval.Std(),
			cache.WithMetrics[string](a.metrics, "geocode"))
		if err != nil {
			return nil, err
		}
	}

	dispatcher := dispatch.New(geoClient, llmClient,
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(core),
		dispatch.WithResolver(dispatch.NewResolver(geoClient, a.cache, logger)))
	logger.Info("dispatcher ready", "actions", dispatcher.Actions())

	emitter := a.setupEvents(ctx, cfg.Events, core)

	a.ws = websocket.NewServer(websocket.Config{
		Host:           wsCfg.Host,
		Port:           wsCfg.Port,
		Path:           wsCfg.Path,
		MaxConnections: wsCfg.MaxConnections,
		MaxMessageSize: wsCfg.MaxMessageSize,
		WriteTimeout:   wsCfg.WriteTimeout.Std(),
		Workers:        wsCfg.Workers,
		QueueSize:      wsCfg.QueueSize,
		AllowedOrigins: wsCfg.AllowedOrigins,
		TLS:            wsTLS,
	}, a.registry, dispatcher,
		websocket.WithLogger(logger),
		websocket.WithMetrics(core),
		websocket.WithEvents(emitter),
		websocket.WithRegistrar(a.metrics))

	sweeper := registry.NewSweeper(a.registry, registry.SweeperConfig{
		IdleTimeout: wsCfg.IdleTimeout.Std(),
		Interval:    wsCfg.SweepInterval.Std(),
		Logger:      logger,
		Metrics:     core,
		OnEvict:     a.ws.OnEvicted,
	})

	a.http = gwhttp.NewServer(gwhttp.Config{
		Host:         httpCfg.Host,
		Port:         httpCfg.Port,
		ReadTimeout:  httpCfg.ReadTimeout.Std(),
		WriteTimeout: httpCfg.WriteTimeout.Std(),
		MaxBodySize:  httpCfg.MaxBodySize,
		CORSOrigins:  httpCfg.CORSOrigins,
		Version:      cfg.Version,
		TLS:          httpTLS,
	}, dispatcher, a.registry,
		gwhttp.WithLogger(logger),
		gwhttp.WithMetrics(core),
		gwhttp.WithEvents(emitter),
		gwhttp.WithHealth(func() health.Status { return a.monitor.Snapshot(appName) }),
		gwhttp.WithMetricsHandler(a.metrics.Handler()))

	// The two transports start independently; either may fail to bind.
	if wsCfg.Enabled {
		a.group.Add(sweeper, true)
		a.group.Add(a.ws, false)
		a.monitor.Register("websocket", a.ws.Health)
	}
	if httpCfg.Enabled {
		a.group.Add(a.http, false)
		a.monitor.Register("http", a.http.Health)
	}
	a.monitor.Register("lifecycle", a.group.Health)
	if a.nats != nil {
		a.monitor.Register("events", a.natsHealth)
	}
	return a, nil
}

// setupEvents connects to NATS when configured. Events are optional: a
// failed connection leaves a no-op emitter.
func (a *app) setupEvents(ctx context.Context, cfg config.EventsConfig, core *metric.Metrics) events.Emitter {
	if !cfg.Enabled() {
		a.logger.Info("event publishing disabled")
		return events.Nop()
	}

	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.ClientName),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithReconnectWait(cfg.ReconnectWait.Std()),
		natsclient.WithLogger(a.logger),
		natsclient.WithHealthChangeCallback(core.RecordNATSStatus),
	}
	switch {
	case cfg.Token != "":
		opts = append(opts, natsclient.WithToken(cfg.Token))
	case cfg.Username != "":
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	tlsConfig, err := tlsutil.LoadClient(cfg.TLS)
	if err != nil {
		a.logger.Warn("nats tls unavailable, event publishing disabled", "error", err)
		return events.Nop()
	}
	if tlsConfig != nil {
		opts = append(opts, natsclient.WithTLS(tlsConfig))
	}

	client, err := natsclient.NewClient(cfg.NATSURL, opts...)
	if err != nil {
		a.logger.Warn("event publishing disabled", "error", health.SanitizeError(err.Error()))
		return events.Nop()
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		a.logger.Warn("nats unavailable, event publishing disabled", "error", health.SanitizeError(err.Error()))
		return events.Nop()
	}

	a.nats = client
	a.logger.Info("event publishing enabled", "subject_prefix", cfg.SubjectPrefix)
	return events.NewPublisher(client, cfg.SubjectPrefix, a.logger, core)
}

func (a *app) natsHealth() health.Status {
	if a.nats.IsHealthy() {
		return health.NewHealthy("events", "connected")
	}
	return health.NewDegraded("events", "nats "+a.nats.Status().String())
}

// Start starts the sweeper and both transports.
func (a *app) Start(ctx context.Context) error {
	err := a.group.Start(ctx)
	core := a.metrics.CoreMetrics()
	for name, state := range a.group.States() {
		up := 0
		if state == component.StateStarted {
			up = 1
		}
		core.RecordServiceStatus(name, up)
	}
	return err
}

// Stop shuts everything down in reverse start order, then closes the
// event connection and the cache.
func (a *app) Stop(timeout time.Duration) error {
	errs := []error{a.group.Stop(timeout)}

	if a.nats != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		errs = append(errs, a.nats.Close(ctx))
		cancel()
	}
	if a.cache != nil {
		errs = append(errs, a.cache.Close())
	}
	return errors.Join(errs...)
}

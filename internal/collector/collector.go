// Package collector wires the push connection, transcript tailer, alert
// engine, and serving surfaces into one long-running process.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/good-yellow-bee/agentwatch/internal/alerting"
	"github.com/good-yellow-bee/agentwatch/internal/api"
	"github.com/good-yellow-bee/agentwatch/internal/gateway"
	"github.com/good-yellow-bee/agentwatch/internal/metrics"
	"github.com/good-yellow-bee/agentwatch/internal/models"
	"github.com/good-yellow-bee/agentwatch/internal/notifier"
	"github.com/good-yellow-bee/agentwatch/internal/storage"
	"github.com/good-yellow-bee/agentwatch/internal/tailer"
)

// Config configures the collector process.
type Config struct {
	GatewayURL   string // HTTP base URL for tool invocation
	GatewayWSURL string // websocket URL for the push connection
	Token        string

	ClientID      string
	ClientVersion string

	TranscriptRoot string
	DatabasePath   string

	ScanInterval time.Duration // transcript scan cadence
	EvalInterval time.Duration // alert evaluation cadence
	PollInterval time.Duration // session poll cadence while connected
	Lookback     time.Duration // cost record staleness bound

	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	MetricsAddr string // empty disables the metrics endpoint
	APIAddr     string // empty disables the operations API

	Verbose bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.ScanInterval <= 0 {
		c.ScanInterval = 30 * time.Second
	}
	if c.EvalInterval <= 0 {
		c.EvalInterval = time.Minute
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.Lookback <= 0 {
		c.Lookback = 24 * time.Hour
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 2 * time.Minute
	}
	if c.ClientID == "" {
		c.ClientID = "agentwatch-collector"
	}
}

// Collector owns every long-running component of the process.
type Collector struct {
	cfg        Config
	store      *storage.Store
	client     *gateway.Client
	connmgr    *gateway.ConnManager
	tail       *tailer.Tailer
	engine     *alerting.Engine
	dispatcher *notifier.Dispatcher
	metricsSrv *metrics.Server
	apiSrv     *api.Server
}

// New builds a collector. The dispatcher may be nil when no notification
// channels are configured.
func New(cfg Config, dispatcher *notifier.Dispatcher) (*Collector, error) {
	cfg.SetDefaults()
	if cfg.GatewayURL == "" || cfg.GatewayWSURL == "" {
		return nil, fmt.Errorf("gateway URLs are required")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("gateway token is required")
	}
	if cfg.TranscriptRoot == "" {
		return nil, fmt.Errorf("transcript root is required")
	}
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	store := storage.NewStore(cfg.DatabasePath)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	client := gateway.NewClient(cfg.GatewayURL, cfg.Token)
	router := gateway.NewRouter(store)
	router.SetVerbose(cfg.Verbose)

	c := &Collector{
		cfg:        cfg,
		store:      store,
		client:     client,
		dispatcher: dispatcher,
	}

	c.connmgr = gateway.NewConnManager(gateway.ConnManagerConfig{
		URL:            cfg.GatewayWSURL,
		Token:          cfg.Token,
		ClientID:       cfg.ClientID,
		ClientVersion:  cfg.ClientVersion,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		PollInterval:   cfg.PollInterval,
	}, router, c.pollSessions)
	c.connmgr.SetVerbose(cfg.Verbose)

	c.tail = tailer.New(tailer.Config{
		Root:     cfg.TranscriptRoot,
		Lookback: cfg.Lookback,
	}, store)
	c.tail.SetVerbose(cfg.Verbose)

	c.engine = alerting.NewEngine(store)
	c.engine.SetVerbose(cfg.Verbose)
	if dispatcher != nil {
		c.engine.SetNotifier(c.notifyAlert)
	}

	if cfg.MetricsAddr != "" {
		c.metricsSrv = metrics.NewServer(cfg.MetricsAddr)
	}
	if cfg.APIAddr != "" {
		apiSrv, err := api.New(&api.Config{
			Address: cfg.APIAddr,
			Verbose: cfg.Verbose,
		}, store)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("create api server: %w", err)
		}
		c.apiSrv = apiSrv
	}

	return c, nil
}

// Run starts every component and blocks until the context is canceled or a
// component fails fatally.
func (c *Collector) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := c.connmgr.Run(ctx)
		return ignoreCanceled(err)
	})

	g.Go(func() error {
		return c.scanLoop(ctx)
	})

	g.Go(func() error {
		return c.evalLoop(ctx)
	})

	g.Go(func() error {
		return c.pruneLoop(ctx)
	})

	if c.metricsSrv != nil {
		g.Go(func() error {
			return c.metricsSrv.Start()
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.metricsSrv.Shutdown(shutdownCtx)
		})
	}

	if c.apiSrv != nil {
		if err := c.apiSrv.Start(); err != nil {
			return fmt.Errorf("start api server: %w", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return c.apiSrv.Shutdown(shutdownCtx)
		})
	}

	err := g.Wait()
	if closeErr := c.store.Close(); closeErr != nil {
		log.Printf("[collector] close store: %v", closeErr)
	}
	return ignoreCanceled(err)
}

// scanLoop drives transcript scans on a timer, with filesystem events
// pulling scans forward between ticks.
func (c *Collector) scanLoop(ctx context.Context) error {
	nudges, err := c.tail.Watch(ctx)
	if err != nil {
		// Watching is best-effort; the timer alone is still correct.
		log.Printf("[collector] transcript watch unavailable: %v", err)
		nudges = make(chan struct{})
	}

	if err := c.tail.Scan(ctx); err != nil {
		log.Printf("[collector] transcript scan: %v", err)
	}

	ticker := time.NewTicker(c.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-nudges:
		}
		if err := c.tail.Scan(ctx); err != nil {
			log.Printf("[collector] transcript scan: %v", err)
		}
	}
}

// evalLoop drives alert rule evaluation on a timer.
func (c *Collector) evalLoop(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.EvalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		result, err := c.engine.Evaluate(ctx)
		if err != nil {
			log.Printf("[collector] alert evaluation: %v", err)
			continue
		}
		if result.Fired > 0 {
			log.Printf("[collector] evaluated %d rules, fired %d alerts", result.Evaluated, result.Fired)
		}
	}
}

// pruneLoop expires old dedup fingerprints hourly.
func (c *Collector) pruneLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.tail.Dedup().Prune(time.Now())
		}
	}
}

// pollSessions refreshes the session inventory from the gateway. Called by
// the connection manager while the push connection is authenticated.
func (c *Collector) pollSessions(ctx context.Context) {
	sessions, err := c.client.ListSessions(ctx)
	if err != nil {
		log.Printf("[collector] poll sessions: %v", err)
		return
	}
	if err := c.store.IngestSessions(ctx, sessions); err != nil {
		log.Printf("[collector] ingest sessions: %v", err)
	}
}

// notifyAlert pushes a persisted alert to the configured channels.
func (c *Collector) notifyAlert(ctx context.Context, alert *models.Alert) {
	if err := c.dispatcher.Dispatch(ctx, alert); err != nil {
		if errors.Is(err, notifier.ErrRateLimited) {
			log.Printf("[collector] alert %s dropped: rate limited", alert.ID)
			return
		}
		log.Printf("[collector] dispatch alert %s: %v", alert.ID, err)
	}
}

// Connected reports whether the push connection is live and authenticated.
func (c *Collector) Connected() bool {
	return c.connmgr.IsConnected()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

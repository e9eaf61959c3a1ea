// Package backtest wires a DCA backtest: candles flow from a source
// through the unit graph, and every resolved sample is reported to the
// account tracker and the configured output sinks.
package backtest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"tradeflow/config"
	"tradeflow/internal/exchange"
	"tradeflow/internal/gateway"
	"tradeflow/internal/graph"
	"tradeflow/internal/indicator"
	"tradeflow/internal/logger"
	"tradeflow/internal/marketdata/bus"
	"tradeflow/internal/marketdata/replay"
	"tradeflow/internal/marketdata/synth"
	"tradeflow/internal/metrics"
	"tradeflow/internal/model"
	"tradeflow/internal/notification"
	"tradeflow/internal/portfolio"
	"tradeflow/internal/strategy"
	redisstore "tradeflow/internal/store/redis"
	sqlitestore "tradeflow/internal/store/sqlite"
)

const (
	candleBuffer = 1024
	scopeBuffer  = 256
	sinkBuffer   = 256
)

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithTracer traces graph processing with t.
func WithTracer(t trace.Tracer) Option {
	return func(s *Service) { s.tracer = t }
}

// WithRegistry registers the metrics on reg instead of a private registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *Service) { s.promReg = reg }
}

// WithLoader replaces the configured candle source.
func WithLoader(l replay.Loader) Option {
	return func(s *Service) { s.loader = l }
}

// Service runs one backtest.
type Service struct {
	cfg    *config.Config
	log    *slog.Logger
	tracer trace.Tracer
	runID  string

	promReg *prometheus.Registry
	metrics *metrics.Metrics
	health  *metrics.HealthStatus
	httpMet *metrics.Server

	params    strategy.DCAParams
	processor *graph.Processor
	dca       *strategy.DCA
	recorder  *recorder
	tracker   *portfolio.Tracker

	loader    replay.Loader
	candles   *sqlitestore.CandleStore
	journal   *sqlitestore.Journal
	publisher *redisstore.Publisher
	hub       *gateway.Hub
	gw        *gateway.Server
	alerter   *notification.Alerter
}

// New builds the graph and opens every enabled sink. Close releases them.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Service, error) {
	s := &Service{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	if s.promReg == nil {
		s.promReg = prometheus.NewRegistry()
	}

	params, err := StrategyParams(cfg.Strategy)
	if err != nil {
		return nil, err
	}
	s.params = params
	s.runID = logger.GenerateTraceID(cfg.Source.Pair, firstX(cfg.Source)) + "-" + uuid.NewString()[:8]
	s.log = s.log.With("run", s.runID)

	s.metrics = metrics.NewMetrics(s.promReg)
	s.health = metrics.NewHealthStatus()
	s.tracker = portfolio.NewTracker(cfg.Strategy.InitialCash)
	s.recorder = newRecorder(params)

	if err := s.openSinks(ctx); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.buildGraph(); err != nil {
		s.Close()
		return nil, err
	}
	if err := s.openSource(); err != nil {
		s.Close()
		return nil, err
	}

	if cfg.Sinks.Gateway.Enabled {
		gwOpts := []gateway.ServerOption{
			gateway.WithAccount(func() interface{} { return s.dca.Exchange().Account() }),
		}
		if s.journal != nil {
			gwOpts = append(gwOpts, gateway.WithTrades(s.journal))
		}
		s.gw = gateway.NewServer(cfg.Sinks.Gateway.Addr, s.hub, gwOpts...)
	}
	if cfg.App.MetricsAddr != "" {
		s.httpMet = metrics.NewServer(cfg.App.MetricsAddr, s.promReg, s.health)
	}
	return s, nil
}

func firstX(src config.Source) int64 {
	if src.Kind == "synth" {
		return src.Synth.StartMs
	}
	return src.FromMs
}

// RunID identifies this run in logs and in the journal.
func (s *Service) RunID() string { return s.runID }

// Exchange returns the strategy's exchange.
func (s *Service) Exchange() *exchange.Exchange { return s.dca.Exchange() }

func (s *Service) openSinks(ctx context.Context) error {
	sinks := s.cfg.Sinks
	if sinks.Journal.Enabled {
		j, err := sqlitestore.OpenJournal(sinks.Journal.Path, s.runID)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		s.journal = j
	}
	if sinks.Redis.Enabled {
		p, err := redisstore.Dial(ctx, redisstore.Config{
			Addr:     sinks.Redis.Addr,
			Password: sinks.Redis.Password,
			Stream:   sinks.Redis.Stream,
			MaxLen:   sinks.Redis.MaxLen,
		},
			redisstore.WithStateHook(func(_, to redisstore.State) {
				s.metrics.SetBreakerState(int(to))
				if to == redisstore.StateOpen {
					s.metrics.BreakerTripped()
				}
			}),
			redisstore.WithDropHook(func() { s.metrics.SinkDropped("redis") }),
		)
		if err != nil {
			return fmt.Errorf("open redis sink: %w", err)
		}
		s.publisher = p
	}
	if sinks.Gateway.Enabled {
		s.hub = gateway.NewHub(sinks.Gateway.ReplaySize, func() { s.metrics.SinkDropped("gateway") })
	}
	if sinks.Alerts.Enabled {
		var n notification.Notifier = notification.LogNotifier{}
		if sinks.Alerts.WebhookURL != "" {
			n = notification.NewWebhookNotifier(sinks.Alerts.WebhookURL)
		}
		s.alerter = notification.NewAlerter(n, s.cfg.Source.Pair, 64)
		s.alerter.OnDrop = func() { s.metrics.SinkDropped("alerts") }
	}
	return nil
}

func (s *Service) listeners() []exchange.Option {
	opts := []exchange.Option{
		exchange.WithListener(s.metrics),
		exchange.WithListener(s.tracker),
	}
	if s.journal != nil {
		opts = append(opts, exchange.WithListener(&timedListener{next: s.journal, obs: s.metrics.SQLiteCommitDur}))
	}
	if s.alerter != nil {
		opts = append(opts, exchange.WithListener(s.alerter))
	}
	return opts
}

func (s *Service) buildGraph() error {
	reg := graph.NewRegistry()
	indicator.Register(reg)
	strategy.Register(reg,
		strategy.WithLogger(s.log),
		strategy.WithOrderObserver(s.metrics),
		strategy.WithExchangeOptions(s.listeners()...),
	)

	root := strategy.DCAKey(s.params)
	units, err := reg.Closure(root)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	u, err := reg.Resolve(root)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	dca, ok := u.(*strategy.DCA)
	if !ok {
		return fmt.Errorf("build graph: %s resolved to %T", root, u)
	}
	s.dca = dca

	popts := []graph.Option{graph.WithObserver(s.metrics), graph.WithLogger(s.log)}
	if s.tracer != nil {
		popts = append(popts, graph.WithTracer(s.tracer))
	}
	s.processor, err = graph.NewProcessor(units, popts...)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	s.log.Info("graph built", "units", len(units), "root", root.String())
	return nil
}

func (s *Service) openSource() error {
	if s.loader != nil {
		return nil
	}
	src := s.cfg.Source
	switch src.Kind {
	case "sqlite":
		store, err := sqlitestore.OpenCandles(src.SQLitePath)
		if err != nil {
			return fmt.Errorf("open candle store: %w", err)
		}
		s.candles = store
		s.loader = store
	case "synth":
		s.loader = synth.NewSource(synth.Config{
			Pair:       src.Pair,
			Seed:       src.Synth.Seed,
			Count:      src.Synth.Count,
			StartPrice: src.Synth.StartPrice,
			Volatility: src.Synth.Volatility,
			Interval:   time.Duration(src.Synth.IntervalSec) * time.Second,
			StartX:     src.Synth.StartMs,
		})
	default:
		return fmt.Errorf("unknown source kind %q", src.Kind)
	}
	return nil
}

// encoded is a record ready for the network sinks.
type encoded struct {
	x    int64
	pair string
	data []byte
}

// Run replays the source through the graph and returns the run summary.
// Cancelling ctx stops the run early; the summary then covers the samples
// processed so far and the context error is returned with it.
func (s *Service) Run(ctx context.Context) (portfolio.Summary, error) {
	ctx = logger.WithTraceID(ctx, s.runID)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.health.SetRunning(true)
	defer s.health.SetRunning(false)
	s.startServers(ctx)

	alertCtx, stopAlerts := context.WithCancel(context.Background())
	var alertsDone sync.WaitGroup
	if s.alerter != nil {
		alertsDone.Add(1)
		go func() {
			defer alertsDone.Done()
			s.alerter.Run(alertCtx)
		}()
	}

	src := s.cfg.Source
	candles := make(chan model.Candle, candleBuffer)
	scopes := make(chan *graph.Scope, scopeBuffer)
	records := make(chan encoded, scopeBuffer)
	fan := bus.New[encoded](sinkBuffer)

	var (
		wg                 sync.WaitGroup
		replayErr, procErr error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		replayErr = replay.New(s.loader, replay.Options{
			Pair:  src.Pair,
			FromX: src.FromMs,
			ToX:   src.ToMs,
			Speed: src.Speed,
		}).Run(ctx, candles)
		if replayErr != nil && !errors.Is(replayErr, context.Canceled) {
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(scopes)
		procErr = s.processor.Run(ctx, candles, scopes)
		if procErr != nil {
			cancel()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(records)
		s.report(ctx, scopes, records)
	}()

	s.startSinks(ctx, fan, &wg)
	wg.Add(1)
	go func() {
		defer wg.Done()
		fan.Run(ctx, records)
	}()

	s.log.Info("backtest started", append(logger.LogWithTrace(ctx), "source", src.Kind, "pair", src.Pair)...)
	wg.Wait()

	stopAlerts()
	alertsDone.Wait()

	summary := s.tracker.Summary()
	s.log.Info("backtest finished",
		"samples", summary.Samples,
		"trades", summary.Trades,
		"positions_closed", summary.PositionsClosed,
		"realized_pnl", summary.RealizedPnL,
		"max_drawdown_pct", summary.MaxDrawdownPct,
	)

	switch {
	case procErr != nil && !errors.Is(procErr, context.Canceled):
		return summary, procErr
	case replayErr != nil && !errors.Is(replayErr, context.Canceled):
		return summary, replayErr
	}
	return summary, ctx.Err()
}

// report consumes every scope: the tracker and metrics see all of them,
// and the encoded record goes on to the sinks.
func (s *Service) report(ctx context.Context, scopes <-chan *graph.Scope, out chan<- encoded) {
	sinks := s.publisher != nil || s.hub != nil
	for sc := range scopes {
		if mm := sc.Mismatches(); len(mm) > 0 {
			s.log.Warn("kind mismatch reading slots", "x", sc.X(), "slots", fmt.Sprint(mm))
		}
		rec := s.recorder.record(sc)
		if rec.Account != nil {
			s.tracker.ObserveAccount(*rec.Account)
			s.metrics.SetAccount(*rec.Account)
		}
		s.health.RecordSample(time.Now())
		if !sinks {
			continue
		}

		data, err := rec.JSON()
		if err != nil {
			s.log.Error("encode record", "x", rec.X, "err", err)
			continue
		}
		select {
		case out <- encoded{x: rec.X, pair: rec.Pair, data: data}:
		case <-ctx.Done():
			// Keep draining so the processor is never blocked on send.
		}
	}
}

func (s *Service) startSinks(ctx context.Context, fan *bus.FanOut[encoded], wg *sync.WaitGroup) {
	if s.publisher != nil {
		ch := fan.SubscribeBlocking()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for e := range ch {
				start := time.Now()
				err := s.publisher.Publish(ctx, redisstore.Record{Pair: e.pair, X: e.x, Data: e.data})
				s.metrics.RedisWriteDur.Observe(time.Since(start).Seconds())
				if err != nil {
					s.log.Debug("redis publish failed", "x", e.x, "err", err)
					continue
				}
				s.metrics.SinkDelivered("redis")
			}
		}()
	}
	if s.hub != nil {
		ch := fan.Subscribe()
		fan.OnDrop = func(int) { s.metrics.SinkDropped("gateway") }
		wg.Add(1)
		go func() {
			defer wg.Done()
			channel := gateway.ChannelName(gateway.ChannelScope, s.cfg.Source.Pair)
			for e := range ch {
				s.hub.Broadcast(channel, e.x, e.data)
				s.metrics.SinkDelivered("gateway")
			}
		}()
	}
}

func (s *Service) startServers(ctx context.Context) {
	var (
		rdb *goredis.Client
		db  *sql.DB
	)
	if s.publisher != nil {
		rdb = s.publisher.Client()
	}
	if s.journal != nil {
		db = s.journal.DB()
	} else if s.candles != nil {
		db = s.candles.DB()
	}
	if rdb != nil {
		s.health.CheckRedis(ctx, rdb)
	}
	if db != nil {
		s.health.CheckSQLite(ctx, db)
	}
	s.health.StartLivenessChecker(ctx, rdb, db, 10*time.Second)

	if s.httpMet != nil {
		s.httpMet.Start()
	}
	if s.gw != nil {
		s.gw.Start()
	}
}

// Close stops the servers and releases every sink. It is safe to call on
// a partially built service.
func (s *Service) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	if s.gw != nil {
		errs = append(errs, s.gw.Stop(ctx))
	} else if s.hub != nil {
		s.hub.Close()
	}
	if s.httpMet != nil {
		s.httpMet.Stop(ctx)
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	if s.journal != nil {
		errs = append(errs, s.journal.Close())
	}
	if s.candles != nil {
		errs = append(errs, s.candles.Close())
	}
	return errors.Join(errs...)
}

// timedListener observes how long the wrapped listener takes.
type timedListener struct {
	next exchange.Listener
	obs  prometheus.Observer
}

func (t *timedListener) OnTrade(tr exchange.Trade) {
	start := time.Now()
	t.next.OnTrade(tr)
	t.obs.Observe(time.Since(start).Seconds())
}

func (t *timedListener) OnPositionClosed(p exchange.Position) {
	start := time.Now()
	t.next.OnPositionClosed(p)
	t.obs.Observe(time.Since(start).Seconds())
}

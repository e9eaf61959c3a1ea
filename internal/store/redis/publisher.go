// Package redis publishes per-sample records to Redis and reads them back.
//
// Every record is written in one pipeline: XADD onto a capped stream, SET
// of the latest record per pair, and PUBLISH for live subscribers.
package redis

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultMaxLen    = 10000
	defaultLatestTTL = 30 * time.Minute
	defaultMaxBuffer = 10000
)

// Config configures a Publisher.
type Config struct {
	Addr      string
	Password  string
	DB        int
	Stream    string // stream key; also prefixes the latest keys and names the channel
	MaxLen    int64  // approximate stream cap
	LatestTTL time.Duration
	MaxBuffer int // records kept while the breaker is open
}

func (c Config) withDefaults() Config {
	if c.Stream == "" {
		c.Stream = "tradeflow:scopes"
	}
	if c.MaxLen <= 0 {
		c.MaxLen = defaultMaxLen
	}
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = defaultMaxBuffer
	}
	return c
}

// LatestKey is the key holding the newest record of pair.
func (c Config) LatestKey(pair string) string { return c.Stream + ":latest:" + pair }

// Channel is the pubsub channel records are published on.
func (c Config) Channel() string { return "pub:" + c.Stream }

// Record is one encoded sample.
type Record struct {
	Pair string
	X    int64
	Data []byte // JSON
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithStateHook observes breaker transitions.
func WithStateHook(fn func(from, to State)) Option {
	return func(p *Publisher) { p.onState = fn }
}

// WithDropHook is called whenever a buffered record is dropped.
func WithDropHook(fn func()) Option {
	return func(p *Publisher) { p.onDrop = fn }
}

// WithBreaker overrides the failure threshold and cooldown of the breaker.
func WithBreaker(maxFailures int, cooldown time.Duration) Option {
	return func(p *Publisher) {
		p.maxFailures = maxFailures
		p.cooldown = cooldown
	}
}

// Publisher writes records through a circuit breaker. While the breaker is
// open, records are buffered and replayed once it closes again.
type Publisher struct {
	client  *goredis.Client
	cfg     Config
	breaker *Breaker

	maxFailures int
	cooldown    time.Duration
	onState     func(from, to State)
	onDrop      func()

	mu      sync.Mutex
	pending []Record
}

// Dial connects to Redis and pings the server.
func Dial(ctx context.Context, cfg Config, opts ...Option) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s (stream=%s)", cfg.Addr, cfg.Stream)
	return newPublisher(client, cfg, opts...), nil
}

func newPublisher(client *goredis.Client, cfg Config, opts ...Option) *Publisher {
	p := &Publisher{
		client:      client,
		cfg:         cfg.withDefaults(),
		maxFailures: 5,
		cooldown:    10 * time.Second,
	}
	for _, o := range opts {
		o(p)
	}
	p.breaker = NewBreaker(p.maxFailures, p.cooldown, func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if p.onState != nil {
			p.onState(from, to)
		}
		if to == StateClosed {
			go p.flush()
		}
	})
	return p
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// Config returns the effective configuration.
func (p *Publisher) Config() Config { return p.cfg }

// Breaker exposes the circuit breaker.
func (p *Publisher) Breaker() *Breaker { return p.breaker }

// Publish writes rec. A record that cannot be written is buffered; the
// error is returned only when the write was attempted and failed.
func (p *Publisher) Publish(ctx context.Context, rec Record) error {
	err := p.breaker.Do(func() error { return p.write(ctx, []Record{rec}) })
	if err == nil {
		return nil
	}
	p.buffer(rec)
	if err == ErrCircuitOpen {
		return nil
	}
	return err
}

func (p *Publisher) write(ctx context.Context, recs []Record) error {
	pipe := p.client.Pipeline()
	for _, r := range recs {
		data := string(r.Data)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.cfg.Stream,
			MaxLen: p.cfg.MaxLen,
			Approx: true,
			Values: map[string]interface{}{"pair": r.Pair, "x": r.X, "data": data},
		})
		pipe.Set(ctx, p.cfg.LatestKey(r.Pair), data, p.cfg.LatestTTL)
		pipe.Publish(ctx, p.cfg.Channel(), data)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline (%d records): %w", len(recs), err)
	}
	return nil
}

func (p *Publisher) buffer(rec Record) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) >= p.cfg.MaxBuffer {
		p.pending = p.pending[1:]
		if p.onDrop != nil {
			p.onDrop()
		}
	}
	p.pending = append(p.pending, rec)
}

// flush replays buffered records in one pipeline. On failure they go back
// to the front of the buffer.
func (p *Publisher) flush() {
	p.mu.Lock()
	recs := p.pending
	p.pending = nil
	p.mu.Unlock()
	if len(recs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.write(ctx, recs); err != nil {
		log.Printf("[redis] flush failed: %v", err)
		p.mu.Lock()
		p.pending = append(recs, p.pending...)
		p.mu.Unlock()
		return
	}
	log.Printf("[redis] flushed %d buffered records", len(recs))
}

// Pending returns the number of buffered records.
func (p *Publisher) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// Close flushes what it can and closes the client.
func (p *Publisher) Close() error {
	if p.breaker.State() == StateClosed {
		p.flush()
	}
	return p.client.Close()
}

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"tradeflow/internal/model"
)

// Observer receives timing information for every processed sample.
// metrics.Metrics implements it.
type Observer interface {
	ObserveUnit(key Key, d time.Duration)
	ObserveSample(x int64, d time.Duration)
}

// Option configures a Processor.
type Option func(*Processor)

// WithObserver attaches a timing observer.
func WithObserver(o Observer) Option {
	return func(p *Processor) { p.observer = o }
}

// WithTracer replaces the tracer used for the per-sample span.
func WithTracer(t trace.Tracer) Option {
	return func(p *Processor) { p.tracer = t }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.log = l }
}

// Processor evaluates a fixed unit list for each incoming sample.
// Process calls are serialized; the units it owns are not safe for use
// from anywhere else while it runs.
type Processor struct {
	mu       sync.Mutex
	units    []Unit
	index    map[Key]Unit
	observer Observer
	tracer   trace.Tracer
	log      *slog.Logger
	samples  int64
}

// NewProcessor validates units and returns a processor for them. The list
// must hold every dependency of every unit, no key twice and no cycles.
// List order decides the order of independent units.
func NewProcessor(units []Unit, opts ...Option) (*Processor, error) {
	index, err := validate(units)
	if err != nil {
		return nil, err
	}
	p := &Processor{
		units:  append([]Unit(nil), units...),
		index:  index,
		tracer: otel.Tracer("tradeflow/graph"),
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func validate(units []Unit) (map[Key]Unit, error) {
	index := make(map[Key]Unit, len(units))
	for _, u := range units {
		k := u.Key()
		if !k.comparable() {
			return nil, fmt.Errorf("%w: %s", ErrKeyNotComparable, k.Name)
		}
		if _, dup := index[k]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateUnit, k)
		}
		index[k] = u
		seen := make(map[string]bool, len(u.Ports()))
		for _, port := range u.Ports() {
			if seen[port.ID] {
				return nil, fmt.Errorf("%w: %s.%s", ErrDuplicatePort, k, port.ID)
			}
			seen[port.ID] = true
		}
	}
	for _, u := range units {
		for _, dep := range u.DependsOn() {
			if _, ok := index[dep]; !ok {
				return nil, fmt.Errorf("%w: %s needs %s", ErrMissingDependency, u.Key(), dep)
			}
		}
	}

	const (
		white = iota
		grey
		black
	)
	color := make(map[Key]int, len(units))
	var visit func(k Key) error
	visit = func(k Key) error {
		switch color[k] {
		case grey:
			return fmt.Errorf("%w: through %s", ErrCycle, k)
		case black:
			return nil
		}
		color[k] = grey
		for _, dep := range index[k].DependsOn() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[k] = black
		return nil
	}
	for _, u := range units {
		if err := visit(u.Key()); err != nil {
			return nil, err
		}
	}
	return index, nil
}

// Units returns the processor's unit list in evaluation order.
func (p *Processor) Units() []Unit {
	return append([]Unit(nil), p.units...)
}

// Samples reports how many samples have been processed.
func (p *Processor) Samples() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.samples
}

// Process runs every unit once for sample and returns the filled scope.
// Any unit error aborts the sample and is returned wrapped with the key.
func (p *Processor) Process(ctx context.Context, sample model.Candle) (*Scope, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	_, span := p.tracer.Start(ctx, "graph.process", trace.WithAttributes(
		attribute.Int64("sample.x", sample.X),
		attribute.String("sample.pair", sample.Pair),
		attribute.Int("graph.units", len(p.units)),
	))
	defer span.End()

	start := time.Now()
	sc := newScope(sample, p.units, p.index)
	for _, u := range p.units {
		if err := p.resolve(sc, u); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	p.samples++
	if p.observer != nil {
		p.observer.ObserveSample(sample.X, time.Since(start))
	}
	return sc, nil
}

func (p *Processor) resolve(sc *Scope, u Unit) error {
	key := u.Key()
	if sc.Executed(key) {
		return nil
	}
	for _, dep := range u.DependsOn() {
		if err := p.resolve(sc, p.index[dep]); err != nil {
			return err
		}
	}

	sc.begin(key)
	start := time.Now()
	err := u.Process(sc)
	sc.end()
	if err != nil {
		return fmt.Errorf("unit %s: %w", key, err)
	}
	if p.observer != nil {
		p.observer.ObserveUnit(key, time.Since(start))
	}
	return nil
}

// Run processes samples from in until it is closed or ctx is done, sending
// each scope to out. Sends block; nothing is dropped. out may be nil when
// only the units' side effects matter.
func (p *Processor) Run(ctx context.Context, in <-chan model.Candle, out chan<- *Scope) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c, ok := <-in:
			if !ok {
				p.log.Debug("graph input closed", "samples", p.Samples())
				return nil
			}
			sc, err := p.Process(ctx, c)
			if err != nil {
				return err
			}
			if out == nil {
				continue
			}
			select {
			case out <- sc:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

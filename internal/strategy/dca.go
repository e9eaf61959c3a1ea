// Package strategy holds the strategy units. A strategy is an ordinary
// graph unit that owns a simulated exchange: each sample it matches the
// candle against its outstanding orders and then re-lays its order ladder
// from indicator outputs.
package strategy

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"tradeflow/internal/exchange"
	"tradeflow/internal/graph"
	"tradeflow/internal/indicator"
)

// DCAName is the unit name of the DCA strategy.
const DCAName = "dca"

// exitSlot is the slot of a ladder's take-profit order.
const exitSlot = -1

var ErrInvalidParams = errors.New("strategy: invalid parameters")

var (
	PortOrders    = graph.ObjectPort("orders")
	PortPosition  = graph.ObjectPort("position")
	PortTrades    = graph.ObjectPort("trades")
	PortAccount   = graph.ObjectPort("account")
	PortEquity    = graph.ScalarPort("equity")
	PortCash      = graph.ScalarPort("cash")
	PortAvailable = graph.ScalarPort("available")
)

// DCAParams configures a DCA ladder. Bull lays buy entries under the
// market with a sell take-profit; Bear mirrors it above the market.
type DCAParams struct {
	Pair        exchange.Pair
	Bollinger   indicator.BollingerParams
	Warmup      int
	DCANumMax   int
	InitialCash float64
	Leverage    float64
	TakeProfit  float64
	Price       PriceStepper
	Volume      VolumeStepper
	Bull        bool
	Bear        bool
}

// DCAKey names the DCA unit for p.
func DCAKey(p DCAParams) graph.Key {
	return graph.NewKey(DCAName, p)
}

func (p DCAParams) validate() error {
	switch {
	case p.Warmup < 0:
		return fmt.Errorf("%w: warmup %d", ErrInvalidParams, p.Warmup)
	case p.DCANumMax < 0:
		return fmt.Errorf("%w: dca_num_max %d", ErrInvalidParams, p.DCANumMax)
	case p.TakeProfit < 0 || math.IsNaN(p.TakeProfit):
		return fmt.Errorf("%w: take_profit %v", ErrInvalidParams, p.TakeProfit)
	case p.Price == nil || p.Volume == nil:
		return fmt.Errorf("%w: price and volume steppers are required", ErrInvalidParams)
	case !p.Bull && !p.Bear:
		return fmt.Errorf("%w: neither bull nor bear ladder enabled", ErrInvalidParams)
	}
	return nil
}

// OrderObserver is told about every ladder submission.
type OrderObserver interface {
	OrderSubmitted(side exchange.Side)
	OrderRejected(side exchange.Side)
}

// Option configures a DCA unit.
type Option func(*DCA)

// WithLogger sets the unit's logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *DCA) { d.log = l }
}

// WithExchangeOptions passes options to the unit's exchange.
func WithExchangeOptions(opts ...exchange.Option) Option {
	return func(d *DCA) { d.exOpts = append(d.exOpts, opts...) }
}

// WithOrderObserver attaches an order observer.
func WithOrderObserver(o OrderObserver) Option {
	return func(d *DCA) { d.observer = o }
}

// Register installs the DCA factory on reg; every unit it builds gets opts.
func Register(reg *graph.Registry, opts ...Option) {
	reg.Register(DCAName, func(param any) (graph.Unit, error) {
		p, ok := param.(DCAParams)
		if !ok {
			return nil, fmt.Errorf("%w: unexpected parameter type %T", ErrInvalidParams, param)
		}
		return NewDCA(p, opts...)
	})
}

type rung struct {
	side exchange.Side
	slot int
}

type target struct {
	price  float64
	volume float64
}

// DCA is a dollar-cost-averaging ladder strategy.
type DCA struct {
	key      graph.Key
	params   DCAParams
	ex       *exchange.Exchange
	exOpts   []exchange.Option
	log      *slog.Logger
	observer OrderObserver
	samples  int

	low, mid, high graph.Slot
}

// NewDCA builds a DCA unit with its own exchange.
func NewDCA(p DCAParams, opts ...Option) (*DCA, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	d := &DCA{
		key:    DCAKey(p),
		params: p,
		log:    slog.Default(),
		low:    p.Bollinger.Low(),
		mid:    p.Bollinger.Mid(),
		high:   p.Bollinger.High(),
	}
	for _, opt := range opts {
		opt(d)
	}
	ex, err := exchange.New(exchange.Config{
		Pair:        p.Pair,
		InitialCash: p.InitialCash,
		Leverage:    p.Leverage,
	}, d.exOpts...)
	if err != nil {
		return nil, err
	}
	d.ex = ex
	d.log = d.log.With("unit", DCAName, "pair", p.Pair.String())
	return d, nil
}

func (d *DCA) Key() graph.Key { return d.key }

func (d *DCA) Ports() []graph.Port {
	return []graph.Port{PortOrders, PortPosition, PortTrades, PortAccount, PortEquity, PortCash, PortAvailable}
}

func (d *DCA) DependsOn() []graph.Key {
	return []graph.Key{indicator.CandlesKey, indicator.BollingerKey(d.params.Bollinger)}
}

// Exchange exposes the unit's exchange for reporting.
func (d *DCA) Exchange() *exchange.Exchange {
	return d.ex
}

func (d *DCA) Process(s *graph.Scope) error {
	c, ok := indicator.CandleOf(s)
	if !ok {
		c = s.Sample
	}
	trades := d.ex.Match(c)
	d.samples++

	if d.samples > d.params.Warmup {
		lo, okL := d.low.Float(s)
		mid, okM := d.mid.Float(s)
		hi, okH := d.high.Float(s)
		if okL && okM && okH {
			if err := d.relayer(c.Low, c.High, lo, mid, hi); err != nil {
				return err
			}
		}
	}
	return d.publish(s, trades)
}

// relayer brings the exchange's outstanding orders in line with the
// ladder for this sample: stale rungs are cancelled, existing rungs are
// amended in place, missing rungs are submitted.
func (d *DCA) relayer(low, high, lower, mid, upper float64) error {
	pos, open := d.ex.Position()
	want := make(map[rung]target, 2*(d.params.DCANumMax+2))
	if d.params.Bull && (!open || pos.Side == exchange.Buy) {
		anchor := math.Max(low, lower)
		d.ladder(exchange.Buy, anchor, mid, pos, open, want)
	}
	if d.params.Bear && (!open || pos.Side == exchange.Sell) {
		anchor := math.Min(high, upper)
		d.ladder(exchange.Sell, anchor, mid, pos, open, want)
	}

	var amend []exchange.Order
	for _, o := range d.ex.Orders() {
		if _, ok := want[rung{o.Side, o.Slot}]; ok {
			amend = append(amend, o)
			continue
		}
		if err := d.ex.Cancel(o.ID); err != nil {
			return err
		}
	}
	for _, o := range amend {
		r := rung{o.Side, o.Slot}
		t := want[r]
		delete(want, r)
		if o.CounterPrice == d.params.Pair.RoundPrice(t.price) && o.CounterVolume == d.params.Pair.RoundVolume(t.volume) {
			continue
		}
		if _, err := d.ex.Change(o.ID, t.price, t.volume); err != nil {
			if !rejected(err) {
				return err
			}
			d.log.Debug("rung amend rejected, cancelling", "side", o.Side, "slot", o.Slot, "err", err)
			if err := d.ex.Cancel(o.ID); err != nil {
				return err
			}
		}
	}

	rest := make([]rung, 0, len(want))
	for r := range want {
		rest = append(rest, r)
	}
	// Exits first, then entries nearest the market first.
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].slot != rest[j].slot {
			return rest[i].slot < rest[j].slot
		}
		return rest[i].side < rest[j].side
	})
	for _, r := range rest {
		t := want[r]
		if _, err := d.ex.Submit(r.side, t.price, t.volume, r.slot); err != nil {
			if !rejected(err) {
				return err
			}
			d.log.Debug("rung rejected", "side", r.side, "slot", r.slot, "price", t.price, "err", err)
			if d.observer != nil {
				d.observer.OrderRejected(r.side)
			}
			continue
		}
		if d.observer != nil {
			d.observer.OrderSubmitted(r.side)
		}
	}
	return nil
}

// ladder adds the wanted rungs of one side. Rung prices start at the
// anchor, pulled further out to the worst fill so far, and step away from
// the market; rungs already filled are skipped.
func (d *DCA) ladder(side exchange.Side, anchor, mid float64, pos exchange.Position, open bool, want map[rung]target) {
	filled := 0
	if open {
		filled = len(pos.Enter)
		if worst, ok := pos.WorstEnterPrice(); ok {
			if side == exchange.Buy {
				anchor = math.Max(anchor, worst)
			} else {
				anchor = math.Min(anchor, worst)
			}
		}
	}

	price := anchor
	if filled > 0 {
		price = d.params.Price.Next(side, anchor)
	}
	for n := filled; n <= d.params.DCANumMax; n++ {
		want[rung{side, n}] = target{price: price, volume: d.params.Volume.At(n)}
		price = d.params.Price.Next(side, price)
	}

	if !open {
		return
	}
	avg := pos.AvgEnterPrice()
	var exit float64
	if side == exchange.Buy {
		exit = math.Max(avg*(1+d.params.TakeProfit), mid)
	} else {
		exit = math.Min(avg*(1-d.params.TakeProfit), mid)
	}
	exit = d.params.Pair.RoundPrice(exit)
	volume := d.params.Pair.CeilVolume(pos.BaseDelta() * exit)
	want[rung{side.Opposite(), exitSlot}] = target{price: exit, volume: volume}
}

func rejected(err error) bool {
	return errors.Is(err, exchange.ErrInsufficientMargin) || errors.Is(err, exchange.ErrInvalidOrder)
}

func (d *DCA) publish(s *graph.Scope, trades []exchange.Trade) error {
	x := s.X()
	acc := d.ex.Account()
	if err := s.Put(d.key, PortOrders, graph.Object(x, d.ex.Orders())); err != nil {
		return err
	}
	if pos, ok := d.ex.Position(); ok {
		if err := s.Put(d.key, PortPosition, graph.Object(x, pos)); err != nil {
			return err
		}
	}
	if len(trades) > 0 {
		if err := s.Put(d.key, PortTrades, graph.Object(x, trades)); err != nil {
			return err
		}
	}
	if err := s.Put(d.key, PortAccount, graph.Object(x, acc)); err != nil {
		return err
	}
	if err := s.Put(d.key, PortEquity, graph.Scalar(x, acc.Equity)); err != nil {
		return err
	}
	if err := s.Put(d.key, PortCash, graph.Scalar(x, acc.Cash)); err != nil {
		return err
	}
	return s.Put(d.key, PortAvailable, graph.Scalar(x, acc.AvailableBalance))
}

package exchange

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"tradeflow/internal/model"
)

var (
	ErrInvalidConfig      = errors.New("exchange: invalid config")
	ErrInvalidOrder       = errors.New("exchange: invalid order")
	ErrInsufficientMargin = errors.New("exchange: insufficient margin")
	ErrOrderNotFound      = errors.New("exchange: order not found")
)

// Config sets up a simulated account.
type Config struct {
	Pair        Pair
	InitialCash float64
	Leverage    float64
}

// Listener is notified of fills and closed positions. Callbacks run while
// the exchange lock is held and must not call back into the exchange.
type Listener interface {
	OnTrade(t Trade)
	OnPositionClosed(p Position)
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithListener registers l for fill notifications.
func WithListener(l Listener) Option {
	return func(e *Exchange) { e.listeners = append(e.listeners, l) }
}

// Exchange is a single-pair matching engine with one open position at a
// time. Every method takes the same lock, so the order set is never read
// and written concurrently.
type Exchange struct {
	mu        sync.Mutex
	cfg       Config
	orders    []Order
	position  *Position
	closed    []Position
	close     float64
	x         int64
	listeners []Listener
}

// New creates an exchange for cfg.
func New(cfg Config, opts ...Option) (*Exchange, error) {
	if cfg.InitialCash < 0 || math.IsNaN(cfg.InitialCash) {
		return nil, fmt.Errorf("%w: initial cash %v", ErrInvalidConfig, cfg.InitialCash)
	}
	if cfg.Leverage <= 0 || math.IsNaN(cfg.Leverage) {
		return nil, fmt.Errorf("%w: leverage %v", ErrInvalidConfig, cfg.Leverage)
	}
	e := &Exchange{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the exchange configuration.
func (e *Exchange) Config() Config {
	return e.cfg
}

// requiredMargin is what an order locks: orders that would add to the
// current position (or open one) lock their full counter volume, orders
// that would reduce it lock nothing.
func (e *Exchange) requiredMargin(o Order) float64 {
	if e.position != nil && o.Side != e.position.Side {
		return 0
	}
	return o.CounterVolume
}

func (e *Exchange) orderMargin() float64 {
	var m float64
	for _, o := range e.orders {
		m += e.requiredMargin(o)
	}
	return m
}

func (e *Exchange) markPrice() float64 {
	if e.close > 0 {
		return e.close
	}
	if e.position != nil {
		return e.position.AvgEnterPrice()
	}
	return 0
}

func (e *Exchange) positionMargin() float64 {
	if e.position == nil {
		return 0
	}
	return e.position.BaseDelta() * e.markPrice()
}

func (e *Exchange) realized() float64 {
	var r float64
	for i := range e.closed {
		r += e.closed[i].CounterDiff()
	}
	return r
}

func (e *Exchange) available() float64 {
	wallet := (e.cfg.InitialCash + e.realized()) * e.cfg.Leverage
	return wallet - e.orderMargin() - e.positionMargin()
}

func (e *Exchange) newOrder(id uuid.UUID, side Side, price, volume float64, slot int) (Order, error) {
	if side != Buy && side != Sell {
		return Order{}, fmt.Errorf("%w: side %v", ErrInvalidOrder, side)
	}
	if !finite(price) || !finite(volume) {
		return Order{}, fmt.Errorf("%w: price %v volume %v", ErrInvalidOrder, price, volume)
	}
	price = e.cfg.Pair.RoundPrice(price)
	volume = e.cfg.Pair.RoundVolume(volume)
	if price <= 0 || volume <= 0 {
		return Order{}, fmt.Errorf("%w: price %v volume %v", ErrInvalidOrder, price, volume)
	}
	return Order{
		ID:            id,
		Side:          side,
		CounterPrice:  price,
		CounterVolume: volume,
		Slot:          slot,
		Pair:          e.cfg.Pair,
	}, nil
}

// Submit places a limit order for volume units of the quote currency at
// price. Price and volume are rounded to the pair's steps first. An order
// whose margin exceeds the available balance is rejected, never queued.
func (e *Exchange) Submit(side Side, price, volume float64, slot int) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	o, err := e.newOrder(uuid.New(), side, price, volume, slot)
	if err != nil {
		return Order{}, err
	}
	if need, avail := e.requiredMargin(o), e.available(); need > avail {
		return Order{}, fmt.Errorf("%w: need %.4f, available %.4f", ErrInsufficientMargin, need, avail)
	}
	e.orders = append(e.orders, o)
	return o, nil
}

// Change amends the price and volume of an outstanding order in place.
// The order keeps its ID, side and slot.
func (e *Exchange) Change(id uuid.UUID, price, volume float64) (Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.find(id)
	if i < 0 {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	old := e.orders[i]
	o, err := e.newOrder(id, old.Side, price, volume, old.Slot)
	if err != nil {
		return Order{}, err
	}
	need := e.requiredMargin(o)
	if avail := e.available() + e.requiredMargin(old); need > avail {
		return Order{}, fmt.Errorf("%w: need %.4f, available %.4f", ErrInsufficientMargin, need, avail)
	}
	e.orders[i] = o
	return o, nil
}

// Cancel removes an outstanding order.
func (e *Exchange) Cancel(id uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	i := e.find(id)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	e.remove(i)
	return nil
}

func (e *Exchange) find(id uuid.UUID) int {
	for i, o := range e.orders {
		if o.ID == id {
			return i
		}
	}
	return -1
}

func (e *Exchange) remove(i int) {
	e.orders = append(e.orders[:i], e.orders[i+1:]...)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// touches reports whether the candle's range reaches the order's limit.
// A buy fills once the low trades at or under its price, a sell once the
// high trades at or over it; this holds for entries and exits alike.
func touches(o Order, c model.Candle) bool {
	if o.Side == Buy {
		return o.CounterPrice >= c.Low
	}
	return o.CounterPrice <= c.High
}

// Match sweeps the outstanding orders against c and returns the fills in
// execution order.
//
// Orders on the side of the open position (all orders when flat) go first,
// then the rest; within each group the order nearest the close goes first.
// The sweep order is fixed up front, but each order is classified as entry
// or exit against the position as it stands when the order is reached, so
// a fill that opens a position turns later opposite orders into exits.
func (e *Exchange) Match(c model.Candle) []Trade {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.close = c.Close
	e.x = c.X

	var same, other []Order
	for _, o := range e.orders {
		if e.position == nil || o.Side == e.position.Side {
			same = append(same, o)
		} else {
			other = append(other, o)
		}
	}
	byDistance := func(os []Order) {
		sort.SliceStable(os, func(i, j int) bool {
			return math.Abs(os[i].CounterPrice-c.Close) < math.Abs(os[j].CounterPrice-c.Close)
		})
	}
	byDistance(same)
	byDistance(other)

	var trades []Trade
	for _, o := range append(same, other...) {
		if !touches(o, c) {
			continue
		}
		if i := e.find(o.ID); i >= 0 {
			e.remove(i)
		}
		t := Trade{Order: o, X: c.X}
		trades = append(trades, t)

		if e.position == nil {
			e.position = &Position{Side: o.Side}
		}
		if o.Side == e.position.Side {
			e.position.Enter = append(e.position.Enter, t)
		} else {
			e.position.Exit = append(e.position.Exit, t)
		}
		for _, l := range e.listeners {
			l.OnTrade(t)
		}

		if e.position.Closed() {
			done := e.position.Clone()
			e.closed = append(e.closed, done)
			e.position = nil
			for _, l := range e.listeners {
				l.OnPositionClosed(done)
			}
		}
	}
	return trades
}

// Orders returns the outstanding orders in submission order.
func (e *Exchange) Orders() []Order {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Order(nil), e.orders...)
}

// Position returns a copy of the open position.
func (e *Exchange) Position() (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.position == nil {
		return Position{}, false
	}
	return e.position.Clone(), true
}

// Closed returns copies of every closed position, oldest first.
func (e *Exchange) Closed() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, len(e.closed))
	for i := range e.closed {
		out[i] = e.closed[i].Clone()
	}
	return out
}

// Package notification delivers alerts about backtest events to a log or
// an HTTP webhook.
package notification

import (
	"context"
	"fmt"
	"log"

	"tradeflow/internal/exchange"
)

// AlertLevel is the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert is one notification.
type Alert struct {
	Level    AlertLevel     `json:"level"`
	Title    string         `json:"title"`
	Message  string         `json:"message"`
	X        int64          `json:"x,omitempty"`
	Position *PositionFacts `json:"position,omitempty"`
}

// PositionFacts is the structured summary of a closed position.
type PositionFacts struct {
	Pair     string  `json:"pair"`
	Side     string  `json:"side"`
	Entries  int     `json:"entries"`
	Exits    int     `json:"exits"`
	AvgEnter float64 `json:"avg_enter"`
	AvgExit  float64 `json:"avg_exit"`
	PnL      float64 `json:"pnl"`
}

func factsOf(pair string, p exchange.Position) *PositionFacts {
	return &PositionFacts{
		Pair:     pair,
		Side:     p.Side.String(),
		Entries:  len(p.Enter),
		Exits:    len(p.Exit),
		AvgEnter: p.AvgEnterPrice(),
		AvgExit:  p.AvgExitPrice(),
		PnL:      p.CounterDiff(),
	}
}

// Notifier delivers alerts.
type Notifier interface {
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier writes alerts to the standard logger.
type LogNotifier struct{}

func (LogNotifier) Send(_ context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Alerter turns closed positions into alerts. It implements
// exchange.Listener; delivery happens on Run's goroutine so a slow
// notifier never stalls matching.
type Alerter struct {
	n     Notifier
	pair  string
	queue chan Alert
	// OnDrop is called when the queue is full and an alert is discarded.
	OnDrop func()
}

// NewAlerter queues up to size alerts for n.
func NewAlerter(n Notifier, pair string, size int) *Alerter {
	if size <= 0 {
		size = 64
	}
	return &Alerter{n: n, pair: pair, queue: make(chan Alert, size)}
}

// OnTrade is a no-op; only closed positions are alerted.
func (a *Alerter) OnTrade(exchange.Trade) {}

// OnPositionClosed queues an alert for p.
func (a *Alerter) OnPositionClosed(p exchange.Position) {
	facts := factsOf(a.pair, p)
	level := AlertInfo
	if facts.PnL < 0 {
		level = AlertWarning
	}
	var x int64
	if n := len(p.Exit); n > 0 {
		x = p.Exit[n-1].X
	}
	a.Notify(Alert{
		Level: level,
		Title: fmt.Sprintf("%s %s position closed", a.pair, p.Side),
		Message: fmt.Sprintf("entries=%d avg_enter=%.8g avg_exit=%.8g pnl=%.8g",
			facts.Entries, facts.AvgEnter, facts.AvgExit, facts.PnL),
		X:        x,
		Position: facts,
	})
}

// Notify queues alert without blocking.
func (a *Alerter) Notify(alert Alert) {
	select {
	case a.queue <- alert:
	default:
		if a.OnDrop != nil {
			a.OnDrop()
		}
	}
}

// Run delivers queued alerts until ctx is cancelled, then delivers what
// is already queued and returns.
func (a *Alerter) Run(ctx context.Context) {
	for {
		select {
		case alert := <-a.queue:
			a.send(ctx, alert)
		case <-ctx.Done():
			for {
				select {
				case alert := <-a.queue:
					a.send(context.Background(), alert)
				default:
					return
				}
			}
		}
	}
}

func (a *Alerter) send(ctx context.Context, alert Alert) {
	if err := a.n.Send(ctx, alert); err != nil {
		log.Printf("[notify] deliver %q: %v", alert.Title, err)
	}
}

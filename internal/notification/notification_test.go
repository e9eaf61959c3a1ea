package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"tradeflow/internal/exchange"
)

type recorder struct {
	mu     sync.Mutex
	alerts []Alert
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, a)
	return nil
}

func closedPosition(exitPrice float64) exchange.Position {
	return exchange.Position{
		Side:  exchange.Buy,
		Enter: []exchange.Trade{{Order: exchange.Order{Side: exchange.Buy, CounterPrice: 100, CounterVolume: 1000}, X: 1}},
		Exit:  []exchange.Trade{{Order: exchange.Order{Side: exchange.Sell, CounterPrice: exitPrice, CounterVolume: exitPrice * 10}, X: 9}},
	}
}

func TestAlerter_PositionClosed(t *testing.T) {
	rec := &recorder{}
	a := NewAlerter(rec, "BTC/USDT", 4)
	a.OnPositionClosed(closedPosition(110))
	a.OnPositionClosed(closedPosition(90))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)

	if len(rec.alerts) != 2 {
		t.Fatalf("delivered %d alerts, want 2", len(rec.alerts))
	}
	win, loss := rec.alerts[0], rec.alerts[1]
	if win.Level != AlertInfo || loss.Level != AlertWarning {
		t.Errorf("levels = %s, %s", win.Level, loss.Level)
	}
	if win.X != 9 || !strings.Contains(win.Title, "BTC/USDT BUY") || !strings.Contains(win.Message, "pnl=100") {
		t.Errorf("win alert = %+v", win)
	}
	if f := win.Position; f == nil || f.Side != "BUY" || f.Entries != 1 || f.Exits != 1 || f.AvgEnter != 100 || f.AvgExit != 110 || f.PnL != 100 {
		t.Errorf("win facts = %+v", win.Position)
	}
	if f := loss.Position; f == nil || f.PnL != -100 {
		t.Errorf("loss facts = %+v", loss.Position)
	}
}

func TestAlerter_DropsWhenFull(t *testing.T) {
	a := NewAlerter(&recorder{}, "BTC/USDT", 1)
	drops := 0
	a.OnDrop = func() { drops++ }
	a.Notify(Alert{Title: "a"})
	a.Notify(Alert{Title: "b"})
	if drops != 1 {
		t.Errorf("drops = %d, want 1", drops)
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("content type = %s", r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Level: AlertCritical, Title: "t", Message: "m", X: 5})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got["level"] != "CRITICAL" || got["title"] != "t" || got["x"] != float64(5) {
		t.Errorf("payload = %v", got)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()
	if err := NewWebhookNotifier(failing.URL).Send(context.Background(), Alert{}); err == nil {
		t.Error("expected error on 502")
	}
}

func TestWebhookNotifier_PositionFacts(t *testing.T) {
	var got struct {
		Level    string         `json:"level"`
		TS       string         `json:"ts"`
		Position map[string]any `json:"position"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	a := NewAlerter(NewWebhookNotifier(srv.URL), "ETH/USDT", 1)
	a.OnPositionClosed(closedPosition(90))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a.Run(ctx)

	if got.Level != "WARNING" || got.TS == "" {
		t.Errorf("payload = %+v", got)
	}
	p := got.Position
	if p["pair"] != "ETH/USDT" || p["side"] != "BUY" || p["avg_enter"] != float64(100) || p["avg_exit"] != float64(90) || p["pnl"] != float64(-100) {
		t.Errorf("position = %v", p)
	}
}

package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"tradeflow/internal/exchange"
	"tradeflow/internal/graph"
)

func TestMetrics_Observers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	key := graph.NewKey("sma", nil)
	m.ObserveUnit(key, time.Microsecond)
	m.ObserveUnit(key, time.Microsecond)
	m.ObserveSample(42, time.Millisecond)
	m.OrderSubmitted(exchange.Buy)
	m.OrderRejected(exchange.Sell)
	m.OnTrade(exchange.Trade{Order: exchange.Order{Side: exchange.Buy}})
	m.SinkDropped("redis")

	if got := testutil.ToFloat64(m.UnitExecutions.WithLabelValues("sma")); got != 2 {
		t.Errorf("unit executions = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.SamplesTotal); got != 1 {
		t.Errorf("samples = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.LastSampleX); got != 42 {
		t.Errorf("last x = %v, want 42", got)
	}
	if got := testutil.ToFloat64(m.OrdersSubmitted.WithLabelValues("BUY")); got != 1 {
		t.Errorf("submitted = %v", got)
	}
	if got := testutil.ToFloat64(m.OrdersRejected.WithLabelValues("SELL")); got != 1 {
		t.Errorf("rejected = %v", got)
	}
	if got := testutil.ToFloat64(m.TradesTotal.WithLabelValues("BUY")); got != 1 {
		t.Errorf("trades = %v", got)
	}
	if got := testutil.ToFloat64(m.SinkDrops.WithLabelValues("redis")); got != 1 {
		t.Errorf("sink drops = %v", got)
	}
}

func TestMetrics_PositionClosedAddsRealized(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())
	pos := exchange.Position{
		Side:  exchange.Buy,
		Enter: []exchange.Trade{{Order: exchange.Order{Side: exchange.Buy, CounterPrice: 100, CounterVolume: 1000}}},
		Exit:  []exchange.Trade{{Order: exchange.Order{Side: exchange.Sell, CounterPrice: 110, CounterVolume: 1100}}},
	}
	m.OnPositionClosed(pos)
	if got := testutil.ToFloat64(m.RealizedPnL); got != 100 {
		t.Errorf("realized = %v, want 100", got)
	}
	if got := testutil.ToFloat64(m.PositionsClosed); got != 1 {
		t.Errorf("closed = %v, want 1", got)
	}
}

func TestServer_Endpoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveSample(1, time.Millisecond)

	health := NewHealthStatus()
	health.SetRunning(true)
	health.RecordSample(time.Now())
	srv := NewServer(":0", reg, health)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "tradeflow_samples_total 1") {
		t.Errorf("/metrics: code=%d body=%q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("/healthz code = %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if body["status"] != "healthy" || body["samples"] != float64(1) {
		t.Errorf("healthz = %v", body)
	}
}

func TestHealthStatus_Degraded(t *testing.T) {
	h := NewHealthStatus()
	h.mu.Lock()
	h.RedisEnabled = true
	h.SQLiteEnabled, h.SQLiteOK = true, true
	h.mu.Unlock()

	if s, code := h.status(); s != "degraded" || code != http.StatusServiceUnavailable {
		t.Errorf("status = %s/%d, want degraded/503", s, code)
	}
}

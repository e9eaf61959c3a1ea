package exchange

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"

	"tradeflow/internal/model"
)

var testPair = Pair{Base: "BTC", Quote: "USDT", PriceStep: 0.01, VolumeStep: 0.01}

func newExchange(t *testing.T, cash, leverage float64, opts ...Option) *Exchange {
	t.Helper()
	e, err := New(Config{Pair: testPair, InitialCash: cash, Leverage: leverage}, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

func candle(x int64, open, high, low, close float64) model.Candle {
	return model.Candle{X: x, Open: open, High: high, Low: low, Close: close, Volume: 1}
}

func submit(t *testing.T, e *Exchange, side Side, price, volume float64, slot int) Order {
	t.Helper()
	o, err := e.Submit(side, price, volume, slot)
	if err != nil {
		t.Fatalf("Submit %s %.2f: %v", side, price, err)
	}
	return o
}

func assertClose(t *testing.T, label string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Errorf("%s: got %.6f, want %.6f", label, got, want)
	}
}

type recorder struct {
	trades []Trade
	closed []Position
}

func (r *recorder) OnTrade(t Trade)             { r.trades = append(r.trades, t) }
func (r *recorder) OnPositionClosed(p Position) { r.closed = append(r.closed, p) }

func TestNew_RejectsBadConfig(t *testing.T) {
	for _, cfg := range []Config{
		{InitialCash: -1, Leverage: 1},
		{InitialCash: 100, Leverage: 0},
	} {
		if _, err := New(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("New(%+v) err = %v", cfg, err)
		}
	}
}

func TestMatch_ExitFillClosesPosition(t *testing.T) {
	rec := &recorder{}
	e := newExchange(t, 1000, 1, WithListener(rec))

	submit(t, e, Buy, 100, 1000, 0)
	if trades := e.Match(candle(1, 101, 102, 99, 100)); len(trades) != 1 {
		t.Fatalf("entry: %d trades, want 1", len(trades))
	}
	pos, ok := e.Position()
	if !ok || pos.Side != Buy {
		t.Fatalf("no open BUY position: %+v", pos)
	}
	assertClose(t, "base", pos.BaseDelta(), 10)

	submit(t, e, Sell, 110, 1100, -1)
	trades := e.Match(candle(2, 100, 111, 95, 108))
	if len(trades) != 1 || trades[0].Side != Sell {
		t.Fatalf("exit: trades = %+v", trades)
	}
	if _, ok := e.Position(); ok {
		t.Fatal("position still open after full exit")
	}
	closed := e.Closed()
	if len(closed) != 1 {
		t.Fatalf("closed = %d, want 1", len(closed))
	}
	if len(closed[0].Exit) != 1 || len(closed[0].Enter) != 1 {
		t.Errorf("closed trades: enter=%d exit=%d", len(closed[0].Enter), len(closed[0].Exit))
	}
	assertClose(t, "realized", closed[0].CounterDiff(), 100)

	acc := e.Account()
	assertClose(t, "cash", acc.Cash, 1100)
	if len(e.Orders()) != 0 {
		t.Errorf("orders left: %v", e.Orders())
	}
	if len(rec.trades) != 2 || len(rec.closed) != 1 {
		t.Errorf("listener saw %d trades, %d closed", len(rec.trades), len(rec.closed))
	}
}

func TestMatch_PartialExitKeepsPositionOpen(t *testing.T) {
	e := newExchange(t, 1000, 1)
	submit(t, e, Buy, 100, 1000, 0)
	e.Match(candle(1, 100, 100, 100, 100))

	submit(t, e, Sell, 110, 550, -1)
	e.Match(candle(2, 100, 111, 95, 108))

	pos, ok := e.Position()
	if !ok {
		t.Fatal("position closed after partial exit")
	}
	if len(pos.Exit) != 1 {
		t.Fatalf("exit trades = %d", len(pos.Exit))
	}
	assertClose(t, "remaining base", pos.BaseDelta(), 5)
	assertClose(t, "partial realized", pos.CounterDiff(), 50)
	if len(e.Closed()) != 0 {
		t.Error("partial exit recorded as closed")
	}
}

func TestMatch_FillRules(t *testing.T) {
	tests := []struct {
		name      string
		side      Side
		price     float64
		high, low float64
		fills     bool
	}{
		{"buy at low", Buy, 95, 105, 95, true},
		{"buy above low", Buy, 99, 105, 95, true},
		{"buy under low", Buy, 94.99, 105, 95, false},
		{"sell at high", Sell, 105, 105, 95, true},
		{"sell under high", Sell, 101, 105, 95, true},
		{"sell over high", Sell, 105.01, 105, 95, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newExchange(t, 1000, 1)
			submit(t, e, tt.side, tt.price, 100, 0)
			trades := e.Match(candle(1, 100, tt.high, tt.low, 100))
			if got := len(trades) == 1; got != tt.fills {
				t.Errorf("filled = %v, want %v", got, tt.fills)
			}
		})
	}
}

func TestMatch_NearestToCloseFirst(t *testing.T) {
	e := newExchange(t, 1000, 1)
	submit(t, e, Buy, 99, 100, 0)
	submit(t, e, Buy, 95, 100, 1)
	submit(t, e, Buy, 97, 100, 2)

	trades := e.Match(candle(1, 100, 100, 90, 96))
	if len(trades) != 3 {
		t.Fatalf("trades = %d, want 3", len(trades))
	}
	want := []float64{95, 97, 99}
	for i, tr := range trades {
		if tr.CounterPrice != want[i] {
			t.Errorf("fill %d at %.2f, want %.2f", i, tr.CounterPrice, want[i])
		}
	}
}

func TestMatch_ClassifiesAgainstCurrentPosition(t *testing.T) {
	// Flat: both orders are entries at sweep start. The buy is nearer the
	// close, opens a long, and the sell is then matched as its exit.
	e := newExchange(t, 3000, 1)
	submit(t, e, Buy, 100, 1000, 0)
	submit(t, e, Sell, 105, 1050, 0)

	trades := e.Match(candle(1, 100, 106, 98, 101))
	if len(trades) != 2 {
		t.Fatalf("trades = %d, want 2", len(trades))
	}
	if trades[0].Side != Buy {
		t.Errorf("first fill %s, want BUY", trades[0].Side)
	}
	closed := e.Closed()
	if len(closed) != 1 || closed[0].Side != Buy {
		t.Fatalf("closed = %+v", closed)
	}
	assertClose(t, "realized", closed[0].CounterDiff(), 50)
}

func TestMatch_ShortPosition(t *testing.T) {
	e := newExchange(t, 1000, 1)
	submit(t, e, Sell, 100, 1000, 0)
	e.Match(candle(1, 99, 101, 98, 99))

	pos, ok := e.Position()
	if !ok || pos.Side != Sell {
		t.Fatalf("no open SELL position")
	}
	assertClose(t, "unrealized at 90", pos.Unrealized(90), 100)

	submit(t, e, Buy, 90, 900, -1)
	e.Match(candle(2, 95, 96, 89, 91))
	closed := e.Closed()
	if len(closed) != 1 {
		t.Fatalf("closed = %d", len(closed))
	}
	assertClose(t, "short realized", closed[0].CounterDiff(), 100)
}

func TestSubmit_MarginRejection(t *testing.T) {
	e := newExchange(t, 1000, 1)
	submit(t, e, Buy, 100, 600, 0)
	if _, err := e.Submit(Buy, 90, 600, 1); !errors.Is(err, ErrInsufficientMargin) {
		t.Fatalf("err = %v, want ErrInsufficientMargin", err)
	}
	if n := len(e.Orders()); n != 1 {
		t.Errorf("rejected order was queued: %d orders", n)
	}

	// Leverage widens the wallet.
	e = newExchange(t, 1000, 2)
	submit(t, e, Buy, 100, 600, 0)
	submit(t, e, Buy, 90, 600, 1)
}

func TestSubmit_ExitNeedsNoMargin(t *testing.T) {
	e := newExchange(t, 1000, 1)
	submit(t, e, Buy, 100, 1000, 0)
	e.Match(candle(1, 100, 100, 100, 100))

	// Every unit of cash is in the position; an exit still goes through.
	if _, err := e.Submit(Sell, 120, 1200, -1); err != nil {
		t.Fatalf("exit rejected: %v", err)
	}
	if _, err := e.Submit(Buy, 90, 10, 1); !errors.Is(err, ErrInsufficientMargin) {
		t.Errorf("entry with no balance: err = %v", err)
	}
}

func TestSubmit_InvalidAndRounding(t *testing.T) {
	e := newExchange(t, 1000, 1)
	for _, tc := range []struct{ price, volume float64 }{{0, 10}, {10, 0}, {-1, 10}, {math.NaN(), 10}} {
		if _, err := e.Submit(Buy, tc.price, tc.volume, 0); !errors.Is(err, ErrInvalidOrder) {
			t.Errorf("Submit(%v, %v) err = %v", tc.price, tc.volume, err)
		}
	}

	o := submit(t, e, Buy, 100.004, 10.019, 0)
	if o.CounterPrice != 100 || o.CounterVolume != 10.01 {
		t.Errorf("rounded to %.4f / %.4f", o.CounterPrice, o.CounterVolume)
	}
}

func TestChangeAndCancel(t *testing.T) {
	e := newExchange(t, 1000, 1)
	o := submit(t, e, Buy, 100, 500, 3)

	changed, err := e.Change(o.ID, 98, 900)
	if err != nil {
		t.Fatalf("Change: %v", err)
	}
	if changed.ID != o.ID || changed.Slot != 3 || changed.CounterPrice != 98 {
		t.Errorf("changed = %+v", changed)
	}
	// The order's own margin is released before the check.
	if _, err := e.Change(o.ID, 98, 1000); err != nil {
		t.Errorf("Change to full balance: %v", err)
	}
	if _, err := e.Change(o.ID, 98, 1001); !errors.Is(err, ErrInsufficientMargin) {
		t.Errorf("Change over balance: err = %v", err)
	}

	if _, err := e.Change(uuid.New(), 1, 1); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("Change unknown: err = %v", err)
	}
	if err := e.Cancel(o.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if err := e.Cancel(o.ID); !errors.Is(err, ErrOrderNotFound) {
		t.Errorf("second Cancel: err = %v", err)
	}
}

func TestAccount(t *testing.T) {
	e := newExchange(t, 1000, 2)
	submit(t, e, Buy, 100, 500, 0)
	e.Match(candle(1, 100, 100, 100, 100))
	submit(t, e, Buy, 80, 200, 1)
	e.Match(candle(2, 95, 96, 89, 90))

	acc := e.Account()
	assertClose(t, "cash", acc.Cash, 1000)
	assertClose(t, "wallet", acc.WalletBalance, 2000)
	assertClose(t, "order margin", acc.OrderMargin, 200)
	assertClose(t, "position margin", acc.PositionMargin, 450)
	assertClose(t, "used", acc.UsedMargin, 650)
	assertClose(t, "available", acc.AvailableBalance, 1350)
	assertClose(t, "unrealized", acc.Unrealized, -50)
	assertClose(t, "equity", acc.Equity, 1300)
}

func TestPosition_Derived(t *testing.T) {
	p := Position{Side: Buy}
	if _, ok := p.WorstEnterPrice(); ok {
		t.Error("worst price on empty position")
	}
	p.Enter = []Trade{
		{Order: Order{Side: Buy, CounterPrice: 100, CounterVolume: 100}},
		{Order: Order{Side: Buy, CounterPrice: 90, CounterVolume: 180}},
	}
	worst, _ := p.WorstEnterPrice()
	assertClose(t, "worst long", worst, 90)
	assertClose(t, "enter base", p.EnterBase(), 3)
	assertClose(t, "avg enter", p.AvgEnterPrice(), 280.0/3)

	clone := p.Clone()
	clone.Enter[0].CounterPrice = 1
	if p.Enter[0].CounterPrice != 100 {
		t.Error("Clone shares trade storage")
	}

	s := Position{Side: Sell, Enter: []Trade{
		{Order: Order{Side: Sell, CounterPrice: 100, CounterVolume: 100}},
		{Order: Order{Side: Sell, CounterPrice: 110, CounterVolume: 110}},
	}}
	worst, _ = s.WorstEnterPrice()
	assertClose(t, "worst short", worst, 110)
}

func TestExchange_ConcurrentChangeCancelDuringMatch(t *testing.T) {
	e := newExchange(t, 1e6, 1)

	const n = 60
	ids := make([]uuid.UUID, n)
	for i := range ids {
		ids[i] = submit(t, e, Buy, 90, 100, i).ID
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		cancelled = map[uuid.UUID]bool{}
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		for round := 0; round < 20; round++ {
			for i, id := range ids {
				price := 90 + float64((round+i)%3)
				if _, err := e.Change(id, price, 100); err != nil && !errors.Is(err, ErrOrderNotFound) {
					t.Errorf("Change: %v", err)
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < n; i += 2 {
			err := e.Cancel(ids[i])
			switch {
			case err == nil:
				mu.Lock()
				cancelled[ids[i]] = true
				mu.Unlock()
			case !errors.Is(err, ErrOrderNotFound):
				t.Errorf("Cancel: %v", err)
			}
		}
	}()

	filled := map[uuid.UUID]int{}
	for x := int64(1); x <= 200; x++ {
		low := 95.0
		if x%10 == 0 {
			low = 90.5
		}
		for _, tr := range e.Match(candle(x, 100, 101, low, 100)) {
			filled[tr.ID]++
		}
	}
	wg.Wait()
	for _, tr := range e.Match(candle(201, 100, 101, 50, 100)) {
		filled[tr.ID]++
	}

	if got := len(e.Orders()); got != 0 {
		t.Errorf("%d orders still outstanding", got)
	}
	for _, id := range ids {
		switch {
		case filled[id] > 1:
			t.Errorf("order %s filled %d times", id, filled[id])
		case filled[id] == 1 && cancelled[id]:
			t.Errorf("order %s both filled and cancelled", id)
		case filled[id] == 0 && !cancelled[id]:
			t.Errorf("order %s neither filled nor cancelled", id)
		}
	}
	pos, ok := e.Position()
	if want := n - len(cancelled); want > 0 && (!ok || len(pos.Enter) != want) {
		t.Errorf("position entries = %d, want %d", len(pos.Enter), want)
	}
}

package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"tradeflow/internal/exchange"
	"tradeflow/internal/model"
)

func candle(x int64, c float64) model.Candle {
	return model.Candle{Pair: "BTC/USDT", X: x, Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 2}
}

func TestCandleStore_InsertAndRange(t *testing.T) {
	s, err := OpenCandles(filepath.Join(t.TempDir(), "candles.db"))
	if err != nil {
		t.Fatalf("OpenCandles: %v", err)
	}
	defer s.Close()

	in := []model.Candle{candle(3000, 103), candle(1000, 101), candle(2000, 102)}
	if err := s.Insert(in); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	// Same key replaces.
	if err := s.Insert([]model.Candle{candle(2000, 200)}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := s.Candles(context.Background(), "BTC/USDT", 0, 0)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	for i, x := range []int64{1000, 2000, 3000} {
		if got[i].X != x {
			t.Errorf("candle %d: x = %d, want %d", i, got[i].X, x)
		}
	}
	if got[1].Close != 200 {
		t.Errorf("replaced close = %v, want 200", got[1].Close)
	}
	if !got[0].OpenTime.Equal(model.TimeFromX(1000)) {
		t.Errorf("open time not derived from x: %v", got[0].OpenTime)
	}

	ranged, err := s.Candles(context.Background(), "BTC/USDT", 2000, 3000)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(ranged) != 1 || ranged[0].X != 2000 {
		t.Errorf("range [2000,3000) = %+v", ranged)
	}

	last, err := s.LastX("BTC/USDT")
	if err != nil || last != 3000 {
		t.Errorf("LastX = %d, %v", last, err)
	}
	if last, _ := s.LastX("ETH/USDT"); last != 0 {
		t.Errorf("LastX for unknown pair = %d", last)
	}
}

func TestCandleStore_RunFlushesOnClose(t *testing.T) {
	s, err := OpenCandles(filepath.Join(t.TempDir(), "candles.db"))
	if err != nil {
		t.Fatalf("OpenCandles: %v", err)
	}
	defer s.Close()

	in := make(chan model.Candle, 250)
	for i := int64(0); i < 250; i++ {
		in <- candle(i, 100+float64(i))
	}
	close(in)

	if err := s.Run(context.Background(), in); err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, err := s.Candles(context.Background(), "BTC/USDT", 0, 0)
	if err != nil {
		t.Fatalf("Candles: %v", err)
	}
	if len(got) != 250 {
		t.Errorf("expected 250 candles, got %d", len(got))
	}
}

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := OpenJournal(path, "run-1")
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer j.Close()

	pair := exchange.Pair{Base: "BTC", Quote: "USDT", PriceStep: 0.01, VolumeStep: 0.01}
	enter := exchange.Trade{
		Order: exchange.Order{ID: uuid.New(), Side: exchange.Buy, CounterPrice: 100, CounterVolume: 1000, Slot: 0, Pair: pair},
		X:     1,
	}
	exit := exchange.Trade{
		Order: exchange.Order{ID: uuid.New(), Side: exchange.Sell, CounterPrice: 110, CounterVolume: 1100, Slot: -1, Pair: pair},
		X:     2,
	}
	j.OnTrade(enter)
	j.OnTrade(exit)
	j.OnPositionClosed(exchange.Position{Side: exchange.Buy, Enter: []exchange.Trade{enter}, Exit: []exchange.Trade{exit}})

	trades, err := j.Trades(10)
	if err != nil {
		t.Fatalf("Trades: %v", err)
	}
	if len(trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(trades))
	}
	if trades[0].Side != "SELL" || trades[0].Slot != -1 || trades[0].X != 2 {
		t.Errorf("newest trade = %+v", trades[0])
	}
	if trades[1].OrderID != enter.ID.String() || trades[1].Pair != "BTC/USDT" {
		t.Errorf("oldest trade = %+v", trades[1])
	}

	pnl, n, err := j.RealizedPnL()
	if err != nil {
		t.Fatalf("RealizedPnL: %v", err)
	}
	if n != 1 || math.Abs(pnl-100) > 1e-9 {
		t.Errorf("pnl = %v over %d positions, want 100 over 1", pnl, n)
	}

	other, err := OpenJournal(path, "run-2")
	if err != nil {
		t.Fatalf("OpenJournal: %v", err)
	}
	defer other.Close()
	if trades, _ := other.Trades(10); len(trades) != 0 {
		t.Errorf("fresh run sees %d trades", len(trades))
	}
}

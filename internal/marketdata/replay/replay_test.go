package replay

import (
	"context"
	"errors"
	"testing"
	"time"

	"tradeflow/internal/model"
)

type sliceLoader []model.Candle

func (s sliceLoader) Candles(_ context.Context, pair string, fromX, toX int64) ([]model.Candle, error) {
	var out []model.Candle
	for _, c := range s {
		if c.Pair == pair && c.X >= fromX && (toX == 0 || c.X < toX) {
			out = append(out, c)
		}
	}
	return out, nil
}

func candle(x int64, price float64) model.Candle {
	return model.Candle{
		Pair: "BTC/USDT", X: x, OpenTime: model.TimeFromX(x),
		Open: price, High: price, Low: price, Close: price,
	}
}

func collect(t *testing.T, r *Replayer) ([]model.Candle, error) {
	t.Helper()
	out := make(chan model.Candle, 16)
	errc := make(chan error, 1)
	go func() { errc <- r.Run(context.Background(), out) }()
	var got []model.Candle
	for c := range out {
		got = append(got, c)
	}
	return got, <-errc
}

func TestReplayer_OrdersAndDedupes(t *testing.T) {
	loader := sliceLoader{candle(3000, 3), candle(1000, 1), candle(2000, 2), candle(2000, 9)}
	got, err := collect(t, New(loader, Options{Pair: "BTC/USDT"}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 candles, got %d", len(got))
	}
	for i, want := range []float64{1, 2, 3} {
		if got[i].Close != want {
			t.Errorf("candle %d close = %v, want %v", i, got[i].Close, want)
		}
	}
}

func TestReplayer_Range(t *testing.T) {
	loader := sliceLoader{candle(1000, 1), candle(2000, 2), candle(3000, 3)}
	got, _ := collect(t, New(loader, Options{Pair: "BTC/USDT", FromX: 2000, ToX: 3000}))
	if len(got) != 1 || got[0].X != 2000 {
		t.Errorf("range replay = %+v", got)
	}
}

func TestReplayer_InvalidCandle(t *testing.T) {
	bad := candle(2000, 2)
	bad.High = 1
	loader := sliceLoader{candle(1000, 1), bad, candle(3000, 3)}

	if _, err := collect(t, New(loader, Options{Pair: "BTC/USDT"})); err == nil {
		t.Error("expected error for invalid candle")
	}
	got, err := collect(t, New(loader, Options{Pair: "BTC/USDT", SkipInvalid: true}))
	if err != nil || len(got) != 2 {
		t.Errorf("SkipInvalid replay = %d candles, %v", len(got), err)
	}
}

func TestReplayer_SpeedScalesGaps(t *testing.T) {
	loader := sliceLoader{candle(0, 1), candle(60000, 2), candle(3600000, 3)}
	r := New(loader, Options{Pair: "BTC/USDT", Speed: 60})
	var waits []time.Duration
	r.sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	if _, err := collect(t, r); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != maxGap {
		t.Errorf("waits = %v, want [1s %v]", waits, maxGap)
	}
}

func TestReplayer_Cancel(t *testing.T) {
	loader := sliceLoader{candle(1000, 1), candle(2000, 2)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := make(chan model.Candle)
	err := New(loader, Options{Pair: "BTC/USDT"}).Run(ctx, out)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if _, ok := <-out; ok {
		t.Error("out not closed")
	}
}

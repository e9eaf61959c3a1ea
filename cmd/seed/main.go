// cmd/seed fills a SQLite candle store with a synthetic random walk so the
// backtest has something to replay without a market data feed.
//
// Usage:
//
//	go run ./cmd/seed --db=data/candles.db --pair=BTC/USDT --count=10000
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeflow/internal/marketdata/synth"
	"tradeflow/internal/model"
	sqlitestore "tradeflow/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	_ = godotenv.Load()

	dbPath := flag.String("db", getEnv("SQLITE_PATH", "data/candles.db"), "Path to SQLite database")
	pair := flag.String("pair", "BTC/USDT", "Pair to generate")
	count := flag.Int("count", 10000, "Number of candles")
	seed := flag.Int64("seed", 1, "Random walk seed")
	startPrice := flag.Float64("start-price", 30000, "Open of the first candle")
	vol := flag.Float64("vol", 0.004, "Per-candle volatility")
	interval := flag.Duration("interval", time.Minute, "Candle interval")
	startMs := flag.Int64("start", 0, "First open time in Unix ms (0 = continue after the stored series)")
	flag.Parse()

	store, err := sqlitestore.OpenCandles(*dbPath)
	if err != nil {
		log.Fatalf("[seed] sqlite open failed: %v", err)
	}
	defer store.Close()

	start := *startMs
	if start == 0 {
		last, err := store.LastX(*pair)
		if err != nil {
			log.Fatalf("[seed] last x: %v", err)
		}
		if last > 0 {
			start = last + interval.Milliseconds()
		} else {
			start = time.Now().Add(-time.Duration(*count) * *interval).Truncate(*interval).UnixMilli()
		}
	}

	candles := synth.Generate(synth.Config{
		Pair:       *pair,
		Seed:       *seed,
		Count:      *count,
		StartPrice: *startPrice,
		Volatility: *vol,
		Interval:   *interval,
		StartX:     start,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ch := make(chan model.Candle, 1000)
	go func() {
		defer close(ch)
		for _, c := range candles {
			select {
			case ch <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	if err := store.Run(ctx, ch); err != nil {
		log.Fatalf("[seed] write failed: %v", err)
	}
	log.Printf("[seed] wrote %d %s candles starting at x=%d into %s", len(candles), *pair, start, *dbPath)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// cmd/backtest runs the DCA strategy over a candle source (SQLite or a
// synthetic walk) through the unit graph and prints the run summary.
//
// Usage:
//
//	go run ./cmd/backtest --config=config/backtest.yaml --speed=0
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"tradeflow/config"
	"tradeflow/internal/backtest"
	"tradeflow/internal/logger"
	"tradeflow/internal/portfolio"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	_ = godotenv.Load()

	cfgPath := flag.String("config", "", "Path to the YAML config (empty = defaults + env)")
	speed := flag.Float64("speed", -1, "Playback speed multiplier, overrides the config (0=max, 1=realtime)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("[backtest] %v", err)
	}
	if *speed >= 0 {
		cfg.Source.Speed = *speed
	}

	slogger := logger.Init(cfg.App.Name, logger.ParseLevel(cfg.App.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []backtest.Option{backtest.WithLogger(slogger)}
	if cfg.App.Trace == "stdout" {
		tracer, shutdown, err := logger.InitTracing(ctx, cfg.App.Name, os.Stderr)
		if err != nil {
			log.Fatalf("[backtest] tracing init failed: %v", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Printf("[backtest] tracer shutdown: %v", err)
			}
		}()
		opts = append(opts, backtest.WithTracer(tracer))
	}

	svc, err := backtest.New(ctx, cfg, opts...)
	if err != nil {
		log.Fatalf("[backtest] setup failed: %v", err)
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Printf("[backtest] close: %v", err)
		}
	}()

	start := time.Now()
	summary, err := svc.Run(ctx)
	if err != nil {
		log.Printf("[backtest] run stopped: %v", err)
	}
	printSummary(svc.RunID(), summary, time.Since(start))
}

func printSummary(runID string, s portfolio.Summary, elapsed time.Duration) {
	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════╗")
	fmt.Println("║            BACKTEST COMPLETE             ║")
	fmt.Println("╠══════════════════════════════════════════╣")
	fmt.Printf("║  Run:              %-21s ║\n", truncate(runID, 21))
	fmt.Printf("║  Samples:          %-21d ║\n", s.Samples)
	fmt.Printf("║  Trades:           %-21s ║\n", fmt.Sprintf("%d (%d buy / %d sell)", s.Trades, s.Buys, s.Sells))
	fmt.Printf("║  Positions closed: %-21d ║\n", s.PositionsClosed)
	fmt.Printf("║  Win rate:         %-21s ║\n", fmt.Sprintf("%.1f%%", s.WinRate*100))
	fmt.Printf("║  Profit factor:    %-21.2f ║\n", s.ProfitFactor)
	fmt.Printf("║  Realized PnL:     %-21.2f ║\n", s.RealizedPnL)
	fmt.Printf("║  Final value:      %-21.2f ║\n", s.FinalValue)
	fmt.Printf("║  Return:           %-21s ║\n", fmt.Sprintf("%.2f%%", s.ReturnPct))
	fmt.Printf("║  Max drawdown:     %-21s ║\n", fmt.Sprintf("%.2f (%.2f%%)", s.MaxDrawdown, s.MaxDrawdownPct))
	fmt.Printf("║  Elapsed:          %-21s ║\n", elapsed.Round(time.Millisecond))
	fmt.Println("╚══════════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

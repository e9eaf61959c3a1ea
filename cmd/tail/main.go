// cmd/tail follows the Redis stream a backtest publishes to and prints each
// record, optionally starting with the latest snapshot of a pair.
//
// Usage:
//
//	go run ./cmd/tail --addr=localhost:6379 --stream=tradeflow:scopes --from=0
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	redisstore "tradeflow/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	_ = godotenv.Load()

	addr := flag.String("addr", getEnv("REDIS_ADDR", "localhost:6379"), "Redis address")
	stream := flag.String("stream", "tradeflow:scopes", "Stream key")
	from := flag.String("from", "$", "Stream id to read after (0 = whole stream, $ = new entries)")
	latest := flag.String("latest", "", "Print the latest record of this pair first")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r, err := redisstore.NewReader(ctx, redisstore.Config{
		Addr:     *addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		Stream:   *stream,
	})
	if err != nil {
		log.Fatalf("[tail] %v", err)
	}
	defer r.Close()

	if *latest != "" {
		data, err := r.Latest(ctx, *latest)
		if err != nil {
			log.Fatalf("[tail] %v", err)
		}
		if data == nil {
			log.Printf("[tail] no latest record for %s", *latest)
		} else {
			fmt.Printf("latest %s %s\n", *latest, data)
		}
	}

	entries := make(chan redisstore.Entry, 100)
	go func() {
		defer close(entries)
		if err := r.Tail(ctx, *from, entries); err != nil && ctx.Err() == nil {
			log.Printf("[tail] %v", err)
		}
	}()
	n := 0
	for e := range entries {
		n++
		fmt.Printf("%s %s x=%d %s\n", e.ID, e.Pair, e.X, e.Data)
	}
	log.Printf("[tail] stopped after %d entries", n)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

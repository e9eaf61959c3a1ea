package redis

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Entry is a record read back from the stream.
type Entry struct {
	ID   string
	Pair string
	X    int64
	Data []byte
}

// Reader reads records written by a Publisher.
type Reader struct {
	client *goredis.Client
	cfg    Config
}

// NewReader connects to Redis and pings the server.
func NewReader(ctx context.Context, cfg Config) (*Reader, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis-reader] connected to %s", cfg.Addr)
	return &Reader{client: client, cfg: cfg.withDefaults()}, nil
}

// Latest returns the newest record of pair, or nil when none is stored.
func (r *Reader) Latest(ctx context.Context, pair string) ([]byte, error) {
	data, err := r.client.Get(ctx, r.cfg.LatestKey(pair)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET latest: %w", err)
	}
	return data, nil
}

// Tail streams entries after fromID ("0" for the whole stream, "$" for new
// entries only) until ctx is cancelled.
func (r *Reader) Tail(ctx context.Context, fromID string, out chan<- Entry) error {
	last := fromID
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := r.client.XRead(ctx, &goredis.XReadArgs{
			Streams: []string{r.cfg.Stream, last},
			Count:   100,
			Block:   2 * time.Second,
		}).Result()
		if err != nil {
			if err == goredis.Nil || ctx.Err() != nil {
				continue
			}
			log.Printf("[redis-reader] xread error: %v", err)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				last = msg.ID
				e, ok := decodeEntry(msg)
				if !ok {
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func decodeEntry(msg goredis.XMessage) (Entry, bool) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		return Entry{}, false
	}
	e := Entry{ID: msg.ID, Data: []byte(data)}
	e.Pair, _ = msg.Values["pair"].(string)
	if xs, ok := msg.Values["x"].(string); ok {
		e.X, _ = strconv.ParseInt(xs, 10, 64)
	}
	return e, true
}

// Close closes the client.
func (r *Reader) Close() error {
	return r.client.Close()
}

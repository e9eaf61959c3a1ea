// Package replay emits historical candles in x order at a configurable
// speed for backtesting.
package replay

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"tradeflow/internal/model"
)

// maxGap caps a single simulated wait.
const maxGap = 5 * time.Second

// Loader returns the candles of pair with fromX <= x < toX (toX 0 means
// unbounded).
type Loader interface {
	Candles(ctx context.Context, pair string, fromX, toX int64) ([]model.Candle, error)
}

// Options select the replayed range and pace.
type Options struct {
	Pair  string
	FromX int64
	ToX   int64
	// Speed is the playback rate: 1 replays in real time, 10 ten times
	// faster, 0 as fast as the consumer reads.
	Speed float64
	// SkipInvalid drops candles whose OHLC fields are inconsistent instead
	// of failing the replay.
	SkipInvalid bool
}

// Replayer streams candles from a Loader.
type Replayer struct {
	loader Loader
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Replayer.
func New(loader Loader, opts Options) *Replayer {
	return &Replayer{loader: loader, opts: opts, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run sends every candle to out in ascending x and closes out when done.
// Candles sharing an x with their predecessor are dropped.
func (r *Replayer) Run(ctx context.Context, out chan<- model.Candle) error {
	defer close(out)

	candles, err := r.loader.Candles(ctx, r.opts.Pair, r.opts.FromX, r.opts.ToX)
	if err != nil {
		return fmt.Errorf("replay load: %w", err)
	}
	if len(candles) == 0 {
		log.Printf("[replay] no candles for %s", r.opts.Pair)
		return nil
	}
	sort.SliceStable(candles, func(i, j int) bool { return candles[i].X < candles[j].X })
	log.Printf("[replay] loaded %d candles for %s, speed=%.1fx", len(candles), r.opts.Pair, r.opts.Speed)

	emitted := 0
	var prev *model.Candle
	for i := range candles {
		c := candles[i]
		if !c.Valid() {
			if r.opts.SkipInvalid {
				continue
			}
			return fmt.Errorf("replay: invalid candle at x=%d", c.X)
		}
		if prev != nil {
			if c.X == prev.X {
				continue
			}
			if r.opts.Speed > 0 {
				if err := r.wait(ctx, prev, &c); err != nil {
					log.Printf("[replay] cancelled after %d candles", emitted)
					return err
				}
			}
		}

		select {
		case out <- c:
		case <-ctx.Done():
			log.Printf("[replay] cancelled after %d candles", emitted)
			return ctx.Err()
		}
		prev = &candles[i]
		emitted++
	}

	log.Printf("[replay] completed: %d candles replayed", emitted)
	return nil
}

func (r *Replayer) wait(ctx context.Context, prev, next *model.Candle) error {
	gap := next.OpenTime.Sub(prev.OpenTime)
	if gap <= 0 {
		return nil
	}
	scaled := time.Duration(float64(gap) / r.opts.Speed)
	if scaled > maxGap {
		scaled = maxGap
	}
	return r.sleep(ctx, scaled)
}

// Package bus fans one stream of values out to several consumers.
package bus

import (
	"context"
	"sync"
)

type subscriber[T any] struct {
	ch       chan T
	blocking bool
}

// FanOut broadcasts values from one input to every subscriber. Lossy
// subscribers drop a value when their buffer is full; blocking ones apply
// backpressure to the whole fan-out.
type FanOut[T any] struct {
	mu      sync.RWMutex
	subs    []subscriber[T]
	bufSize int

	// OnDrop is called with the subscriber index when a value is dropped.
	OnDrop func(idx int)
}

// New creates a FanOut whose subscriber channels hold bufSize values.
func New[T any](bufSize int) *FanOut[T] {
	return &FanOut[T]{bufSize: bufSize}
}

// Subscribe adds a lossy subscriber.
func (f *FanOut[T]) Subscribe() <-chan T { return f.add(false) }

// SubscribeBlocking adds a subscriber that never misses a value.
func (f *FanOut[T]) SubscribeBlocking() <-chan T { return f.add(true) }

func (f *FanOut[T]) add(blocking bool) <-chan T {
	ch := make(chan T, f.bufSize)
	f.mu.Lock()
	f.subs = append(f.subs, subscriber[T]{ch: ch, blocking: blocking})
	f.mu.Unlock()
	return ch
}

// Run forwards input until it is closed or ctx is cancelled, then closes
// every subscriber channel.
func (f *FanOut[T]) Run(ctx context.Context, input <-chan T) {
	defer func() {
		f.mu.RLock()
		for _, s := range f.subs {
			close(s.ch)
		}
		f.mu.RUnlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-input:
			if !ok {
				return
			}
			if !f.deliver(ctx, v) {
				return
			}
		}
	}
}

func (f *FanOut[T]) deliver(ctx context.Context, v T) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for i, s := range f.subs {
		if s.blocking {
			select {
			case s.ch <- v:
			case <-ctx.Done():
				return false
			}
			continue
		}
		select {
		case s.ch <- v:
		default:
			if f.OnDrop != nil {
				f.OnDrop(i)
			}
		}
	}
	return true
}

// ChannelStat is the fill level of one subscriber channel.
type ChannelStat struct {
	Len int
	Cap int
}

// ChannelStats returns the fill level of every subscriber channel.
func (f *FanOut[T]) ChannelStats() []ChannelStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	stats := make([]ChannelStat, len(f.subs))
	for i, s := range f.subs {
		stats[i] = ChannelStat{Len: len(s.ch), Cap: cap(s.ch)}
	}
	return stats
}

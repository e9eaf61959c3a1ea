// Package gateway streams published samples to WebSocket clients and
// serves gap backfill over REST.
package gateway

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const clientSendBuffer = 256

// Hub fans envelopes out to connected clients. Each channel has its own
// sequence and replay buffer so clients can detect and fill gaps.
type Hub struct {
	replaySize int
	now        func() time.Time
	onDrop     func()

	mu      sync.RWMutex
	clients map[*Client]struct{}
	seqs    map[string]int64
	latest  map[string][]byte
	replay  map[string]*ReplayBuffer
	closed  bool
}

// NewHub creates a hub keeping replaySize envelopes per channel. onDrop,
// when non-nil, is called for every envelope a slow client misses.
func NewHub(replaySize int, onDrop func()) *Hub {
	return &Hub{
		replaySize: replaySize,
		now:        time.Now,
		onDrop:     onDrop,
		clients:    make(map[*Client]struct{}),
		seqs:       make(map[string]int64),
		latest:     make(map[string][]byte),
		replay:     make(map[string]*ReplayBuffer),
	}
}

// Broadcast wraps data in an envelope on channel and sends it to every
// subscribed client. Clients whose buffer is full miss the envelope and
// can backfill it by sequence. Returns the envelope's sequence.
func (h *Hub) Broadcast(channel string, x int64, data []byte) int64 {
	h.mu.Lock()
	h.seqs[channel]++
	seq := h.seqs[channel]
	env := appendEnvelope(make([]byte, 0, len(channel)+len(data)+96), channel, seq, x, h.now().UTC(), data)
	h.latest[channel] = env
	rb, ok := h.replay[channel]
	if !ok {
		rb = NewReplayBuffer(h.replaySize)
		h.replay[channel] = rb
	}
	h.mu.Unlock()
	rb.Push(seq, env)

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.subscribed(channel) {
			continue
		}
		select {
		case c.send <- env:
		default:
			if h.onDrop != nil {
				h.onDrop()
			}
		}
	}
	return seq
}

// Attach registers a WebSocket connection. Envelopes of channels in
// resume with a sequence above the given one are replayed first.
func (h *Hub) Attach(conn *websocket.Conn, channels []string, resume map[string]int64) *Client {
	c := newClient(h, conn, channels)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	for ch, after := range resume {
		rb, ok := h.replay[ch]
		if !ok {
			continue
		}
		for _, env := range rb.Range(after+1, 0) {
			select {
			case c.send <- env:
			default:
			}
		}
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", n)
	go c.writePump()
	go c.readPump()
	return c
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

// Range returns buffered envelopes of channel in [fromSeq, toSeq].
func (h *Hub) Range(channel string, fromSeq, toSeq int64) [][]byte {
	h.mu.RLock()
	rb, ok := h.replay[channel]
	h.mu.RUnlock()
	if !ok {
		return nil
	}
	return rb.Range(fromSeq, toSeq)
}

// Latest returns the newest envelope of every channel.
func (h *Hub) Latest() map[string][]byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string][]byte, len(h.latest))
	for k, v := range h.latest {
		out[k] = v
	}
	return out
}

// Seq returns the last sequence of channel.
func (h *Hub) Seq(channel string) int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.seqs[channel]
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

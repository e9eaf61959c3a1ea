package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"tradeflow/internal/store/sqlite"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// TradeLister returns the most recent fills, newest first.
type TradeLister interface {
	Trades(limit int) ([]sqlite.TradeRecord, error)
}

// Server exposes a Hub over HTTP.
type Server struct {
	hub     *Hub
	trades  TradeLister
	account func() interface{}
	srv     *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithTrades serves /api/trades from l.
func WithTrades(l TradeLister) ServerOption {
	return func(s *Server) { s.trades = l }
}

// WithAccount serves /api/account from fn.
func WithAccount(fn func() interface{}) ServerOption {
	return func(s *Server) { s.account = fn }
}

// NewServer builds the HTTP server for hub on addr.
func NewServer(addr string, hub *Hub, opts ...ServerOption) *Server {
	s := &Server{hub: hub}
	for _, o := range opts {
		o(s)
	}
	s.srv = &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 5 * time.Second}
	return s
}

// Handler returns the route multiplexer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/latest", s.handleLatest)
	mux.HandleFunc("/api/missed", s.handleMissed)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/trades", s.handleTrades)
	mux.HandleFunc("/api/account", s.handleAccount)
	return mux
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("[gateway] listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[gateway] server error: %v", err)
		}
	}()
}

// Stop disconnects clients and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.hub.Close()
	return s.srv.Shutdown(ctx)
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleWS upgrades to WebSocket. Query: channel (repeatable, default all)
// and after, the last sequence the client saw on each listed channel.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channels := q["channel"]
	var resume map[string]int64
	if a := q.Get("after"); a != "" {
		after, err := strconv.ParseInt(a, 10, 64)
		if err != nil {
			http.Error(w, "invalid after", http.StatusBadRequest)
			return
		}
		resume = make(map[string]int64, len(channels))
		for _, ch := range channels {
			resume[ch] = after
		}
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade error: %v", err)
		return
	}
	s.hub.Attach(conn, channels, resume)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest := s.hub.Latest()
	out := make(map[string]json.RawMessage, len(latest))
	for k, v := range latest {
		out[k] = v
	}
	writeJSON(w, http.StatusOK, out)
}

// handleMissed serves GET /api/missed?channel=...&from=N&to=M.
func (s *Server) handleMissed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	channel := q.Get("channel")
	if channel == "" {
		writeError(w, http.StatusBadRequest, "channel is required")
		return
	}
	from, err := strconv.ParseInt(q.Get("from"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from")
		return
	}
	var to int64
	if v := q.Get("to"); v != "" {
		if to, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to")
			return
		}
	}

	envs := s.hub.Range(channel, from, to)
	out := make([]json.RawMessage, len(envs))
	for i, e := range envs {
		out[i] = e
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"channel":  channel,
		"seq":      s.hub.Seq(channel),
		"messages": out,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	seqs := make(map[string]int64)
	for ch := range s.hub.Latest() {
		seqs[ch] = s.hub.Seq(ch)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"clients":  s.hub.ClientCount(),
		"channels": seqs,
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeError(w, http.StatusNotFound, "trade journal disabled")
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	trades, err := s.trades.Trades(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if trades == nil {
		trades = []sqlite.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	if s.account == nil {
		writeError(w, http.StatusNotFound, "no account")
		return
	}
	writeJSON(w, http.StatusOK, s.account())
}

package sqlite

import (
	"database/sql"
	"fmt"
	"log"
	"sync"

	"tradeflow/internal/exchange"
)

// Journal persists fills and closed positions for analysis and audit. It
// implements exchange.Listener.
type Journal struct {
	mu  sync.Mutex
	db  *sql.DB
	run string
}

// OpenJournal opens (or creates) a journal database. Every row written is
// tagged with run so several backtests can share one file.
func OpenJournal(path, run string) (*Journal, error) {
	db, err := open(path, 1)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS trades (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run         TEXT    NOT NULL,
		order_id    TEXT    NOT NULL,
		pair        TEXT    NOT NULL,
		side        TEXT    NOT NULL,
		slot        INTEGER NOT NULL,
		price       REAL    NOT NULL,
		volume      REAL    NOT NULL,
		x           INTEGER NOT NULL,
		created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_trades_run ON trades(run);

	CREATE TABLE IF NOT EXISTS positions (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run         TEXT    NOT NULL,
		side        TEXT    NOT NULL,
		enter_price REAL    NOT NULL,
		exit_price  REAL    NOT NULL,
		base        REAL    NOT NULL,
		pnl         REAL    NOT NULL,
		opened_x    INTEGER NOT NULL,
		closed_x    INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_positions_run ON positions(run);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[journal] opened trade journal at %s", path)
	return &Journal{db: db, run: run}, nil
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// OnTrade records a fill.
func (j *Journal) OnTrade(t exchange.Trade) {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO trades (run, order_id, pair, side, slot, price, volume, x)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.run, t.ID.String(), t.Pair.String(), t.Side.String(), t.Slot,
		t.CounterPrice, t.CounterVolume, t.X,
	)
	if err != nil {
		log.Printf("[journal] record trade %s: %v", t.ID, err)
	}
}

// OnPositionClosed records a closed position with its realized result.
func (j *Journal) OnPositionClosed(p exchange.Position) {
	if len(p.Enter) == 0 || len(p.Exit) == 0 {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.Exec(
		`INSERT INTO positions (run, side, enter_price, exit_price, base, pnl, opened_x, closed_x)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		j.run, p.Side.String(), p.AvgEnterPrice(), p.AvgExitPrice(), p.EnterBase(),
		p.CounterDiff(), p.Enter[0].X, p.Exit[len(p.Exit)-1].X,
	)
	if err != nil {
		log.Printf("[journal] record position: %v", err)
	}
}

// TradeRecord is a row of the trades table.
type TradeRecord struct {
	ID      int64   `json:"id"`
	OrderID string  `json:"order_id"`
	Pair    string  `json:"pair"`
	Side    string  `json:"side"`
	Slot    int     `json:"slot"`
	Price   float64 `json:"price"`
	Volume  float64 `json:"volume"`
	X       int64   `json:"x"`
}

// Trades returns the last limit trades of this run, newest first.
func (j *Journal) Trades(limit int) ([]TradeRecord, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(
		`SELECT id, order_id, pair, side, slot, price, volume, x
		 FROM trades WHERE run = ? ORDER BY id DESC LIMIT ?`, j.run, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Pair, &t.Side, &t.Slot, &t.Price, &t.Volume, &t.X); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// RealizedPnL sums the pnl of every closed position of this run.
func (j *Journal) RealizedPnL() (float64, int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	var (
		sum sql.NullFloat64
		n   int
	)
	err := j.db.QueryRow(`SELECT SUM(pnl), COUNT(*) FROM positions WHERE run = ?`, j.run).Scan(&sum, &n)
	if err != nil {
		return 0, 0, err
	}
	return sum.Float64, n, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	return j.db.Close()
}

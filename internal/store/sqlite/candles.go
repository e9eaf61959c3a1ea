package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"tradeflow/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 200 * time.Millisecond
)

// CandleStore reads and writes OHLCV candles keyed by pair and x.
type CandleStore struct {
	db *sql.DB
}

// OpenCandles opens (or creates) a candle database.
func OpenCandles(path string) (*CandleStore, error) {
	db, err := open(path, 1)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			pair   TEXT    NOT NULL,
			x      INTEGER NOT NULL,
			open   REAL    NOT NULL,
			high   REAL    NOT NULL,
			low    REAL    NOT NULL,
			close  REAL    NOT NULL,
			volume REAL    NOT NULL DEFAULT 0,
			PRIMARY KEY (pair, x)
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened candle store at %s", path)
	return &CandleStore{db: db}, nil
}

// DB returns the underlying sql.DB for health checks.
func (s *CandleStore) DB() *sql.DB { return s.db }

// Insert stores candles in a single transaction, replacing rows with the
// same pair and x.
func (s *CandleStore) Insert(candles []model.Candle) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles (pair, x, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		if _, err := stmt.Exec(c.Pair, c.X, c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Run reads candles from in and inserts them in batched transactions.
// Flushes every batch of defaultBatchSize candles or every defaultFlushDelay,
// whichever comes first. Returns when ctx is cancelled or in is closed.
func (s *CandleStore) Run(ctx context.Context, in <-chan model.Candle) error {
	batch := make([]model.Candle, 0, defaultBatchSize)
	timer := time.NewTimer(defaultFlushDelay)
	defer timer.Stop()

	var firstErr error
	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := s.Insert(batch); err != nil {
			log.Printf("[sqlite] batch insert error: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		} else {
			log.Printf("[sqlite] committed %d candles in %v", len(batch), time.Since(start))
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return firstErr
		case c, ok := <-in:
			if !ok {
				flush()
				return firstErr
			}
			batch = append(batch, c)
			if len(batch) >= defaultBatchSize {
				flush()
				timer.Reset(defaultFlushDelay)
			}
		case <-timer.C:
			flush()
			timer.Reset(defaultFlushDelay)
		}
	}
}

// Candles returns the candles of pair with fromX <= x < toX in ascending x
// order. A zero toX means no upper bound.
func (s *CandleStore) Candles(ctx context.Context, pair string, fromX, toX int64) ([]model.Candle, error) {
	query := `
		SELECT pair, x, open, high, low, close, volume
		FROM candles
		WHERE pair = ? AND x >= ?`
	args := []any{pair, fromX}
	if toX > 0 {
		query += ` AND x < ?`
		args = append(args, toX)
	}
	query += ` ORDER BY x ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var out []model.Candle
	for rows.Next() {
		var c model.Candle
		if err := rows.Scan(&c.Pair, &c.X, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candles: %w", err)
		}
		c.OpenTime = model.TimeFromX(c.X)
		out = append(out, c)
	}
	return out, rows.Err()
}

// LastX returns the largest stored x for pair, or 0 when none exist.
func (s *CandleStore) LastX(pair string) (int64, error) {
	var x sql.NullInt64
	if err := s.db.QueryRow(`SELECT MAX(x) FROM candles WHERE pair = ?`, pair).Scan(&x); err != nil {
		return 0, err
	}
	if !x.Valid {
		return 0, nil
	}
	return x.Int64, nil
}

// Close closes the database.
func (s *CandleStore) Close() error {
	return s.db.Close()
}

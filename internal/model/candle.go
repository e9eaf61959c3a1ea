package model

import (
	"encoding/json"
	"time"
)

// Candle is one OHLCV sample of the input stream.
// X is the sample's x-coordinate: the open time in Unix milliseconds for
// stored and live candles, or a plain ordinal for synthetic series.
type Candle struct {
	Pair     string    `json:"pair"`
	X        int64     `json:"x"`
	OpenTime time.Time `json:"open_time"` // bucket start time (UTC)
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"` // base volume traded in the bucket
}

// Key returns the instrument key of this candle.
func (c *Candle) Key() string {
	return c.Pair
}

// JSON returns the JSON-encoded candle (ignoring errors for hot-path usage).
func (c *Candle) JSON() []byte {
	b, _ := json.Marshal(c)
	return b
}

// Valid reports whether the OHLC fields are internally consistent.
func (c *Candle) Valid() bool {
	if c.High < c.Low {
		return false
	}
	if c.Open > c.High || c.Open < c.Low {
		return false
	}
	if c.Close > c.High || c.Close < c.Low {
		return false
	}
	return c.Volume >= 0
}

package gateway

import (
	"strconv"
	"time"
)

// Channel names. Every channel carries one pair.
const (
	ChannelScope = "scope" // per-sample graph outputs
	ChannelTrade = "trade" // exchange fills
)

// ChannelName joins a channel kind and a pair, e.g. "scope:BTC/USDT".
func ChannelName(kind, pair string) string { return kind + ":" + pair }

// appendEnvelope builds {"channel":...,"seq":N,"x":X,"ts":...,"data":...}
// by hand; data must already be valid JSON.
func appendEnvelope(buf []byte, channel string, seq, x int64, now time.Time, data []byte) []byte {
	buf = append(buf, `{"channel":`...)
	buf = strconv.AppendQuote(buf, channel)
	buf = append(buf, `,"seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"x":`...)
	buf = strconv.AppendInt(buf, x, 10)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, '}')
	return buf
}

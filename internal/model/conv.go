package model

import "time"

// XFromTime converts a candle open time into its x-coordinate (Unix ms).
func XFromTime(t time.Time) int64 {
	return t.UnixMilli()
}

// TimeFromX converts an x-coordinate produced by XFromTime back to UTC time.
func TimeFromX(x int64) time.Time {
	return time.UnixMilli(x).UTC()
}

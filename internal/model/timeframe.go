package model

import (
	"fmt"
	"time"
)

// Timeframe identifies a candle aggregation window ("1m", "5m", "1d", ...).
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF30m Timeframe = "30m"
	TF60m Timeframe = "60m"
	TF1d  Timeframe = "1d"
)

// DefaultTimeframes are the windows the candle builder maintains when
// none are configured explicitly.
var DefaultTimeframes = []Timeframe{TF1m, TF5m, TF15m, TF60m}

var timeframeMinutes = map[Timeframe]int{
	TF1m:  1,
	TF5m:  5,
	TF15m: 15,
	TF30m: 30,
	TF60m: 60,
	TF1d:  1440,
}

// Minutes returns the timeframe length in minutes. Unknown timeframes
// fall back to 1 minute, matching the most conservative bucket.
func (tf Timeframe) Minutes() int {
	if m, ok := timeframeMinutes[tf]; ok {
		return m
	}
	return 1
}

// Duration returns the timeframe length as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Minutes()) * time.Minute
}

// Valid reports whether tf is a known timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMinutes[tf]
	return ok
}

// OpenTime floors t to the timeframe boundary: minute-aligned within the
// day for intraday windows, midnight-aligned for 1d.
func (tf Timeframe) OpenTime(t time.Time) time.Time {
	minutes := tf.Minutes()
	if minutes >= 1440 {
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	}
	total := t.Hour()*60 + t.Minute()
	aligned := (total / minutes) * minutes
	return time.Date(t.Year(), t.Month(), t.Day(), aligned/60, aligned%60, 0, 0, t.Location())
}

// CloseTime returns when a candle opened at openTime should close.
func (tf Timeframe) CloseTime(openTime time.Time) time.Time {
	return openTime.Add(tf.Duration())
}

// ParseTimeframe validates a timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return tf, nil
}

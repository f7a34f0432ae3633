package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultTimeLayouts are tried in order when coercing a timestamp cell.
var DefaultTimeLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02",
}

// ParseLocalTime parses value with the first matching layout, interpreting
// zone-less layouts in loc.
func ParseLocalTime(value string, layouts []string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty time value")
	}
	if loc == nil {
		loc = time.UTC
	}
	if len(layouts) == 0 {
		layouts = DefaultTimeLayouts
	}
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: no layout matched", value)
}

// ParseEpochMillis parses a unix timestamp in milliseconds.
func ParseEpochMillis(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	ms, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse epoch millis %q: %w", value, err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(int64(ms)).In(loc), nil
}

// DayBounds returns the inclusive range covering whole days from startDay to
// endDay: startDay at midnight through one second before the day after endDay.
func DayBounds(startDay, endDay time.Time) (time.Time, time.Time) {
	start := time.Date(startDay.Year(), startDay.Month(), startDay.Day(), 0, 0, 0, 0, startDay.Location())
	endMidnight := time.Date(endDay.Year(), endDay.Month(), endDay.Day(), 0, 0, 0, 0, endDay.Location())
	return start, endMidnight.AddDate(0, 0, 1).Add(-time.Second)
}

// ParseDay parses a YYYY-MM-DD query value in loc.
func ParseDay(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse day: %w", err)
	}
	return t, nil
}

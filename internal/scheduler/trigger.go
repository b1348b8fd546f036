package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Trigger computes the next fire time strictly after now.
type Trigger interface {
	Next(now time.Time) time.Time
	String() string
}

// Every fires at a fixed interval, optionally aligned to interval boundaries.
func Every(interval time.Duration, align bool) Trigger {
	if interval <= 0 {
		panic("scheduler interval must be positive")
	}
	return intervalTrigger{interval: interval, align: align}
}

type intervalTrigger struct {
	interval time.Duration
	align    bool
}

func (t intervalTrigger) Next(now time.Time) time.Time {
	if !t.align {
		return now.Add(t.interval)
	}
	bucket := now.Truncate(t.interval)
	if !bucket.After(now) {
		bucket = bucket.Add(t.interval)
	}
	return bucket
}

func (t intervalTrigger) String() string {
	return "every " + t.interval.String()
}

// DailyAt fires once per day at hour:minute in loc.
func DailyAt(hour, minute int, loc *time.Location) Trigger {
	if loc == nil {
		loc = time.UTC
	}
	return dailyTrigger{hour: hour, minute: minute, loc: loc}
}

type dailyTrigger struct {
	hour, minute int
	loc          *time.Location
}

func (t dailyTrigger) Next(now time.Time) time.Time {
	local := now.In(t.loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), t.hour, t.minute, 0, 0, t.loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, t.hour, t.minute, 0, 0, t.loc)
	}
	return next
}

func (t dailyTrigger) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", t.hour, t.minute, t.loc)
}

// ParseClock parses "HH:MM".
func ParseClock(v string) (int, int, error) {
	parts := strings.Split(strings.TrimSpace(v), ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q, want HH:MM", v)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", v)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", v)
	}
	return hour, minute, nil
}

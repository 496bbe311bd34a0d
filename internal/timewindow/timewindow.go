// Package timewindow implements the calendar-aware bucket arithmetic that
// every OHLC candle is built on: which window a timestamp falls into, when
// that window ends, and whether a later timestamp has closed it.
package timewindow

import (
	"fmt"
	"time"
)

// Unit is the granularity of a TimeWindow.
type Unit string

const (
	Second Unit = "second"
	Minute Unit = "minute"
	Hour   Unit = "hour"
	Day    Unit = "day"
	Week   Unit = "week"
	Month  Unit = "month"
	Year   Unit = "year"
)

// TimeWindow is a hashable (size, unit) bucket definition, e.g. (5, Minute).
type TimeWindow struct {
	Size int
	Unit Unit
}

// New returns a validated TimeWindow, or UnsupportedUnit if unit isn't one
// of the enumerated units.
func New(size int, unit Unit) (TimeWindow, error) {
	tw := TimeWindow{Size: size, Unit: unit}
	switch unit {
	case Second, Minute, Hour, Day, Week, Month, Year:
		return tw, nil
	default:
		return TimeWindow{}, &UnsupportedUnitError{Unit: unit}
	}
}

// UnsupportedUnitError reports a Unit outside the enumerated set.
type UnsupportedUnitError struct {
	Unit Unit
}

func (e *UnsupportedUnitError) Error() string {
	return fmt.Sprintf("timewindow: unsupported unit %q", e.Unit)
}

// String renders the window the way wire payloads and logs do, e.g. "5minute".
func (tw TimeWindow) String() string {
	return fmt.Sprintf("%d%s", tw.Size, tw.Unit)
}

// WindowStart truncates t to the beginning of the window containing it.
// A timestamp exactly on a boundary belongs to the window starting there
// (closed-left, open-right).
func (tw TimeWindow) WindowStart(t time.Time) (time.Time, error) {
	t = t.UTC()
	switch tw.Unit {
	case Second:
		totalSeconds := t.Minute()*60 + t.Second()
		truncated := (totalSeconds / tw.Size) * tw.Size
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), truncated/60, truncated%60, 0, time.UTC), nil
	case Minute:
		truncatedMinute := (t.Minute() / tw.Size) * tw.Size
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), truncatedMinute, 0, 0, time.UTC), nil
	case Hour:
		truncatedHour := (t.Hour() / tw.Size) * tw.Size
		return time.Date(t.Year(), t.Month(), t.Day(), truncatedHour, 0, 0, 0, time.UTC), nil
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	case Week:
		// ISO week: Monday=1 ... Sunday=7; weekday() in the original is 0=Monday.
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7 // time.Sunday == 0; shift so Monday-relative offset works
		}
		offsetDays := weekday - 1
		monday := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -offsetDays)
		return monday, nil
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	case Year:
		return time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, &UnsupportedUnitError{Unit: tw.Unit}
	}
}

// WindowEnd returns the exclusive upper bound of the window starting at
// start. MONTH and YEAR use calendar arithmetic, not fixed durations: a
// fixed 30-day approximation would make candles drift against the actual
// calendar.
func (tw TimeWindow) WindowEnd(start time.Time) (time.Time, error) {
	switch tw.Unit {
	case Second:
		return start.Add(time.Duration(tw.Size) * time.Second), nil
	case Minute:
		return start.Add(time.Duration(tw.Size) * time.Minute), nil
	case Hour:
		return start.Add(time.Duration(tw.Size) * time.Hour), nil
	case Day:
		return start.AddDate(0, 0, tw.Size), nil
	case Week:
		return start.AddDate(0, 0, 7*tw.Size), nil
	case Month:
		totalMonths := int(start.Month()) - 1 + tw.Size
		nextMonth := totalMonths%12 + 1
		nextYear := start.Year() + totalMonths/12
		return time.Date(nextYear, time.Month(nextMonth), 1, 0, 0, 0, 0, time.UTC), nil
	case Year:
		return time.Date(start.Year()+tw.Size, start.Month(), start.Day(), 0, 0, 0, 0, time.UTC), nil
	default:
		return time.Time{}, &UnsupportedUnitError{Unit: tw.Unit}
	}
}

// IsComplete reports whether now has reached or passed the end of the
// window starting at start. Strictly >=: a trade landing exactly on the
// boundary closes the previous window and opens the next one.
func (tw TimeWindow) IsComplete(start, now time.Time) (bool, error) {
	end, err := tw.WindowEnd(start)
	if err != nil {
		return false, err
	}
	return !now.Before(end), nil
}

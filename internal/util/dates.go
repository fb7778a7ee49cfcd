// Package util holds small shared helpers for date-window arithmetic.
package util

import "time"

// Window is a closed date range.
type Window struct {
	Start time.Time
	End   time.Time
}

// Days returns the window length in whole days, inclusive of both ends.
func (w Window) Days() int {
	return int(w.End.Sub(w.Start).Hours()/24) + 1
}

// truncateDay strips the time-of-day component in UTC.
func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// LastWeek returns the most recent complete ISO week (Monday through
// Sunday) before now.
func LastWeek(now time.Time) Window {
	today := truncateDay(now)

	// Walk back to this week's Monday, then one more week for the last
	// complete one.
	weekday := int(today.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	thisMonday := today.AddDate(0, 0, -(weekday - 1))
	start := thisMonday.AddDate(0, 0, -7)
	return Window{Start: start, End: start.AddDate(0, 0, 6)}
}

// TrailingMonth returns the trailing 30-day window ending yesterday.
func TrailingMonth(now time.Time) Window {
	end := truncateDay(now).AddDate(0, 0, -1)
	return Window{Start: end.AddDate(0, 0, -29), End: end}
}

// PreviousWindow returns the symmetric window of equal length
// immediately preceding w.
func PreviousWindow(w Window) Window {
	days := w.Days()
	return Window{
		Start: w.Start.AddDate(0, 0, -days),
		End:   w.Start.AddDate(0, 0, -1),
	}
}

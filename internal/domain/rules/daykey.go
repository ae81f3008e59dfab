package rules

import "time"

// DayKeyUTC identifies the UTC day a quota counter row belongs to.
func DayKeyUTC(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}

// NextResetAtUTC is the moment the daily accept counters roll over.
func NextResetAtUTC(now time.Time) time.Time {
	utc := now.UTC()
	return time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
}

package model

import "time"

// DateLayout is the civil-date layout used in ledger keys, SQL DATE columns
// and API payloads.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// StayDays returns every calendar day from start to end inclusive. It
// returns nil when end is before start.
func StayDays(start, end time.Time) []time.Time {
	s, e := Day(start), Day(end)
	if e.Before(s) {
		return nil
	}
	days := make([]time.Time, 0, int(e.Sub(s).Hours()/24)+1)
	for d := s; !d.After(e); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// DateKey formats t as YYYY-MM-DD.
func DateKey(t time.Time) string { return Day(t).Format(DateLayout) }

// ParseDate parses a YYYY-MM-DD string into a UTC midnight time.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

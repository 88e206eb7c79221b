package model

import "time"

// DayStatus is a guide's availability on one calendar day.
type DayStatus string

const (
	DayAvailable   DayStatus = "AVAILABLE"
	DayUnavailable DayStatus = "UNAVAILABLE"
	DayBooked      DayStatus = "BOOKED"
)

// CalendarDay is one row of a guide's calendar. Days without a row are
// AVAILABLE.
type CalendarDay struct {
	GuideID uint64    `json:"guide_id"`
	Date    time.Time `json:"date"`
	Status  DayStatus `json:"status"`
}

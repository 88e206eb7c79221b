package model

import "time"

// Tour is the subset of a guide's tour that booking needs: capacity,
// per-tier pricing and the denormalized counters the booking flow
// maintains.
//
// Fields:
//
//	ID              – primary key identifier.
//	GuideID         – user id of the guide who authored the tour.
//	Title           – used in notification and email text.
//	MaxParticipants – seats per calendar day.
//	PriceAdult      – price per adult (VND).
//	PriceYouth      – price per youth (VND).
//	PriceChild      – price per child (VND).
//	AvailableSlots  – live counter shown to travelers; decremented on
//	                  booking creation and restored on cancellation.
//	TotalBookings   – number of paid bookings.
//	Rating          – average tour rating from reviews (nil until reviewed).
//	DeletedAt       – soft-delete marker.
type Tour struct {
	ID              uint64     // tours.id
	GuideID         uint64     // tours.guide_id
	Title           string     // tours.title
	MaxParticipants int        // tours.max_participants
	PriceAdult      int64      // tours.price_adult
	PriceYouth      int64      // tours.price_youth
	PriceChild      int64      // tours.price_child
	AvailableSlots  int        // tours.available_slots
	TotalBookings   int        // tours.total_bookings
	Rating          *float64   // tours.rating (nullable)
	DeletedAt       *time.Time // tours.deleted_at (nullable)
}

// Party is the composition of a booking by pricing tier.
type Party struct {
	Adults   int `json:"adults"`
	Youths   int `json:"youths"`
	Children int `json:"children"`
}

// Slots is the number of seats the party consumes per day.
func (p Party) Slots() int { return p.Adults + p.Youths + p.Children }

// Price returns the total price of the party on this tour.
func (t Tour) Price(p Party) int64 {
	return int64(p.Adults)*t.PriceAdult + int64(p.Youths)*t.PriceYouth + int64(p.Children)*t.PriceChild
}

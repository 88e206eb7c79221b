package model

import "time"

// Roles carried in the JWT "role" claim.
const (
	RoleTraveler = "TRAVELER"
	RoleGuide    = "GUIDE"
)

// User is the read model of the `users` table consumed by this service.
// Profile CRUD lives elsewhere; the booking core only reads identity and
// contact data and maintains the penalty and guide ranking columns.
//
// Fields:
//
//	ID          – primary key identifier of the user.
//	Email       – address used for booking confirmation emails.
//	FullName    – display name used in notification messages.
//	Role        – TRAVELER or GUIDE.
//	IsActive    – false while the traveler is serving a no-show penalty.
//	LockedUntil – end of the current penalty window (nil when not locked).
//	PenalizedAt – when the last penalty was applied; bookings created
//	              before it no longer count towards a new streak.
//	Rating      – guide's average review rating (nil until reviewed).
//	Ranking     – guide's position on the leaderboard (nil until ranked).
type User struct {
	ID          uint64     // users.id
	Email       string     // users.email
	FullName    string     // users.full_name
	Role        string     // users.role
	IsActive    bool       // users.is_active
	LockedUntil *time.Time // users.locked_until (nullable)
	PenalizedAt *time.Time // users.penalized_at (nullable)
	Rating      *float64   // users.rating (nullable)
	Ranking     *int       // users.ranking (nullable)
}

// IsLocked reports whether the user is still inside a penalty window at now.
func (u User) IsLocked(now time.Time) bool {
	if !u.IsActive {
		return true
	}
	return u.LockedUntil != nil && u.LockedUntil.After(now)
}

package model

import "time"

// Ranking holds a guide's score components and their weighted total.
type Ranking struct {
	GuideID         uint64    `json:"guide_id"`
	AttendanceScore float64   `json:"attendance_score"`
	CompletionScore float64   `json:"completion_score"`
	ReviewScore     float64   `json:"review_score"`
	PostScore       float64   `json:"post_score"`
	TotalScore      float64   `json:"total_score"`
	Rank            int       `json:"rank,omitempty"`     // position by total score
	Position        int       `json:"position,omitempty"` // position on a component leaderboard
	UpdatedAt       time.Time `json:"updated_at"`
}

// RankingComponent names one score column.
type RankingComponent string

const (
	ComponentAttendance RankingComponent = "attendance"
	ComponentCompletion RankingComponent = "completion"
	ComponentReview     RankingComponent = "review"
	ComponentPost       RankingComponent = "post"
	ComponentTotal      RankingComponent = "total"
)

// Valid reports whether c is a known component.
func (c RankingComponent) Valid() bool {
	switch c {
	case ComponentAttendance, ComponentCompletion, ComponentReview, ComponentPost, ComponentTotal:
		return true
	}
	return false
}

// RankingWeights scale each component in the total score.
type RankingWeights struct {
	Attendance float64
	Completion float64
	Review     float64
	Post       float64
}

// Total returns the weighted sum of r's components.
func (w RankingWeights) Total(r Ranking) float64 {
	return w.Attendance*r.AttendanceScore +
		w.Completion*r.CompletionScore +
		w.Review*r.ReviewScore +
		w.Post*r.PostScore
}

// Review is a traveler's rating of a completed booking.
type Review struct {
	ID             uint64    `json:"id"`
	BookingID      uint64    `json:"booking_id"`
	TourID         uint64    `json:"tour_id"`
	GuideID        uint64    `json:"guide_id"`
	TravelerID     uint64    `json:"traveler_id"`
	RatingForTour  int       `json:"rating_for_tour"`
	RatingForGuide int       `json:"rating_for_guide"`
	Comment        string    `json:"comment,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ReviewScore weights each rating by 0.5+0.1*rating so consistently high
// ratings outscore a plain average.
func ReviewScore(ratings []int) float64 {
	var sum float64
	for _, r := range ratings {
		sum += float64(r) * (0.5 + float64(r)*0.1)
	}
	return sum
}

// AverageRating returns the mean of ratings and false when there are none.
func AverageRating(ratings []int) (float64, bool) {
	if len(ratings) == 0 {
		return 0, false
	}
	var sum int
	for _, r := range ratings {
		sum += r
	}
	return float64(sum) / float64(len(ratings)), true
}

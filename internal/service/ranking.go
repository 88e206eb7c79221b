package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

// RankingConfig holds the point values behind each score component.
type RankingConfig struct {
	AttendancePoints float64
	CompletionPoints float64
	NoShowPenalty    float64
	PostPoints       float64
	PostsPerDay      int
	Weights          model.RankingWeights
}

// DefaultRankingConfig returns the production point values.
func DefaultRankingConfig() RankingConfig {
	return RankingConfig{
		AttendancePoints: 5,
		CompletionPoints: 10,
		NoShowPenalty:    5,
		PostPoints:       1,
		PostsPerDay:      5,
		Weights:          model.RankingWeights{Attendance: 1, Completion: 1, Review: 1, Post: 1},
	}
}

// RankingService derives guide scores from their recorded inputs. Every
// hook stores its input and recomputes, so replays never double count.
type RankingService struct {
	bookings BookingStore
	rankings RankingStore
	users    UserStore
	tours    TourReader
	cfg      RankingConfig
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewRankingService wires a RankingService.
func NewRankingService(bookings BookingStore, rankings RankingStore, users UserStore, tours TourReader, cfg RankingConfig, log logrus.FieldLogger) *RankingService {
	return &RankingService{
		bookings: bookings,
		rankings: rankings,
		users:    users,
		tours:    tours,
		cfg:      cfg,
		log:      log.WithField("component", "ranking"),
		now:      time.Now,
	}
}

// Recompute rebuilds a guide's ranking row, rating and rank.
func (s *RankingService) Recompute(ctx context.Context, guideID uint64) (*model.Ranking, error) {
	ratings, err := s.rankings.GuideRatings(ctx, guideID)
	if err != nil {
		return nil, fmt.Errorf("guide ratings: %w", err)
	}
	checkins, err := s.rankings.CountCheckins(ctx, guideID)
	if err != nil {
		return nil, fmt.Errorf("count checkins: %w", err)
	}
	completed, err := s.bookings.CountByGuideStatus(ctx, guideID, model.BookingCompleted)
	if err != nil {
		return nil, err
	}
	missed, err := s.bookings.CountByGuideStatus(ctx, guideID, model.BookingNotCompleted)
	if err != nil {
		return nil, err
	}
	posts, err := s.rankings.CountedPosts(ctx, guideID, s.cfg.PostsPerDay)
	if err != nil {
		return nil, fmt.Errorf("count posts: %w", err)
	}

	rk := model.Ranking{
		GuideID:         guideID,
		AttendanceScore: float64(checkins) * s.cfg.AttendancePoints,
		CompletionScore: float64(completed)*s.cfg.CompletionPoints - float64(missed)*s.cfg.NoShowPenalty,
		ReviewScore:     model.ReviewScore(ratings),
		PostScore:       float64(posts) * s.cfg.PostPoints,
		UpdatedAt:       s.now().UTC(),
	}
	rk.TotalScore = s.cfg.Weights.Total(rk)
	if err := s.rankings.Upsert(ctx, rk); err != nil {
		return nil, err
	}
	rank, err := s.rankings.RankOf(ctx, rk.TotalScore)
	if err != nil {
		return nil, err
	}
	rk.Rank = rank

	var rating *float64
	if avg, ok := model.AverageRating(ratings); ok {
		rating = &avg
	}
	if err := s.users.UpdateGuideStanding(ctx, guideID, rating, rank); err != nil {
		return nil, err
	}
	return &rk, nil
}

// RecordCheckin counts one attendance per guide per day. It reports
// false when the guide already checked in on day.
func (s *RankingService) RecordCheckin(ctx context.Context, guideID uint64, day time.Time) (bool, error) {
	inserted, err := s.rankings.InsertCheckin(ctx, guideID, day)
	if err != nil || !inserted {
		return false, err
	}
	if _, err := s.Recompute(ctx, guideID); err != nil {
		return true, err
	}
	return true, nil
}

// RecordPost counts a post towards the guide's post score, at most
// PostsPerDay per day.
func (s *RankingService) RecordPost(ctx context.Context, postID, guideID uint64, at time.Time) error {
	inserted, err := s.rankings.InsertPost(ctx, postID, guideID, at)
	if err != nil || !inserted {
		return err
	}
	_, err = s.Recompute(ctx, guideID)
	return err
}

// RecordCompletion refreshes the guide after a booking completed.
func (s *RankingService) RecordCompletion(ctx context.Context, guideID uint64) error {
	_, err := s.Recompute(ctx, guideID)
	return err
}

// ApplyPenalty refreshes the guide after a booking was not completed.
func (s *RankingService) ApplyPenalty(ctx context.Context, guideID uint64) error {
	_, err := s.Recompute(ctx, guideID)
	return err
}

// RecordReview re-derives the tour rating and the guide's score.
func (s *RankingService) RecordReview(ctx context.Context, rv *model.Review) error {
	ratings, err := s.rankings.TourRatings(ctx, rv.TourID)
	if err != nil {
		return err
	}
	if avg, ok := model.AverageRating(ratings); ok {
		if err := s.tours.UpdateRating(ctx, rv.TourID, avg); err != nil {
			return err
		}
	}
	_, err = s.Recompute(ctx, rv.GuideID)
	return err
}

// RecomputeAll refreshes every guide, continuing past failures. It
// returns how many guides were refreshed.
func (s *RankingService) RecomputeAll(ctx context.Context) (int, error) {
	ids, err := s.users.ListGuideIDs(ctx)
	if err != nil {
		return 0, err
	}
	done := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := s.Recompute(ctx, id); err != nil {
			s.log.WithError(err).WithField("guide_id", id).Error("recompute ranking failed")
			continue
		}
		done++
	}
	// A second pass settles ranks that moved while totals changed.
	for _, id := range ids {
		rk, err := s.rankings.Get(ctx, id)
		if err != nil {
			continue
		}
		var rating *float64
		if u, err := s.users.GetByID(ctx, id); err == nil {
			rating = u.Rating
		}
		if err := s.users.UpdateGuideStanding(ctx, id, rating, rk.Rank); err != nil {
			s.log.WithError(err).WithField("guide_id", id).Warn("update rank failed")
		}
	}
	return done, nil
}

// Top returns the leaderboard for component.
func (s *RankingService) Top(ctx context.Context, component model.RankingComponent, limit int) ([]model.Ranking, error) {
	if component == "" {
		component = model.ComponentTotal
	}
	if !component.Valid() {
		return nil, fmt.Errorf("%w: unknown ranking component %q", ErrValidation, component)
	}
	if limit <= 0 {
		limit = 10
	}
	if limit > 100 {
		limit = 100
	}
	return s.rankings.Top(ctx, component, limit)
}

// Mine returns the guide's own ranking, computing it on first access.
func (s *RankingService) Mine(ctx context.Context, guideID uint64) (*model.Ranking, error) {
	rk, err := s.rankings.Get(ctx, guideID)
	if errors.Is(err, repository.ErrNotFound) {
		return s.Recompute(ctx, guideID)
	}
	return rk, err
}

// CheckinCommand is a guide's daily check-in.
type CheckinCommand struct {
	Date string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

// Checkin records today's (or the given day's) attendance for the guide.
func (s *RankingService) Checkin(ctx context.Context, guideID uint64, cmd CheckinCommand) (bool, error) {
	day := model.Day(s.now())
	if cmd.Date != "" {
		d, err := model.ParseDate(cmd.Date)
		if err != nil {
			return false, fmt.Errorf("%w: date", ErrValidation)
		}
		if d.After(day) {
			return false, fmt.Errorf("%w: cannot check in for a future day", ErrValidation)
		}
		day = d
	}
	return s.RecordCheckin(ctx, guideID, day)
}

// HandlePost is the queue handler for PostCreated.
func (s *RankingService) HandlePost(ctx context.Context, body []byte) error {
	msg, err := queue.Decode[queue.PostCreated](body)
	if err != nil {
		return err
	}
	u, err := s.users.GetByID(ctx, msg.AuthorID)
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: unknown author %d", queue.ErrPermanent, msg.AuthorID)
	}
	if err != nil {
		return err
	}
	if u.Role != model.RoleGuide {
		return nil
	}
	return s.RecordPost(ctx, msg.PostID, msg.AuthorID, msg.CreatedAt)
}

// ReviewCommand is a traveler's review of a completed booking.
type ReviewCommand struct {
	BookingID      uint64 `json:"booking_id" validate:"required"`
	RatingForTour  int    `json:"rating_for_tour" validate:"required,min=1,max=5"`
	RatingForGuide int    `json:"rating_for_guide" validate:"required,min=1,max=5"`
	Comment        string `json:"comment" validate:"max=2000"`
}

// ReviewService accepts one review per completed booking.
type ReviewService struct {
	store    BookingStore
	ranking  *RankingService
	validate *validator.Validate
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewReviewService wires a ReviewService.
func NewReviewService(store BookingStore, ranking *RankingService, log logrus.FieldLogger) *ReviewService {
	return &ReviewService{
		store:    store,
		ranking:  ranking,
		validate: validator.New(),
		log:      log.WithField("component", "review"),
		now:      time.Now,
	}
}

// Submit stores the traveler's review and refreshes tour and guide scores.
func (s *ReviewService) Submit(ctx context.Context, travelerID uint64, cmd ReviewCommand) (*model.Review, error) {
	if err := s.validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	b, err := s.store.GetByID(ctx, cmd.BookingID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.TravelerID != travelerID {
		return nil, ErrForbidden
	}
	if err := b.MarkReviewed(); err != nil {
		return nil, err
	}

	rv := &model.Review{
		BookingID:      b.ID,
		TourID:         b.TourID,
		GuideID:        b.GuideID,
		TravelerID:     travelerID,
		RatingForTour:  cmd.RatingForTour,
		RatingForGuide: cmd.RatingForGuide,
		Comment:        cmd.Comment,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.SubmitReview(ctx, rv); err != nil {
		if errors.Is(err, repository.ErrStaleState) || errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrAlreadyReviewed
		}
		return nil, err
	}
	if err := s.ranking.RecordReview(ctx, rv); err != nil {
		s.log.WithError(err).WithField("booking_id", b.ID).Error("refresh scores after review failed")
	}
	return rv, nil
}

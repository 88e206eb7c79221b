package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
)

// RankingRepo stores guide scores and the raw inputs they are derived
// from: reviews, check-ins and daily post counts.
type RankingRepo struct {
	db *sql.DB
}

// NewRankingRepo returns a RankingRepo bound to db.
func NewRankingRepo(db *sql.DB) *RankingRepo { return &RankingRepo{db: db} }

// DB exposes the handle for callers that open their own transactions.
func (r *RankingRepo) DB() *sql.DB { return r.db }

// Upsert replaces a guide's score row.
func (r *RankingRepo) Upsert(ctx context.Context, rk model.Ranking) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO rankings
		(guide_id, attendance_score, completion_score, review_score, post_score, total_score, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE attendance_score = VALUES(attendance_score),
		  completion_score = VALUES(completion_score), review_score = VALUES(review_score),
		  post_score = VALUES(post_score), total_score = VALUES(total_score), updated_at = VALUES(updated_at)`,
		rk.GuideID, rk.AttendanceScore, rk.CompletionScore, rk.ReviewScore, rk.PostScore, rk.TotalScore,
		rk.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert ranking guide %d: %w", rk.GuideID, err)
	}
	return nil
}

// Get returns a guide's ranking with its position.
func (r *RankingRepo) Get(ctx context.Context, guideID uint64) (*model.Ranking, error) {
	var rk model.Ranking
	err := r.db.QueryRowContext(ctx, `SELECT guide_id, attendance_score, completion_score, review_score,
		post_score, total_score, updated_at FROM rankings WHERE guide_id = ?`, guideID).
		Scan(&rk.GuideID, &rk.AttendanceScore, &rk.CompletionScore, &rk.ReviewScore, &rk.PostScore,
			&rk.TotalScore, &rk.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	rank, err := r.RankOf(ctx, rk.TotalScore)
	if err != nil {
		return nil, err
	}
	rk.Rank = rank
	return &rk, nil
}

// RankOf returns one more than the number of guides scoring above total.
func (r *RankingRepo) RankOf(ctx context.Context, total float64) (int, error) {
	var higher int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rankings WHERE total_score > ?`, total).Scan(&higher); err != nil {
		return 0, err
	}
	return higher + 1, nil
}

// Top returns the best guides by one score component. Position is the
// place on that leaderboard; Rank stays the overall rank by total score.
func (r *RankingRepo) Top(ctx context.Context, component model.RankingComponent, limit int) ([]model.Ranking, error) {
	if !component.Valid() {
		return nil, fmt.Errorf("unknown ranking component %q", component)
	}
	// component is whitelisted above
	col := string(component) + "_score"
	rows, err := r.db.QueryContext(ctx, `SELECT r.guide_id, r.attendance_score, r.completion_score, r.review_score,
		r.post_score, r.total_score, r.updated_at,
		(SELECT COUNT(*) FROM rankings h WHERE h.total_score > r.total_score) + 1
		FROM rankings r ORDER BY r.`+col+` DESC, r.guide_id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Ranking
	for rows.Next() {
		var rk model.Ranking
		if err := rows.Scan(&rk.GuideID, &rk.AttendanceScore, &rk.CompletionScore, &rk.ReviewScore,
			&rk.PostScore, &rk.TotalScore, &rk.UpdatedAt, &rk.Rank); err != nil {
			return nil, err
		}
		rk.Position = len(out) + 1
		out = append(out, rk)
	}
	return out, rows.Err()
}

// GuideRatings returns every rating_for_guide a guide has received.
func (r *RankingRepo) GuideRatings(ctx context.Context, guideID uint64) ([]int, error) {
	return r.ints(ctx, `SELECT rating_for_guide FROM reviews WHERE guide_id = ?`, guideID)
}

// TourRatings returns every rating_for_tour a tour has received.
func (r *RankingRepo) TourRatings(ctx context.Context, tourID uint64) ([]int, error) {
	return r.ints(ctx, `SELECT rating_for_tour FROM reviews WHERE tour_id = ?`, tourID)
}

func (r *RankingRepo) ints(ctx context.Context, q string, args ...any) ([]int, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// InsertReviewTx stores a review. A second review of the same booking
// fails with ErrDuplicate.
func (r *RankingRepo) InsertReviewTx(ctx context.Context, tx *sql.Tx, rv *model.Review) error {
	res, err := tx.ExecContext(ctx, `INSERT INTO reviews
		(booking_id, tour_id, guide_id, traveler_id, rating_for_tour, rating_for_guide, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rv.BookingID, rv.TourID, rv.GuideID, rv.TravelerID, rv.RatingForTour, rv.RatingForGuide,
		rv.Comment, rv.CreatedAt.UTC())
	if err != nil {
		if IsDuplicateKey(err) {
			return ErrDuplicate
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	rv.ID = uint64(id)
	return nil
}

// InsertCheckin records a guide's check-in for day. It reports false
// when the guide already checked in that day.
func (r *RankingRepo) InsertCheckin(ctx context.Context, guideID uint64, day time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT IGNORE INTO checkins (guide_id, day) VALUES (?, ?)`, guideID, model.DateKey(day))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountCheckins returns how many days a guide has checked in.
func (r *RankingRepo) CountCheckins(ctx context.Context, guideID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM checkins WHERE guide_id = ?`, guideID).Scan(&n)
	return n, err
}

// InsertPost counts a guide's post once; redelivered posts report false.
func (r *RankingRepo) InsertPost(ctx context.Context, postID, guideID uint64, day time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `INSERT IGNORE INTO post_points (post_id, guide_id, day) VALUES (?, ?, ?)`,
		postID, guideID, model.DateKey(day))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountedPosts returns the guide's posts with each day capped at perDay.
func (r *RankingRepo) CountedPosts(ctx context.Context, guideID uint64, perDay int) (int, error) {
	var n sql.NullInt64
	err := r.db.QueryRowContext(ctx, `SELECT SUM(LEAST(c, ?)) FROM (
		SELECT COUNT(*) AS c FROM post_points WHERE guide_id = ? GROUP BY day) per_day`,
		perDay, guideID).Scan(&n)
	return int(n.Int64), err
}

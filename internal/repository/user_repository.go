package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/iliyamo/tour-booking/internal/model"
)

// UserRepo is the read model of users plus the penalty and ranking
// columns booking writes.
type UserRepo struct {
	db *sql.DB
}

// NewUserRepo returns a UserRepo bound to db.
func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{db: db} }

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	var locked, penalized sql.NullTime
	var rating sql.NullFloat64
	var ranking sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, full_name, role, is_active, locked_until, penalized_at, rating, ranking
		   FROM users WHERE id = ? LIMIT 1`, id).
		Scan(&u.ID, &u.Email, &u.FullName, &u.Role, &u.IsActive, &locked, &penalized, &rating, &ranking)
	if err != nil {
		return nil, notFound(err)
	}
	u.LockedUntil = timePtr(locked)
	u.PenalizedAt = timePtr(penalized)
	u.Rating = floatPtr(rating)
	if ranking.Valid {
		n := int(ranking.Int64)
		u.Ranking = &n
	}
	return &u, nil
}

// ListGuideIDs returns the ids of every guide.
func (r *UserRepo) ListGuideIDs(ctx context.Context) ([]uint64, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id FROM users WHERE role = ? ORDER BY id`, model.RoleGuide)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Lock deactivates a traveler until the given time and records the
// penalty so the same no-shows are not counted twice.
func (r *UserRepo) Lock(ctx context.Context, userID uint64, until, now time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = 0, locked_until = ?, penalized_at = ? WHERE id = ?`,
		until.UTC(), now.UTC(), userID)
	return err
}

// UnlockExpired reactivates users whose lock has run out and returns how
// many were reactivated.
func (r *UserRepo) UnlockExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET is_active = 1, locked_until = NULL
		  WHERE is_active = 0 AND locked_until IS NOT NULL AND locked_until <= ?`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdateGuideStanding stores a guide's average rating and rank.
func (r *UserRepo) UpdateGuideStanding(ctx context.Context, guideID uint64, rating *float64, rank int) error {
	var ratingArg any
	if rating != nil {
		ratingArg = *rating
	}
	_, err := r.db.ExecContext(ctx, `UPDATE users SET rating = ?, ranking = ? WHERE id = ?`, ratingArg, rank, guideID)
	return err
}

package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema creates the tables owned by the booking core. Users and tours
// are owned by other services; the columns here are the subset booking
// reads and the counters it maintains.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		email         VARCHAR(255) NOT NULL UNIQUE,
		full_name     VARCHAR(255) NOT NULL DEFAULT '',
		role          ENUM('TRAVELER','GUIDE') NOT NULL DEFAULT 'TRAVELER',
		is_active     TINYINT(1) NOT NULL DEFAULT 1,
		locked_until  DATETIME NULL,
		penalized_at  DATETIME NULL,
		rating        DECIMAL(3,2) NULL,
		ranking       INT NULL,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS tours (
		id               BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		guide_id         BIGINT UNSIGNED NOT NULL,
		title            VARCHAR(255) NOT NULL,
		max_participants INT NOT NULL,
		price_adult      BIGINT NOT NULL DEFAULT 0,
		price_youth      BIGINT NOT NULL DEFAULT 0,
		price_child      BIGINT NOT NULL DEFAULT 0,
		available_slots  INT NOT NULL DEFAULT 0,
		total_bookings   INT NOT NULL DEFAULT 0,
		rating           DECIMAL(3,2) NULL,
		deleted_at       DATETIME NULL,
		KEY idx_tours_guide (guide_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id                  BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		traveler_id         BIGINT UNSIGNED NOT NULL,
		tour_id             BIGINT UNSIGNED NOT NULL,
		guide_id            BIGINT UNSIGNED NOT NULL,
		start_date          DATE NOT NULL,
		end_date            DATE NOT NULL,
		adults              INT NOT NULL DEFAULT 0,
		youths              INT NOT NULL DEFAULT 0,
		children            INT NOT NULL DEFAULT 0,
		total_amount        BIGINT NOT NULL,
		deposit_amount      BIGINT NOT NULL,
		pay_later           TINYINT(1) NOT NULL DEFAULT 0,
		timeout_at          DATETIME NOT NULL,
		status              VARCHAR(20) NOT NULL,
		payment_status      VARCHAR(20) NOT NULL,
		guide_confirmed     TINYINT(1) NOT NULL DEFAULT 0,
		traveler_confirmed  TINYINT(1) NOT NULL DEFAULT 0,
		is_review           TINYINT(1) NOT NULL DEFAULT 0,
		hold_id             VARCHAR(64) NOT NULL DEFAULT '',
		cancel_secret_hash  VARCHAR(255) NOT NULL DEFAULT '',
		cancellation_reason VARCHAR(255) NOT NULL DEFAULT '',
		created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		deleted_at          DATETIME NULL,
		KEY idx_bookings_status_timeout (status, timeout_at),
		KEY idx_bookings_tour_dates (tour_id, start_date, end_date),
		KEY idx_bookings_traveler (traveler_id),
		KEY idx_bookings_guide (guide_id, status)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS payments (
		id                BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		booking_id        BIGINT UNSIGNED NOT NULL,
		user_id           BIGINT UNSIGNED NOT NULL,
		transaction_id    VARCHAR(64) NOT NULL UNIQUE,
		transaction_no    VARCHAR(64) NOT NULL DEFAULT '',
		bank_code         VARCHAR(32) NOT NULL DEFAULT '',
		status            VARCHAR(20) NOT NULL,
		amount_paid       BIGINT NOT NULL,
		payment_url       TEXT NOT NULL,
		active_booking_id BIGINT UNSIGNED NULL UNIQUE,
		paid_at           DATETIME NULL,
		created_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at        DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_payments_booking (booking_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS guide_calendar (
		guide_id BIGINT UNSIGNED NOT NULL,
		day      DATE NOT NULL,
		status   VARCHAR(20) NOT NULL,
		PRIMARY KEY (guide_id, day)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS rankings (
		guide_id         BIGINT UNSIGNED PRIMARY KEY,
		attendance_score DOUBLE NOT NULL DEFAULT 0,
		completion_score DOUBLE NOT NULL DEFAULT 0,
		review_score     DOUBLE NOT NULL DEFAULT 0,
		post_score       DOUBLE NOT NULL DEFAULT 0,
		total_score      DOUBLE NOT NULL DEFAULT 0,
		updated_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		KEY idx_rankings_total (total_score)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS reviews (
		id               BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		booking_id       BIGINT UNSIGNED NOT NULL UNIQUE,
		tour_id          BIGINT UNSIGNED NOT NULL,
		guide_id         BIGINT UNSIGNED NOT NULL,
		traveler_id      BIGINT UNSIGNED NOT NULL,
		rating_for_tour  TINYINT NOT NULL,
		rating_for_guide TINYINT NOT NULL,
		comment          TEXT NULL,
		created_at       DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_reviews_guide (guide_id),
		KEY idx_reviews_tour (tour_id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS checkins (
		guide_id   BIGINT UNSIGNED NOT NULL,
		day        DATE NOT NULL,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (guide_id, day)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS post_points (
		post_id  BIGINT UNSIGNED PRIMARY KEY,
		guide_id BIGINT UNSIGNED NOT NULL,
		day      DATE NOT NULL,
		KEY idx_post_points_guide_day (guide_id, day)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		dedupe_key    VARCHAR(191) NOT NULL UNIQUE,
		type          VARCHAR(32) NOT NULL,
		sender_id     BIGINT UNSIGNED NULL,
		receiver_id   BIGINT UNSIGNED NOT NULL,
		related_id    BIGINT UNSIGNED NOT NULL,
		related_model VARCHAR(32) NOT NULL,
		message       TEXT NOT NULL,
		is_read       TINYINT(1) NOT NULL DEFAULT 0,
		created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		KEY idx_notifications_receiver (receiver_id)
	) ENGINE=InnoDB`,
}

// Migrate creates any missing tables. Every statement is idempotent.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i, err)
		}
	}
	return nil
}

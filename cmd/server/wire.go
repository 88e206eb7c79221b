package main

import (
	"context"
	"database/sql"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/config"
	"github.com/iliyamo/tour-booking/internal/gateway"
	"github.com/iliyamo/tour-booking/internal/handler"
	"github.com/iliyamo/tour-booking/internal/ledger"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
	"github.com/iliyamo/tour-booking/internal/router"
	"github.com/iliyamo/tour-booking/internal/scheduler"
	"github.com/iliyamo/tour-booking/internal/service"
)

type app struct {
	handlers  router.Handlers
	validator echo.Validator
	consumers []*queue.Consumer
	scheduler *scheduler.Scheduler
}

// build wires repositories, services, consumers, jobs and handlers.
func build(cfg config.Config, db *sql.DB, rdb *redis.Client, pub *queue.Publisher, log *logrus.Logger) app {
	store := repository.NewStore(db)
	tours := repository.NewTourRepo(db)
	users := repository.NewUserRepo(db)
	payments := repository.NewPaymentRepo(db)
	rankings := repository.NewRankingRepo(db)
	calendar := service.NewCalendarService(repository.NewCalendarRepo(db))
	notifier := service.NewNotifier(pub, log)

	ranking := service.NewRankingService(store, rankings, users, tours, rankingConfig(cfg.Ranking), log)
	bookings := service.NewBookingService(service.BookingDeps{
		Store:     store,
		Tours:     tours,
		Users:     users,
		Ledger:    ledger.New(rdb),
		Calendar:  calendar,
		Publisher: pub,
		Notifier:  notifier,
		Ranking:   ranking,
	}, bookingConfig(cfg.Booking), log)
	reviews := service.NewReviewService(store, ranking, log)
	penalties := service.NewPenaltyService(store, users, notifier, service.PenaltyConfig{
		Streak: cfg.Booking.PenaltyStreak,
		Window: cfg.Booking.PenaltyWindow,
	}, log)

	gw := gateway.NewVNPay(gateway.Config{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
	})
	mailer := service.NewSMTPMailer(service.SMTPConfig{
		Host: cfg.SMTP.Host, Port: cfg.SMTP.Port, User: cfg.SMTP.User, Pass: cfg.SMTP.Pass, From: cfg.SMTP.From,
	}, log)
	callback := service.NewPaymentCallback(service.PaymentCallbackDeps{
		Gateway:  gw,
		Payments: payments,
		Bookings: bookings,
		Users:    users,
		Tours:    tours,
		Mailer:   mailer,
		Notifier: notifier,
	}, cfg.VNPay.CancelURL, log)
	worker := service.NewPaymentWorker(store, payments, gw, cfg.VNPay.ClientIP, log)
	notifications := service.NewNotificationConsumer(repository.NewNotificationRepo(db), service.NewRedisPresence(rdb), log)

	consumer := func(q string, h queue.Handler) *queue.Consumer {
		return queue.NewConsumer(queue.ConsumerConfig{
			URL: cfg.AMQP.URL, Queue: q, DLX: cfg.AMQP.DeadLetter, Prefetch: cfg.AMQP.Prefetch,
		}, h, log)
	}
	var consumers []*queue.Consumer
	if cfg.AMQP.ConsumePayments {
		consumers = append(consumers, consumer(queue.PaymentQueue, worker.Handle))
	}
	if cfg.AMQP.ConsumeNotices {
		consumers = append(consumers, consumer(queue.NotificationQueue, notifications.Handle))
	}
	if cfg.AMQP.ConsumePosts {
		consumers = append(consumers, consumer(queue.PostQueue, ranking.HandlePost))
	}

	sched := scheduler.New(log, cfg.Jobs.Timeout)
	if err := scheduler.RegisterAll(sched, scheduler.Specs{
		ExpirePending:     cfg.Jobs.ExpirePending,
		AutoComplete:      cfg.Jobs.AutoComplete,
		NotCompleted:      cfg.Jobs.NotCompleted,
		UnlockPenalized:   cfg.Jobs.UnlockPenalized,
		PenalizeNoShows:   cfg.Jobs.PenalizeNoShows,
		RecomputeRankings: cfg.Jobs.RecomputeRankings,
	}, bookings, penalties, ranking); err != nil {
		log.WithError(err).Fatal("register jobs")
	}

	link := func(ctx context.Context, a service.Actor, id uint64) (*model.Payment, error) {
		return service.PaymentLink(ctx, bookings, payments, a, id)
	}
	return app{
		handlers: router.Handlers{
			Health: handler.Health(map[string]handler.Pinger{
				"mysql": handler.PingFunc(db.PingContext),
				"redis": handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
			}),
			Bookings: handler.NewBookingHandler(bookings, link, log),
			Payments: handler.NewPaymentHandler(callback, log),
			Calendar: handler.NewCalendarHandler(calendar, bookings, log),
			Rankings: handler.NewRankingHandler(ranking, reviews, log),
		},
		validator: handler.NewValidator(),
		consumers: consumers,
		scheduler: sched,
	}
}

func bookingConfig(c config.BookingConfig) service.BookingConfig {
	return service.BookingConfig{
		HoldWindow:     c.HoldWindow,
		LedgerTTLGrace: c.LedgerTTLGrace,
		PayLaterLead:   c.PayLaterLead,
		DepositPercent: c.DepositPercent,
		MaxStayDays:    c.MaxStayDays,
		ConfirmRetries: c.ConfirmRetries,
		AutoComplete:   c.AutoComplete,
		NoShowAfter:    c.NoShowAfter,
		BatchSize:      c.BatchSize,
	}
}

func rankingConfig(c config.RankingConfig) service.RankingConfig {
	return service.RankingConfig{
		AttendancePoints: c.AttendancePoints,
		CompletionPoints: c.CompletionPoints,
		NoShowPenalty:    c.NoShowPenalty,
		PostPoints:       c.PostPoints,
		PostsPerDay:      c.PostsPerDay,
		Weights: model.RankingWeights{
			Attendance: c.WeightAttendance,
			Completion: c.WeightCompletion,
			Review:     c.WeightReview,
			Post:       c.WeightPost,
		},
	}
}

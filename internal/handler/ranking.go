package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/service"
)

// RankingAPI is the guide leaderboard and its inputs.
type RankingAPI interface {
	Top(ctx context.Context, component model.RankingComponent, limit int) ([]model.Ranking, error)
	Mine(ctx context.Context, guideID uint64) (*model.Ranking, error)
	Checkin(ctx context.Context, guideID uint64, cmd service.CheckinCommand) (bool, error)
}

// ReviewAPI records traveler reviews.
type ReviewAPI interface {
	Submit(ctx context.Context, travelerID uint64, cmd service.ReviewCommand) (*model.Review, error)
}

type RankingHandler struct {
	ranking RankingAPI
	reviews ReviewAPI
	log     logrus.FieldLogger
}

func NewRankingHandler(ranking RankingAPI, reviews ReviewAPI, log logrus.FieldLogger) *RankingHandler {
	return &RankingHandler{ranking: ranking, reviews: reviews, log: log.WithField("component", "ranking-handler")}
}

type topQuery struct {
	Component string `query:"component"`
	Limit     int    `query:"limit" validate:"gte=0,lte=100"`
}

// Top handles GET /v1/rankings/top?component=&limit=.
func (h *RankingHandler) Top(c echo.Context) error {
	var q topQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return fail(c, h.log, fmt.Errorf("%w: %v", service.ErrValidation, err))
	}
	if err := c.Validate(q); err != nil {
		return fail(c, h.log, err)
	}
	top, err := h.ranking.Top(c.Request().Context(), model.RankingComponent(q.Component), q.Limit)
	if err != nil {
		return fail(c, h.log, err)
	}
	if top == nil {
		top = []model.Ranking{}
	}
	return c.JSON(http.StatusOK, echo.Map{"rankings": top})
}

// Mine handles GET /v1/rankings/me for the calling guide.
func (h *RankingHandler) Mine(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	rk, err := h.ranking.Mine(c.Request().Context(), a.UserID)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, rk)
}

// Checkin handles POST /v1/checkins. A repeated check-in for the same day
// is accepted but not counted again.
func (h *RankingHandler) Checkin(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	var cmd service.CheckinCommand
	if err := bindStrict(c, &cmd); err != nil {
		return fail(c, h.log, err)
	}
	counted, err := h.ranking.Checkin(c.Request().Context(), a.UserID, cmd)
	if err != nil {
		return fail(c, h.log, err)
	}
	status := http.StatusOK
	if counted {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{"counted": counted})
}

// Review handles POST /v1/reviews.
func (h *RankingHandler) Review(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	var cmd service.ReviewCommand
	if err := bindStrict(c, &cmd); err != nil {
		return fail(c, h.log, err)
	}
	rv, err := h.reviews.Submit(c.Request().Context(), a.UserID, cmd)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, rv)
}

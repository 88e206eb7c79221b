package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/service"
)

// CalendarAPI is the guide calendar.
type CalendarAPI interface {
	Range(ctx context.Context, guideID uint64, from, to time.Time) ([]model.CalendarDay, error)
	SetAvailability(ctx context.Context, guideID uint64, days []time.Time, status model.DayStatus) error
}

// AvailabilityAPI reports remaining seats of a tour.
type AvailabilityAPI interface {
	Availability(ctx context.Context, tourID uint64, from, to time.Time) ([]service.DayAvailability, error)
}

// CalendarHandler serves guide calendars and tour availability.
type CalendarHandler struct {
	calendar CalendarAPI
	tours    AvailabilityAPI
	log      logrus.FieldLogger
}

func NewCalendarHandler(calendar CalendarAPI, tours AvailabilityAPI, log logrus.FieldLogger) *CalendarHandler {
	return &CalendarHandler{calendar: calendar, tours: tours, log: log.WithField("component", "calendar-handler")}
}

type rangeQuery struct {
	From string `query:"from" validate:"required,datetime=2006-01-02"`
	To   string `query:"to" validate:"required,datetime=2006-01-02"`
}

func (h *CalendarHandler) bindRange(c echo.Context) (time.Time, time.Time, error) {
	var q rangeQuery
	if err := (&echo.DefaultBinder{}).BindQueryParams(c, &q); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %v", service.ErrValidation, err)
	}
	if err := c.Validate(q); err != nil {
		return time.Time{}, time.Time{}, err
	}
	from, _ := model.ParseDate(q.From)
	to, _ := model.ParseDate(q.To)
	return from, to, nil
}

// GuideCalendar handles GET /v1/guides/:id/calendar?from=&to=.
func (h *CalendarHandler) GuideCalendar(c echo.Context) error {
	guideID, err := idParam(c, "id")
	if err != nil {
		return fail(c, h.log, err)
	}
	from, to, err := h.bindRange(c)
	if err != nil {
		return fail(c, h.log, err)
	}
	days, err := h.calendar.Range(c.Request().Context(), guideID, from, to)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"guide_id": guideID, "days": days})
}

type calendarRequest struct {
	Dates  []string `json:"dates" validate:"required,min=1,max=366,dive,datetime=2006-01-02"`
	Status string   `json:"status" validate:"required,oneof=AVAILABLE UNAVAILABLE"`
}

// SetCalendar handles PUT /v1/calendar for the calling guide.
func (h *CalendarHandler) SetCalendar(c echo.Context) error {
	a, ok := actor(c)
	if !ok {
		return unauthorized(c)
	}
	var req calendarRequest
	if err := bindStrict(c, &req); err != nil {
		return fail(c, h.log, err)
	}
	if err := c.Validate(req); err != nil {
		return fail(c, h.log, err)
	}
	days := make([]time.Time, len(req.Dates))
	for i, s := range req.Dates {
		days[i], _ = model.ParseDate(s)
	}
	if err := h.calendar.SetAvailability(c.Request().Context(), a.UserID, days, model.DayStatus(req.Status)); err != nil {
		return fail(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// TourAvailability handles GET /v1/tours/:id/availability?from=&to=.
func (h *CalendarHandler) TourAvailability(c echo.Context) error {
	tourID, err := idParam(c, "id")
	if err != nil {
		return fail(c, h.log, err)
	}
	from, to, err := h.bindRange(c)
	if err != nil {
		return fail(c, h.log, err)
	}
	days, err := h.tours.Availability(c.Request().Context(), tourID, from, to)
	if err != nil {
		return fail(c, h.log, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"tour_id": tourID, "days": days})
}

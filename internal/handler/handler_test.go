package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/service"
)

func quietLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

type fakeBookings struct {
	created  service.CreateBookingCommand
	canceled string
	err      error
}

func (f *fakeBookings) booking(id uint64) *model.Booking {
	return &model.Booking{ID: id, TravelerID: 200, Status: model.BookingPending}
}

func (f *fakeBookings) Create(_ context.Context, cmd service.CreateBookingCommand) (*model.Booking, error) {
	f.created = cmd
	if f.err != nil {
		return nil, f.err
	}
	return f.booking(1), nil
}

func (f *fakeBookings) Get(_ context.Context, _ service.Actor, id uint64) (*model.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.booking(id), nil
}

func (f *fakeBookings) List(context.Context, service.Actor) ([]model.Booking, error) {
	return nil, f.err
}

func (f *fakeBookings) Cancel(_ context.Context, _ service.Actor, id uint64, reason string) (*model.Booking, error) {
	f.canceled = reason
	return f.booking(id), f.err
}

func (f *fakeBookings) CancelWithSecret(_ context.Context, id uint64, secret string) (*model.Booking, error) {
	if secret != "s3cret" {
		return nil, service.ErrInvalidSecret
	}
	return f.booking(id), nil
}

func (f *fakeBookings) Confirm(_ context.Context, _ service.Actor, id uint64) (*model.Booking, error) {
	return f.booking(id), f.err
}

// asUser stands in for JWTAuth.
func asUser(id uint64, role string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set("user_id", id)
			c.Set("role", role)
			return next(c)
		}
	}
}

func newEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	return e
}

func call(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("body %q: %v", rec.Body.String(), err)
	}
	s, _ := body["error"].(string)
	return s
}

func TestBookingHandler(t *testing.T) {
	t.Run("Given a traveler When creating Then the token identity is used and 201 returned", func(t *testing.T) {
		fb := &fakeBookings{}
		h := NewBookingHandler(fb, nil, quietLog())
		e := newEcho()
		e.POST("/v1/bookings", h.Create, asUser(200, model.RoleTraveler))

		rec := call(e, http.MethodPost, "/v1/bookings", `{"tour_id":1,"start_date":"2025-06-10","end_date":"2025-06-10","adults":2}`)

		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
		}
		if fb.created.TravelerID != 200 || fb.created.Adults != 2 {
			t.Fatalf("command = %+v", fb.created)
		}
	})

	t.Run("Given unknown body fields When creating Then 400", func(t *testing.T) {
		h := NewBookingHandler(&fakeBookings{}, nil, quietLog())
		e := newEcho()
		e.POST("/v1/bookings", h.Create, asUser(200, model.RoleTraveler))
		rec := call(e, http.MethodPost, "/v1/bookings", `{"tour_id":1,"traveler_id":9}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("Given service errors When calling Then they map to status codes", func(t *testing.T) {
		cases := []struct {
			err  error
			code int
		}{
			{service.ErrCapacityConflict, http.StatusConflict},
			{service.ErrTourNotFound, http.StatusNotFound},
			{service.ErrTravelerLocked, http.StatusForbidden},
			{service.ErrGuideUnavailable, http.StatusConflict},
			{service.ErrValidation, http.StatusBadRequest},
			{errors.New("db down"), http.StatusInternalServerError},
		}
		for _, tc := range cases {
			h := NewBookingHandler(&fakeBookings{err: tc.err}, nil, quietLog())
			e := newEcho()
			e.POST("/v1/bookings", h.Create, asUser(200, model.RoleTraveler))
			rec := call(e, http.MethodPost, "/v1/bookings", `{"tour_id":1}`)
			if rec.Code != tc.code {
				t.Errorf("%v: status = %d", tc.err, rec.Code)
			}
		}
		h := NewBookingHandler(&fakeBookings{err: errors.New("db down")}, nil, quietLog())
		e := newEcho()
		e.GET("/v1/bookings/:id", h.Get, asUser(200, model.RoleTraveler))
		if msg := errorOf(t, call(e, http.MethodGet, "/v1/bookings/5", "")); msg != "internal error" {
			t.Fatalf("leaked error %q", msg)
		}
	})

	t.Run("Given a bad id When fetching Then 400", func(t *testing.T) {
		h := NewBookingHandler(&fakeBookings{}, nil, quietLog())
		e := newEcho()
		e.GET("/v1/bookings/:id", h.Get, asUser(200, model.RoleTraveler))
		if rec := call(e, http.MethodGet, "/v1/bookings/abc", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("Given a cancel reason When canceling Then it reaches the service", func(t *testing.T) {
		fb := &fakeBookings{}
		h := NewBookingHandler(fb, nil, quietLog())
		e := newEcho()
		e.POST("/v1/bookings/:id/cancel", h.Cancel, asUser(200, model.RoleTraveler))
		rec := call(e, http.MethodPost, "/v1/bookings/3/cancel", `{"reason":"plans changed"}`)
		if rec.Code != http.StatusOK || fb.canceled != "plans changed" {
			t.Fatalf("status = %d reason = %q", rec.Code, fb.canceled)
		}
		if rec := call(e, http.MethodPost, "/v1/bookings/3/cancel", ""); rec.Code != http.StatusOK {
			t.Fatalf("empty body status = %d", rec.Code)
		}
	})

	t.Run("Given the emailed secret When canceling publicly Then only the right secret works", func(t *testing.T) {
		h := NewBookingHandler(&fakeBookings{}, nil, quietLog())
		e := newEcho()
		e.POST("/v1/bookings/:id/cancel-with-secret", h.CancelWithSecret)
		if rec := call(e, http.MethodPost, "/v1/bookings/3/cancel-with-secret", `{"secret":"s3cret"}`); rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec := call(e, http.MethodPost, "/v1/bookings/3/cancel-with-secret", `{"secret":"nope"}`); rec.Code != http.StatusForbidden {
			t.Fatalf("wrong secret status = %d", rec.Code)
		}
		if rec := call(e, http.MethodPost, "/v1/bookings/3/cancel-with-secret", `{}`); rec.Code != http.StatusBadRequest {
			t.Fatalf("missing secret status = %d", rec.Code)
		}
	})

	t.Run("Given no payment yet When asking for the link Then 202", func(t *testing.T) {
		ready := false
		link := func(_ context.Context, a service.Actor, id uint64) (*model.Payment, error) {
			if !ready {
				return nil, service.ErrPaymentNotReady
			}
			return &model.Payment{BookingID: id, AmountPaid: 30, PaymentURL: "https://pay"}, nil
		}
		h := NewBookingHandler(&fakeBookings{}, link, quietLog())
		e := newEcho()
		e.GET("/v1/bookings/:id/payment", h.Payment, asUser(200, model.RoleTraveler))
		if rec := call(e, http.MethodGet, "/v1/bookings/4/payment", ""); rec.Code != http.StatusAccepted {
			t.Fatalf("status = %d", rec.Code)
		}
		ready = true
		rec := call(e, http.MethodGet, "/v1/bookings/4/payment", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "https://pay") {
			t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("Given no identity When listing Then 401", func(t *testing.T) {
		h := NewBookingHandler(&fakeBookings{}, nil, quietLog())
		e := newEcho()
		e.GET("/v1/bookings", h.List)
		if rec := call(e, http.MethodGet, "/v1/bookings", ""); rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

type fakeCallback struct {
	err error
}

func (f fakeCallback) Handle(context.Context, url.Values) (service.CallbackResult, error) {
	return service.CallbackResult{BookingID: 1, Confirmed: f.err == nil}, f.err
}

func (f fakeCallback) IPN(context.Context, url.Values) service.IPNResponse {
	if f.err != nil {
		return service.IPNResponse{RspCode: "97", Message: "Invalid signature"}
	}
	return service.IPNResponse{RspCode: "00", Message: "Confirm Success"}
}

func TestPaymentHandler(t *testing.T) {
	t.Run("Given a captured payment When the browser returns Then 200", func(t *testing.T) {
		h := NewPaymentHandler(fakeCallback{}, quietLog())
		e := newEcho()
		e.GET("/return", h.Return)
		rec := call(e, http.MethodGet, "/return?vnp_TxnRef=x", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"confirmed":true`) {
			t.Fatalf("return = %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("Given a tampered return When handling Then 400 and IPN still answers 200", func(t *testing.T) {
		h := NewPaymentHandler(fakeCallback{err: service.ErrInvalidSignature}, quietLog())
		e := newEcho()
		e.GET("/return", h.Return)
		e.GET("/ipn", h.IPN)
		if rec := call(e, http.MethodGet, "/return?vnp_TxnRef=x", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("return status = %d", rec.Code)
		}
		rec := call(e, http.MethodGet, "/ipn?vnp_TxnRef=x", "")
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"RspCode":"97"`) {
			t.Fatalf("ipn = %d %s", rec.Code, rec.Body.String())
		}
	})
}

type fakeCalendar struct {
	set    []time.Time
	status model.DayStatus
}

func (f *fakeCalendar) Range(_ context.Context, guideID uint64, from, to time.Time) ([]model.CalendarDay, error) {
	var out []model.CalendarDay
	for _, d := range model.StayDays(from, to) {
		out = append(out, model.CalendarDay{GuideID: guideID, Date: d, Status: model.DayAvailable})
	}
	return out, nil
}

func (f *fakeCalendar) SetAvailability(_ context.Context, _ uint64, days []time.Time, status model.DayStatus) error {
	f.set, f.status = days, status
	return nil
}

type fakeAvailability struct{}

func (fakeAvailability) Availability(_ context.Context, tourID uint64, from, to time.Time) ([]service.DayAvailability, error) {
	if tourID != 1 {
		return nil, service.ErrTourNotFound
	}
	return []service.DayAvailability{{Date: model.DateKey(from), Capacity: 10, Remaining: 7}}, nil
}

func TestCalendarHandler(t *testing.T) {
	fc := &fakeCalendar{}
	h := NewCalendarHandler(fc, fakeAvailability{}, quietLog())
	e := newEcho()
	e.GET("/v1/guides/:id/calendar", h.GuideCalendar)
	e.PUT("/v1/calendar", h.SetCalendar, asUser(100, model.RoleGuide))
	e.GET("/v1/tours/:id/availability", h.TourAvailability)

	t.Run("Given a range When reading a calendar Then every day is listed", func(t *testing.T) {
		rec := call(e, http.MethodGet, "/v1/guides/100/calendar?from=2025-06-01&to=2025-06-03", "")
		var body struct {
			Days []model.CalendarDay `json:"days"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || len(body.Days) != 3 {
			t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
		}
		if rec := call(e, http.MethodGet, "/v1/guides/100/calendar?from=june", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("bad range status = %d", rec.Code)
		}
	})

	t.Run("Given dates When a guide blocks them Then the service receives parsed days", func(t *testing.T) {
		rec := call(e, http.MethodPut, "/v1/calendar", `{"dates":["2025-06-10","2025-06-11"],"status":"UNAVAILABLE"}`)
		if rec.Code != http.StatusNoContent || len(fc.set) != 2 || fc.status != model.DayUnavailable {
			t.Fatalf("status = %d set = %v %s", rec.Code, fc.set, fc.status)
		}
		if rec := call(e, http.MethodPut, "/v1/calendar", `{"dates":["2025-06-10"],"status":"BOOKED"}`); rec.Code != http.StatusBadRequest {
			t.Fatalf("booked status = %d", rec.Code)
		}
	})

	t.Run("Given an unknown tour When reading availability Then 404", func(t *testing.T) {
		if rec := call(e, http.MethodGet, "/v1/tours/1/availability?from=2025-06-01&to=2025-06-01", ""); rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec := call(e, http.MethodGet, "/v1/tours/9/availability?from=2025-06-01&to=2025-06-01", ""); rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

type fakeRanking struct {
	checkins map[string]bool
	limit    int
}

func (f *fakeRanking) Top(_ context.Context, c model.RankingComponent, limit int) ([]model.Ranking, error) {
	if c != "" && !c.Valid() {
		return nil, service.ErrValidation
	}
	f.limit = limit
	return []model.Ranking{{GuideID: 100, TotalScore: 15, Rank: 1}}, nil
}

func (f *fakeRanking) Mine(_ context.Context, id uint64) (*model.Ranking, error) {
	return &model.Ranking{GuideID: id}, nil
}

func (f *fakeRanking) Checkin(_ context.Context, _ uint64, cmd service.CheckinCommand) (bool, error) {
	if f.checkins[cmd.Date] {
		return false, nil
	}
	f.checkins[cmd.Date] = true
	return true, nil
}

type fakeReviews struct{}

func (fakeReviews) Submit(_ context.Context, travelerID uint64, cmd service.ReviewCommand) (*model.Review, error) {
	if cmd.BookingID == 2 {
		return nil, service.ErrAlreadyReviewed
	}
	return &model.Review{BookingID: cmd.BookingID, TravelerID: travelerID}, nil
}

func TestRankingHandler(t *testing.T) {
	fr := &fakeRanking{checkins: map[string]bool{}}
	h := NewRankingHandler(fr, fakeReviews{}, quietLog())
	e := newEcho()
	e.GET("/v1/rankings/top", h.Top)
	e.GET("/v1/rankings/me", h.Mine, asUser(100, model.RoleGuide))
	e.POST("/v1/checkins", h.Checkin, asUser(100, model.RoleGuide))
	e.POST("/v1/reviews", h.Review, asUser(200, model.RoleTraveler))

	t.Run("Given query params When reading the leaderboard Then they are passed through", func(t *testing.T) {
		if rec := call(e, http.MethodGet, "/v1/rankings/top?component=review&limit=5", ""); rec.Code != http.StatusOK || fr.limit != 5 {
			t.Fatalf("status = %d limit = %d", rec.Code, fr.limit)
		}
		if rec := call(e, http.MethodGet, "/v1/rankings/top?limit=500", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("limit 500 status = %d", rec.Code)
		}
		if rec := call(e, http.MethodGet, "/v1/rankings/top?component=likes", ""); rec.Code != http.StatusBadRequest {
			t.Fatalf("bad component status = %d", rec.Code)
		}
	})

	t.Run("Given a second check-in the same day When posting Then 200 and not counted", func(t *testing.T) {
		if rec := call(e, http.MethodPost, "/v1/checkins", `{"date":"2025-06-01"}`); rec.Code != http.StatusCreated {
			t.Fatalf("first status = %d", rec.Code)
		}
		rec := call(e, http.MethodPost, "/v1/checkins", `{"date":"2025-06-01"}`)
		if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"counted":false`) {
			t.Fatalf("second = %d %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("Given a reviewed booking When reviewing again Then 409", func(t *testing.T) {
		if rec := call(e, http.MethodPost, "/v1/reviews", `{"booking_id":1,"rating_for_tour":5,"rating_for_guide":5}`); rec.Code != http.StatusCreated {
			t.Fatalf("status = %d", rec.Code)
		}
		if rec := call(e, http.MethodPost, "/v1/reviews", `{"booking_id":2,"rating_for_tour":5,"rating_for_guide":5}`); rec.Code != http.StatusConflict {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestHealth(t *testing.T) {
	e := newEcho()
	e.GET("/ok", Health(map[string]Pinger{"db": PingFunc(func(context.Context) error { return nil })}))
	e.GET("/bad", Health(map[string]Pinger{"redis": PingFunc(func(context.Context) error { return errors.New("refused") })}))
	if rec := call(e, http.MethodGet, "/ok", ""); rec.Code != http.StatusOK {
		t.Fatalf("ok status = %d", rec.Code)
	}
	if rec := call(e, http.MethodGet, "/bad", ""); rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "redis") {
		t.Fatalf("bad = %d %s", rec.Code, rec.Body.String())
	}
}

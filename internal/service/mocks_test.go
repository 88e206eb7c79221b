package service

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/tour-booking/internal/gateway"
	"github.com/iliyamo/tour-booking/internal/ledger"
	"github.com/iliyamo/tour-booking/internal/model"
	"github.com/iliyamo/tour-booking/internal/queue"
	"github.com/iliyamo/tour-booking/internal/repository"
)

var testNow = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func testLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// world is an in-memory database shared by the fake stores.
type world struct {
	mu       sync.Mutex
	nextID   uint64
	bookings map[uint64]*model.Booking
	payments map[uint64]*model.Payment
	tours    map[uint64]*model.Tour
	users    map[uint64]*model.User
	calendar map[string]model.DayStatus
	reviews  []model.Review
	checkins map[string]bool
	posts    map[uint64]postRow
	rankings map[uint64]model.Ranking

	markBookedErr error
}

type postRow struct {
	guideID uint64
	day     string
}

func newWorld() *world {
	return &world{
		nextID:   1000,
		bookings: map[uint64]*model.Booking{},
		payments: map[uint64]*model.Payment{},
		tours:    map[uint64]*model.Tour{},
		users:    map[uint64]*model.User{},
		calendar: map[string]model.DayStatus{},
		checkins: map[string]bool{},
		posts:    map[uint64]postRow{},
		rankings: map[uint64]model.Ranking{},
	}
}

func (w *world) id() uint64 { w.nextID++; return w.nextID }

func calKey(guideID uint64, d time.Time) string {
	return fmt.Sprintf("%d:%s", guideID, model.DateKey(d))
}

func (w *world) booking(id uint64) model.Booking {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.bookings[id]
}

func (w *world) payment(id uint64) model.Payment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return *w.payments[id]
}

func (w *world) paymentsOf(bookingID uint64) []model.Payment {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []model.Payment
	for _, p := range w.payments {
		if p.BookingID == bookingID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *world) dayStatus(guideID uint64, d time.Time) model.DayStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.calendar[calKey(guideID, d)]
	if !ok {
		return model.DayAvailable
	}
	return st
}

// fakeBookings implements BookingStore.
type fakeBookings struct{ w *world }

func (f fakeBookings) CreateBooking(_ context.Context, b *model.Booking) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	b.ID = f.w.id()
	c := *b
	f.w.bookings[b.ID] = &c
	f.w.tours[b.TourID].AvailableSlots -= b.Slots()
	return nil
}

func (f fakeBookings) GetByID(_ context.Context, id uint64) (*model.Booking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	b, ok := f.w.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *b
	return &c, nil
}

func (f fakeBookings) list(match func(*model.Booking) bool) []model.Booking {
	var out []model.Booking
	for _, b := range f.w.bookings {
		if match(b) {
			out = append(out, *b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f fakeBookings) ListByTraveler(_ context.Context, travelerID uint64) ([]model.Booking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.list(func(b *model.Booking) bool { return b.TravelerID == travelerID }), nil
}

func (f fakeBookings) ListByGuide(_ context.Context, guideID uint64) ([]model.Booking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.list(func(b *model.Booking) bool { return b.GuideID == guideID }), nil
}

func (f fakeBookings) Transition(_ context.Context, b *model.Booking, from model.BookingStatus, fx repository.Effects) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	cur, ok := f.w.bookings[b.ID]
	if !ok || cur.Status != from {
		return repository.ErrStaleState
	}
	if fx.Payment != nil {
		p, ok := f.w.payments[fx.Payment.ID]
		if !ok || p.Status != model.PaymentPending {
			return fmt.Errorf("finalize payment: %w", repository.ErrStaleState)
		}
		c := *fx.Payment
		c.Status = fx.PaymentStatus
		f.w.payments[c.ID] = &c
		fx.Payment.Status = fx.PaymentStatus
	}
	for _, p := range f.w.payments {
		if p.BookingID != b.ID {
			continue
		}
		if fx.ClosePayment && p.Status == model.PaymentPending {
			p.Status = model.PaymentFailed
		}
		if fx.Refund && p.Status == model.PaymentSuccess {
			p.Status = model.PaymentRefund
		}
	}
	t := f.w.tours[b.TourID]
	t.AvailableSlots += fx.SlotsDelta
	if fx.CountBooking {
		t.TotalBookings++
	}
	c := *b
	f.w.bookings[b.ID] = &c
	return nil
}

func (f fakeBookings) SubmitReview(_ context.Context, rv *model.Review) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	b := f.w.bookings[rv.BookingID]
	if b == nil || b.Status != model.BookingCompleted || b.IsReview {
		return repository.ErrStaleState
	}
	b.IsReview = true
	rv.ID = f.w.id()
	f.w.reviews = append(f.w.reviews, *rv)
	return nil
}

func (f fakeBookings) CommittedSeats(_ context.Context, tourID uint64, from, to time.Time) (map[string]int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	out := map[string]int{}
	for _, b := range f.w.bookings {
		if b.TourID != tourID {
			continue
		}
		switch b.Status {
		case model.BookingPaid, model.BookingWaitingConfirm, model.BookingCompleted, model.BookingNotCompleted:
		default:
			continue
		}
		for _, d := range b.Days() {
			if d.Before(model.Day(from)) || d.After(model.Day(to)) {
				continue
			}
			out[model.DateKey(d)] += b.Slots()
		}
	}
	return out, nil
}

func (f fakeBookings) ListExpirable(_ context.Context, now time.Time, lead time.Duration, limit int) ([]model.Booking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return limited(f.list(func(b *model.Booking) bool { return b.PaymentDeadline(now, lead) }), limit), nil
}

func (f fakeBookings) ListWaitingSince(_ context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return limited(f.list(func(b *model.Booking) bool {
		return b.Status == model.BookingWaitingConfirm && !b.UpdatedAt.After(cutoff)
	}), limit), nil
}

func (f fakeBookings) ListPaidEndedBefore(_ context.Context, cutoff time.Time, limit int) ([]model.Booking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return limited(f.list(func(b *model.Booking) bool {
		return b.Status == model.BookingPaid && !b.EndDate.After(cutoff)
	}), limit), nil
}

func (f fakeBookings) CountByGuideStatus(_ context.Context, guideID uint64, status model.BookingStatus) (int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return len(f.list(func(b *model.Booking) bool { return b.GuideID == guideID && b.Status == status })), nil
}

func (f fakeBookings) NoShowCandidates(context.Context) ([]uint64, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	seen := map[uint64]bool{}
	var ids []uint64
	for _, b := range f.list(func(b *model.Booking) bool {
		return b.PayLater && b.Status == model.BookingCanceled && b.PaymentStatus == model.PaymentStateTimeout
	}) {
		u := f.w.users[b.TravelerID]
		if seen[b.TravelerID] || !u.IsActive || (u.PenalizedAt != nil && !b.CreatedAt.After(*u.PenalizedAt)) {
			continue
		}
		seen[b.TravelerID] = true
		ids = append(ids, b.TravelerID)
	}
	return ids, nil
}

func (f fakeBookings) RecentPayLater(_ context.Context, travelerID uint64, since *time.Time, n int) ([]model.Booking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	out := f.list(func(b *model.Booking) bool {
		return b.TravelerID == travelerID && b.PayLater && (since == nil || b.CreatedAt.After(*since))
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return limited(out, n), nil
}

func limited(bs []model.Booking, n int) []model.Booking {
	if n > 0 && len(bs) > n {
		return bs[:n]
	}
	return bs
}

// fakePayments implements PaymentStore.
type fakePayments struct{ w *world }

func (f fakePayments) Create(_ context.Context, p *model.Payment) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	for _, q := range f.w.payments {
		if q.BookingID == p.BookingID && q.Status == model.PaymentPending {
			return repository.ErrDuplicate
		}
	}
	p.ID = f.w.id()
	p.Status = model.PaymentPending
	c := *p
	f.w.payments[p.ID] = &c
	return nil
}

func (f fakePayments) GetByTransactionID(_ context.Context, txnID string) (*model.Payment, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	for _, p := range f.w.payments {
		if p.TransactionID == txnID {
			c := *p
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f fakePayments) LatestForBooking(_ context.Context, bookingID uint64) (*model.Payment, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var latest *model.Payment
	for _, p := range f.w.payments {
		if p.BookingID == bookingID && (latest == nil || p.ID > latest.ID) {
			latest = p
		}
	}
	if latest == nil {
		return nil, repository.ErrNotFound
	}
	c := *latest
	return &c, nil
}

func (f fakePayments) Finalize(_ context.Context, p *model.Payment, status model.PaymentStatus) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	cur := f.w.payments[p.ID]
	if cur == nil || cur.Status != model.PaymentPending {
		return repository.ErrStaleState
	}
	c := *p
	c.Status = status
	f.w.payments[p.ID] = &c
	p.Status = status
	return nil
}

func (f fakePayments) RefundLateCapture(_ context.Context, p *model.Payment) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	cur := f.w.payments[p.ID]
	if cur == nil || cur.Status != model.PaymentFailed || cur.TransactionNo != "" {
		return repository.ErrStaleState
	}
	c := *p
	c.Status = model.PaymentRefund
	f.w.payments[p.ID] = &c
	p.Status = model.PaymentRefund
	return nil
}

// fakeTours implements TourReader.
type fakeTours struct{ w *world }

func (f fakeTours) GetByID(_ context.Context, id uint64) (*model.Tour, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	t, ok := f.w.tours[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *t
	return &c, nil
}

func (f fakeTours) UpdateRating(_ context.Context, tourID uint64, rating float64) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	f.w.tours[tourID].Rating = &rating
	return nil
}

// fakeUsers implements UserStore.
type fakeUsers struct{ w *world }

func (f fakeUsers) GetByID(_ context.Context, id uint64) (*model.User, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	u, ok := f.w.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f fakeUsers) ListGuideIDs(context.Context) ([]uint64, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var ids []uint64
	for id, u := range f.w.users {
		if u.Role == model.RoleGuide {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (f fakeUsers) Lock(_ context.Context, userID uint64, until, now time.Time) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	u := f.w.users[userID]
	u.IsActive = false
	u.LockedUntil = &until
	u.PenalizedAt = &now
	return nil
}

func (f fakeUsers) UnlockExpired(_ context.Context, now time.Time) (int64, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var n int64
	for _, u := range f.w.users {
		if !u.IsActive && u.LockedUntil != nil && !u.LockedUntil.After(now) {
			u.IsActive = true
			u.LockedUntil = nil
			n++
		}
	}
	return n, nil
}

func (f fakeUsers) UpdateGuideStanding(_ context.Context, guideID uint64, rating *float64, rank int) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	u := f.w.users[guideID]
	u.Rating = rating
	u.Ranking = &rank
	return nil
}

// fakeCalendar implements CalendarStore.
type fakeCalendar struct{ w *world }

func (f fakeCalendar) Range(_ context.Context, guideID uint64, from, to time.Time) ([]model.CalendarDay, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []model.CalendarDay
	for _, d := range model.StayDays(from, to) {
		if st, ok := f.w.calendar[calKey(guideID, d)]; ok {
			out = append(out, model.CalendarDay{GuideID: guideID, Date: d, Status: st})
		}
	}
	return out, nil
}

func (f fakeCalendar) CountUnavailable(_ context.Context, guideID uint64, days []time.Time) (int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	n := 0
	for _, d := range days {
		if f.w.calendar[calKey(guideID, d)] == model.DayUnavailable {
			n++
		}
	}
	return n, nil
}

func (f fakeCalendar) MarkBooked(_ context.Context, guideID uint64, days []time.Time) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if f.w.markBookedErr != nil {
		return f.w.markBookedErr
	}
	for _, d := range days {
		if f.w.calendar[calKey(guideID, d)] != model.DayUnavailable {
			f.w.calendar[calKey(guideID, d)] = model.DayBooked
		}
	}
	return nil
}

func (f fakeCalendar) Release(_ context.Context, guideID uint64, days []time.Time, exceptBookingID uint64) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	for _, d := range days {
		k := calKey(guideID, d)
		if f.w.calendar[k] != model.DayBooked {
			continue
		}
		covered := false
		for _, b := range f.w.bookings {
			if b.ID == exceptBookingID || b.GuideID != guideID {
				continue
			}
			switch b.Status {
			case model.BookingPending, model.BookingPaid, model.BookingWaitingConfirm:
			default:
				continue
			}
			for _, bd := range b.Days() {
				if bd.Equal(model.Day(d)) {
					covered = true
				}
			}
		}
		if !covered {
			f.w.calendar[k] = model.DayAvailable
		}
	}
	return nil
}

func (f fakeCalendar) SetAvailability(_ context.Context, guideID uint64, days []time.Time, status model.DayStatus) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	for _, d := range days {
		if f.w.calendar[calKey(guideID, d)] == model.DayBooked {
			return repository.ErrConflict
		}
	}
	for _, d := range days {
		f.w.calendar[calKey(guideID, d)] = status
	}
	return nil
}

// fakeRankings implements RankingStore.
type fakeRankings struct{ w *world }

func (f fakeRankings) Upsert(_ context.Context, rk model.Ranking) error {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	f.w.rankings[rk.GuideID] = rk
	return nil
}

func (f fakeRankings) rankOf(total float64) int {
	n := 1
	for _, r := range f.w.rankings {
		if r.TotalScore > total {
			n++
		}
	}
	return n
}

func (f fakeRankings) Get(_ context.Context, guideID uint64) (*model.Ranking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	rk, ok := f.w.rankings[guideID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	rk.Rank = f.rankOf(rk.TotalScore)
	return &rk, nil
}

func (f fakeRankings) RankOf(_ context.Context, total float64) (int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	return f.rankOf(total), nil
}

func (f fakeRankings) Top(_ context.Context, component model.RankingComponent, limit int) ([]model.Ranking, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	score := func(r model.Ranking) float64 {
		switch component {
		case model.ComponentAttendance:
			return r.AttendanceScore
		case model.ComponentCompletion:
			return r.CompletionScore
		case model.ComponentReview:
			return r.ReviewScore
		case model.ComponentPost:
			return r.PostScore
		}
		return r.TotalScore
	}
	var out []model.Ranking
	for _, r := range f.w.rankings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if score(out[i]) == score(out[j]) {
			return out[i].GuideID < out[j].GuideID
		}
		return score(out[i]) > score(out[j])
	})
	if len(out) > limit {
		out = out[:limit]
	}
	for i := range out {
		out[i].Position = i + 1
		out[i].Rank = f.rankOf(out[i].TotalScore)
	}
	return out, nil
}

func (f fakeRankings) GuideRatings(_ context.Context, guideID uint64) ([]int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []int
	for _, r := range f.w.reviews {
		if r.GuideID == guideID {
			out = append(out, r.RatingForGuide)
		}
	}
	return out, nil
}

func (f fakeRankings) TourRatings(_ context.Context, tourID uint64) ([]int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	var out []int
	for _, r := range f.w.reviews {
		if r.TourID == tourID {
			out = append(out, r.RatingForTour)
		}
	}
	return out, nil
}

func (f fakeRankings) InsertCheckin(_ context.Context, guideID uint64, day time.Time) (bool, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	k := calKey(guideID, day)
	if f.w.checkins[k] {
		return false, nil
	}
	f.w.checkins[k] = true
	return true, nil
}

func (f fakeRankings) CountCheckins(_ context.Context, guideID uint64) (int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	n := 0
	prefix := fmt.Sprintf("%d:", guideID)
	for k := range f.w.checkins {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix {
			n++
		}
	}
	return n, nil
}

func (f fakeRankings) InsertPost(_ context.Context, postID, guideID uint64, day time.Time) (bool, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	if _, ok := f.w.posts[postID]; ok {
		return false, nil
	}
	f.w.posts[postID] = postRow{guideID: guideID, day: model.DateKey(day)}
	return true, nil
}

func (f fakeRankings) CountedPosts(_ context.Context, guideID uint64, perDay int) (int, error) {
	f.w.mu.Lock()
	defer f.w.mu.Unlock()
	byDay := map[string]int{}
	for _, p := range f.w.posts {
		if p.guideID == guideID {
			byDay[p.day]++
		}
	}
	n := 0
	for _, c := range byDay {
		if c > perDay {
			c = perDay
		}
		n += c
	}
	return n, nil
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []queue.Message
	err  error
}

func (p *fakePublisher) Publish(_ context.Context, m queue.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, m)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (n *fakeNotifier) Send(_ context.Context, note model.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
}

func (n *fakeNotifier) to(receiverID uint64) []model.Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []model.Notification
	for _, s := range n.sent {
		if s.ReceiverID == receiverID {
			out = append(out, s)
		}
	}
	return out
}

type sentMail struct{ to, subject, html string }

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (m *fakeMailer) Send(_ context.Context, to, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, sentMail{to, subject, html})
	return nil
}

const (
	guideID   uint64 = 100
	travelID  uint64 = 200
	otherUser uint64 = 201
	tourID    uint64 = 1
)

// testClock is a movable clock shared by the services and the ledger.
type testClock struct {
	mu sync.Mutex
	at time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = c.at.Add(d)
}

// harness wires every service over the in-memory world, a miniredis
// ledger and a real VNPay signer.
type harness struct {
	w        *world
	mr       *miniredis.Miniredis
	clock    *testClock
	ledger   *ledger.Ledger
	gw       *gateway.VNPay
	pub      *fakePublisher
	notify   *fakeNotifier
	mailer   *fakeMailer
	bookings *BookingService
	worker   *PaymentWorker
	callback *PaymentCallback
	ranking  *RankingService
	reviews  *ReviewService
	penalty  *PenaltyService
	calendar *CalendarService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	w := newWorld()
	w.tours[tourID] = &model.Tour{ID: tourID, GuideID: guideID, Title: "Ha Long Bay", MaxParticipants: 10,
		PriceAdult: 1_000_000, PriceYouth: 700_000, PriceChild: 500_000, AvailableSlots: 10}
	w.users[guideID] = &model.User{ID: guideID, Email: "guide@example.com", FullName: "Guide", Role: model.RoleGuide, IsActive: true}
	w.users[travelID] = &model.User{ID: travelID, Email: "traveler@example.com", FullName: "Traveler", Role: model.RoleTraveler, IsActive: true}
	w.users[otherUser] = &model.User{ID: otherUser, Email: "other@example.com", FullName: "Other", Role: model.RoleTraveler, IsActive: true}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	tc := &testClock{at: testNow}
	h := &harness{
		w:      w,
		mr:     mr,
		clock:  tc,
		ledger: ledger.New(rdb).WithClock(tc.now),
		gw: gateway.NewVNPay(gateway.Config{
			TmnCode: "TOURTEST", HashSecret: "s3cret",
			PayURL: "https://sandbox.vnpayment.vn/paymentv2/vpcpay.html", ReturnURL: "http://localhost/return",
		}),
		pub:    &fakePublisher{},
		notify: &fakeNotifier{},
		mailer: &fakeMailer{},
	}
	clock := tc.now
	log := testLogger()

	h.calendar = NewCalendarService(fakeCalendar{w})
	h.ranking = NewRankingService(fakeBookings{w}, fakeRankings{w}, fakeUsers{w}, fakeTours{w}, DefaultRankingConfig(), log)
	h.ranking.now = clock
	h.bookings = NewBookingService(BookingDeps{
		Store:     fakeBookings{w},
		Tours:     fakeTours{w},
		Users:     fakeUsers{w},
		Ledger:    h.ledger,
		Calendar:  h.calendar,
		Publisher: h.pub,
		Notifier:  h.notify,
		Ranking:   h.ranking,
	}, DefaultBookingConfig(), log)
	h.bookings.now = clock
	h.worker = NewPaymentWorker(fakeBookings{w}, fakePayments{w}, h.gw, "127.0.0.1", log)
	h.worker.now = clock
	h.callback = NewPaymentCallback(PaymentCallbackDeps{
		Gateway:  h.gw,
		Payments: fakePayments{w},
		Bookings: h.bookings,
		Users:    fakeUsers{w},
		Tours:    fakeTours{w},
		Mailer:   h.mailer,
		Notifier: h.notify,
	}, "http://localhost/cancel", log)
	h.callback.secretCost = 4
	h.reviews = NewReviewService(fakeBookings{w}, h.ranking, log)
	h.reviews.now = clock
	h.penalty = NewPenaltyService(fakeBookings{w}, fakeUsers{w}, h.notify, PenaltyConfig{}, log)
	return h
}

func (h *harness) create(t *testing.T, cmd CreateBookingCommand) *model.Booking {
	t.Helper()
	b, err := h.bookings.Create(context.Background(), cmd)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return b
}

func stay(start, end string, adults int) CreateBookingCommand {
	return CreateBookingCommand{TravelerID: travelID, TourID: tourID, StartDate: start, EndDate: end, Adults: adults}
}

// initiate runs the payment worker for the booking's PaymentInitiated
// message and returns the created payment.
func (h *harness) initiate(t *testing.T, bookingID uint64) model.Payment {
	t.Helper()
	body, err := queue.Encode(queue.PaymentInitiated{BookingID: bookingID, UserID: travelID}, testNow)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.worker.Handle(context.Background(), body); err != nil {
		t.Fatalf("worker: %v", err)
	}
	ps := h.w.paymentsOf(bookingID)
	if len(ps) == 0 {
		t.Fatal("no payment created")
	}
	return ps[len(ps)-1]
}

// callbackParams returns signed callback params for p with code.
func (h *harness) callbackParams(p model.Payment, code string) url.Values {
	v := url.Values{
		"vnp_TxnRef":        {p.TransactionID},
		"vnp_Amount":        {fmt.Sprint(p.AmountPaid * 100)},
		"vnp_ResponseCode":  {code},
		"vnp_TransactionNo": {"14000001"},
		"vnp_BankCode":      {"NCB"},
		"vnp_PayDate":       {"20250601171000"},
		"vnp_TmnCode":       {"TOURTEST"},
	}
	return h.gw.SignParams(v)
}

// pay initiates and confirms the booking's payment. It returns the
// payment and the cancellation secret from the confirmation email.
func (h *harness) pay(t *testing.T, bookingID uint64) (model.Payment, string) {
	t.Helper()
	p := h.initiate(t, bookingID)
	res, err := h.callback.Handle(context.Background(), h.callbackParams(p, "00"))
	if err != nil || !res.Confirmed {
		t.Fatalf("callback = %+v, %v", res, err)
	}
	h.mailer.mu.Lock()
	defer h.mailer.mu.Unlock()
	if len(h.mailer.sent) == 0 {
		t.Fatal("no confirmation email")
	}
	return h.w.payment(p.ID), secretFrom(h.mailer.sent[len(h.mailer.sent)-1].html)
}

func secretFrom(html string) string {
	_, rest, ok := strings.Cut(html, "<code>")
	if !ok {
		return ""
	}
	secret, _, _ := strings.Cut(rest, "</code>")
	return secret
}

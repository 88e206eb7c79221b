// Package ledger keeps short-lived per-day seat holds for tours in Redis.
//
// Every day of a stay has a sorted set under
// ledger:tour:{tourId}:{YYYY-MM-DD}. Each member is one booking's hold,
// encoded as {holdId}:{slots}, scored by its expiry in unix milliseconds.
// Members past their expiry no longer count. A reservation adds its
// member to every day of the stay or to none of them; the check and the
// write run in one Lua script so concurrent reservations against the same
// day are serialized by Redis. Releasing removes only the caller's own
// member, so a late release can never free seats held by someone else.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/tour-booking/internal/model"
)

// ErrInvalidRequest is returned for requests that can never succeed
// (no days, non-positive slots, no hold id).
var ErrInvalidRequest = errors.New("ledger: invalid request")

// luaHeld sums the live holds of a day and drops expired members. touch
// keeps the key alive as long as its longest hold.
const luaHeld = `
local function held(key, now)
	redis.call('ZREMRANGEBYSCORE', key, '-inf', now)
	local sum = 0
	for _, m in ipairs(redis.call('ZRANGE', key, 0, -1)) do
		sum = sum + tonumber(string.match(m, ':(%d+)$'))
	end
	return sum
end
local function touch(key, now)
	local top = redis.call('ZRANGE', key, -1, -1, 'WITHSCORES')
	if top[2] == nil then
		redis.call('DEL', key)
		return
	end
	local ms = tonumber(top[2]) - now
	if ms < 1 then
		ms = 1
	end
	redis.call('PEXPIRE', key, ms)
end
`

// reserveScript checks every key before touching any of them.
//
// KEYS: one ledger key per day.
// ARGV[1] member, ARGV[2] slots, ARGV[3] now ms, ARGV[4] expiry ms,
// ARGV[5..] remaining capacity per key (tour capacity minus seats already
// committed in the database).
var reserveScript = redis.NewScript(luaHeld + `
local member = ARGV[1]
local slots = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local expiry = tonumber(ARGV[4])
for i, key in ipairs(KEYS) do
	local current = held(key, now)
	if redis.call('ZSCORE', key, member) then
		current = current - slots
	end
	if current + slots > tonumber(ARGV[i + 4]) then
		return i
	end
end
for _, key in ipairs(KEYS) do
	redis.call('ZADD', key, expiry, member)
	touch(key, now)
end
return 0
`)

// claimScript extends a hold that is still live on every day. It returns
// the index of the first day where the hold is missing or expired and
// changes nothing in that case.
//
// ARGV[1] member, ARGV[2] now ms, ARGV[3] new expiry ms.
var claimScript = redis.NewScript(luaHeld + `
local member = ARGV[1]
local now = tonumber(ARGV[2])
local expiry = tonumber(ARGV[3])
for i, key in ipairs(KEYS) do
	local score = redis.call('ZSCORE', key, member)
	if not score or tonumber(score) <= now then
		return i
	end
end
for _, key in ipairs(KEYS) do
	if tonumber(redis.call('ZSCORE', key, member)) < expiry then
		redis.call('ZADD', key, expiry, member)
	end
	touch(key, now)
end
return 0
`)

// releaseScript removes one hold from every key.
//
// ARGV[1] member, ARGV[2] now ms.
var releaseScript = redis.NewScript(luaHeld + `
local now = tonumber(ARGV[2])
for _, key in ipairs(KEYS) do
	redis.call('ZREM', key, ARGV[1])
	held(key, now)
	touch(key, now)
end
return 0
`)

// heldScript returns the live held seats of every key.
//
// ARGV[1] now ms.
var heldScript = redis.NewScript(luaHeld + `
local out = {}
for i, key in ipairs(KEYS) do
	out[i] = held(key, tonumber(ARGV[1]))
end
return out
`)

// Hold identifies one booking's seats on the days of its stay.
//
// Fields:
//
//	ID     – opaque hold id stored on the booking.
//	TourID – tour being booked.
//	Dates  – stay days, inclusive.
//	Slots  – seats held per day.
type Hold struct {
	ID     string
	TourID uint64
	Dates  []time.Time
	Slots  int
}

func (h Hold) member() string { return h.ID + ":" + strconv.Itoa(h.Slots) }

func (h Hold) valid() bool { return h.ID != "" && len(h.Dates) > 0 && h.Slots > 0 }

// ReserveRequest describes a new hold.
//
// Fields:
//
//	Capacity  – tour max participants per day.
//	Committed – seats already owned by paid bookings, keyed by DateKey.
//	TTL       – lifetime of the hold.
type ReserveRequest struct {
	Hold
	Capacity  int
	Committed map[string]int
	TTL       time.Duration
}

// Ledger is the Redis-backed capacity ledger.
type Ledger struct {
	rdb redis.Scripter
	now func() time.Time
}

// New returns a ledger using rdb.
func New(rdb redis.Scripter) *Ledger {
	return &Ledger{rdb: rdb, now: time.Now}
}

// WithClock replaces the clock hold expiry is measured against.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Key returns the Redis key holding the holds for tourID on day.
func Key(tourID uint64, day time.Time) string {
	return "ledger:tour:" + strconv.FormatUint(tourID, 10) + ":" + model.DateKey(day)
}

func keys(tourID uint64, dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = Key(tourID, d)
	}
	return out
}

func ms(t time.Time) int64 { return t.UnixMilli() }

// Reserve holds req.Slots seats on every day of req.Dates. It returns
// false, with no key changed, when any day lacks room. Reserving the same
// hold again refreshes its expiry.
func (l *Ledger) Reserve(ctx context.Context, req ReserveRequest) (bool, error) {
	if !req.valid() {
		return false, ErrInvalidRequest
	}
	ttl := req.TTL
	if ttl < time.Second {
		ttl = time.Second
	}
	now := l.now()
	args := make([]interface{}, 0, len(req.Dates)+4)
	args = append(args, req.member(), req.Slots, ms(now), ms(now.Add(ttl)))
	for _, d := range req.Dates {
		args = append(args, req.Capacity-req.Committed[model.DateKey(d)])
	}

	failed, err := reserveScript.Run(ctx, l.rdb, keys(req.TourID, req.Dates), args...).Int()
	if err != nil {
		return false, fmt.Errorf("ledger reserve tour %d: %w", req.TourID, err)
	}
	return failed == 0, nil
}

// Claim keeps a live hold for at least another extend, so the seats stay
// counted while the caller commits them elsewhere. It returns false when
// the hold expired or was released on any day.
func (l *Ledger) Claim(ctx context.Context, h Hold, extend time.Duration) (bool, error) {
	if !h.valid() {
		return false, ErrInvalidRequest
	}
	now := l.now()
	failed, err := claimScript.Run(ctx, l.rdb, keys(h.TourID, h.Dates), h.member(), ms(now), ms(now.Add(extend))).Int()
	if err != nil {
		return false, fmt.Errorf("ledger claim tour %d: %w", h.TourID, err)
	}
	return failed == 0, nil
}

// Release drops the hold on every day. Releasing a hold that is gone is
// a no-op, so calling it twice is harmless.
func (l *Ledger) Release(ctx context.Context, h Hold) error {
	if !h.valid() {
		return nil
	}
	if err := releaseScript.Run(ctx, l.rdb, keys(h.TourID, h.Dates), h.member(), ms(l.now())).Err(); err != nil {
		return fmt.Errorf("ledger release tour %d: %w", h.TourID, err)
	}
	return nil
}

// Reserved returns the held seat count per day, keyed by DateKey. Days
// without live holds report zero.
func (l *Ledger) Reserved(ctx context.Context, tourID uint64, dates []time.Time) (map[string]int, error) {
	out := make(map[string]int, len(dates))
	if len(dates) == 0 {
		return out, nil
	}
	vals, err := heldScript.Run(ctx, l.rdb, keys(tourID, dates), ms(l.now())).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("ledger read tour %d: %w", tourID, err)
	}
	for i, d := range dates {
		if i < len(vals) {
			out[model.DateKey(d)] = int(vals[i])
		}
	}
	return out, nil
}

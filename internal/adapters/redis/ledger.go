package redis

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-booking/internal/domain"
)

// expiryKey indexes live holds by expiry so the reaper can find stale ones.
const expiryKey = "seat-holds:expiry"

// KEYS[1] seat hash. ARGV: event id, seat id, now.
var initScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	redis.call('HSET', KEYS[1], 'event_id', ARGV[1], 'seat_id', ARGV[2], 'status', 'AVAILABLE',
		'holder_token', '', 'held_until', '0', 'ticket_id', '', 'ticket_type', '', 'version', 0, 'updated_at', ARGV[3])
	return 1
end
return 0
`)

// KEYS[1] seat hash, KEYS[2] expiry index.
// ARGV: event id, seat id, expected version, expected status, new status,
// holder token, held until (ns), ticket id, ticket type, updated at (ns),
// expiry score (ms), displaced token (kept as is when empty).
var applyScript = redis.NewScript(`
local cur = redis.call('HMGET', KEYS[1], 'version', 'status')
local version = tonumber(cur[1]) or 0
local status = cur[2] or 'AVAILABLE'
if version ~= tonumber(ARGV[3]) or status ~= ARGV[4] then
	return {0, version, status, ''}
end
version = version + 1
redis.call('HSET', KEYS[1], 'event_id', ARGV[1], 'seat_id', ARGV[2], 'status', ARGV[5],
	'holder_token', ARGV[6], 'held_until', ARGV[7], 'ticket_id', ARGV[8], 'ticket_type', ARGV[9],
	'version', version, 'updated_at', ARGV[10])
if ARGV[12] ~= '' then
	redis.call('HSET', KEYS[1], 'displaced_token', ARGV[12])
end
if ARGV[5] == 'HELD' then
	redis.call('ZADD', KEYS[2], ARGV[11], KEYS[1])
else
	redis.call('ZREM', KEYS[2], KEYS[1])
end
return {1, version, ARGV[5], redis.call('HGET', KEYS[1], 'displaced_token') or ''}
`)

// Ledger stores one hash per seat. Transitions run as a Lua script, which
// Redis executes atomically.
type Ledger struct {
	client *redis.Client
}

func NewLedger(client *redis.Client) *Ledger {
	return &Ledger{client: client}
}

// seatKey uses the event id as hash tag so one event's seats share a slot.
func seatKey(eventID, seatID string) string {
	return "seat:{" + eventID + "}:" + seatID
}

func (l *Ledger) Read(ctx context.Context, eventID, seatID string) (domain.SeatRecord, bool, error) {
	fields, err := l.client.HGetAll(ctx, seatKey(eventID, seatID)).Result()
	if err != nil {
		return domain.SeatRecord{}, false, err
	}
	if len(fields) == 0 {
		return domain.SeatRecord{}, false, nil
	}
	rec, err := decodeSeat(fields)
	return rec, err == nil, err
}

func (l *Ledger) Init(ctx context.Context, eventID, seatID string) (domain.SeatRecord, error) {
	now := strconv.FormatInt(time.Now().UnixNano(), 10)
	if err := initScript.Run(ctx, l.client, []string{seatKey(eventID, seatID)}, eventID, seatID, now).Err(); err != nil {
		return domain.SeatRecord{}, err
	}
	rec, found, err := l.Read(ctx, eventID, seatID)
	if err != nil {
		return domain.SeatRecord{}, err
	}
	if !found {
		return domain.SeatRecord{}, errors.Newf("seat %s/%s vanished after init", eventID, seatID)
	}
	return rec, nil
}

func (l *Ledger) Apply(ctx context.Context, tr domain.Transition) (domain.SeatRecord, error) {
	next := tr.Apply(domain.NewSeatRecord(tr.EventID, tr.SeatID))

	res, err := applyScript.Run(ctx, l.client, []string{seatKey(tr.EventID, tr.SeatID), expiryKey},
		tr.EventID,
		tr.SeatID,
		tr.ExpectedVersion,
		string(tr.ExpectedStatus),
		string(next.Status),
		next.HolderToken,
		unixNano(next.HeldUntil),
		next.TicketID,
		next.TicketType,
		unixNano(tr.At),
		next.HeldUntil.UnixMilli(),
		tr.DisplacedToken,
	).Slice()
	if err != nil {
		return domain.SeatRecord{}, err
	}
	if len(res) != 4 {
		return domain.SeatRecord{}, errors.Newf("unexpected apply reply %v", res)
	}
	ok, _ := res[0].(int64)
	version, _ := res[1].(int64)
	if ok != 1 {
		return domain.SeatRecord{}, errors.Wrapf(domain.ErrConflict, "seat %s/%s is at version %d %v", tr.EventID, tr.SeatID, version, res[2])
	}

	next.Version = version
	next.DisplacedToken, _ = res[3].(string)
	return next, nil
}

// ReadMany reads all seats inside one MULTI/EXEC so the result is a single
// point-in-time view.
func (l *Ledger) ReadMany(ctx context.Context, eventID string, seatIDs []string) (map[string]domain.SeatRecord, error) {
	cmds := make([]*redis.MapStringStringCmd, len(seatIDs))
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range seatIDs {
			cmds[i] = pipe.HGetAll(ctx, seatKey(eventID, id))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]domain.SeatRecord, len(seatIDs))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeSeat(fields)
		if err != nil {
			return nil, errors.Wrapf(err, "decode seat %s", seatIDs[i])
		}
		out[seatIDs[i]] = rec
	}
	return out, nil
}

func (l *Ledger) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.SeatRecord, error) {
	keys, err := l.client.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))
	_, err = l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, k := range keys {
			cmds[i] = pipe.HGetAll(ctx, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var recs []domain.SeatRecord
	for _, cmd := range cmds {
		if len(cmd.Val()) == 0 {
			continue
		}
		rec, err := decodeSeat(cmd.Val())
		if err != nil {
			return nil, err
		}
		if rec.Expired(now) {
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

func decodeSeat(f map[string]string) (domain.SeatRecord, error) {
	version, err := strconv.ParseInt(f["version"], 10, 64)
	if err != nil {
		return domain.SeatRecord{}, errors.Wrap(err, "parse version")
	}
	rec := domain.SeatRecord{
		EventID:        f["event_id"],
		SeatID:         f["seat_id"],
		Status:         domain.SeatStatus(f["status"]),
		HolderToken:    f["holder_token"],
		TicketID:       f["ticket_id"],
		TicketType:     f["ticket_type"],
		Version:        version,
		DisplacedToken: f["displaced_token"],
	}
	if rec.HeldUntil, err = parseUnixNano(f["held_until"]); err != nil {
		return domain.SeatRecord{}, errors.Wrap(err, "parse held_until")
	}
	if rec.UpdatedAt, err = parseUnixNano(f["updated_at"]); err != nil {
		return domain.SeatRecord{}, errors.Wrap(err, "parse updated_at")
	}
	return rec, nil
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func parseUnixNano(s string) (time.Time, error) {
	if s == "" || s == "0" {
		return time.Time{}, nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(0, n), nil
}

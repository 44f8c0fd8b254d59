package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when an activity does not exist or has expired.
	ErrNotFound = errors.New("activity not found")
	// ErrStoreUnavailable wraps Redis failures.
	ErrStoreUnavailable = errors.New("activity store unavailable")
)

const (
	activityPrefix = "activity:"
	indexPrefix    = "activity-index:"
	expiryKey      = "activity-expiry"

	defaultGrace    = time.Minute
	sweepBatch      = 256
	maxWatchRetries = 5
)

const recordScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = tonumber(ARGV[2])
if redis.call("PTTL", KEYS[2]) < ttl then
  redis.call("PEXPIRE", KEYS[2], ttl)
end
redis.call("ZADD", KEYS[3], ARGV[4], ARGV[5])
return 1
`

var recordLua = redis.NewScript(recordScript)

const removeScript = `
local existed = redis.call("DEL", KEYS[1])
redis.call("SREM", KEYS[2], ARGV[1])
redis.call("ZREM", KEYS[3], ARGV[2])
return existed
`

var removeLua = redis.NewScript(removeScript)

// TokenRevoker blacklists token ids. The blacklist store satisfies it.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID, reason string, ttl time.Duration) error
}

// Registry tracks one record per live session in Redis, a per-user index of activity ids,
// and a sorted set of expiry times used by the sweeper. Removal is idempotent, so
// every node may sweep concurrently.
type Registry struct {
	redis   redis.UniversalClient
	revoker TokenRevoker
	logger  *slog.Logger
	grace   time.Duration
	now     func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for best-effort failures.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithGrace sets how long a record outlives its expiry before Redis drops it.
func WithGrace(d time.Duration) Option {
	return func(r *Registry) {
		if d >= 0 {
			r.grace = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry returns a Registry. revoker may be nil, in which case forced logouts only
// remove records.
func NewRegistry(client redis.UniversalClient, revoker TokenRevoker, opts ...Option) *Registry {
	r := &Registry{
		redis:   client,
		revoker: revoker,
		logger:  slog.Default(),
		grace:   defaultGrace,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func activityKey(id string) string         { return activityPrefix + id }
func indexKey(userID string) string        { return indexPrefix + userID }
func sweepMember(userID, id string) string { return userID + "|" + id }

func splitSweepMember(m string) (userID, id string, ok bool) {
	i := strings.LastIndexByte(m, '|')
	if i <= 0 || i == len(m)-1 {
		return "", "", false
	}
	return m[:i], m[i+1:], true
}

// Record stores a new activity together with its index entries in one atomic step.
func (r *Registry) Record(ctx context.Context, a *Activity) error {
	if a.ID == "" || a.UserID == "" {
		return errors.New("session: activity id and user id are required")
	}
	now := r.now()
	if !a.Live(now) {
		return errors.New("session: activity already expired")
	}
	blob, err := Encode(a)
	if err != nil {
		return err
	}
	ttl := a.ExpiresAt.Sub(now) + r.grace

	err = recordLua.Run(ctx, r.redis,
		[]string{activityKey(a.ID), indexKey(a.UserID), expiryKey},
		blob,
		ttl.Milliseconds(),
		a.ID,
		strconv.FormatInt(a.ExpiresAt.Unix(), 10),
		sweepMember(a.UserID, a.ID),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Get returns the live activity with id.
func (r *Registry) Get(ctx context.Context, id string) (*Activity, error) {
	a, err := r.readRaw(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Live(r.now()) {
		return nil, ErrNotFound
	}
	return a, nil
}

func (r *Registry) readRaw(ctx context.Context, id string) (*Activity, error) {
	data, err := r.redis.Get(ctx, activityKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	a, err := Decode(data)
	if err != nil {
		return nil, err
	}
	a.ID = id
	return a, nil
}

// ListForUser returns the live activities of userID, oldest first. Index entries whose
// record is gone are removed on the way.
func (r *Registry) ListForUser(ctx context.Context, userID string) ([]*Activity, error) {
	ids, err := r.redis.SMembers(ctx, indexKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	records, dangling, err := r.fetch(ctx, ids)
	if err != nil {
		return nil, err
	}
	r.dropDangling(ctx, userID, dangling)

	now := r.now()
	out := make([]*Activity, 0, len(records))
	for _, a := range records {
		if a.Live(now) {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b *Activity) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// fetch reads ids in one pipeline. Missing and undecodable records are reported as dangling.
func (r *Registry) fetch(ctx context.Context, ids []string) ([]*Activity, []string, error) {
	if len(ids) == 0 {
		return nil, nil, nil
	}
	pipe := r.redis.Pipeline()
	cmds := make([]*redis.StringCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.Get(ctx, activityKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var (
		records  []*Activity
		dangling []string
	)
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				dangling = append(dangling, ids[i])
				continue
			}
			return nil, nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		a, err := Decode(data)
		if err != nil {
			r.logger.Warn("skipping corrupt activity", "op", "session.fetch", "activity_id", ids[i], "error", err)
			continue
		}
		a.ID = ids[i]
		records = append(records, a)
	}
	return records, dangling, nil
}

func (r *Registry) dropDangling(ctx context.Context, userID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	members := make([]any, len(ids))
	sweep := make([]any, len(ids))
	for i, id := range ids {
		members[i] = id
		sweep[i] = sweepMember(userID, id)
	}
	_, err := r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SRem(ctx, indexKey(userID), members...)
		pipe.ZRem(ctx, expiryKey, sweep...)
		return nil
	})
	if err != nil {
		r.logger.Warn("dangling index cleanup failed", "op", "session.drop_dangling", "user_id", userID, "error", err)
	}
}

// Touch records a heartbeat on the activity.
func (r *Registry) Touch(ctx context.Context, id string) error {
	_, err := r.mutate(ctx, id, func(a *Activity) error {
		a.LastSeenAt = r.now()
		return nil
	})
	return err
}

// TokenUpdate carries the ids and expiries of a rotated token pair. Empty ClientIP,
// UserAgent and DeviceID keep the stored values.
type TokenUpdate struct {
	TokenID         string
	RefreshTokenID  string
	AccessExpiresAt time.Time
	ExpiresAt       time.Time
	ClientIP        string
	UserAgent       string
	DeviceID        string
}

// UpdateTokens points the activity at a new token pair and extends its lifetime.
func (r *Registry) UpdateTokens(ctx context.Context, id string, u TokenUpdate) (*Activity, error) {
	return r.mutate(ctx, id, func(a *Activity) error {
		a.TokenID = u.TokenID
		a.RefreshTokenID = u.RefreshTokenID
		a.AccessExpiresAt = u.AccessExpiresAt
		if u.ExpiresAt.After(a.ExpiresAt) {
			a.ExpiresAt = u.ExpiresAt
		}
		if u.ClientIP != "" {
			a.ClientIP = u.ClientIP
		}
		if u.UserAgent != "" {
			a.UserAgent = u.UserAgent
		}
		if u.DeviceID != "" {
			a.DeviceID = u.DeviceID
		}
		a.LastSeenAt = r.now()
		return nil
	})
}

// mutate applies fn to the stored record under WATCH so concurrent writers never lose
// each other's changes.
func (r *Registry) mutate(ctx context.Context, id string, fn func(a *Activity) error) (*Activity, error) {
	key := activityKey(id)
	var out *Activity

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrNotFound
			}
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		a, err := Decode(data)
		if err != nil {
			return err
		}
		a.ID = id
		now := r.now()
		if !a.Live(now) {
			return ErrNotFound
		}

		prevExpiry := a.ExpiresAt
		if err := fn(a); err != nil {
			return err
		}
		blob, err := Encode(a)
		if err != nil {
			return err
		}

		extended := a.ExpiresAt.After(prevExpiry)
		ttl := a.ExpiresAt.Sub(now) + r.grace
		idx := indexKey(a.UserID)
		var idxTTL time.Duration
		if extended {
			idxTTL, err = tx.PTTL(ctx, idx).Result()
			if err != nil {
				return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if !extended {
				pipe.Set(ctx, key, blob, redis.KeepTTL)
				return nil
			}
			pipe.Set(ctx, key, blob, ttl)
			pipe.SAdd(ctx, idx, id)
			if idxTTL < ttl {
				pipe.PExpire(ctx, idx, ttl)
			}
			pipe.ZAdd(ctx, expiryKey, redis.Z{Score: float64(a.ExpiresAt.Unix()), Member: sweepMember(a.UserID, id)})
			return nil
		})
		if err != nil {
			return err
		}
		out = a
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := r.redis.Watch(ctx, txf, key)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt), errors.Is(err, ErrStoreUnavailable):
			return nil, err
		default:
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return nil, fmt.Errorf("%w: too many concurrent updates to activity %s", ErrStoreUnavailable, id)
}

// Remove deletes the activity and its index entries. It reports whether a record
// existed; removing an absent activity is not an error.
func (r *Registry) Remove(ctx context.Context, id string) (bool, error) {
	a, err := r.readRaw(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return r.removeKnown(ctx, id, a.UserID)
}

func (r *Registry) removeKnown(ctx context.Context, id, userID string) (bool, error) {
	n, err := removeLua.Run(ctx, r.redis,
		[]string{activityKey(id), indexKey(userID), expiryKey},
		id,
		sweepMember(userID, id),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n == 1, nil
}

// IsOnline reports whether userID has at least one live activity.
func (r *Registry) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := r.ActiveSessionCount(ctx, userID)
	return n > 0, err
}

// ActiveSessionCount counts live activities of userID.
func (r *Registry) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	list, err := r.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// ForceLogoutUser revokes the tokens of every activity of userID and removes them. It
// returns how many records were actually removed.
func (r *Registry) ForceLogoutUser(ctx context.Context, userID, reason string) (int, error) {
	ids, err := r.redis.SMembers(ctx, indexKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	records, dangling, err := r.fetch(ctx, ids)
	if err != nil {
		return 0, err
	}
	r.dropDangling(ctx, userID, dangling)

	evicted := 0
	for _, a := range records {
		r.revokeTokens(ctx, a, reason)
		existed, err := r.removeKnown(ctx, a.ID, userID)
		if err != nil {
			return evicted, err
		}
		if existed {
			evicted++
		}
	}
	return evicted, nil
}

// ForceLogoutSession revokes and removes a single activity. It returns false when the
// activity does not exist.
func (r *Registry) ForceLogoutSession(ctx context.Context, id, reason string) (bool, error) {
	a, err := r.readRaw(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	r.revokeTokens(ctx, a, reason)
	return r.removeKnown(ctx, id, a.UserID)
}

// EvictOldest force-logs-out all but the newest keep live activities of userID.
func (r *Registry) EvictOldest(ctx context.Context, userID string, keep int, reason string) (int, error) {
	if keep < 0 {
		keep = 0
	}
	list, err := r.ListForUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	evicted := 0
	for i := 0; i < len(list)-keep; i++ {
		ok, err := r.ForceLogoutSession(ctx, list[i].ID, reason)
		if err != nil {
			return evicted, err
		}
		if ok {
			evicted++
		}
	}
	return evicted, nil
}

func (r *Registry) revokeTokens(ctx context.Context, a *Activity, reason string) {
	if r.revoker == nil {
		return
	}
	now := r.now()
	if a.TokenID != "" {
		if err := r.revoker.Revoke(ctx, a.TokenID, reason, a.AccessExpiresAt.Sub(now)); err != nil {
			r.logger.Warn("access token revoke failed", "op", "session.revoke", "activity_id", a.ID, "error", err)
		}
	}
	if a.RefreshTokenID != "" {
		if err := r.revoker.Revoke(ctx, a.RefreshTokenID, reason, a.ExpiresAt.Sub(now)); err != nil {
			r.logger.Warn("refresh token revoke failed", "op", "session.revoke", "activity_id", a.ID, "error", err)
		}
	}
}

// CleanupExpired removes every activity whose expiry is at or before now, including
// index entries left behind by records Redis already dropped. It returns the number of
// activities cleaned.
func (r *Registry) CleanupExpired(ctx context.Context, now time.Time) (int, error) {
	maxScore := strconv.FormatInt(now.Unix(), 10)
	var (
		removed int
		offset  int64
	)
	for {
		members, err := r.redis.ZRangeByScore(ctx, expiryKey, &redis.ZRangeBy{
			Min:    "-inf",
			Max:    maxScore,
			Offset: offset,
			Count:  sweepBatch,
		}).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}

		for _, m := range members {
			userID, id, ok := splitSweepMember(m)
			if !ok {
				if err := r.redis.ZRem(ctx, expiryKey, m).Err(); err != nil {
					return removed, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
				}
				continue
			}

			a, err := r.readRaw(ctx, id)
			switch {
			case err == nil && a.Live(now):
				// expires later within the same second
				offset++
				continue
			case err == nil, errors.Is(err, ErrNotFound), errors.Is(err, ErrCorrupt):
			default:
				return removed, err
			}

			if _, err := r.removeKnown(ctx, id, userID); err != nil {
				return removed, err
			}
			removed++
		}

		if len(members) < sweepBatch {
			return removed, nil
		}
	}
}

// Ping checks Redis availability.
func (r *Registry) Ping(ctx context.Context) error {
	if err := r.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

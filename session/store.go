package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/trustcore/store"
)

// ErrRedisUnavailable wraps Redis transport failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSessionExpired is returned by InsertSession for a row whose expiry has
// already passed.
var ErrSessionExpired = errors.New("session already expired")

// RedisStore persists sessions in Redis.
type RedisStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

var _ store.SessionRepository = (*RedisStore)(nil)

// NewRedisStore returns a RedisStore writing keys under prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	return &RedisStore{redis: client, prefix: prefix, now: time.Now}
}

// WithClock returns a copy of s that computes key expiry from now.
func (s *RedisStore) WithClock(now func() time.Time) *RedisStore {
	cp := *s
	if now != nil {
		cp.now = now
	}
	return &cp
}

func (s *RedisStore) key(tokenHash string) string {
	return s.prefix + "s:" + tokenHash
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "u:" + userID
}

// InsertSession writes sess with a PX expiry matching sess.ExpiresAt. An
// existing row for the same hash yields store.ErrConflict.
func (s *RedisStore) InsertSession(ctx context.Context, sess *store.Session) error {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return ErrSessionExpired
	}

	data, err := Encode(sess)
	if err != nil {
		return err
	}

	var setCmd *redis.BoolCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		setCmd = pipe.SetNX(ctx, s.key(sess.TokenHash), data, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.TokenHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !setCmd.Val() {
		return store.ErrConflict
	}

	return nil
}

// GetSession loads the row for tokenHash. Rows past their Redis expiry are
// gone and report store.ErrNotFound.
func (s *RedisStore) GetSession(ctx context.Context, tokenHash string) (*store.Session, error) {
	data, err := s.redis.Get(ctx, s.key(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		return nil, err
	}
	sess.TokenHash = tokenHash

	return sess, nil
}

// DeleteSession removes the row and its index entry. Missing rows are not an
// error.
func (s *RedisStore) DeleteSession(ctx context.Context, tokenHash string) error {
	sess, err := s.GetSession(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if errors.Is(err, ErrRedisUnavailable) {
			return err
		}
		// Undecodable row: drop the key, the index entry is pruned later.
		if err := s.redis.Del(ctx, s.key(tokenHash)).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		return nil
	}

	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.key(tokenHash))
		pipe.SRem(ctx, s.userKey(sess.UserID), tokenHash)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// DeleteUserSessions removes every row indexed for userID and returns how
// many still existed.
func (s *RedisStore) DeleteUserSessions(ctx context.Context, userID string) (int, error) {
	userKey := s.userKey(userID)

	hashes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	keys := make([]string, 0, len(hashes))
	for _, h := range hashes {
		keys = append(keys, s.key(h))
	}

	var delCmd *redis.IntCmd
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			delCmd = pipe.Del(ctx, keys...)
		}
		pipe.Del(ctx, userKey)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if delCmd == nil {
		return 0, nil
	}

	return int(delCmd.Val()), nil
}

// DeleteExpiredSessions prunes index entries whose session keys Redis has
// already expired, and returns how many were pruned. Session keys carry
// their own expiry, so there are never expired rows to delete.
func (s *RedisStore) DeleteExpiredSessions(ctx context.Context, _ time.Time) (int, error) {
	var (
		cursor uint64
		pruned int
	)
	for {
		userKeys, next, err := s.redis.Scan(ctx, cursor, s.prefix+"u:*", 100).Result()
		if err != nil {
			return pruned, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}

		for _, userKey := range userKeys {
			n, err := s.pruneIndex(ctx, userKey)
			if err != nil {
				return pruned, err
			}
			pruned += n
		}

		cursor = next
		if cursor == 0 {
			return pruned, nil
		}
	}
}

func (s *RedisStore) pruneIndex(ctx context.Context, userKey string) (int, error) {
	hashes, err := s.redis.SMembers(ctx, userKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(hashes) == 0 {
		return 0, nil
	}

	pipe := s.redis.Pipeline()
	exists := make([]*redis.IntCmd, len(hashes))
	for i, h := range hashes {
		exists[i] = pipe.Exists(ctx, s.key(h))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	stale := make([]interface{}, 0)
	for i, cmd := range exists {
		if cmd.Val() == 0 {
			stale = append(stale, hashes[i])
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	if err := s.redis.SRem(ctx, userKey, stale...).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return len(stale), nil
}

// ActiveSessionCount returns the number of indexed sessions for userID,
// which may include entries not yet pruned.
func (s *RedisStore) ActiveSessionCount(ctx context.Context, userID string) (int, error) {
	n, err := s.redis.SCard(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return int(n), nil
}

// Ping measures round-trip latency to Redis.
func (s *RedisStore) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

// Package sessions implements the Redis-backed session repository.
//
// Each session is a hash at session:<userId>:<uaHash> holding the token,
// cached rights and creation time, with a store-side TTL. The set
// sessions:user:<userId> indexes the user agent hashes of a user.
package sessions

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps every failure of the underlying Redis client.
var ErrRedisUnavailable = errors.New("redis unavailable")

const (
	fieldUserID    = "userId"
	fieldToken     = "token"
	fieldUAHash    = "userAgentHash"
	fieldRights    = "rights"
	fieldCreatedAt = "createdAt"

	sessionPattern = "session:*"
	indexPattern   = "sessions:user:*"
	scanBatch      = 100
)

// refreshLua replaces the token of an existing session and renews its TTL.
// It returns 0 when the session does not exist.
var refreshLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "token", ARGV[1])
redis.call("PEXPIRE", KEYS[1], ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
redis.call("PEXPIRE", KEYS[2], ARGV[2])
return 1
`)

// setRightsLua patches cached rights without resurrecting expired sessions.
var setRightsLua = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "rights", ARGV[1])
return 1
`)

type RedisRepository struct {
	rdb redis.UniversalClient
	ttl time.Duration
	log logging.Logger
	now func() time.Time
}

// NewRedisRepository creates a session repository whose records expire
// after ttl.
func NewRedisRepository(rdb redis.UniversalClient, ttl time.Duration, l logging.Logger) *RedisRepository {
	return &RedisRepository{
		rdb: rdb,
		ttl: ttl,
		log: l.With("module", "sessions"),
		now: time.Now,
	}
}

// UserAgentHash is the hex SHA-1 of the raw User-Agent header.
func UserAgentHash(userAgentRaw string) string {
	sum := sha1.Sum([]byte(userAgentRaw))
	return hex.EncodeToString(sum[:])
}

func sessionKey(userID int64, uaHash string) string {
	return "session:" + strconv.FormatInt(userID, 10) + ":" + uaHash
}

func indexKey(userID int64) string {
	return "sessions:user:" + strconv.FormatInt(userID, 10)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
}

// Create stores the session of (userID, userAgentRaw), overwriting any
// previous one for the same pair.
func (r *RedisRepository) Create(ctx context.Context, userID int64, token, userAgentRaw string, rights models.Rights) error {
	uaHash := UserAgentHash(userAgentRaw)
	key := sessionKey(userID, uaHash)
	idx := indexKey(userID)

	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldUserID, userID,
			fieldToken, token,
			fieldUAHash, uaHash,
			fieldRights, string(rights),
			fieldCreatedAt, r.now().UnixMilli(),
		)
		pipe.PExpire(ctx, key, r.ttl)
		pipe.SAdd(ctx, idx, uaHash)
		pipe.PExpire(ctx, idx, r.ttl)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// Refresh replaces the token of an existing session keeping its rights.
// A missing session yields common.ErrorNotFound.
func (r *RedisRepository) Refresh(ctx context.Context, userID int64, token, userAgentRaw string) error {
	uaHash := UserAgentHash(userAgentRaw)
	keys := []string{sessionKey(userID, uaHash), indexKey(userID)}

	n, err := refreshLua.Run(ctx, r.rdb, keys, token, r.ttl.Milliseconds(), uaHash).Int()
	if err != nil {
		return unavailable(err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

func (r *RedisRepository) GetOne(ctx context.Context, userID int64, userAgentRaw string) (*models.Session, error) {
	fields, err := r.rdb.HGetAll(ctx, sessionKey(userID, UserAgentHash(userAgentRaw))).Result()
	if err != nil {
		return nil, unavailable(err)
	}
	if len(fields) == 0 {
		return nil, common.ErrorNotFound
	}
	return decodeSession(fields)
}

func (r *RedisRepository) GetAllByUserID(ctx context.Context, userID int64) ([]*models.Session, error) {
	idx := indexKey(userID)
	members, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, unavailable(err)
	}

	cmds := make([]*redis.MapStringStringCmd, len(members))
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, uaHash := range members {
			cmds[i] = pipe.HGetAll(ctx, sessionKey(userID, uaHash))
		}
		return nil
	})
	if err != nil {
		return nil, unavailable(err)
	}

	result := make([]*models.Session, 0, len(members))
	stale := make([]any, 0)
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, members[i])
			continue
		}
		s, err := decodeSession(fields)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	if len(stale) > 0 {
		if err := r.rdb.SRem(ctx, idx, stale...).Err(); err != nil {
			return nil, unavailable(err)
		}
	}
	return result, nil
}

// Remove deletes one session when filter.UserAgentRaw is set, otherwise
// every session of the user. Removing absent sessions is not an error.
func (r *RedisRepository) Remove(ctx context.Context, filter RemoveFilter) error {
	idx := indexKey(filter.UserID)

	if filter.UserAgentRaw != nil {
		uaHash := UserAgentHash(*filter.UserAgentRaw)
		_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, sessionKey(filter.UserID, uaHash))
			pipe.SRem(ctx, idx, uaHash)
			return nil
		})
		if err != nil {
			return unavailable(err)
		}
		return nil
	}

	members, err := r.rdb.SMembers(ctx, idx).Result()
	if err != nil {
		return unavailable(err)
	}
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, uaHash := range members {
			pipe.Del(ctx, sessionKey(filter.UserID, uaHash))
		}
		pipe.Del(ctx, idx)
		return nil
	})
	if err != nil {
		return unavailable(err)
	}
	return nil
}

// UpdateAllByUserID sets the cached rights of every live session of the
// user.
func (r *RedisRepository) UpdateAllByUserID(ctx context.Context, userID int64, rights models.Rights) error {
	members, err := r.rdb.SMembers(ctx, indexKey(userID)).Result()
	if err != nil {
		return unavailable(err)
	}
	for _, uaHash := range members {
		keys := []string{sessionKey(userID, uaHash)}
		if err := setRightsLua.Run(ctx, r.rdb, keys, string(rights)).Err(); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

// Cleanup walks every session and removes those whose token validate
// rejects. A validator error on one token is logged and the sweep goes on.
// It returns the number of removed sessions.
func (r *RedisRepository) Cleanup(ctx context.Context, validate TokenValidator) (int, error) {
	removed := 0
	iter := r.rdb.Scan(ctx, 0, sessionPattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()

		vals, err := r.rdb.HMGet(ctx, key, fieldToken, fieldUserID, fieldUAHash).Result()
		if err != nil {
			return removed, unavailable(err)
		}
		// a record without a token can never authenticate and goes too
		token, _ := vals[0].(string)
		if token != "" {
			ok, err := validate(ctx, token)
			if err != nil {
				r.log.Warn(ctx, "session token validation failed", "key", key, "error", err)
				continue
			}
			if ok {
				continue
			}
		}

		userID, _ := vals[1].(string)
		uaHash, _ := vals[2].(string)
		if userID == "" || uaHash == "" {
			userID, uaHash, _ = strings.Cut(strings.TrimPrefix(key, "session:"), ":")
		}
		var del *redis.IntCmd
		_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			del = pipe.Del(ctx, key)
			if userID != "" {
				pipe.SRem(ctx, "sessions:user:"+userID, uaHash)
			}
			return nil
		})
		if err != nil {
			return removed, unavailable(err)
		}
		if del.Val() > 0 {
			removed++
		}
	}
	if err := iter.Err(); err != nil {
		return removed, unavailable(err)
	}

	if removed > 0 {
		r.log.Info(ctx, "expired sessions removed", "count", removed)
	}
	return removed, nil
}

// RemoveAll deletes every session and index key.
func (r *RedisRepository) RemoveAll(ctx context.Context) error {
	for _, pattern := range []string{sessionPattern, indexPattern} {
		iter := r.rdb.Scan(ctx, 0, pattern, scanBatch).Iterator()
		batch := make([]string, 0, scanBatch)
		for iter.Next(ctx) {
			batch = append(batch, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return unavailable(err)
		}
		if len(batch) == 0 {
			continue
		}
		if err := r.rdb.Del(ctx, batch...).Err(); err != nil {
			return unavailable(err)
		}
	}
	return nil
}

func (r *RedisRepository) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func decodeSession(fields map[string]string) (*models.Session, error) {
	userID, err := strconv.ParseInt(fields[fieldUserID], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt session: %w", err)
	}
	createdMs, _ := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)

	return &models.Session{
		UserID:        userID,
		Token:         fields[fieldToken],
		UserAgentHash: fields[fieldUAHash],
		Rights:        models.Rights(fields[fieldRights]),
		CreatedAt:     time.UnixMilli(createdMs),
	}, nil
}

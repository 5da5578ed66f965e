package sessions

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/dmitrijs2005/mmarket/internal/common"
	"github.com/dmitrijs2005/mmarket/internal/logging"
	"github.com/dmitrijs2005/mmarket/internal/server/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	uaFirefox = "Mozilla/5.0 Firefox"
	uaCurl    = "curl/8.0"
)

func newSessionRepoTest(t *testing.T, ttl time.Duration) (*RedisRepository, *miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisRepository(rdb, ttl, logging.Nop()), mr, rdb
}

func ptr(s string) *string { return &s }

func TestUserAgentHash(t *testing.T) {
	h := UserAgentHash(uaFirefox)
	assert.Len(t, h, 40)
	assert.Equal(t, h, UserAgentHash(uaFirefox))
	assert.NotEqual(t, h, UserAgentHash(uaCurl))
}

func TestRedisRepository_CreateAndGetOne(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 7, "tok-1", uaFirefox, models.RightsCustomer))

	s, err := repo.GetOne(ctx, 7, uaFirefox)
	require.NoError(t, err)
	assert.Equal(t, int64(7), s.UserID)
	assert.Equal(t, "tok-1", s.Token)
	assert.Equal(t, models.RightsCustomer, s.Rights)
	assert.Equal(t, UserAgentHash(uaFirefox), s.UserAgentHash)

	key := sessionKey(7, UserAgentHash(uaFirefox))
	assert.True(t, mr.Exists(key))
	assert.Equal(t, time.Hour, mr.TTL(key))
}

func TestRedisRepository_CreateOverwritesSameAgent(t *testing.T) {
	repo, _, _ := newSessionRepoTest(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 7, "old", uaFirefox, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 7, "new", uaFirefox, models.RightsManager))

	all, err := repo.GetAllByUserID(ctx, 7)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "new", all[0].Token)
	assert.Equal(t, models.RightsManager, all[0].Rights)
}

func TestRedisRepository_GetOne_NotFound(t *testing.T) {
	repo, _, _ := newSessionRepoTest(t, time.Hour)

	_, err := repo.GetOne(context.Background(), 1, uaCurl)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRedisRepository_SessionExpires(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 3, "tok", uaCurl, models.RightsCustomer))
	mr.FastForward(2 * time.Minute)

	_, err := repo.GetOne(ctx, 3, uaCurl)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestRedisRepository_Refresh(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 3, "tok", uaCurl, models.RightsAdmin))
	mr.FastForward(30 * time.Second)

	require.NoError(t, repo.Refresh(ctx, 3, "tok-2", uaCurl))

	s, err := repo.GetOne(ctx, 3, uaCurl)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", s.Token)
	assert.Equal(t, models.RightsAdmin, s.Rights)
	assert.Equal(t, time.Minute, mr.TTL(sessionKey(3, UserAgentHash(uaCurl))))
}

func TestRedisRepository_Refresh_Missing(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Minute)

	err := repo.Refresh(context.Background(), 3, "tok", uaCurl)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	assert.False(t, mr.Exists(sessionKey(3, UserAgentHash(uaCurl))))
}

func TestRedisRepository_TwoAgents(t *testing.T) {
	repo, _, _ := newSessionRepoTest(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 5, "a", uaFirefox, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 5, "b", uaCurl, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 6, "c", uaCurl, models.RightsCustomer))

	all, err := repo.GetAllByUserID(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, repo.Remove(ctx, RemoveFilter{UserID: 5, UserAgentRaw: ptr(uaCurl)}))

	all, err = repo.GetAllByUserID(ctx, 5)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a", all[0].Token)

	_, err = repo.GetOne(ctx, 6, uaCurl)
	assert.NoError(t, err)
}

func TestRedisRepository_RemoveAllOfUser(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 5, "a", uaFirefox, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 5, "b", uaCurl, models.RightsCustomer))

	require.NoError(t, repo.Remove(ctx, RemoveFilter{UserID: 5}))

	all, err := repo.GetAllByUserID(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.False(t, mr.Exists(indexKey(5)))

	// removing nothing is fine
	assert.NoError(t, repo.Remove(ctx, RemoveFilter{UserID: 5}))
}

func TestRedisRepository_GetAllByUserID_DropsStaleIndex(t *testing.T) {
	repo, mr, rdb := newSessionRepoTest(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 9, "a", uaFirefox, models.RightsCustomer))
	mr.Del(sessionKey(9, UserAgentHash(uaFirefox)))

	all, err := repo.GetAllByUserID(ctx, 9)
	require.NoError(t, err)
	assert.Empty(t, all)

	n, err := rdb.SCard(ctx, indexKey(9)).Result()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRedisRepository_UpdateAllByUserID(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 5, "a", uaFirefox, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 5, "b", uaCurl, models.RightsCustomer))
	// index entry without a session must not be recreated
	mr.Del(sessionKey(5, UserAgentHash(uaCurl)))

	require.NoError(t, repo.UpdateAllByUserID(ctx, 5, models.RightsManager))

	s, err := repo.GetOne(ctx, 5, uaFirefox)
	require.NoError(t, err)
	assert.Equal(t, models.RightsManager, s.Rights)
	assert.False(t, mr.Exists(sessionKey(5, UserAgentHash(uaCurl))))
}

func TestRedisRepository_Cleanup(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 1, "expired-1", uaFirefox, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 2, "expired-2", uaCurl, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 3, "valid", uaCurl, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 4, "garbage", uaCurl, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 5, "lost", uaCurl, models.RightsCustomer))
	mr.HDel(sessionKey(5, UserAgentHash(uaCurl)), "token")
	// a bare hash with neither token nor owner fields
	mr.HSet(sessionKey(6, UserAgentHash(uaFirefox)), "rights", "customer")
	_, err := mr.SetAdd(indexKey(6), UserAgentHash(uaFirefox))
	require.NoError(t, err)

	validate := func(_ context.Context, token string) (bool, error) {
		switch {
		case strings.HasPrefix(token, "expired"):
			return false, nil
		case token == "garbage":
			return false, errors.New("malformed token")
		default:
			return true, nil
		}
	}

	removed, err := repo.Cleanup(ctx, validate)
	require.NoError(t, err)
	assert.Equal(t, 4, removed)

	_, err = repo.GetOne(ctx, 1, uaFirefox)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = repo.GetOne(ctx, 2, uaCurl)
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = repo.GetOne(ctx, 3, uaCurl)
	assert.NoError(t, err)
	_, err = repo.GetOne(ctx, 4, uaCurl)
	assert.NoError(t, err)
	assert.False(t, mr.Exists(indexKey(1)))
	assert.True(t, mr.Exists(indexKey(4)))
	assert.False(t, mr.Exists(sessionKey(5, UserAgentHash(uaCurl))))
	assert.False(t, mr.Exists(indexKey(5)))
	assert.False(t, mr.Exists(sessionKey(6, UserAgentHash(uaFirefox))))
	assert.False(t, mr.Exists(indexKey(6)))
}

func TestRedisRepository_RemoveAll(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, 1, "a", uaFirefox, models.RightsCustomer))
	require.NoError(t, repo.Create(ctx, 2, "b", uaCurl, models.RightsCustomer))
	require.NoError(t, mr.Set("unrelated", "x"))

	require.NoError(t, repo.RemoveAll(ctx))

	assert.Equal(t, []string{"unrelated"}, mr.Keys())
}

func TestRedisRepository_Unavailable(t *testing.T) {
	repo, mr, _ := newSessionRepoTest(t, time.Hour)
	mr.Close()

	err := repo.Ping(context.Background())
	assert.ErrorIs(t, err, ErrRedisUnavailable)

	err = repo.Create(context.Background(), 1, "a", uaCurl, models.RightsCustomer)
	assert.ErrorIs(t, err, ErrRedisUnavailable)
}

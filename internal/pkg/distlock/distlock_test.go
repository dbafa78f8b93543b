package distlock

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisLock_ExclusiveAndOwned(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	f := NewFactory(client, nil, time.Minute)

	first := f.Campaign("c1")
	second := f.Campaign("c1")

	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a second holder must be refused")

	assert.ErrorIs(t, second.Release(ctx), ErrNotHeld, "only the owner may release")
	assert.True(t, mr.Exists("lock:engagex:campaign-dispatch:c1"))

	require.NoError(t, first.Release(ctx))
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	other, err := f.Campaign("c2").Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, other, "locks are per campaign")
}

func TestRedisLock_ExpiryAndExtend(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	l := NewRedisLock(client, "job", 10*time.Second)
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, l.Extend(ctx, time.Minute))
	mr.FastForward(30 * time.Second)
	assert.True(t, mr.Exists("lock:job"))

	mr.FastForward(time.Minute)
	assert.ErrorIs(t, l.Extend(ctx, time.Minute), ErrNotHeld)

	taker := NewRedisLock(client, "job", time.Minute)
	ok, err = taker.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok, "an expired lock can be taken over")
	assert.ErrorIs(t, l.Release(ctx), ErrNotHeld)
}

func TestPGAdvisoryLock(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	l := NewFactory(nil, db, time.Minute).Campaign("c1")

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))
	ok, err := l.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(`SELECT pg_advisory_unlock\(\$1\)`).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(true))
	require.NoError(t, l.Release(ctx))
	assert.ErrorIs(t, l.Release(ctx), ErrNotHeld)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock`).
		WillReturnRows(sqlmock.NewRows([]string{"ok"}).AddRow(false))
	ok, err = l.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newQueue(t *testing.T, opts ...Option) (*Queue, *clock) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(c.now), WithVisibility(time.Minute)}, opts...)
	return New(client, "test:jobs", opts...), c
}

func TestQueue_FIFOAndAck(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueDispatch(ctx, "org-1", "c1"))
	require.NoError(t, q.Enqueue(ctx, Job{Kind: KindDispatch, OrgID: "org-1", CampaignID: "c2", GroupIDs: []string{"g1"}}))

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), depth)

	d, err := q.Claim(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "c1", d.Job.CampaignID)
	assert.NotEmpty(t, d.Job.ID)
	assert.Nil(t, d.Job.GroupIDs)

	inflight, _ := q.InFlight(ctx)
	assert.Equal(t, int64(1), inflight)

	require.NoError(t, q.Ack(ctx, d))
	inflight, _ = q.InFlight(ctx)
	assert.Equal(t, int64(0), inflight)

	d, err = q.Claim(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, "c2", d.Job.CampaignID)
	assert.Equal(t, []string{"g1"}, d.Job.GroupIDs)

	_, err = q.Claim(ctx, 0)
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestQueue_EmptyGroupListSurvivesEncoding(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Job{Kind: KindDispatch, CampaignID: "c1", GroupIDs: []string{}}))
	d, err := q.Claim(ctx, 0)
	require.NoError(t, err)
	assert.NotNil(t, d.Job.GroupIDs, "an explicit empty audience differs from no override")
}

func TestQueue_NackRequeues(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueDispatch(ctx, "org-1", "c1"))
	d, err := q.Claim(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.Nack(ctx, d))

	again, err := q.Claim(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, d.Job.ID, again.Job.ID)
	assert.Equal(t, 1, again.Job.Attempts)
}

func TestQueue_RecoverExpiredClaims(t *testing.T) {
	q, c := newQueue(t)
	ctx := context.Background()

	require.NoError(t, q.EnqueueDispatch(ctx, "org-1", "stuck"))
	require.NoError(t, q.EnqueueDispatch(ctx, "org-1", "fresh"))

	stuck, err := q.Claim(ctx, 0)
	require.NoError(t, err)

	c.t = c.t.Add(30 * time.Second)
	n, err := q.Recover(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "claim still within visibility")

	c.t = c.t.Add(time.Minute)
	n, err = q.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	next, err := q.Claim(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, stuck.Job.ID, next.Job.ID, "recovered jobs are retried first")

	// the original worker finishing late must not resurrect the job
	require.NoError(t, q.Ack(ctx, stuck))
	require.NoError(t, q.Ack(ctx, next))
	inflight, _ := q.InFlight(ctx)
	assert.Zero(t, inflight)
}

func TestQueue_EnqueueUnique(t *testing.T) {
	q, _ := newQueue(t)
	ctx := context.Background()
	job := Job{Kind: KindDispatch, OrgID: "org-1", CampaignID: "c1"}

	ok, err := q.EnqueueUnique(ctx, "due:c1", time.Minute, job)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = q.EnqueueUnique(ctx, "due:c1", time.Minute, job)
	require.NoError(t, err)
	assert.False(t, ok)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

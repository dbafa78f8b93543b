// Package queue is an at-least-once job queue on Redis lists.
//
// Jobs are pushed onto a pending list and claimed with an atomic move into
// a processing list. A claimed job stays there until it is acked; Recover
// moves jobs whose claim is older than the visibility timeout back to
// pending, so a worker that dies mid-job does not lose it.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/engagex/internal/metrics"
)

// ErrEmpty is returned by Claim when no job is waiting.
var ErrEmpty = errors.New("queue: empty")

// KindDispatch asks a worker to run the delivery engine for a campaign.
const KindDispatch = "dispatch"

// Job is one unit of queued work.
type Job struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	OrgID      string `json:"org_id"`
	CampaignID string `json:"campaign_id"`
	// GroupIDs overrides the campaign audience when non-nil.
	GroupIDs   []string  `json:"group_ids"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Delivery is a claimed job together with its raw payload, which Ack and
// Nack need to remove it from the processing list.
type Delivery struct {
	Job     Job
	payload string
}

// Queue is safe for concurrent use.
type Queue struct {
	client     *redis.Client
	pending    string
	processing string
	claims     string
	unique     string
	visibility time.Duration
	now        func() time.Time
}

// Option configures a Queue.
type Option func(*Queue)

// Visibility returns the claim timeout.
func (q *Queue) Visibility() time.Duration { return q.visibility }

// WithVisibility sets how long a claimed job may run before Recover
// hands it to another worker.
func WithVisibility(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.visibility = d
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// New returns a queue stored under keys prefixed with name.
func New(client *redis.Client, name string, opts ...Option) *Queue {
	q := &Queue{
		client:     client,
		pending:    name + ":pending",
		processing: name + ":processing",
		claims:     name + ":claims",
		unique:     name + ":unique",
		visibility: 15 * time.Minute,
		now:        time.Now,
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue pushes j. ID and EnqueuedAt are filled in when empty.
func (q *Queue) Enqueue(ctx context.Context, j Job) error {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = q.now().UTC()
	}
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.pending, b).Err(); err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// EnqueueUnique pushes j unless another job was enqueued under key within
// ttl. It reports whether j was pushed.
func (q *Queue) EnqueueUnique(ctx context.Context, key string, ttl time.Duration, j Job) (bool, error) {
	if j.ID == "" {
		j.ID = uuid.New().String()
	}
	ok, err := q.client.SetNX(ctx, q.unique+":"+key, j.ID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("enqueue unique: %w", err)
	}
	if !ok {
		return false, nil
	}
	if err := q.Enqueue(ctx, j); err != nil {
		q.client.Del(ctx, q.unique+":"+key)
		return false, err
	}
	return true, nil
}

// EnqueueDispatch queues a dispatch of the campaign with its own audience.
func (q *Queue) EnqueueDispatch(ctx context.Context, orgID, campaignID string) error {
	return q.Enqueue(ctx, Job{Kind: KindDispatch, OrgID: orgID, CampaignID: campaignID})
}

// Claim moves the oldest pending job to processing. With wait > 0 it
// blocks up to wait; otherwise it returns ErrEmpty immediately.
func (q *Queue) Claim(ctx context.Context, wait time.Duration) (*Delivery, error) {
	var (
		payload string
		err     error
	)
	if wait > 0 {
		payload, err = q.client.BRPopLPush(ctx, q.pending, q.processing, wait).Result()
	} else {
		payload, err = q.client.RPopLPush(ctx, q.pending, q.processing).Result()
	}
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}

	var j Job
	if err := json.Unmarshal([]byte(payload), &j); err != nil {
		// drop it so it cannot block the queue
		q.client.LRem(ctx, q.processing, 1, payload)
		return nil, fmt.Errorf("decode job: %w", err)
	}
	if err := q.client.HSet(ctx, q.claims, j.ID, q.now().Unix()).Err(); err != nil {
		return nil, fmt.Errorf("record claim: %w", err)
	}
	return &Delivery{Job: j, payload: payload}, nil
}

// Ack removes a finished job.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	_, err := q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, d.payload)
		p.HDel(ctx, q.claims, d.Job.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack job: %w", err)
	}
	return nil
}

// Nack returns a job to the back of the pending list with its attempt
// count bumped.
func (q *Queue) Nack(ctx context.Context, d *Delivery) error {
	j := d.Job
	j.Attempts++
	b, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, q.processing, 1, d.payload)
		p.HDel(ctx, q.claims, j.ID)
		p.LPush(ctx, q.pending, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("nack job: %w", err)
	}
	return nil
}

// Recover requeues processing jobs claimed longer ago than the visibility
// timeout and returns how many it moved. Recovered jobs go to the head of
// the line.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	payloads, err := q.client.LRange(ctx, q.processing, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("scan processing: %w", err)
	}
	now := q.now()
	moved := 0
	for _, payload := range payloads {
		var j Job
		if err := json.Unmarshal([]byte(payload), &j); err != nil {
			q.client.LRem(ctx, q.processing, 1, payload)
			continue
		}
		claimed, err := q.client.HGet(ctx, q.claims, j.ID).Int64()
		if errors.Is(err, redis.Nil) {
			// claimed but the claim time was never written
			q.client.HSetNX(ctx, q.claims, j.ID, now.Unix())
			continue
		}
		if err != nil {
			return moved, fmt.Errorf("read claim: %w", err)
		}
		if now.Sub(time.Unix(claimed, 0)) < q.visibility {
			continue
		}

		var removed *redis.IntCmd
		_, err = q.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
			removed = p.LRem(ctx, q.processing, 1, payload)
			p.HDel(ctx, q.claims, j.ID)
			p.RPush(ctx, q.pending, payload)
			return nil
		})
		if err != nil {
			return moved, fmt.Errorf("requeue job: %w", err)
		}
		if removed.Val() == 0 {
			// acked between the scan and the move; undo the push
			q.client.LRem(ctx, q.pending, 1, payload)
			continue
		}
		moved++
	}
	return moved, nil
}

// Depth reports the number of waiting jobs and updates the queue gauge.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, q.pending).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	metrics.QueueDepth.Set(float64(n))
	return n, nil
}

// InFlight reports the number of claimed, unacked jobs.
func (q *Queue) InFlight(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.processing).Result()
}

package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ignite/engagex/internal/pkg/distlock"
	"github.com/ignite/engagex/internal/queue"
	"github.com/ignite/engagex/internal/service/campaign"
	"github.com/ignite/engagex/internal/service/delivery"
	"github.com/ignite/engagex/internal/service/sendingdomain"
)

// JobEnqueuer pushes background jobs.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, j queue.Job) error
}

// Locks hands out per-campaign dispatch locks shared with the workers.
type Locks interface {
	Campaign(campaignID string) distlock.DistLock
}

type handlers struct {
	campaigns *campaign.Service
	domains   *sendingdomain.Service
	engine    *delivery.Engine
	jobs      JobEnqueuer
	locks     Locks
}

func pathID(r *http.Request) string {
	return chi.URLParam(r, "id")
}

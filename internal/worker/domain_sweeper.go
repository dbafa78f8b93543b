package worker

import (
	"context"
	"time"

	"github.com/ignite/engagex/internal/pkg/logger"
)

// PendingVerifier re-checks domains still waiting for their records.
type PendingVerifier interface {
	VerifyPending(ctx context.Context, limit int) (int, error)
}

// DomainSweeper periodically verifies pending sending domains so a
// customer who fixed DNS does not have to ask again.
type DomainSweeper struct {
	domains  PendingVerifier
	interval time.Duration
	batch    int
	log      *logger.Logger
}

// NewDomainSweeper creates a sweeper.
func NewDomainSweeper(domains PendingVerifier, interval time.Duration) *DomainSweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &DomainSweeper{domains: domains, interval: interval, batch: 50, log: logger.With("component", "domain-sweeper")}
}

// Run sweeps until ctx is cancelled.
func (s *DomainSweeper) Run(ctx context.Context) {
	every(ctx, s.interval, func(ctx context.Context) {
		n, err := s.domains.VerifyPending(ctx, s.batch)
		if err != nil {
			s.log.Error("[DomainSweeper] sweep failed", "error", err)
			return
		}
		if n > 0 {
			s.log.Info("[DomainSweeper] pending domains checked", "count", n)
		}
	})
}

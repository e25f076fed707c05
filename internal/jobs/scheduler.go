// Package job holds the periodic maintenance jobs of the server.
package job

import (
	"context"
	"time"

	"github.com/robfig/cron"
)

const (
	TokenRefreshSpec = "@every 10m"
	RecoverySpec     = "@every 1m"
	JanitorSpec      = "@every 1h"
)

// Scheduler runs the jobs on robfig/cron. Each run gets a context bounded
// by the job's interval.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler(refresh *TokenRefreshJob, recovery *RecoveryJob, janitor *JanitorJob) (*Scheduler, error) {
	c := cron.New()
	entries := []struct {
		spec    string
		timeout time.Duration
		run     func(context.Context) int
	}{
		{TokenRefreshSpec, 10 * time.Minute, refresh.RefreshTokens},
		{RecoverySpec, time.Minute, recovery.Run},
		{JanitorSpec, 10 * time.Minute, janitor.Run},
	}
	for _, e := range entries {
		e := e
		err := c.AddFunc(e.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
			defer cancel()
			e.run(ctx)
		})
		if err != nil {
			return nil, err
		}
	}
	return &Scheduler{cron: c}, nil
}

func (s *Scheduler) Start() { s.cron.Start() }

func (s *Scheduler) Stop() { s.cron.Stop() }

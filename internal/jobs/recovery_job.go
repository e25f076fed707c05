package job

import (
	"context"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/metrics"
)

const (
	// StaleAfter is how long a due target may stay pending before it is
	// re-enqueued.
	StaleAfter    = 5 * time.Minute
	recoveryBatch = 500
)

type staleRecoverer interface {
	RecoverStale(ctx context.Context, dueBefore time.Time, limit int) (int, error)
}

// RecoveryJob re-enqueues targets whose enqueue was lost, e.g. because the
// broker was down when the post was created. Targets with a live job are
// rejected by the queue as duplicates.
type RecoveryJob struct {
	posts staleRecoverer
	now   func() time.Time
}

func NewRecoveryJob(posts staleRecoverer) *RecoveryJob {
	return &RecoveryJob{posts: posts, now: time.Now}
}

func (j *RecoveryJob) Run(ctx context.Context) int {
	n, err := j.posts.RecoverStale(ctx, j.now().Add(-StaleAfter), recoveryBatch)
	if err != nil {
		slog.Error("recovery run failed", "error", err)
		metrics.CronRuns.WithLabelValues("recovery", "error").Inc()
		return n
	}
	metrics.CronRuns.WithLabelValues("recovery", "ok").Inc()
	if n > 0 {
		slog.Info("re-enqueued stale targets", "count", n)
	}
	return n
}

package job

import (
	"context"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/metrics"
)

type completedTrimmer interface {
	TrimCompleted(keep int) (int, error)
}

// JanitorJob caps the number of completed jobs kept by the broker.
type JanitorJob struct {
	queue completedTrimmer
	keep  int
}

func NewJanitorJob(q completedTrimmer, keep int) *JanitorJob {
	return &JanitorJob{queue: q, keep: keep}
}

func (j *JanitorJob) Run(_ context.Context) int {
	n, err := j.queue.TrimCompleted(j.keep)
	if err != nil {
		slog.Error("trimming completed jobs failed", "error", err)
		metrics.CronRuns.WithLabelValues("janitor", "error").Inc()
		return n
	}
	metrics.CronRuns.WithLabelValues("janitor", "ok").Inc()
	if n > 0 {
		slog.Info("trimmed completed jobs", "deleted", n, "keep", j.keep)
	}
	return n
}

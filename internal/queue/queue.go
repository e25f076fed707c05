package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
)

type Result string

const (
	Accepted  Result = "accepted"
	Duplicate Result = "duplicate"
)

// Enqueuer is implemented by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Client struct {
	enq  Enqueuer
	opts Options
	now  func() time.Time
}

func NewClient(enq Enqueuer, opts Options) *Client {
	return &Client{enq: enq, opts: opts.withDefaults(), now: time.Now}
}

// Enqueue schedules job for job.NotBefore. A job whose identity is already
// queued, running or retained is reported as Duplicate without error.
func (c *Client) Enqueue(ctx context.Context, job models.PublishJob) (Result, error) {
	if job.PostID == 0 || job.TargetID == 0 || job.AccountID == 0 {
		metrics.EnqueuedJobs.WithLabelValues("error").Inc()
		return "", fmt.Errorf("%w: post, target and account ids are required", ErrInvalidJob)
	}

	payload, err := json.Marshal(job)
	if err != nil {
		metrics.EnqueuedJobs.WithLabelValues("error").Inc()
		return "", err
	}

	delay, late := ComputeDelay(c.now(), job.NotBefore)
	if late {
		slog.Warn("schedule already passed, publishing now", "job", job.Identity(), "not_before", job.NotBefore)
	}

	task := asynq.NewTask(TaskTypePublishTarget, payload)
	_, err = c.enq.EnqueueContext(ctx, task,
		asynq.Queue(QueueName),
		asynq.TaskID(job.Identity()),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(c.opts.MaxAttempts-1),
		asynq.Retention(c.opts.Retention),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		metrics.EnqueuedJobs.WithLabelValues(string(Duplicate)).Inc()
		slog.Info("job already queued", "job", job.Identity())
		return Duplicate, nil
	}
	if err != nil {
		metrics.EnqueuedJobs.WithLabelValues("error").Inc()
		slog.Info(err.Error())
		return "", err
	}

	metrics.EnqueuedJobs.WithLabelValues(string(Accepted)).Inc()
	slog.Info("job scheduled", "job", job.Identity(), "delay", delay.String())
	return Accepted, nil
}

package queue

import (
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
)

// Stats counts tasks of the publish queue by state.
type Stats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

type FailedJob struct {
	JobID        string    `json:"jobId"`
	PostID       int64     `json:"postId"`
	TargetID     int64     `json:"targetId"`
	AccountID    int64     `json:"accountId"`
	AttemptsMade int       `json:"attemptsMade"`
	LastError    string    `json:"lastError"`
	FailedAt     time.Time `json:"failedAt"`
}

// taskInspector is the subset of *asynq.Inspector in use.
type taskInspector interface {
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	ListArchivedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	ListCompletedTasks(queue string, opts ...asynq.ListOption) ([]*asynq.TaskInfo, error)
	DeleteTask(queue, id string) error
}

type Inspector struct {
	in taskInspector
}

func NewInspector(in taskInspector) *Inspector {
	return &Inspector{in: in}
}

func (i *Inspector) Stats() (Stats, error) {
	info, err := i.in.GetQueueInfo(QueueName)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return Stats{}, nil
	}
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Waiting:   info.Pending,
		Active:    info.Active,
		Completed: info.Completed,
		Failed:    info.Archived,
		Delayed:   info.Scheduled + info.Retry,
	}, nil
}

// FailedJobs lists jobs that exhausted their attempts or failed permanently,
// newest first as returned by asynq.
func (i *Inspector) FailedJobs(limit int) ([]FailedJob, error) {
	if limit <= 0 {
		limit = 50
	}
	tasks, err := i.in.ListArchivedTasks(QueueName, asynq.PageSize(limit))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return []FailedJob{}, nil
	}
	if err != nil {
		return nil, err
	}

	jobs := make([]FailedJob, 0, len(tasks))
	for _, t := range tasks {
		fj := FailedJob{
			JobID:     t.ID,
			LastError: t.LastErr,
			FailedAt:  t.LastFailedAt,
			// Retried counts re-runs; the failing run itself is one more.
			AttemptsMade: t.Retried + 1,
		}
		var job models.PublishJob
		if err := json.Unmarshal(t.Payload, &job); err == nil {
			fj.PostID, fj.TargetID, fj.AccountID = job.PostID, job.TargetID, job.AccountID
		}
		jobs = append(jobs, fj)
	}
	return jobs, nil
}

// TrimCompleted deletes the oldest retained completed tasks above keep and
// returns how many were removed.
func (i *Inspector) TrimCompleted(keep int) (int, error) {
	info, err := i.in.GetQueueInfo(QueueName)
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	excess := info.Completed - keep
	if excess <= 0 {
		return 0, nil
	}
	if excess > 1000 {
		excess = 1000
	}

	tasks, err := i.in.ListCompletedTasks(QueueName, asynq.PageSize(excess))
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, t := range tasks {
		if err := i.in.DeleteTask(QueueName, t.ID); err != nil {
			slog.Info(err.Error())
			continue
		}
		removed++
	}
	return removed, nil
}

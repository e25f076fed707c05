package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memEnqueuer mimics asynq's TaskID uniqueness.
type memEnqueuer struct {
	mu    sync.Mutex
	tasks map[string]*asynq.Task
	opts  map[string][]asynq.Option
	err   error
}

func newMemEnqueuer() *memEnqueuer {
	return &memEnqueuer{tasks: map[string]*asynq.Task{}, opts: map[string][]asynq.Option{}}
}

func (m *memEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var id string
	for _, o := range opts {
		if o.Type() == asynq.TaskIDOpt {
			id = o.Value().(string)
		}
	}
	if _, ok := m.tasks[id]; ok {
		return nil, asynq.ErrTaskIDConflict
	}
	m.tasks[id] = task
	m.opts[id] = opts
	return &asynq.TaskInfo{ID: id}, nil
}

func optValue(opts []asynq.Option, typ asynq.OptionType) interface{} {
	for _, o := range opts {
		if o.Type() == typ {
			return o.Value()
		}
	}
	return nil
}

var base = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := base.Add(d)
	return &t
}

func TestEnqueueDeduplicatesByIdentity(t *testing.T) {
	enq := newMemEnqueuer()
	c := NewClient(enq, Options{})
	c.now = func() time.Time { return base }

	job := models.PublishJob{PostID: 4, TargetID: 9, AccountID: 2, Content: "hi"}

	res, err := c.Enqueue(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, Accepted, res)

	res, err = c.Enqueue(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, Duplicate, res)

	require.Len(t, enq.tasks, 1)
	task := enq.tasks["post-4-9"]
	require.NotNil(t, task)
	assert.Equal(t, TaskTypePublishTarget, task.Type())

	var decoded models.PublishJob
	require.NoError(t, json.Unmarshal(task.Payload(), &decoded))
	assert.Equal(t, job, decoded)

	opts := enq.opts["post-4-9"]
	assert.Equal(t, 2, optValue(opts, asynq.MaxRetryOpt))
	assert.Equal(t, DefaultRetention, optValue(opts, asynq.RetentionOpt))
}

func TestEnqueueDelayFromNotBefore(t *testing.T) {
	tests := []struct {
		name      string
		notBefore *time.Time
		want      time.Duration
	}{
		{"immediate", nil, MinDelay},
		{"ten minutes past", at(-10 * time.Minute), MinDelay},
		{"future", at(2 * time.Hour), 2 * time.Hour},
		{"sub-second", at(200 * time.Millisecond), MinDelay},
	}
	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enq := newMemEnqueuer()
			c := NewClient(enq, Options{})
			c.now = func() time.Time { return base }

			job := models.PublishJob{PostID: 1, TargetID: int64(i + 1), AccountID: 1, NotBefore: tt.notBefore}
			_, err := c.Enqueue(context.Background(), job)
			require.NoError(t, err)
			assert.Equal(t, tt.want, optValue(enq.opts[job.Identity()], asynq.ProcessInOpt))
		})
	}
}

func TestEnqueueRejectsIncompleteJob(t *testing.T) {
	c := NewClient(newMemEnqueuer(), Options{})
	_, err := c.Enqueue(context.Background(), models.PublishJob{PostID: 1})
	assert.ErrorIs(t, err, ErrInvalidJob)
}

func TestEnqueueBrokerError(t *testing.T) {
	enq := newMemEnqueuer()
	enq.err = errors.New("redis down")
	c := NewClient(enq, Options{})
	_, err := c.Enqueue(context.Background(), models.PublishJob{PostID: 1, TargetID: 1, AccountID: 1})
	assert.EqualError(t, err, "redis down")
}

func TestComputeDelay(t *testing.T) {
	d, late := ComputeDelay(base, at(-10*time.Minute))
	assert.Equal(t, MinDelay, d)
	assert.True(t, late)

	d, late = ComputeDelay(base, at(-30*time.Second))
	assert.Equal(t, MinDelay, d)
	assert.False(t, late)

	d, late = ComputeDelay(base, at(90*time.Minute))
	assert.Equal(t, 90*time.Minute, d)
	assert.False(t, late)
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule(base, base.Add(-time.Hour)))
	assert.NoError(t, ValidateSchedule(base, base.AddDate(0, 11, 0)))
	assert.ErrorIs(t, ValidateSchedule(base, base.AddDate(0, 13, 0)), ErrScheduleTooFar)
}

func TestRetryDelay(t *testing.T) {
	fn := RetryDelay(30 * time.Second)
	plain := errors.New("boom")

	assert.Equal(t, 30*time.Second, fn(0, plain, nil))
	assert.Equal(t, 60*time.Second, fn(1, plain, nil))
	assert.Equal(t, 120*time.Second, fn(2, plain, nil))
	assert.Equal(t, MaxBackoff, fn(40, plain, nil))

	limited := &failure.Error{Kind: failure.KindRateLimit, ResetAt: time.Now().Add(10 * time.Minute)}
	d := fn(0, limited, nil)
	assert.InDelta(t, (10 * time.Minute).Seconds(), d.Seconds(), 5)

	expired := &failure.Error{Kind: failure.KindRateLimit, ResetAt: time.Now().Add(-time.Minute)}
	assert.Equal(t, 30*time.Second, fn(0, expired, nil))
}

type stubDispatcher struct {
	got     []models.PublishJob
	attempt Attempt
	err     error
}

func (s *stubDispatcher) Dispatch(_ context.Context, job models.PublishJob, a Attempt) error {
	s.got = append(s.got, job)
	s.attempt = a
	return s.err
}

func TestWorkerHandlesPublishTask(t *testing.T) {
	d := &stubDispatcher{}
	w := NewWorker(d, Options{})

	payload, err := json.Marshal(models.PublishJob{PostID: 1, TargetID: 2, AccountID: 3})
	require.NoError(t, err)

	require.NoError(t, w.HandlePublishTask(context.Background(), asynq.NewTask(TaskTypePublishTarget, payload)))
	require.Len(t, d.got, 1)
	assert.Equal(t, int64(2), d.got[0].TargetID)
	assert.Equal(t, Attempt{Number: 1, Max: DefaultMaxAttempts}, d.attempt)
}

func TestWorkerTerminalErrorSkipsRetry(t *testing.T) {
	d := &stubDispatcher{err: &TerminalError{Err: errors.New("account disconnected")}}
	w := NewWorker(d, Options{})
	payload, _ := json.Marshal(models.PublishJob{PostID: 1, TargetID: 2, AccountID: 3})

	err := w.HandlePublishTask(context.Background(), asynq.NewTask(TaskTypePublishTarget, payload))
	require.Error(t, err)
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Contains(t, err.Error(), "account disconnected")
}

func TestWorkerTransientErrorRetries(t *testing.T) {
	d := &stubDispatcher{err: errors.New("503")}
	w := NewWorker(d, Options{})
	payload, _ := json.Marshal(models.PublishJob{PostID: 1, TargetID: 2, AccountID: 3})

	err := w.HandlePublishTask(context.Background(), asynq.NewTask(TaskTypePublishTarget, payload))
	require.Error(t, err)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestWorkerBadPayloadSkipsRetry(t *testing.T) {
	d := &stubDispatcher{}
	w := NewWorker(d, Options{})

	err := w.HandlePublishTask(context.Background(), asynq.NewTask(TaskTypePublishTarget, []byte("{")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
	assert.Empty(t, d.got)
}

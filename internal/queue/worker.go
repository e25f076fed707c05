package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/models"
)

// Attempt is the 1-based execution number of a job and its total budget.
type Attempt struct {
	Number int
	Max    int
}

func (a Attempt) Last() bool { return a.Number >= a.Max }

// TerminalError reports a job that failed for good; it is not retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, job models.PublishJob, attempt Attempt) error
}

type Worker struct {
	d    Dispatcher
	opts Options
}

func NewWorker(d Dispatcher, opts Options) *Worker {
	return &Worker{d: d, opts: opts.withDefaults()}
}

func (w *Worker) HandlePublishTask(ctx context.Context, task *asynq.Task) error {
	var job models.PublishJob
	if err := json.Unmarshal(task.Payload(), &job); err != nil {
		slog.Error("undecodable publish task", "error", err)
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}

	err := w.d.Dispatch(ctx, job, w.attempt(ctx))
	if err == nil {
		return nil
	}
	if IsTerminal(err) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

func (w *Worker) attempt(ctx context.Context) Attempt {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	if !ok {
		maxRetry = w.opts.MaxAttempts - 1
	}
	return Attempt{Number: retried + 1, Max: maxRetry + 1}
}

func NewServeMux(w *Worker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypePublishTarget, w.HandlePublishTask)
	return mux
}

// NewServer builds the asynq server that runs publish jobs.
func NewServer(redisOpt asynq.RedisConnOpt, concurrency int, opts Options, logger *slog.Logger) *asynq.Server {
	opts = opts.withDefaults()
	return asynq.NewServer(redisOpt, asynq.Config{
		Concurrency:    concurrency,
		Queues:         map[string]int{QueueName: 1},
		RetryDelayFunc: RetryDelay(opts.Backoff),
		Logger:         &asynqLogger{l: logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			logger.Warn("publish task failed", "type", task.Type(), "retried", retried, "error", err)
		}),
	})
}

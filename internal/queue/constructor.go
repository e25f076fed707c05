// Package queue moves publish jobs through asynq: delayed enqueue with
// identity deduplication, bounded retries and operational inspection.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/maheshrc27/postflow/internal/failure"
)

const (
	TaskTypePublishTarget = "publish:target"
	QueueName             = "default"

	DefaultMaxAttempts = 3
	DefaultBackoff     = 30 * time.Second
	MaxBackoff         = time.Hour
	DefaultRetention   = 24 * time.Hour

	// MinDelay is the smallest delay handed to the queue.
	MinDelay = time.Second
	// LateGrace is how far in the past a schedule may be before the
	// publish is logged as late.
	LateGrace = 60 * time.Second
	// MaxHorizon is the furthest a post may be scheduled.
	MaxHorizon = 365 * 24 * time.Hour
)

var (
	ErrScheduleTooFar = errors.New("scheduled time is more than one year ahead")
	ErrInvalidJob     = errors.New("invalid publish job")
)

// Options configures the queue client and server.
type Options struct {
	MaxAttempts int
	Backoff     time.Duration
	Retention   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Retention <= 0 {
		o.Retention = DefaultRetention
	}
	return o
}

// ValidateSchedule rejects schedules beyond MaxHorizon. Past times are
// accepted and publish immediately.
func ValidateSchedule(now, at time.Time) error {
	if at.Sub(now) > MaxHorizon {
		return fmt.Errorf("%w: %s", ErrScheduleTooFar, at.Format(time.RFC3339))
	}
	return nil
}

// ComputeDelay returns the enqueue delay for notBefore and whether the
// publish is already late beyond LateGrace.
func ComputeDelay(now time.Time, notBefore *time.Time) (time.Duration, bool) {
	if notBefore == nil {
		return MinDelay, false
	}
	d := notBefore.Sub(now)
	if d < MinDelay {
		return MinDelay, d < -LateGrace
	}
	return d, false
}

// RetryDelay backs off exponentially from base (base, 2*base, 4*base...)
// unless the error carries a rate-limit reset time.
func RetryDelay(base time.Duration) asynq.RetryDelayFunc {
	return func(n int, err error, _ *asynq.Task) time.Duration {
		if reset, ok := failure.ResetAt(err); ok {
			if d := time.Until(reset); d > 0 {
				return d
			}
		}
		if n < 0 {
			n = 0
		}
		if n > 16 {
			return MaxBackoff
		}
		d := base << n
		if d > MaxBackoff {
			d = MaxBackoff
		}
		return d
	}
}

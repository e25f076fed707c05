package upload

import (
	"context"
	"time"

	"github.com/maheshrc27/postflow/internal/failure"
)

type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Processing is the platform-reported state of uploaded media or of an
// asynchronous publish.
type Processing struct {
	State      State
	CheckAfter time.Duration
	Error      string
}

type PollConfig struct {
	Platform     string
	Op           string
	MaxPolls     int
	Interval     time.Duration
	InitialDelay time.Duration
}

// Poll calls check until it reports success or failure, sleeping between
// calls. Exhausting MaxPolls yields a timeout error wrapping
// ErrProcessingTimeout.
func Poll(ctx context.Context, cfg PollConfig, check func(context.Context) (*Processing, error)) error {
	maxPolls := cfg.MaxPolls
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	wait := cfg.InitialDelay
	for i := 0; i < maxPolls; i++ {
		if err := sleep(ctx, wait); err != nil {
			return failure.Transient(cfg.Platform, cfg.Op, err)
		}

		p, err := check(ctx)
		if err != nil {
			return err
		}
		if p == nil {
			return nil
		}

		switch p.State {
		case StateSucceeded:
			return nil
		case StateFailed:
			return processingFailed(cfg.Platform, cfg.Op, p)
		}

		wait = interval
		if p.CheckAfter > 0 {
			wait = p.CheckAfter
		}
	}

	return &failure.Error{
		Platform: cfg.Platform,
		Op:       cfg.Op,
		Kind:     failure.KindTimeout,
		Message:  "still processing after status polls",
		Err:      ErrProcessingTimeout,
	}
}

func processingFailed(platform, op string, p *Processing) error {
	msg := "media processing failed"
	if p.Error != "" {
		msg += ": " + p.Error
	}
	return failure.Permanent(platform, op, msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Package publisher drives one post target through validation, media upload
// and publication, recording the outcome on the target row.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/queue"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/tokens"
)

// RefreshSkew is how close to expiry a token is refreshed before use.
const RefreshSkew = 5 * time.Minute

// Accounts is the credential store of connected accounts.
type Accounts interface {
	tokens.Store
	IsAccountActive(ctx context.Context, accountID int64) (bool, error)
	GetAccountCredentials(ctx context.Context, accountID int64) (*service.Account, error)
}

type Targets interface {
	UpdateTargetStatus(ctx context.Context, targetID int64, status string, outcome models.TargetOutcome) error
}

// MediaSource streams stored media by object key.
type MediaSource interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

type Refresher interface {
	Rotate(ctx context.Context, store tokens.Store, accountID int64, platformName string, creds platform.Credentials) (platform.Credentials, error)
}

var ErrAccountDisconnected = errors.New("account disconnected")

type Dispatcher struct {
	registry  *platform.Registry
	accounts  Accounts
	targets   Targets
	media     MediaSource
	refresher Refresher
	logger    *slog.Logger
	now       func() time.Time

	// StatusAttempts bounds retries of the final status write.
	StatusAttempts uint
	StatusDelay    time.Duration
}

func NewDispatcher(registry *platform.Registry, accounts Accounts, targets Targets, media MediaSource, refresher Refresher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		registry:       registry,
		accounts:       accounts,
		targets:        targets,
		media:          media,
		refresher:      refresher,
		logger:         logger,
		now:            time.Now,
		StatusAttempts: 3,
		StatusDelay:    500 * time.Millisecond,
	}
}

// Dispatch executes one attempt of job. A nil return means the target was
// published. A *queue.TerminalError means it was marked failed. Any other error
// leaves the target pending and should be retried by the queue.
func (d *Dispatcher) Dispatch(ctx context.Context, job models.PublishJob, attempt queue.Attempt) error {
	start := d.now()
	log := d.logger.With("post_id", job.PostID, "target_id", job.TargetID, "account_id", job.AccountID, "attempt", attempt.Number)

	active, err := d.accounts.IsAccountActive(ctx, job.AccountID)
	if err != nil {
		return d.finish(ctx, log, job, "", attempt, nil, fmt.Errorf("check account: %w", err))
	}
	if !active {
		return d.finish(ctx, log, job, "", attempt, nil, &failure.Error{
			Op: "dispatch", Kind: failure.KindPermanent, Message: ErrAccountDisconnected.Error(), Err: ErrAccountDisconnected,
		})
	}

	acc, err := d.accounts.GetAccountCredentials(ctx, job.AccountID)
	if err != nil {
		if errors.Is(err, service.ErrAccountNotFound) {
			err = &failure.Error{Op: "dispatch", Kind: failure.KindPermanent, Message: "account not found", Err: err}
		}
		return d.finish(ctx, log, job, "", attempt, nil, err)
	}
	log = log.With("platform", acc.Platform)

	adapter, err := d.registry.Get(acc.Platform)
	if err != nil {
		return d.finish(ctx, log, job, acc.Platform, attempt, nil, err)
	}

	if err := d.targets.UpdateTargetStatus(ctx, job.TargetID, models.TargetStatusPublishing, models.TargetOutcome{}); err != nil {
		return d.finish(ctx, log, job, acc.Platform, attempt, nil, fmt.Errorf("mark publishing: %w", err))
	}

	res, err := d.publish(ctx, log, adapter, acc, job)
	err = d.finish(ctx, log, job, acc.Platform, attempt, res, err)
	metrics.PublishDuration.WithLabelValues(acc.Platform).Observe(d.now().Sub(start).Seconds())
	return err
}

func (d *Dispatcher) publish(ctx context.Context, log *slog.Logger, adapter platform.Adapter, acc *service.Account, job models.PublishJob) (*platform.PublishResult, error) {
	creds := acc.Credentials
	name := adapter.Name()

	infos := make([]platform.MediaInfo, len(job.Media))
	for i, m := range job.Media {
		infos[i] = platform.MediaInfo{MimeType: m.MimeType, Size: m.Size}
	}
	if err := adapter.Validate(job.Content, infos); err != nil {
		return nil, err
	}

	if creds.NeedsRefresh(d.now(), RefreshSkew) {
		log.Info("refreshing token before publish", "expires_at", creds.ExpiresAt)
		next, err := d.refresher.Rotate(ctx, d.accounts, acc.ID, name, creds)
		if err != nil {
			return nil, err
		}
		creds = next
	}

	refreshed := false
	withAuthRetry := func(call func(*platform.Credentials) error) error {
		err := call(&creds)
		if err == nil || !failure.IsAuth(err) || refreshed {
			return err
		}
		refreshed = true
		log.Info("authorization rejected, refreshing token", "error", err)
		next, rerr := d.refresher.Rotate(ctx, d.accounts, acc.ID, name, creds)
		if rerr != nil {
			return rerr
		}
		creds = next
		return call(&creds)
	}

	handles := make([]platform.MediaHandle, 0, len(job.Media))
	for i, ref := range job.Media {
		var h platform.MediaHandle
		err := withAuthRetry(func(c *platform.Credentials) error {
			r := &lazyReader{open: func() (io.ReadCloser, error) { return d.media.Open(ctx, ref.Key) }}
			defer r.Close()

			var err error
			h, err = adapter.UploadMedia(ctx, c, platform.Media{
				MediaInfo: infos[i],
				URL:       ref.URL,
				Reader:    r,
			})
			return err
		})
		if err != nil {
			return nil, err
		}
		log.Info("media uploaded", "index", i, "handle", h.ID)
		handles = append(handles, h)
	}

	var res *platform.PublishResult
	err := withAuthRetry(func(c *platform.Credentials) error {
		var err error
		res, err = adapter.Publish(ctx, c, platform.Post{Content: job.Content, Title: job.Title, Media: handles})
		return err
	})
	return res, err
}

// finish records the outcome of an attempt on the target.
func (d *Dispatcher) finish(ctx context.Context, log *slog.Logger, job models.PublishJob, platformName string, attempt queue.Attempt, res *platform.PublishResult, err error) error {
	if err == nil {
		now := d.now().UTC()
		outcome := models.TargetOutcome{PlatformPostID: res.PlatformPostID, PostURL: res.URL, PublishedAt: &now}
		metrics.PublishOutcomes.WithLabelValues(platformName, "published").Inc()
		if serr := d.writeStatus(ctx, job.TargetID, models.TargetStatusPublished, outcome); serr != nil {
			// The post is live; running the job again would publish it twice.
			log.Error("published but status not recorded", "platform_post_id", res.PlatformPostID, "error", serr)
			return &queue.TerminalError{Err: serr}
		}
		log.Info("target published", "platform_post_id", res.PlatformPostID, "url", res.URL)
		return nil
	}

	if d.retryable(err, attempt) {
		metrics.PublishOutcomes.WithLabelValues(platformName, "retry").Inc()
		log.Warn("publish attempt failed, will retry", "kind", failure.KindOf(err).String(), "error", err)
		if serr := d.writeStatus(ctx, job.TargetID, models.TargetStatusPending, models.TargetOutcome{ErrorMessage: err.Error()}); serr != nil {
			log.Error("failed to reset target to pending", "error", serr)
		}
		return err
	}

	metrics.PublishOutcomes.WithLabelValues(platformName, "failed").Inc()
	log.Error("target failed", "kind", failure.KindOf(err).String(), "error", err)
	if serr := d.writeStatus(ctx, job.TargetID, models.TargetStatusFailed, models.TargetOutcome{ErrorMessage: err.Error()}); serr != nil {
		log.Error("failed to record target failure", "error", serr)
	}
	return &queue.TerminalError{Err: err}
}

// retryable applies the attempt budget. A processing timeout gets one retry
// only.
func (d *Dispatcher) retryable(err error, attempt queue.Attempt) bool {
	if attempt.Last() || !failure.IsRetryable(err) {
		return false
	}
	if failure.KindOf(err) == failure.KindTimeout && attempt.Number > 1 {
		return false
	}
	return true
}

func (d *Dispatcher) writeStatus(ctx context.Context, targetID int64, status string, outcome models.TargetOutcome) error {
	attempts := d.StatusAttempts
	if attempts == 0 {
		attempts = 1
	}
	return retry.Do(
		func() error {
			return d.targets.UpdateTargetStatus(ctx, targetID, status, outcome)
		},
		retry.Attempts(attempts),
		retry.Delay(d.StatusDelay),
		retry.Context(ctx),
	)
}

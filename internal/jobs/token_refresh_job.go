package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/tokens"
)

// RefreshWindow is how far ahead of expiry tokens are refreshed.
const RefreshWindow = 30 * time.Minute

type expiringAccounts interface {
	ListByTimeInterval(ctx context.Context, initialTime, finalTime time.Time) ([]*models.SocialAccount, error)
}

type rotator interface {
	Rotate(ctx context.Context, store tokens.Store, accountID int64, platformName string, creds platform.Credentials) (platform.Credentials, error)
}

// TokenRefreshJob rotates tokens that expire within RefreshWindow so
// publishes rarely hit an expired token.
type TokenRefreshJob struct {
	sr          expiringAccounts
	accounts    service.AccountService
	rotator     rotator
	concurrency int
	now         func() time.Time
}

func NewTokenRefreshJob(sr expiringAccounts, accounts service.AccountService, r rotator) *TokenRefreshJob {
	return &TokenRefreshJob{
		sr:          sr,
		accounts:    accounts,
		rotator:     r,
		concurrency: 10,
		now:         time.Now,
	}
}

// RefreshTokens returns the number of accounts refreshed.
func (c *TokenRefreshJob) RefreshTokens(ctx context.Context) int {
	currentTime := c.now()

	accounts, err := c.sr.ListByTimeInterval(ctx, currentTime, currentTime.Add(RefreshWindow))
	if err != nil {
		slog.Info(err.Error())
		metrics.CronRuns.WithLabelValues("token_refresh", "error").Inc()
		return 0
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		refreshed int
	)
	semaphore := make(chan struct{}, c.concurrency)

	for _, acc := range accounts {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(acc *models.SocialAccount) {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := c.refresh(ctx, acc); err != nil {
				slog.Warn("unable to refresh token", "account_id", acc.ID, "platform", acc.Platform, "error", err)
				return
			}
			mu.Lock()
			refreshed++
			mu.Unlock()
		}(acc)
	}
	wg.Wait()

	metrics.CronRuns.WithLabelValues("token_refresh", "ok").Inc()
	if len(accounts) > 0 {
		slog.Info("token refresh run finished", "due", len(accounts), "refreshed", refreshed)
	}
	return refreshed
}

func (c *TokenRefreshJob) refresh(ctx context.Context, acc *models.SocialAccount) error {
	account, err := c.accounts.GetAccountCredentials(ctx, acc.ID)
	if err != nil {
		return err
	}
	_, err = c.rotator.Rotate(ctx, c.accounts, acc.ID, account.Platform, account.Credentials)
	return err
}

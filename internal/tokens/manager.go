// Package tokens rotates OAuth tokens through the platform adapters.
package tokens

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/failure"
	"github.com/maheshrc27/postflow/internal/metrics"
	"github.com/maheshrc27/postflow/internal/platform"
)

const DefaultLockTTL = 30 * time.Second

var (
	ErrRefreshInProgress = errors.New("token refresh already in progress")
	ErrNoRefreshToken    = errors.New("account has no refresh token")
)

// Store persists credentials of connected accounts.
type Store interface {
	LoadCredentials(ctx context.Context, accountID int64) (platform.Credentials, error)
	SaveRefreshedCredentials(ctx context.Context, accountID int64, creds platform.Credentials) error
}

type Manager struct {
	registry *platform.Registry
	locker   Locker
	LockTTL  time.Duration
	now      func() time.Time
}

// NewManager builds a manager. A nil locker disables cross-worker locking.
func NewManager(registry *platform.Registry, locker Locker) *Manager {
	return &Manager{registry: registry, locker: locker, LockTTL: DefaultLockTTL, now: time.Now}
}

// Refresh exchanges a refresh token. Platform rejections come back as auth
// errors, which are permanent.
func (m *Manager) Refresh(ctx context.Context, platformName, refreshToken string) (*platform.TokenSet, error) {
	if refreshToken == "" {
		metrics.TokenRefreshes.WithLabelValues(platformName, "rejected").Inc()
		return nil, failure.Auth(platformName, "refresh", ErrNoRefreshToken)
	}
	adapter, err := m.registry.Get(platformName)
	if err != nil {
		return nil, err
	}

	ts, err := adapter.RefreshToken(ctx, refreshToken)
	if err != nil {
		result := "error"
		if !failure.IsRetryable(err) {
			result = "rejected"
			if !failure.IsAuth(err) {
				err = failure.Auth(platformName, "refresh", err)
			}
		}
		metrics.TokenRefreshes.WithLabelValues(platformName, result).Inc()
		return nil, err
	}
	metrics.TokenRefreshes.WithLabelValues(platformName, "ok").Inc()
	return ts, nil
}

// Rotate refreshes the credentials of one account and persists the result
// before returning it. If another worker rotated the token since creds were
// read, the stored credentials are returned without another exchange.
func (m *Manager) Rotate(ctx context.Context, store Store, accountID int64, platformName string, creds platform.Credentials) (platform.Credentials, error) {
	if m.locker != nil {
		release, ok, err := m.locker.Acquire(ctx, fmt.Sprintf("token-refresh:%d", accountID), m.LockTTL)
		if err != nil {
			return creds, failure.Transient(platformName, "refresh lock", err)
		}
		if !ok {
			metrics.TokenRefreshes.WithLabelValues(platformName, "busy").Inc()
			return creds, failure.Transient(platformName, "refresh", ErrRefreshInProgress)
		}
		defer release()
	}

	stored, err := store.LoadCredentials(ctx, accountID)
	if err != nil {
		return creds, failure.Transient(platformName, "load credentials", err)
	}
	if stored.AccessToken != creds.AccessToken && !stored.NeedsRefresh(m.now(), 0) {
		slog.Info("token already rotated", "account_id", accountID, "platform", platformName)
		return stored, nil
	}

	ts, err := m.Refresh(ctx, platformName, stored.RefreshToken)
	if err != nil {
		return creds, err
	}

	next := stored
	next.AccessToken = ts.AccessToken
	if ts.RefreshToken != "" {
		next.RefreshToken = ts.RefreshToken
	}
	next.ExpiresAt = time.Time{}
	if ts.ExpiresIn > 0 {
		next.ExpiresAt = m.now().Add(ts.ExpiresIn)
	}

	if err := store.SaveRefreshedCredentials(ctx, accountID, next); err != nil {
		return creds, failure.Transient(platformName, "save credentials", err)
	}
	slog.Info("token refreshed", "account_id", accountID, "platform", platformName, "expires_at", next.ExpiresAt)
	return next, nil
}

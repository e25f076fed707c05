package job

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

type expiringList struct {
	accounts []*models.SocialAccount
	from, to time.Time
}

func (l *expiringList) ListByTimeInterval(_ context.Context, from, to time.Time) ([]*models.SocialAccount, error) {
	l.from, l.to = from, to
	return l.accounts, nil
}

type credAccounts struct {
	service.AccountService
}

func (credAccounts) GetAccountCredentials(_ context.Context, id int64) (*service.Account, error) {
	if id == 404 {
		return nil, service.ErrAccountNotFound
	}
	return &service.Account{ID: id, Platform: platform.YouTube, Active: true,
		Credentials: platform.Credentials{AccessToken: "old", RefreshToken: "rt"}}, nil
}

type recordingRotator struct {
	mu      sync.Mutex
	rotated []int64
	fail    map[int64]bool
}

func (r *recordingRotator) Rotate(_ context.Context, _ tokens.Store, id int64, _ string, creds platform.Credentials) (platform.Credentials, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[id] {
		return creds, errors.New("invalid_grant")
	}
	r.rotated = append(r.rotated, id)
	creds.AccessToken = "new"
	return creds, nil
}

func TestRefreshTokensRotatesExpiringAccounts(t *testing.T) {
	list := &expiringList{accounts: []*models.SocialAccount{{ID: 1}, {ID: 2}, {ID: 3}, {ID: 404}}}
	rot := &recordingRotator{fail: map[int64]bool{3: true}}
	j := NewTokenRefreshJob(list, credAccounts{}, rot)
	j.now = func() time.Time { return fixedNow }

	n := j.RefreshTokens(context.Background())

	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, []int64{1, 2}, rot.rotated)
	assert.Equal(t, fixedNow, list.from)
	assert.Equal(t, fixedNow.Add(RefreshWindow), list.to)
}

type stubRecoverer struct {
	dueBefore time.Time
	limit     int
	n         int
	err       error
}

func (s *stubRecoverer) RecoverStale(_ context.Context, dueBefore time.Time, limit int) (int, error) {
	s.dueBefore, s.limit = dueBefore, limit
	return s.n, s.err
}

func TestRecoveryJob(t *testing.T) {
	rec := &stubRecoverer{n: 4}
	j := NewRecoveryJob(rec)
	j.now = func() time.Time { return fixedNow }

	assert.Equal(t, 4, j.Run(context.Background()))
	assert.Equal(t, fixedNow.Add(-StaleAfter), rec.dueBefore)
	assert.Equal(t, recoveryBatch, rec.limit)

	rec.n, rec.err = 0, errors.New("db down")
	assert.Equal(t, 0, j.Run(context.Background()))
}

type stubTrimmer struct{ keep int }

func (s *stubTrimmer) TrimCompleted(keep int) (int, error) {
	s.keep = keep
	return 7, nil
}

func TestJanitorJob(t *testing.T) {
	tr := &stubTrimmer{}
	assert.Equal(t, 7, NewJanitorJob(tr, 250).Run(context.Background()))
	assert.Equal(t, 250, tr.keep)
}

func TestNewScheduler(t *testing.T) {
	s, err := NewScheduler(
		NewTokenRefreshJob(&expiringList{}, credAccounts{}, &recordingRotator{}),
		NewRecoveryJob(&stubRecoverer{}),
		NewJanitorJob(&stubTrimmer{}, 10),
	)
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 3)
}

package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type fakeAccountRepo struct {
	repository.SocialAccountRepository
	accounts map[int64]*models.SocialAccount
}

func (f *fakeAccountRepo) GetByID(_ context.Context, id int64) (*models.SocialAccount, error) {
	sa, ok := f.accounts[id]
	if !ok {
		return nil, nil
	}
	cp := *sa
	return &cp, nil
}

func (f *fakeAccountRepo) CheckByUserID(_ context.Context, accountID, userID int64) (bool, error) {
	sa, ok := f.accounts[accountID]
	return ok && sa.UserID == userID, nil
}

func (f *fakeAccountRepo) IsActive(_ context.Context, id int64) (bool, error) {
	sa, ok := f.accounts[id]
	return ok && sa.Active, nil
}

func (f *fakeAccountRepo) SetActive(_ context.Context, id int64, active bool) error {
	sa, ok := f.accounts[id]
	if !ok {
		return sql.ErrNoRows
	}
	sa.Active = active
	return nil
}

func (f *fakeAccountRepo) SetToken(_ context.Context, id int64, oldAccessToken string, sa *models.SocialAccount) error {
	cur := f.accounts[id]
	if cur.AccessToken != oldAccessToken {
		return repository.ErrStaleToken
	}
	cur.AccessToken = sa.AccessToken
	if sa.RefreshToken != "" {
		cur.RefreshToken = sa.RefreshToken
	}
	cur.TokenExpiresAt = sa.TokenExpiresAt
	return nil
}

func encrypted(t *testing.T, plain string) string {
	t.Helper()
	c, err := utils.Encrypt([]byte(plain), []byte(testSecret))
	require.NoError(t, err)
	return c
}

func TestGetAccountCredentialsDecrypts(t *testing.T) {
	exp := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		5: {
			ID:               5,
			Platform:         platform.Twitter,
			AccountID:        "tw-1",
			AccessToken:      encrypted(t, "access"),
			RefreshToken:     encrypted(t, "refresh"),
			OAuthToken:       encrypted(t, "oauth"),
			OAuthTokenSecret: encrypted(t, "secret"),
			TokenExpiresAt:   exp,
			Active:           true,
		},
	}}
	svc := NewAccountService(testSecret, repo)

	acc, err := svc.GetAccountCredentials(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, platform.Twitter, acc.Platform)
	assert.Equal(t, platform.Credentials{
		AccountID:        "tw-1",
		AccessToken:      "access",
		RefreshToken:     "refresh",
		ExpiresAt:        exp,
		OAuthToken:       "oauth",
		OAuthTokenSecret: "secret",
	}, acc.Credentials)

	_, err = svc.GetAccountCredentials(context.Background(), 6)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestSaveRefreshedCredentialsEncrypts(t *testing.T) {
	repo := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		5: {ID: 5, AccessToken: encrypted(t, "old"), RefreshToken: encrypted(t, "old-refresh"), Active: true},
	}}
	svc := NewAccountService(testSecret, repo)
	exp := time.Now().Add(time.Hour).UTC()

	err := svc.SaveRefreshedCredentials(context.Background(), 5, platform.Credentials{AccessToken: "new", ExpiresAt: exp})
	require.NoError(t, err)

	acc, err := svc.GetAccountCredentials(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "new", acc.Credentials.AccessToken)
	assert.Equal(t, "old-refresh", acc.Credentials.RefreshToken)
	assert.Equal(t, exp, acc.Credentials.ExpiresAt)
	assert.NotEqual(t, "new", repo.accounts[5].AccessToken)
}

func TestIsAccountActive(t *testing.T) {
	repo := &fakeAccountRepo{accounts: map[int64]*models.SocialAccount{
		1: {ID: 1, Active: true},
		2: {ID: 2, Active: false},
	}}
	svc := NewAccountService(testSecret, repo)

	for id, want := range map[int64]bool{1: true, 2: false, 3: false} {
		got, err := svc.IsAccountActive(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "account %d", id)
	}
}

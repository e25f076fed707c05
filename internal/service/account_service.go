package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/maheshrc27/postflow/internal/platform"
	"github.com/maheshrc27/postflow/internal/repository"
	"github.com/maheshrc27/postflow/pkg/utils"
)

var ErrAccountNotFound = errors.New("social account not found")

// Account is a connected account with decrypted credentials.
type Account struct {
	ID          int64
	Platform    string
	Active      bool
	Credentials platform.Credentials
}

// AccountService is the credential store consumed by the dispatcher and the
// token refresh job. Tokens are encrypted at rest with the server secret.
type AccountService interface {
	IsAccountActive(ctx context.Context, accountID int64) (bool, error)
	GetAccountCredentials(ctx context.Context, accountID int64) (*Account, error)
	LoadCredentials(ctx context.Context, accountID int64) (platform.Credentials, error)
	SaveRefreshedCredentials(ctx context.Context, accountID int64, creds platform.Credentials) error
}

type accountService struct {
	secretKey []byte
	sa        repository.SocialAccountRepository
}

func NewAccountService(secretKey string, sa repository.SocialAccountRepository) AccountService {
	return &accountService{secretKey: []byte(secretKey), sa: sa}
}

func (s *accountService) IsAccountActive(ctx context.Context, accountID int64) (bool, error) {
	return s.sa.IsActive(ctx, accountID)
}

func (s *accountService) GetAccountCredentials(ctx context.Context, accountID int64) (*Account, error) {
	sa, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if sa == nil {
		return nil, ErrAccountNotFound
	}

	creds := platform.Credentials{AccountID: sa.AccountID, ExpiresAt: sa.TokenExpiresAt}
	fields := []struct {
		cipher string
		dst    *string
	}{
		{sa.AccessToken, &creds.AccessToken},
		{sa.RefreshToken, &creds.RefreshToken},
		{sa.OAuthToken, &creds.OAuthToken},
		{sa.OAuthTokenSecret, &creds.OAuthTokenSecret},
	}
	for _, f := range fields {
		if f.cipher == "" {
			continue
		}
		plain, err := utils.Decrypt(f.cipher, s.secretKey)
		if err != nil {
			return nil, fmt.Errorf("decrypt credentials of account %d: %w", accountID, err)
		}
		*f.dst = plain
	}

	return &Account{ID: sa.ID, Platform: sa.Platform, Active: sa.Active, Credentials: creds}, nil
}

func (s *accountService) LoadCredentials(ctx context.Context, accountID int64) (platform.Credentials, error) {
	acc, err := s.GetAccountCredentials(ctx, accountID)
	if err != nil {
		return platform.Credentials{}, err
	}
	return acc.Credentials, nil
}

// SaveRefreshedCredentials encrypts and stores a rotated token set. An empty
// refresh token keeps the stored one.
func (s *accountService) SaveRefreshedCredentials(ctx context.Context, accountID int64, creds platform.Credentials) error {
	current, err := s.sa.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	if current == nil {
		return ErrAccountNotFound
	}

	update := *current
	update.AccessToken, err = utils.Encrypt([]byte(creds.AccessToken), s.secretKey)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	update.RefreshToken = ""
	if creds.RefreshToken != "" {
		update.RefreshToken, err = utils.Encrypt([]byte(creds.RefreshToken), s.secretKey)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	update.TokenExpiresAt = creds.ExpiresAt
	if update.TokenExpiresAt.IsZero() {
		update.TokenExpiresAt = current.TokenExpiresAt
	}

	return s.sa.SetToken(ctx, accountID, current.AccessToken, &update)
}

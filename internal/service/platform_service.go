package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

// PlatformService manages the connected social accounts of a user.
type PlatformService interface {
	List(ctx context.Context, userID int64) ([]*models.SocialAccount, error)
	Disconnect(ctx context.Context, userID, accountID int64) error
}

type platformService struct {
	sa repository.SocialAccountRepository
}

func NewPlatformService(sa repository.SocialAccountRepository) PlatformService {
	return &platformService{
		sa: sa,
	}
}

func (s *platformService) List(ctx context.Context, userID int64) ([]*models.SocialAccount, error) {
	var err error

	if userID == 0 {
		err = errors.New("UserID is not valid")
		slog.Info(err.Error())
		return nil, err
	}

	accounts, err := s.sa.ListInfoByUserID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error getting social accounts: %w", err)
	}

	return accounts, nil
}

// Disconnect marks the account inactive. Its pending jobs fail on pickup
// without calling the platform; stored tokens are kept so a reconnect can
// reuse the row.
func (s *platformService) Disconnect(ctx context.Context, userID, accountID int64) error {
	if userID == 0 || accountID == 0 {
		return ErrAccountNotFound
	}

	isValid, err := s.sa.CheckByUserID(ctx, accountID, userID)
	if err != nil {
		return err
	}
	if !isValid {
		slog.Info("social account doesn't exist", "account_id", accountID, "user_id", userID)
		return ErrAccountNotFound
	}

	if err := s.sa.SetActive(ctx, accountID, false); err != nil {
		return fmt.Errorf("error disconnecting account: %w", err)
	}
	slog.Info("social account disconnected", "account_id", accountID)
	return nil
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
	"github.com/maheshrc27/postflow/internal/repository"
)

type StatusService interface {
	UpdateTargetStatus(ctx context.Context, targetID int64, status string, outcome models.TargetOutcome) error
}

type statusService struct {
	db *sql.DB
	pr repository.PostRepository
	tr repository.PostTargetRepository
}

func NewStatusService(db *sql.DB, pr repository.PostRepository, tr repository.PostTargetRepository) StatusService {
	return &statusService{db: db, pr: pr, tr: tr}
}

// UpdateTargetStatus writes the target row and recomputes the owning post's
// status in the same transaction. The post row lock serializes concurrent
// updates of sibling targets.
func (s *statusService) UpdateTargetStatus(ctx context.Context, targetID int64, status string, outcome models.TargetOutcome) (err error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	postID, err := s.tr.UpdateStatus(ctx, tx, targetID, status, outcome)
	if err != nil {
		return fmt.Errorf("update target %d: %w", targetID, err)
	}

	current, err := s.pr.LockForUpdate(ctx, tx, postID)
	if err != nil {
		return fmt.Errorf("lock post %d: %w", postID, err)
	}

	statuses, err := s.tr.ListStatuses(ctx, tx, postID)
	if err != nil {
		return fmt.Errorf("list targets of post %d: %w", postID, err)
	}

	next := RecomputePostStatus(statuses)
	if next != current {
		if err = s.pr.UpdatePostStatus(ctx, tx, next, postID); err != nil {
			return fmt.Errorf("update post %d: %w", postID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	if next != current {
		slog.Info("post status changed", "post_id", postID, "from", current, "to", next)
	}
	return nil
}

// RecomputePostStatus derives a post's status from its targets. A post whose
// targets are all still pending stays scheduled.
func RecomputePostStatus(statuses []string) string {
	var pending, active, published, failed int
	for _, s := range statuses {
		switch s {
		case models.TargetStatusPending:
			pending++
		case models.TargetStatusPublishing:
			active++
		case models.TargetStatusPublished:
			published++
		case models.TargetStatusFailed:
			failed++
		}
	}

	switch {
	case len(statuses) == 0 || pending == len(statuses):
		return models.PostStatusScheduled
	case pending > 0 || active > 0:
		return models.PostStatusPublishing
	case published > 0:
		return models.PostStatusPublished
	default:
		return models.PostStatusFailed
	}
}

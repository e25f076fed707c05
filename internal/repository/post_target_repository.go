package repository

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/maheshrc27/postflow/internal/models"
)

var ErrTargetNotFound = errors.New("post target not found")

type PostTargetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, t *models.PostTarget) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error)
	ListStatuses(ctx context.Context, tx *sql.Tx, postID int64) ([]string, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id int64, status string, outcome models.TargetOutcome) (int64, error)
	ListStalePending(ctx context.Context, dueBefore time.Time, limit int) ([]*models.PostTarget, error)
}

type postTargetRepository struct {
	db *sql.DB
}

func NewPostTargetRepository(db *sql.DB) PostTargetRepository {
	return &postTargetRepository{db: db}
}

const postTargetColumns = `
	t.id, t.post_id, t.social_account_id, a.platform, t.status,
	COALESCE(t.platform_post_id, ''), COALESCE(t.post_url, ''), t.published_at,
	COALESCE(t.error_message, ''), t.attempts, t.created_at, t.updated_at`

func scanPostTarget(row interface{ Scan(...any) error }) (*models.PostTarget, error) {
	var t models.PostTarget
	err := row.Scan(&t.ID, &t.PostID, &t.SocialAccountID, &t.Platform, &t.Status,
		&t.PlatformPostID, &t.PostURL, &t.PublishedAt,
		&t.ErrorMessage, &t.Attempts, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *postTargetRepository) Create(ctx context.Context, tx *sql.Tx, t *models.PostTarget) (int64, error) {
	query := `
		INSERT INTO post_targets (post_id, social_account_id, status)
		VALUES ($1, $2, $3)
		RETURNING id
	`

	var id int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, t.PostID, t.SocialAccountID, t.Status).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, t.PostID, t.SocialAccountID, t.Status).Scan(&id)
	}
	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}
	return id, nil
}

func (r *postTargetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.PostTarget, error) {
	query := `SELECT ` + postTargetColumns + `
		FROM post_targets t
		JOIN social_accounts a ON a.id = t.social_account_id
		WHERE t.post_id = $1
		ORDER BY t.id`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PostTarget
	for rows.Next() {
		t, err := scanPostTarget(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return targets, nil
}

func (r *postTargetRepository) ListStatuses(ctx context.Context, tx *sql.Tx, postID int64) ([]string, error) {
	query := `SELECT status FROM post_targets WHERE post_id = $1 ORDER BY id`

	var rows *sql.Rows
	var err error
	if tx != nil {
		rows, err = tx.QueryContext(ctx, query, postID)
	} else {
		rows, err = r.db.QueryContext(ctx, query, postID)
	}
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var statuses []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		statuses = append(statuses, s)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return statuses, nil
}

// UpdateStatus writes the new status and optional outcome fields and
// returns the owning post id. Moving to publishing counts an attempt.
func (r *postTargetRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id int64, status string, outcome models.TargetOutcome) (int64, error) {
	query := `
		UPDATE post_targets
		SET status = $2,
			platform_post_id = COALESCE(NULLIF($3, ''), platform_post_id),
			post_url = COALESCE(NULLIF($4, ''), post_url),
			published_at = COALESCE($5, published_at),
			error_message = NULLIF($6, ''),
			attempts = attempts + CASE WHEN $2 = 'publishing' THEN 1 ELSE 0 END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
		RETURNING post_id
	`
	args := []any{id, status, outcome.PlatformPostID, outcome.PostURL, outcome.PublishedAt, outcome.ErrorMessage}

	var postID int64
	var err error
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&postID)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&postID)
	}
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrTargetNotFound
		}
		slog.Info(err.Error())
		return 0, err
	}
	return postID, nil
}

// ListStalePending returns pending targets whose post was due before
// dueBefore and that have not been touched since.
func (r *postTargetRepository) ListStalePending(ctx context.Context, dueBefore time.Time, limit int) ([]*models.PostTarget, error) {
	query := `SELECT ` + postTargetColumns + `
		FROM post_targets t
		JOIN social_accounts a ON a.id = t.social_account_id
		JOIN posts p ON p.id = t.post_id
		WHERE t.status = 'pending'
			AND COALESCE(p.scheduled_time, p.created_at) < $1
			AND t.updated_at < $1
		ORDER BY t.id
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, dueBefore, limit)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var targets []*models.PostTarget
	for rows.Next() {
		t, err := scanPostTarget(rows)
		if err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return targets, nil
}

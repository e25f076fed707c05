package repository

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/maheshrc27/postflow/internal/models"
)

type MediaAssetRepository interface {
	Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error)
	ListByPostID(ctx context.Context, postID int64) ([]*models.MediaAsset, error)
}

type mediaAssetRepository struct {
	db *sql.DB
}

func NewMediaAssetRepository(db *sql.DB) MediaAssetRepository {
	return &mediaAssetRepository{db: db}
}

func (r *mediaAssetRepository) Create(ctx context.Context, tx *sql.Tx, ma *models.MediaAsset) (int64, error) {
	var id int64
	var err error

	query := `
		INSERT INTO media_assets (user_id, file_name, object_key, file_type, file_size, file_url)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	args := []any{ma.UserID, ma.FileName, ma.ObjectKey, ma.FileType, ma.FileSize, ma.FileURL}
	if tx != nil {
		err = tx.QueryRowContext(ctx, query, args...).Scan(&id)
	} else {
		err = r.db.QueryRowContext(ctx, query, args...).Scan(&id)
	}

	if err != nil {
		slog.Info(err.Error())
		return 0, err
	}

	return id, nil
}

// ListByPostID returns the assets attached to a post in display order.
func (r *mediaAssetRepository) ListByPostID(ctx context.Context, postID int64) ([]*models.MediaAsset, error) {
	query := `
		SELECT m.id, m.user_id, m.file_name, m.object_key, m.file_type, m.file_size, m.file_url, m.created_at
		FROM post_media pm
		JOIN media_assets m ON m.id = pm.asset_id
		WHERE pm.post_id = $1
		ORDER BY pm.display_order
	`

	rows, err := r.db.QueryContext(ctx, query, postID)
	if err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	defer rows.Close()

	var assets []*models.MediaAsset
	for rows.Next() {
		var ma models.MediaAsset
		if err := rows.Scan(&ma.ID, &ma.UserID, &ma.FileName, &ma.ObjectKey, &ma.FileType, &ma.FileSize, &ma.FileURL, &ma.CreatedAt); err != nil {
			slog.Info(err.Error())
			return nil, err
		}
		assets = append(assets, &ma)
	}
	if err := rows.Err(); err != nil {
		slog.Info(err.Error())
		return nil, err
	}
	return assets, nil
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
)

// MediaRepository persists [models.Media] idempotency rows.
type MediaRepository struct {
	db *sql.DB
}

// NewMediaRepository creates a new [MediaRepository] with the given database connection
func NewMediaRepository(db *sql.DB) *MediaRepository {
	return &MediaRepository{db: db}
}

// Find returns the media row for (album, image, integration), or nil when the image was never pushed there
func (r *MediaRepository) Find(ctx context.Context, albumID, imageID int64, integration string) (*models.Media, error) {
	var m models.Media
	err := r.db.QueryRowContext(ctx, `
		SELECT id, album_id, image_id, integration, external_id, created_at, updated_at
		FROM media WHERE album_id = ? AND image_id = ? AND integration = ?
	`, albumID, imageID, integration).Scan(&m.ID, &m.AlbumID, &m.ImageID, &m.Integration, &m.ExternalID, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	return &m, nil
}

// Create inserts a media row.
// A second row for the same album, image and integration fails with [shared.ErrDuplicateMedia].
func (r *MediaRepository) Create(ctx context.Context, m *models.Media) error {
	if m.ExternalID == "" {
		return fmt.Errorf("validation failed: media external id is required")
	}
	now := utc(time.Now())
	m.CreatedAt, m.UpdatedAt = now, now

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO media (album_id, image_id, integration, external_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.AlbumID, m.ImageID, m.Integration, m.ExternalID, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("%w: album %d image %d", shared.ErrDuplicateMedia, m.AlbumID, m.ImageID)
		}
		return fmt.Errorf("failed to insert media: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read media id: %w", err)
	}
	m.ID = id
	return nil
}

// UpdateExternalID repoints a media row at a replacement asset
func (r *MediaRepository) UpdateExternalID(ctx context.Context, id int64, externalID string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE media SET external_id = ?, updated_at = ? WHERE id = ?`, externalID, utc(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update media: %w", err)
	}
	return expectOne(result, fmt.Errorf("media not found: %d", id))
}

// ListByAlbum returns every media row of an album
func (r *MediaRepository) ListByAlbum(ctx context.Context, albumID int64) ([]*models.Media, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, album_id, image_id, integration, external_id, created_at, updated_at
		FROM media WHERE album_id = ? ORDER BY id ASC
	`, albumID)
	if err != nil {
		return nil, fmt.Errorf("failed to query media: %w", err)
	}
	defer rows.Close()

	var out []*models.Media
	for rows.Next() {
		var m models.Media
		if err := rows.Scan(&m.ID, &m.AlbumID, &m.ImageID, &m.Integration, &m.ExternalID, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media: %w", err)
		}
		out = append(out, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return out, nil
}

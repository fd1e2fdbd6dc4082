package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/darkroom/internal/models"
)

// SnapshotRepository persists append-only [models.Snapshot] rows.
// There is no update or delete: the newest snapshot is the effective edit.
type SnapshotRepository struct {
	db *sql.DB
}

// NewSnapshotRepository creates a new [SnapshotRepository] with the given database connection
func NewSnapshotRepository(db *sql.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Create appends a snapshot. A zero CreatedAt is set to now.
func (r *SnapshotRepository) Create(ctx context.Context, snap *models.Snapshot) error {
	if snap.ImageID == 0 {
		return fmt.Errorf("validation failed: snapshot image is required")
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	snap.CreatedAt = utc(snap.CreatedAt)

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO snapshots (image_id, pp3, created_at) VALUES (?, ?, ?)`,
		snap.ImageID, snap.PP3, snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read snapshot id: %w", err)
	}
	snap.ID = id
	return nil
}

// Latest returns the newest snapshot for an image, or nil when it has none
func (r *SnapshotRepository) Latest(ctx context.Context, imageID int64) (*models.Snapshot, error) {
	var snap models.Snapshot
	err := r.db.QueryRowContext(ctx, `
		SELECT id, image_id, pp3, created_at FROM snapshots
		WHERE image_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, imageID).Scan(&snap.ID, &snap.ImageID, &snap.PP3, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return &snap, nil
}

package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
)

const imageColumns = `id, session_id, sequence, filepath, working_path, preview_path, phash,
	stack_id, is_stack_base, rating, archived, white_balance, tint,
	recorded_at, width, height, camera, lens, iso, aperture, exposure_time, focal_length,
	last_exported_at, created_at, updated_at`

// ImageRepository persists [models.Image] rows.
type ImageRepository struct {
	db *sql.DB
}

// NewImageRepository creates a new [ImageRepository] with the given database connection
func NewImageRepository(db *sql.DB) *ImageRepository {
	return &ImageRepository{db: db}
}

// Create inserts a new image, assigning its ID and the next sequence number of its session
func (r *ImageRepository) Create(ctx context.Context, img *models.Image) error {
	if err := img.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	sequence, err := nextSequence(ctx, tx, img.SessionID)
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	now := utc(time.Now())
	img.RecordedAt = utc(img.RecordedAt)

	query := `
		INSERT INTO images (
			session_id, sequence, filepath, rating, archived,
			recorded_at, width, height, camera, lens, iso, aperture, exposure_time, focal_length,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		img.SessionID, sequence, img.Filepath, img.Rating, img.Archived,
		img.RecordedAt, img.Width, img.Height, img.Camera, img.Lens, img.ISO, img.Aperture, img.ExposureTime, img.FocalLength,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert image: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read image id: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit image: %w", err)
	}

	img.ID = id
	img.Sequence = sequence
	img.CreatedAt = now
	img.UpdatedAt = now
	return nil
}

// Get retrieves an image by ID
func (r *ImageRepository) Get(ctx context.Context, id int64) (*models.Image, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+imageColumns+` FROM images WHERE id = ?`, id)
	img, err := scanImage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrImageNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query image: %w", err)
	}
	return img, nil
}

// ListBySession returns a session's images in capture order
func (r *ImageRepository) ListBySession(ctx context.Context, sessionID int64) ([]*models.Image, error) {
	return r.list(ctx, `SELECT `+imageColumns+` FROM images WHERE session_id = ? ORDER BY recorded_at ASC, id ASC`, sessionID)
}

// ListStackCandidates returns hashed images of a session that are neither stacked nor a stack base
func (r *ImageRepository) ListStackCandidates(ctx context.Context, sessionID int64) ([]*models.Image, error) {
	query := `SELECT ` + imageColumns + ` FROM images
		WHERE session_id = ? AND phash IS NOT NULL AND phash != '' AND stack_id IS NULL AND is_stack_base = 0
		ORDER BY recorded_at ASC, id ASC`
	return r.list(ctx, query, sessionID)
}

// CountBySession returns how many images a session holds
func (r *ImageRepository) CountBySession(ctx context.Context, sessionID int64) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM images WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count images: %w", err)
	}
	return n, nil
}

// UpdateImportResult stores what the import pipeline derived.
// It is not an edit, so updated_at is left alone.
func (r *ImageRepository) UpdateImportResult(ctx context.Context, id int64, res models.ImportResult) error {
	query := `
		UPDATE images
		SET working_path = ?, preview_path = ?, phash = ?, white_balance = ?, tint = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		nullString(res.WorkingPath), nullString(res.PreviewPath), nullString(res.Phash),
		nullFloat(res.WhiteBalance), nullFloat(res.Tint), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update image: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %d", shared.ErrImageNotFound, id))
}

// SetStack marks baseID as a stack representative and points every member at it, atomically.
func (r *ImageRepository) SetStack(ctx context.Context, baseID int64, memberIDs []int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `UPDATE images SET is_stack_base = 1, stack_id = NULL WHERE id = ?`, baseID)
	if err != nil {
		return fmt.Errorf("failed to mark stack base: %w", err)
	}
	if err := expectOne(result, fmt.Errorf("%w: %d", shared.ErrImageNotFound, baseID)); err != nil {
		return err
	}

	for _, id := range memberIDs {
		if id == baseID {
			continue
		}
		result, err := tx.ExecContext(ctx, `UPDATE images SET stack_id = ?, is_stack_base = 0 WHERE id = ?`, baseID, id)
		if err != nil {
			return fmt.Errorf("failed to assign stack member %d: %w", id, err)
		}
		if err := expectOne(result, fmt.Errorf("%w: %d", shared.ErrImageNotFound, id)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stack: %w", err)
	}
	return nil
}

// MarkExported records the time an image was last rendered for export
func (r *ImageRepository) MarkExported(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE images SET last_exported_at = ? WHERE id = ?`, utc(at), id)
	if err != nil {
		return fmt.Errorf("failed to mark image exported: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %d", shared.ErrImageNotFound, id))
}

// Touch bumps updated_at, recording an edit made outside the pipelines
func (r *ImageRepository) Touch(ctx context.Context, id int64, at time.Time) error {
	result, err := r.db.ExecContext(ctx, `UPDATE images SET updated_at = ? WHERE id = ?`, utc(at), id)
	if err != nil {
		return fmt.Errorf("failed to touch image: %w", err)
	}
	return expectOne(result, fmt.Errorf("%w: %d", shared.ErrImageNotFound, id))
}

func (r *ImageRepository) list(ctx context.Context, query string, args ...any) ([]*models.Image, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query images: %w", err)
	}
	defer rows.Close()

	var images []*models.Image
	for rows.Next() {
		img, err := scanImage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan image: %w", err)
		}
		images = append(images, img)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return images, nil
}

func scanImage(s rowScanner) (*models.Image, error) {
	var (
		img          models.Image
		workingPath  sql.NullString
		previewPath  sql.NullString
		phash        sql.NullString
		stackID      sql.NullInt64
		whiteBalance sql.NullFloat64
		tint         sql.NullFloat64
		lastExported sql.NullTime
	)

	err := s.Scan(
		&img.ID, &img.SessionID, &img.Sequence, &img.Filepath, &workingPath, &previewPath, &phash,
		&stackID, &img.IsStackBase, &img.Rating, &img.Archived, &whiteBalance, &tint,
		&img.RecordedAt, &img.Width, &img.Height, &img.Camera, &img.Lens, &img.ISO, &img.Aperture, &img.ExposureTime, &img.FocalLength,
		&lastExported, &img.CreatedAt, &img.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	img.WorkingPath = workingPath.String
	img.PreviewPath = previewPath.String
	img.Phash = phash.String
	if stackID.Valid {
		id := stackID.Int64
		img.StackID = &id
	}
	if whiteBalance.Valid {
		v := whiteBalance.Float64
		img.WhiteBalance = &v
	}
	if tint.Valid {
		v := tint.Float64
		img.Tint = &v
	}
	if lastExported.Valid {
		t := lastExported.Time
		img.LastExportedAt = &t
	}
	return &img, nil
}

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

// AlbumRepository persists [models.Album] rows.
type AlbumRepository struct {
	db *sql.DB
}

// NewAlbumRepository creates a new [AlbumRepository] with the given database connection
func NewAlbumRepository(db *sql.DB) *AlbumRepository {
	return &AlbumRepository{db: db}
}

// Create inserts an album and sets its ID
func (r *AlbumRepository) Create(ctx context.Context, album *models.Album) error {
	if album.SessionID == 0 || album.Integration == "" || album.ExternalID == "" {
		return fmt.Errorf("validation failed: album needs a session, integration and external id")
	}
	album.CreatedAt = utc(time.Now())

	result, err := r.db.ExecContext(ctx,
		`INSERT INTO albums (session_id, integration, external_id, url, title, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		album.SessionID, album.Integration, album.ExternalID, album.URL, album.Title, album.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert album: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read album id: %w", err)
	}
	album.ID = id
	return nil
}

// Get retrieves an album by ID
func (r *AlbumRepository) Get(ctx context.Context, id int64) (*models.Album, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, session_id, integration, external_id, url, title, created_at FROM albums WHERE id = ?`, id)
	album, err := scanAlbum(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %d", shared.ErrAlbumNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query album: %w", err)
	}
	return album, nil
}

// ListBySession returns the albums configured for a session
func (r *AlbumRepository) ListBySession(ctx context.Context, sessionID int64) ([]*models.Album, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, session_id, integration, external_id, url, title, created_at
		FROM albums WHERE session_id = ? ORDER BY id ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query albums: %w", err)
	}
	defer rows.Close()

	var albums []*models.Album
	for rows.Next() {
		album, err := scanAlbum(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan album: %w", err)
		}
		albums = append(albums, album)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return albums, nil
}

func scanAlbum(s rowScanner) (*models.Album, error) {
	var a models.Album
	if err := s.Scan(&a.ID, &a.SessionID, &a.Integration, &a.ExternalID, &a.URL, &a.Title, &a.CreatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

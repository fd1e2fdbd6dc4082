package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/desertthunder/darkroom/internal/models"
)

// Store groups the repositories and exposes the method set used by the job executor.
type Store struct {
	Sessions      *SessionRepository
	Images        *ImageRepository
	Snapshots     *SnapshotRepository
	Albums        *AlbumRepository
	Media         *MediaRepository
	Notifications *NotificationRepository
}

// NewStore builds every repository over db.
func NewStore(db *sql.DB) *Store {
	return &Store{
		Sessions:      NewSessionRepository(db),
		Images:        NewImageRepository(db),
		Snapshots:     NewSnapshotRepository(db),
		Albums:        NewAlbumRepository(db),
		Media:         NewMediaRepository(db),
		Notifications: NewNotificationRepository(db),
	}
}

func (s *Store) GetSession(ctx context.Context, id int64) (*models.Session, error) {
	return s.Sessions.Get(ctx, id)
}

func (s *Store) ListImages(ctx context.Context, sessionID int64) ([]*models.Image, error) {
	return s.Images.ListBySession(ctx, sessionID)
}

func (s *Store) CountImages(ctx context.Context, sessionID int64) (int, error) {
	return s.Images.CountBySession(ctx, sessionID)
}

func (s *Store) CreateImage(ctx context.Context, img *models.Image) error {
	return s.Images.Create(ctx, img)
}

func (s *Store) UpdateImportResult(ctx context.Context, imageID int64, res models.ImportResult) error {
	return s.Images.UpdateImportResult(ctx, imageID, res)
}

func (s *Store) ListStackCandidates(ctx context.Context, sessionID int64) ([]*models.Image, error) {
	return s.Images.ListStackCandidates(ctx, sessionID)
}

func (s *Store) SetStack(ctx context.Context, baseID int64, memberIDs []int64) error {
	return s.Images.SetStack(ctx, baseID, memberIDs)
}

func (s *Store) LatestSnapshot(ctx context.Context, imageID int64) (*models.Snapshot, error) {
	return s.Snapshots.Latest(ctx, imageID)
}

func (s *Store) MarkExported(ctx context.Context, imageID int64, at time.Time) error {
	return s.Images.MarkExported(ctx, imageID, at)
}

func (s *Store) ListAlbums(ctx context.Context, sessionID int64) ([]*models.Album, error) {
	return s.Albums.ListBySession(ctx, sessionID)
}

func (s *Store) FindMedia(ctx context.Context, albumID, imageID int64, integration string) (*models.Media, error) {
	return s.Media.Find(ctx, albumID, imageID, integration)
}

func (s *Store) CreateMedia(ctx context.Context, m *models.Media) error {
	return s.Media.Create(ctx, m)
}

func (s *Store) UpdateMediaExternalID(ctx context.Context, mediaID int64, externalID string) error {
	return s.Media.UpdateExternalID(ctx, mediaID, externalID)
}

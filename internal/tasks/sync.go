package tasks

import (
	"context"
	"fmt"

	"github.com/desertthunder/darkroom/internal/metrics"
	"github.com/desertthunder/darkroom/internal/models"
)

// syncAlbum pushes one rendered image to one album. A recorded Media row means the
// image was synced before, so the remote copy is replaced instead of duplicated.
// Errors are logged and reported in the result, never returned.
func (e *Executor) syncAlbum(ctx context.Context, album *models.Album, img *models.Image, data []byte, filename string) models.AlbumSyncResult {
	result := models.AlbumSyncResult{AlbumID: album.ID, Integration: album.Integration}
	logger := e.logger.With("album", album.ID, "integration", album.Integration, "image", img.ID)

	integration, ok := e.integrations.Get(album.Integration)
	if !ok || !integration.IsConfigured() {
		logger.Warn("integration not configured, skipping album")
		result.Action = models.SyncSkipped
		metrics.AlbumSyncs.WithLabelValues(album.Integration, "skip", "ok").Inc()
		return result
	}

	fail := func(action string, err error) models.AlbumSyncResult {
		logger.Error("album sync failed", "action", action, "error", err)
		metrics.AlbumSyncs.WithLabelValues(album.Integration, action, "error").Inc()
		result.Action = models.SyncFailed
		result.Error = err.Error()
		return result
	}

	media, err := e.store.FindMedia(ctx, album.ID, img.ID, album.Integration)
	if err != nil {
		return fail("lookup", err)
	}

	if media != nil {
		asset, err := integration.ReplaceInAlbum(ctx, album, media.ExternalID, data, filename, img)
		if err != nil {
			return fail("replace", err)
		}
		if err := e.store.UpdateMediaExternalID(ctx, media.ID, asset.ID); err != nil {
			return fail("replace", fmt.Errorf("replaced remotely as %s: %w", asset.ID, err))
		}
		logger.Info("replaced in album", "old", media.ExternalID, "new", asset.ID)
		metrics.AlbumSyncs.WithLabelValues(album.Integration, "replace", "ok").Inc()
		result.Action, result.ExternalID = models.SyncReplaced, asset.ID
		return result
	}

	asset, err := integration.UploadFile(ctx, data, filename, img)
	if err != nil {
		return fail("create", err)
	}
	// The row goes in before the remote add so a failed add is retried as a replace next time.
	if err := e.store.CreateMedia(ctx, &models.Media{
		AlbumID:     album.ID,
		ImageID:     img.ID,
		Integration: album.Integration,
		ExternalID:  asset.ID,
	}); err != nil {
		return fail("create", err)
	}
	if err := integration.AddToAlbum(ctx, album, []string{asset.ID}); err != nil {
		return fail("create", err)
	}

	logger.Info("added to album", "asset", asset.ID)
	metrics.AlbumSyncs.WithLabelValues(album.Integration, "create", "ok").Inc()
	result.Action, result.ExternalID = models.SyncCreated, asset.ID
	return result
}

package tasks

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/desertthunder/darkroom/internal/editor"
	"github.com/desertthunder/darkroom/internal/formatter"
	"github.com/desertthunder/darkroom/internal/metrics"
	"github.com/desertthunder/darkroom/internal/models"
)

// SequenceWidth is the zero-padded width of sequence numbers in a session of n images.
func SequenceWidth(n int) int {
	return max(2, int(math.Ceil(math.Log10(float64(n+1)))))
}

// SessionDir is EXPORT_DIR/YYYY/YYYY-MM-DD_<name>, dated by the session start.
func SessionDir(root string, session *models.Session) string {
	d := session.StartedAt
	return filepath.Join(root, d.Format("2006"), d.Format("2006-01-02")+"_"+session.Name)
}

// OutputPath is where an image with sequence seq is rendered, in a session of total images.
func OutputPath(root string, session *models.Session, seq, total int) string {
	name := fmt.Sprintf("%0*d_%s.jpg", SequenceWidth(total), seq, session.Name)
	return filepath.Join(SessionDir(root, session), name)
}

type pendingExport struct {
	image    *models.Image
	snapshot *models.Snapshot
}

// RunExport renders every image edited since its last export, then pushes each render
// to the session's albums. Album failures are recorded but never fail the job.
func (e *Executor) RunExport(ctx context.Context, sessionID int64) error {
	if err := cancelled(ctx); err != nil {
		return err
	}
	session, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	pending, err := e.pendingExports(ctx, sessionID)
	if err != nil {
		return err
	}
	total, err := e.store.CountImages(ctx, sessionID)
	if err != nil {
		return err
	}
	albums, err := e.store.ListAlbums(ctx, sessionID)
	if err != nil {
		return err
	}

	manifest := &models.ExportManifest{
		SessionID:   session.ID,
		SessionName: session.Name,
		Directory:   SessionDir(e.storage.ExportDir, session),
	}

	e.logger.Info("starting export", "session", sessionID, "images", len(pending), "albums", len(albums))
	for i, p := range pending {
		if err := cancelled(ctx); err != nil {
			return err
		}

		entry, err := e.exportImage(context.WithoutCancel(ctx), session, p, total, albums)
		if err != nil {
			return fmt.Errorf("export %s: %w", filepath.Base(p.image.Filepath), err)
		}
		manifest.Entries = append(manifest.Entries, *entry)
		metrics.ImagesProcessed.WithLabelValues(string(KindExport)).Inc()
		e.sendProgress(exportUpdate(i+1, len(pending), entry))
	}

	if e.manifest && len(manifest.Entries) > 0 {
		manifest.GeneratedAt = e.now()
		result, err := formatter.WriteExportManifest(manifest, manifest.Directory, false)
		if err != nil {
			return err
		}
		e.sendProgress(manifestUpdate(result.JSONFile, len(manifest.Entries)))
	}

	e.logger.Info("finished export", "session", sessionID, "exported", len(manifest.Entries))
	return nil
}

// pendingExports selects images whose last export predates their last edit, in capture order.
func (e *Executor) pendingExports(ctx context.Context, sessionID int64) ([]pendingExport, error) {
	images, err := e.store.ListImages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var pending []pendingExport
	for _, img := range images {
		if img.Archived {
			continue
		}
		snap, err := e.store.LatestSnapshot(ctx, img.ID)
		if err != nil {
			return nil, err
		}
		if img.NeedsExport(lastEditOf(img, snap)) {
			pending = append(pending, pendingExport{image: img, snapshot: snap})
		}
	}
	return pending, nil
}

// ExportProfile layers the export defaults over the image's latest edit.
// A Custom white balance that still equals the import values is reset to Camera.
func ExportProfile(img *models.Image, snap *models.Snapshot) *editor.Profile {
	profile := editor.NewProfile()
	if snap != nil {
		profile = editor.ParseProfile(snap.PP3)
	}
	profile.Merge(editor.ExportProfile())
	editor.NormalizeWhiteBalance(profile, img.WhiteBalance, img.Tint)
	return profile
}

func (e *Executor) exportImage(ctx context.Context, session *models.Session, p pendingExport, total int, albums []*models.Album) (*models.ManifestEntry, error) {
	img := p.image
	out := OutputPath(e.storage.ExportDir, session, img.Sequence, total)
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	recorded := img.RecordedAt
	profile := ExportProfile(img, p.snapshot)
	if _, err := e.processor.Render(ctx, img.Filepath, profile.String(), editor.RenderOptions{
		OutputPath: out,
		Quality:    e.quality,
		RecordedAt: &recorded,
	}); err != nil {
		return nil, err
	}

	exportedAt := e.now()
	if err := e.store.MarkExported(ctx, img.ID, exportedAt); err != nil {
		return nil, err
	}
	img.LastExportedAt = &exportedAt

	entry := &models.ManifestEntry{ImageID: img.ID, Sequence: img.Sequence, Source: img.Filepath, Output: out}
	if len(albums) == 0 {
		return entry, nil
	}

	data, err := os.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered file: %w", err)
	}
	for _, album := range albums {
		entry.Albums = append(entry.Albums, e.syncAlbum(ctx, album, img, data, filepath.Base(out)))
	}
	return entry, nil
}

// lastEditOf is the later of the image's own update and its newest snapshot.
func lastEditOf(img *models.Image, snap *models.Snapshot) time.Time {
	if snap != nil && snap.CreatedAt.After(img.UpdatedAt) {
		return snap.CreatedAt
	}
	return img.UpdatedAt
}

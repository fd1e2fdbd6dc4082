package tasks

import (
	"cmp"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/darkroom/internal/editor"
	"github.com/desertthunder/darkroom/internal/metrics"
	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/phash"
	"github.com/desertthunder/darkroom/internal/services"
	"github.com/desertthunder/darkroom/internal/shared"
)

// DefaultExportDir is used when storage.export_dir is unset.
const DefaultExportDir = "/exports"

// Store is the persistence surface the pipelines need.
// [repositories.Store] implements it over SQLite.
type Store interface {
	GetSession(ctx context.Context, id int64) (*models.Session, error)
	ListImages(ctx context.Context, sessionID int64) ([]*models.Image, error)
	CountImages(ctx context.Context, sessionID int64) (int, error)
	CreateImage(ctx context.Context, img *models.Image) error
	UpdateImportResult(ctx context.Context, imageID int64, res models.ImportResult) error
	ListStackCandidates(ctx context.Context, sessionID int64) ([]*models.Image, error)
	SetStack(ctx context.Context, baseID int64, memberIDs []int64) error
	LatestSnapshot(ctx context.Context, imageID int64) (*models.Snapshot, error)
	MarkExported(ctx context.Context, imageID int64, at time.Time) error
	ListAlbums(ctx context.Context, sessionID int64) ([]*models.Album, error)
	FindMedia(ctx context.Context, albumID, imageID int64, integration string) (*models.Media, error)
	CreateMedia(ctx context.Context, m *models.Media) error
	UpdateMediaExternalID(ctx context.Context, mediaID int64, externalID string) error
}

// Processor renders raw files. [editor.RawTherapee] implements it.
type Processor interface {
	WorkingCopy(ctx context.Context, source, outDir string) (*editor.WorkingCopy, error)
	Render(ctx context.Context, source, profile string, opts editor.RenderOptions) (string, error)
}

// MetadataReader reads capture metadata and embedded previews. [editor.ExifTool] implements it.
type MetadataReader interface {
	ReadMetadata(ctx context.Context, path string) (*editor.Metadata, error)
	ExtractPreview(ctx context.Context, path, dest string) error
}

// HashFunc computes the perceptual hash of a decoded preview.
type HashFunc func(path string, bits int) (string, error)

// ExecutorOpts wires an [Executor].
type ExecutorOpts struct {
	Store        Store
	Processor    Processor
	Metadata     MetadataReader
	Integrations services.Registry
	Storage      shared.StorageConfig
	Jobs         shared.JobsConfig
	Quality      int
	Logger       *log.Logger
	Progress     chan<- ProgressUpdate // optional, never blocks
	Hash         HashFunc              // defaults to [phash.HashFile]
	Now          func() time.Time
}

// Executor runs the import and export pipelines for one session at a time.
// It is safe to run pipelines for different sessions concurrently.
type Executor struct {
	store        Store
	processor    Processor
	metadata     MetadataReader
	integrations services.Registry
	storage      shared.StorageConfig
	threshold    int
	hashBits     int
	manifest     bool
	quality      int
	logger       *log.Logger
	progress     chan<- ProgressUpdate
	hash         HashFunc
	now          func() time.Time
}

// NewExecutor fills in defaults for unset options.
func NewExecutor(opts ExecutorOpts) *Executor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	integrations := opts.Integrations
	if integrations == nil {
		integrations = services.NewRegistry()
	}
	hash := opts.Hash
	if hash == nil {
		hash = phash.HashFile
	}
	storage := opts.Storage
	storage.ExportDir = cmp.Or(storage.ExportDir, DefaultExportDir)
	storage.PreviewDir = cmp.Or(storage.PreviewDir, os.TempDir())

	return &Executor{
		store:        opts.Store,
		processor:    opts.Processor,
		metadata:     opts.Metadata,
		integrations: integrations,
		storage:      storage,
		threshold:    cmp.Or(opts.Jobs.StackThreshold, StackThreshold),
		hashBits:     cmp.Or(opts.Jobs.HashBits, phash.DefaultBits),
		manifest:     opts.Jobs.WriteManifest,
		quality:      cmp.Or(opts.Quality, editor.DefaultQuality),
		logger:       logger.WithPrefix("executor"),
		progress:     opts.Progress,
		hash:         hash,
		now:          func() time.Time { return now().UTC() },
	}
}

// sendProgress delivers an update without ever blocking the pipeline.
func (e *Executor) sendProgress(update ProgressUpdate) {
	if e.progress == nil {
		return
	}
	select {
	case e.progress <- update:
	default:
	}
}

// cancelled wraps the context error so callers can match either [ErrCancelled] or [context.Canceled].
func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// Admit reads capture metadata for each path and adds it to the session.
// Files without a capture time fall back to their modification time.
func (e *Executor) Admit(ctx context.Context, sessionID int64, paths []string) ([]*models.Image, error) {
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	admitted := make([]*models.Image, 0, len(paths))
	for i, p := range paths {
		if err := cancelled(ctx); err != nil {
			return admitted, err
		}

		abs, err := filepath.Abs(p)
		if err != nil {
			return admitted, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return admitted, fmt.Errorf("failed to stat %s: %w", p, err)
		}

		meta, err := e.metadata.ReadMetadata(ctx, abs)
		if err != nil {
			return admitted, fmt.Errorf("admit %s: %w", filepath.Base(abs), err)
		}
		capture := meta.Capture()
		if capture.RecordedAt.IsZero() {
			capture.RecordedAt = info.ModTime().UTC()
		}

		img := &models.Image{SessionID: sessionID, Filepath: abs, Capture: capture}
		if err := e.store.CreateImage(ctx, img); err != nil {
			return admitted, fmt.Errorf("admit %s: %w", filepath.Base(abs), err)
		}
		admitted = append(admitted, img)
		e.sendProgress(admitUpdate(i+1, len(paths), img))
	}

	e.logger.Info("admitted images", "session", sessionID, "count", len(admitted))
	return admitted, nil
}

// RunImport renders a working copy of every image that lacks one, hashes its preview
// and stacks it with earlier near-duplicates. Images are visited in capture order.
func (e *Executor) RunImport(ctx context.Context, sessionID int64) error {
	if err := cancelled(ctx); err != nil {
		return err
	}
	if _, err := e.store.GetSession(ctx, sessionID); err != nil {
		return err
	}
	images, err := e.store.ListImages(ctx, sessionID)
	if err != nil {
		return err
	}

	e.logger.Info("starting import", "session", sessionID, "images", len(images))
	for i, img := range images {
		if e.hasWorkingCopy(img) {
			e.logger.Debug("working copy exists, skipping", "image", img.ID)
			e.sendProgress(importUpdate(i+1, len(images), img, true))
			continue
		}
		if err := cancelled(ctx); err != nil {
			return err
		}

		// Started work is allowed to finish so no half-written working copy is left behind.
		if err := e.importImage(context.WithoutCancel(ctx), img); err != nil {
			return fmt.Errorf("import %s: %w", filepath.Base(img.Filepath), err)
		}
		metrics.ImagesProcessed.WithLabelValues(string(KindImport)).Inc()
		e.sendProgress(importUpdate(i+1, len(images), img, false))
	}

	e.logger.Info("finished import", "session", sessionID)
	return nil
}

func (e *Executor) workingDir(img *models.Image) string {
	if e.storage.WorkingDir != "" {
		return e.storage.WorkingDir
	}
	return filepath.Dir(img.Filepath)
}

func (e *Executor) hasWorkingCopy(img *models.Image) bool {
	path := cmp.Or(img.WorkingPath, editor.WorkingPath(e.workingDir(img), img.Filepath))
	_, err := os.Stat(path)
	return err == nil
}

func (e *Executor) importImage(ctx context.Context, img *models.Image) error {
	wc, err := e.processor.WorkingCopy(ctx, img.Filepath, e.workingDir(img))
	if err != nil {
		return err
	}

	if err := os.MkdirAll(e.storage.PreviewDir, 0o755); err != nil {
		return fmt.Errorf("failed to create preview directory: %w", err)
	}
	preview := filepath.Join(e.storage.PreviewDir, fmt.Sprintf("%d_preview.jpg", img.ID))
	if err := e.metadata.ExtractPreview(ctx, img.Filepath, preview); err != nil {
		return err
	}

	hash, err := e.hash(preview, e.hashBits)
	if err != nil {
		return err
	}

	res := models.ImportResult{
		WorkingPath:  wc.Path,
		PreviewPath:  preview,
		Phash:        hash,
		WhiteBalance: wc.Temperature,
		Tint:         wc.Tint,
	}
	if err := e.store.UpdateImportResult(ctx, img.ID, res); err != nil {
		return err
	}
	img.WorkingPath, img.PreviewPath, img.Phash = res.WorkingPath, res.PreviewPath, res.Phash
	img.WhiteBalance, img.Tint = res.WhiteBalance, res.Tint

	stack, err := e.stackSimilar(ctx, img)
	if err != nil {
		return fmt.Errorf("failed to stack: %w", err)
	}
	if stack != nil {
		e.logger.Info("stacked similar images", "base", stack.BaseID, "members", len(stack.MemberIDs))
		e.sendProgress(stackUpdate(stack))
	}
	return nil
}

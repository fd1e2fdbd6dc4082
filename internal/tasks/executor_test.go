package tasks

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/darkroom/internal/editor"
	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/repositories"
	"github.com/desertthunder/darkroom/internal/shared"
	th "github.com/desertthunder/darkroom/internal/testing"
)

type renderCall struct {
	source  string
	profile string
	output  string
	quality int
}

type fakeProcessor struct {
	mu            sync.Mutex
	workingCopies int
	renders       []renderCall
	workingErr    error
	renderErr     error
	onRender      func(n int)
}

func (p *fakeProcessor) WorkingCopy(ctx context.Context, source, outDir string) (*editor.WorkingCopy, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.workingCopies++
	if p.workingErr != nil {
		return nil, p.workingErr
	}

	path := editor.WorkingPath(outDir, source)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte("tiff"), 0o644); err != nil {
		return nil, err
	}
	temp, tint := 5200.0, 1.02
	return &editor.WorkingCopy{Path: path, Profile: editor.NewProfile(), Temperature: &temp, Tint: &tint}, nil
}

func (p *fakeProcessor) Render(ctx context.Context, source, profile string, opts editor.RenderOptions) (string, error) {
	p.mu.Lock()
	p.renders = append(p.renders, renderCall{source: source, profile: profile, output: opts.OutputPath, quality: opts.Quality})
	n := len(p.renders)
	err := p.renderErr
	hook := p.onRender
	p.mu.Unlock()

	if err != nil {
		return "", err
	}
	if err := os.WriteFile(opts.OutputPath, []byte("jpeg "+source), 0o644); err != nil {
		return "", err
	}
	if hook != nil {
		hook(n)
	}
	return opts.OutputPath, nil
}

func (p *fakeProcessor) renderCalls() []renderCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]renderCall(nil), p.renders...)
}

type fakeMetadata struct {
	dates map[string]time.Time
}

func (m *fakeMetadata) ReadMetadata(ctx context.Context, path string) (*editor.Metadata, error) {
	return &editor.Metadata{
		DateTimeOriginal: m.dates[path],
		Width:            6000,
		Height:           4000,
		Make:             "SONY",
		Model:            "ILCE-7M3",
	}, nil
}

// ExtractPreview writes the source path as the preview so the fake hash can look it up.
func (m *fakeMetadata) ExtractPreview(ctx context.Context, path, dest string) error {
	return os.WriteFile(dest, []byte(path), 0o644)
}

type harness struct {
	store   *repositories.Store
	proc    *fakeProcessor
	meta    *fakeMetadata
	hashes  map[string]string
	exec    *Executor
	session *models.Session
	dir     string
}

// newHarness wires an executor over an in-memory database and fake tools.
// configure may adjust the options before the executor is built.
func newHarness(t *testing.T, configure func(*ExecutorOpts)) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{
		store:  repositories.NewStore(th.NewTestDB(t)),
		proc:   &fakeProcessor{},
		meta:   &fakeMetadata{dates: make(map[string]time.Time)},
		hashes: make(map[string]string),
		dir:    dir,
	}

	h.session = &models.Session{Name: "Lisbon", StartedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	if err := h.store.Sessions.Create(context.Background(), h.session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	opts := ExecutorOpts{
		Store:     h.store,
		Processor: h.proc,
		Metadata:  h.meta,
		Storage: shared.StorageConfig{
			ExportDir:  filepath.Join(dir, "exports"),
			WorkingDir: filepath.Join(dir, "working"),
			PreviewDir: filepath.Join(dir, "previews"),
		},
		Logger: log.New(io.Discard),
		Hash: func(path string, bits int) (string, error) {
			source, err := os.ReadFile(path)
			if err != nil {
				return "", err
			}
			return h.hashes[string(source)], nil
		},
	}
	if configure != nil {
		configure(&opts)
	}
	h.exec = NewExecutor(opts)
	return h
}

// addImage writes a placeholder raw file and admits it into the session.
func (h *harness) addImage(t *testing.T, name string, recorded time.Time, hash string) *models.Image {
	t.Helper()

	rawDir := filepath.Join(h.dir, "raw")
	if err := os.MkdirAll(rawDir, 0o755); err != nil {
		t.Fatalf("failed to create raw dir: %v", err)
	}
	path := filepath.Join(rawDir, name)
	th.MustWriteFile(t, path, []byte("raw"))
	h.meta.dates[path] = recorded
	h.hashes[path] = hash

	admitted, err := h.exec.Admit(context.Background(), h.session.ID, []string{path})
	if err != nil {
		t.Fatalf("failed to admit %s: %v", name, err)
	}
	return admitted[0]
}

func (h *harness) image(t *testing.T, id int64) *models.Image {
	t.Helper()
	img, err := h.store.Images.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to load image %d: %v", id, err)
	}
	return img
}

func TestAdmit(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Assigns Sequence And Capture", func(t *testing.T) {
		h := newHarness(t, nil)
		first := h.addImage(t, "DSC0001.ARW", t0, "")
		second := h.addImage(t, "DSC0002.ARW", t0.Add(time.Second), "")

		if first.Sequence != 1 || second.Sequence != 2 {
			t.Errorf("expected sequences 1 and 2, got %d and %d", first.Sequence, second.Sequence)
		}
		stored := h.image(t, first.ID)
		if !stored.RecordedAt.Equal(t0) {
			t.Errorf("expected recorded at %v, got %v", t0, stored.RecordedAt)
		}
		if stored.Camera != "SONY ILCE-7M3" || stored.Width != 6000 {
			t.Errorf("expected capture metadata, got %+v", stored.Capture)
		}
		if !filepath.IsAbs(stored.Filepath) {
			t.Errorf("expected absolute path, got %s", stored.Filepath)
		}
	})

	t.Run("Falls Back To Modification Time", func(t *testing.T) {
		h := newHarness(t, nil)
		img := h.addImage(t, "DSC0001.ARW", time.Time{}, "")

		if img.RecordedAt.IsZero() {
			t.Error("expected modification time to be used")
		}
	})

	t.Run("Unknown Session", func(t *testing.T) {
		h := newHarness(t, nil)
		if _, err := h.exec.Admit(ctx, 999, []string{"x"}); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("Missing File", func(t *testing.T) {
		h := newHarness(t, nil)
		if _, err := h.exec.Admit(ctx, h.session.ID, []string{filepath.Join(h.dir, "absent.ARW")}); err == nil {
			t.Error("expected error for missing file")
		}
	})
}

func TestRunImport(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	t.Run("Renders Hashes And Stacks", func(t *testing.T) {
		h := newHarness(t, nil)
		a := h.addImage(t, "DSC0001.ARW", t0, hashWithBits(0))
		b := h.addImage(t, "DSC0002.ARW", t0.Add(time.Second), hashWithBits(StackThreshold))
		c := h.addImage(t, "DSC0003.ARW", t0.Add(2*time.Second), hashWithBits(200))

		if err := h.exec.RunImport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		gotA, gotB, gotC := h.image(t, a.ID), h.image(t, b.ID), h.image(t, c.ID)
		if !gotA.IsStackBase {
			t.Error("expected first capture to be the stack base")
		}
		if gotB.StackID == nil || *gotB.StackID != a.ID {
			t.Errorf("expected second capture stacked under %d, got %v", a.ID, gotB.StackID)
		}
		if gotC.Stacked() {
			t.Error("expected distant capture to stay unstacked")
		}

		if gotA.Phash != hashWithBits(0) {
			t.Errorf("expected stored hash, got %q", gotA.Phash)
		}
		if gotA.WorkingPath != filepath.Join(h.dir, "working", "DSC0001.tif") {
			t.Errorf("unexpected working path %s", gotA.WorkingPath)
		}
		if gotA.PreviewPath == "" {
			t.Error("expected preview path")
		}
		if gotA.WhiteBalance == nil || *gotA.WhiteBalance != 5200 || gotA.Tint == nil || *gotA.Tint != 1.02 {
			t.Errorf("expected white balance 5200/1.02, got %v/%v", gotA.WhiteBalance, gotA.Tint)
		}
	})

	t.Run("Stacked Images Are Not Candidates", func(t *testing.T) {
		h := newHarness(t, nil)
		a := h.addImage(t, "DSC0001.ARW", t0, hashWithBits(0))
		h.addImage(t, "DSC0002.ARW", t0.Add(time.Second), hashWithBits(StackThreshold))
		c := h.addImage(t, "DSC0003.ARW", t0.Add(2*time.Second), hashWithBits(StackThreshold+1))

		if err := h.exec.RunImport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		// c is one bit from b, but b joined a's stack before c was hashed
		if h.image(t, c.ID).Stacked() {
			t.Error("expected third capture to stay unstacked")
		}
		if !h.image(t, a.ID).IsStackBase {
			t.Error("expected first capture to remain the base")
		}
	})

	t.Run("Skips Images With Working Copy", func(t *testing.T) {
		h := newHarness(t, nil)
		h.addImage(t, "DSC0001.ARW", t0, hashWithBits(0))
		h.addImage(t, "DSC0002.ARW", t0.Add(time.Second), hashWithBits(100))

		if err := h.exec.RunImport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := h.exec.RunImport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error on rerun, got %v", err)
		}
		if h.proc.workingCopies != 2 {
			t.Errorf("expected 2 working copies across both runs, got %d", h.proc.workingCopies)
		}
	})

	t.Run("Cancelled Before First Image", func(t *testing.T) {
		h := newHarness(t, nil)
		h.addImage(t, "DSC0001.ARW", t0, hashWithBits(0))

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := h.exec.RunImport(cctx, h.session.ID)
		if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
			t.Errorf("expected ErrCancelled wrapping context.Canceled, got %v", err)
		}
	})

	t.Run("Tool Failure Aborts", func(t *testing.T) {
		h := newHarness(t, nil)
		h.addImage(t, "DSC0001.ARW", t0, hashWithBits(0))
		h.addImage(t, "DSC0002.ARW", t0.Add(time.Second), hashWithBits(0))
		h.proc.workingErr = editor.ErrToolFailed

		err := h.exec.RunImport(ctx, h.session.ID)
		if !errors.Is(err, editor.ErrToolFailed) {
			t.Errorf("expected ErrToolFailed, got %v", err)
		}
		if h.proc.workingCopies != 1 {
			t.Errorf("expected to stop after the first failure, got %d attempts", h.proc.workingCopies)
		}
	})

	t.Run("Progress Updates", func(t *testing.T) {
		progress := make(chan ProgressUpdate, 10)
		h := newHarness(t, func(o *ExecutorOpts) { o.Progress = progress })
		h.addImage(t, "DSC0001.ARW", t0, hashWithBits(0))
		h.addImage(t, "DSC0002.ARW", t0.Add(time.Second), hashWithBits(1))

		for len(progress) > 0 {
			<-progress
		}
		if err := h.exec.RunImport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		close(progress)

		phases := map[Phase]int{}
		for u := range progress {
			phases[u.Phase]++
		}
		if phases[ImportImage] != 2 || phases[StackImages] != 1 {
			t.Errorf("expected 2 import and 1 stack updates, got %v", phases)
		}
	})

	t.Run("Unknown Session", func(t *testing.T) {
		h := newHarness(t, nil)
		if err := h.exec.RunImport(ctx, 999); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})
}

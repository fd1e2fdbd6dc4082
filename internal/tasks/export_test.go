package tasks

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/desertthunder/darkroom/internal/editor"
	"github.com/desertthunder/darkroom/internal/formatter"
	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/services"
	th "github.com/desertthunder/darkroom/internal/testing"
)

func TestOutputPath(t *testing.T) {
	session := &models.Session{Name: "Lisbon", StartedAt: time.Date(2025, 6, 1, 23, 30, 0, 0, time.UTC)}

	t.Run("SequenceWidth", func(t *testing.T) {
		tests := []struct {
			n    int
			want int
		}{
			{0, 2},
			{1, 2},
			{9, 2},
			{99, 2},
			{100, 3},
			{999, 3},
			{1000, 4},
		}
		for _, tt := range tests {
			if got := SequenceWidth(tt.n); got != tt.want {
				t.Errorf("SequenceWidth(%d): expected %d, got %d", tt.n, tt.want, got)
			}
		}
	})

	t.Run("Layout", func(t *testing.T) {
		tests := []struct {
			seq, total int
			want       string
		}{
			{3, 12, "/exports/2025/2025-06-01_Lisbon/03_Lisbon.jpg"},
			{7, 150, "/exports/2025/2025-06-01_Lisbon/007_Lisbon.jpg"},
			{1234, 1500, "/exports/2025/2025-06-01_Lisbon/1234_Lisbon.jpg"},
		}
		for _, tt := range tests {
			if got := OutputPath("/exports", session, tt.seq, tt.total); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		}
	})
}

func TestExportProfile(t *testing.T) {
	temp, tint := 5200.0, 1.02
	img := &models.Image{WhiteBalance: &temp, Tint: &tint}

	t.Run("Defaults Without Snapshot", func(t *testing.T) {
		p := ExportProfile(img, nil)
		if v, _ := p.Get("Sharpening", "Enabled"); v != "true" {
			t.Errorf("expected export sharpening, got %q", v)
		}
	})

	t.Run("Defaults Win Over Edit", func(t *testing.T) {
		snap := &models.Snapshot{PP3: "[Sharpening]\nEnabled=false\n\n[Exposure]\nCompensation=0.7\n"}
		p := ExportProfile(img, snap)
		if v, _ := p.Get("Sharpening", "Enabled"); v != "true" {
			t.Errorf("expected export defaults to override, got %q", v)
		}
		if v, _ := p.Get("Exposure", "Compensation"); v != "0.7" {
			t.Errorf("expected edit to survive, got %q", v)
		}
	})

	t.Run("Untouched White Balance Reset To Camera", func(t *testing.T) {
		snap := &models.Snapshot{PP3: "[White Balance]\nSetting=Custom\nTemperature=5200\nGreen=1.02\n"}
		if v, _ := ExportProfile(img, snap).Get("White Balance", "Setting"); v != "Camera" {
			t.Errorf("expected Camera, got %q", v)
		}
	})

	t.Run("Edited White Balance Kept", func(t *testing.T) {
		snap := &models.Snapshot{PP3: "[White Balance]\nSetting=Custom\nTemperature=6100\nGreen=1.02\n"}
		if v, _ := ExportProfile(img, snap).Get("White Balance", "Setting"); v != "Custom" {
			t.Errorf("expected Custom, got %q", v)
		}
	})
}

// exportHarness adds two images and one album per integration.
func exportHarness(t *testing.T, configure func(*ExecutorOpts), integrations ...*th.MockIntegration) (*harness, []*models.Image, []*models.Album) {
	t.Helper()

	registry := services.Registry{}
	for _, i := range integrations {
		registry[i.Name()] = i
	}
	h := newHarness(t, func(o *ExecutorOpts) {
		o.Integrations = registry
		if configure != nil {
			configure(o)
		}
	})

	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	images := []*models.Image{
		h.addImage(t, "DSC0001.ARW", t0, ""),
		h.addImage(t, "DSC0002.ARW", t0.Add(time.Minute), ""),
	}

	var albums []*models.Album
	for _, i := range integrations {
		remote, err := i.CreateAlbum(context.Background(), h.session.Name)
		if err != nil {
			t.Fatalf("failed to create remote album: %v", err)
		}
		album := &models.Album{SessionID: h.session.ID, Integration: i.Name(), ExternalID: remote.ID, Title: h.session.Name}
		if err := h.store.Albums.Create(context.Background(), album); err != nil {
			t.Fatalf("failed to create album: %v", err)
		}
		albums = append(albums, album)
	}
	return h, images, albums
}

func TestRunExport(t *testing.T) {
	ctx := context.Background()

	t.Run("Renders And Creates Media", func(t *testing.T) {
		google := th.NewMockIntegration("google")
		h, images, albums := exportHarness(t, nil, google)

		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		renders := h.proc.renderCalls()
		if len(renders) != 2 {
			t.Fatalf("expected 2 renders, got %d", len(renders))
		}
		want := filepath.Join(h.dir, "exports", "2025", "2025-06-01_Lisbon", "01_Lisbon.jpg")
		if renders[0].output != want {
			t.Errorf("expected %s, got %s", want, renders[0].output)
		}
		if renders[0].source != images[0].Filepath {
			t.Errorf("expected raw source, got %s", renders[0].source)
		}
		if renders[0].quality != editor.DefaultQuality {
			t.Errorf("expected quality %d, got %d", editor.DefaultQuality, renders[0].quality)
		}
		th.AssertFileExists(t, want)

		for _, img := range images {
			if h.image(t, img.ID).LastExportedAt == nil {
				t.Errorf("expected image %d to be marked exported", img.ID)
			}
			media, err := h.store.FindMedia(ctx, albums[0].ID, img.ID, "google")
			if err != nil || media == nil {
				t.Fatalf("expected media row for image %d, got %v", img.ID, err)
			}
			if !slices.Contains(google.Album(albums[0].ExternalID), media.ExternalID) {
				t.Errorf("expected %s in remote album", media.ExternalID)
			}
		}
		if calls := google.Calls(); slices.Contains(calls, "ReplaceInAlbum") {
			t.Errorf("expected only creates on first export, got %v", calls)
		}
	})

	t.Run("Skips Unchanged Images", func(t *testing.T) {
		h, _, _ := exportHarness(t, nil)

		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if n := len(h.proc.renderCalls()); n != 2 {
			t.Errorf("expected second run to render nothing, got %d renders", n)
		}
	})

	t.Run("Replaces After New Edit", func(t *testing.T) {
		google := th.NewMockIntegration("google")
		h, images, albums := exportHarness(t, nil, google)

		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		before, _ := h.store.FindMedia(ctx, albums[0].ID, images[1].ID, "google")

		snap := &models.Snapshot{ImageID: images[1].ID, PP3: "[Exposure]\nCompensation=0.3\n", CreatedAt: time.Now().Add(time.Minute)}
		if err := h.store.Snapshots.Create(ctx, snap); err != nil {
			t.Fatalf("failed to create snapshot: %v", err)
		}

		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		renders := h.proc.renderCalls()
		if len(renders) != 3 {
			t.Fatalf("expected one more render, got %d total", len(renders))
		}
		if !strings.Contains(renders[2].profile, "Compensation=0.3") {
			t.Errorf("expected snapshot edits in profile, got:\n%s", renders[2].profile)
		}

		after, _ := h.store.FindMedia(ctx, albums[0].ID, images[1].ID, "google")
		if after.ID != before.ID || after.ExternalID == before.ExternalID {
			t.Errorf("expected same media row with new external id, got %+v then %+v", before, after)
		}
		held := google.Album(albums[0].ExternalID)
		if slices.Contains(held, before.ExternalID) || !slices.Contains(held, after.ExternalID) {
			t.Errorf("expected album to swap %s for %s, got %v", before.ExternalID, after.ExternalID, held)
		}
	})

	t.Run("Re-exports After Touch", func(t *testing.T) {
		h, images, _ := exportHarness(t, nil)

		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := h.store.Images.Touch(ctx, images[0].ID, time.Now().Add(time.Hour)); err != nil {
			t.Fatalf("failed to touch image: %v", err)
		}
		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		renders := h.proc.renderCalls()
		if len(renders) != 3 {
			t.Fatalf("expected only the touched image to render again, got %d renders", len(renders))
		}
		if renders[2].source != images[0].Filepath {
			t.Errorf("expected %s re-rendered, got %s", images[0].Filepath, renders[2].source)
		}
	})

	t.Run("Cancelled Before Start", func(t *testing.T) {
		h, images, _ := exportHarness(t, nil)
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := h.exec.RunExport(cctx, h.session.ID)
		if !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
			t.Fatalf("expected ErrCancelled wrapping context.Canceled, got %v", err)
		}
		if n := len(h.proc.renderCalls()); n != 0 {
			t.Errorf("expected no renders, got %d", n)
		}
		if h.image(t, images[0].ID).LastExportedAt != nil {
			t.Error("expected nothing marked exported")
		}
	})

	t.Run("Unconfigured Integration Skipped", func(t *testing.T) {
		immich := th.NewMockIntegration("immich")
		immich.Configured = false
		h, images, albums := exportHarness(t, nil, immich)

		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if media, _ := h.store.FindMedia(ctx, albums[0].ID, images[0].ID, "immich"); media != nil {
			t.Error("expected no media row for skipped integration")
		}
		if calls := immich.Calls(); len(calls) != 1 {
			t.Errorf("expected only the setup CreateAlbum call, got %v", calls)
		}
	})

	t.Run("Sync Failure Does Not Fail Export", func(t *testing.T) {
		google := th.NewMockIntegration("google")
		google.UploadErr = errors.New("quota exceeded")
		immich := th.NewMockIntegration("immich")
		h, images, albums := exportHarness(t, func(o *ExecutorOpts) { o.Jobs.WriteManifest = true }, google, immich)

		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if media, _ := h.store.FindMedia(ctx, albums[0].ID, images[0].ID, "google"); media != nil {
			t.Error("expected no google media row after failed upload")
		}
		if media, _ := h.store.FindMedia(ctx, albums[1].ID, images[0].ID, "immich"); media == nil {
			t.Error("expected immich sync to proceed")
		}

		m, err := formatter.ReadExportManifest(filepath.Join(SessionDir(filepath.Join(h.dir, "exports"), h.session), formatter.ManifestFile))
		if err != nil {
			t.Fatalf("expected manifest, got %v", err)
		}
		counts := m.SyncCounts()
		if counts[models.SyncFailed] != 2 || counts[models.SyncCreated] != 2 {
			t.Errorf("expected 2 failed and 2 created, got %v", counts)
		}
		if !strings.Contains(m.Entries[0].Albums[0].Error, "quota exceeded") {
			t.Errorf("expected failure reason in manifest, got %+v", m.Entries[0].Albums[0])
		}
	})

	t.Run("No Manifest By Default", func(t *testing.T) {
		h, _, _ := exportHarness(t, nil)
		if err := h.exec.RunExport(ctx, h.session.ID); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		path := filepath.Join(SessionDir(filepath.Join(h.dir, "exports"), h.session), formatter.ManifestFile)
		if _, err := formatter.ReadExportManifest(path); err == nil {
			t.Error("expected no manifest")
		}
	})

	t.Run("Cancel Finishes Current Image", func(t *testing.T) {
		google := th.NewMockIntegration("google")
		cctx, cancel := context.WithCancel(ctx)
		defer cancel()

		h, images, albums := exportHarness(t, nil, google)
		h.proc.onRender = func(int) { cancel() }

		err := h.exec.RunExport(cctx, h.session.ID)
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
		if n := len(h.proc.renderCalls()); n != 1 {
			t.Errorf("expected 1 render before stopping, got %d", n)
		}
		if h.image(t, images[0].ID).LastExportedAt == nil {
			t.Error("expected in-flight image to be marked exported")
		}
		if media, _ := h.store.FindMedia(ctx, albums[0].ID, images[0].ID, "google"); media == nil {
			t.Error("expected in-flight image to finish syncing")
		}
		if h.image(t, images[1].ID).LastExportedAt != nil {
			t.Error("expected second image to be left for the next run")
		}
	})

	t.Run("Render Failure Aborts", func(t *testing.T) {
		h, _, _ := exportHarness(t, nil)
		h.proc.renderErr = editor.ErrToolFailed

		if err := h.exec.RunExport(ctx, h.session.ID); !errors.Is(err, editor.ErrToolFailed) {
			t.Errorf("expected ErrToolFailed, got %v", err)
		}
	})
}

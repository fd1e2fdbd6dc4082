package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	// every pooled connection to :memory: would otherwise see its own empty database
	shared.ConfigureDatabase(db, 1, 1)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

func seedSession(t *testing.T, store *Store, name string) *models.Session {
	t.Helper()
	session := &models.Session{Name: name, StartedAt: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}
	if err := store.Sessions.Create(context.Background(), session); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	return session
}

func seedImage(t *testing.T, store *Store, sessionID int64, recordedAt time.Time) *models.Image {
	t.Helper()
	img := &models.Image{
		SessionID: sessionID,
		Filepath:  fmt.Sprintf("/raw/IMG_%d.ARW", recordedAt.Unix()),
		Capture:   models.Capture{RecordedAt: recordedAt, Width: 6000, Height: 4000, Camera: "ILCE-7M3"},
	}
	if err := store.Images.Create(context.Background(), img); err != nil {
		t.Fatalf("failed to create image: %v", err)
	}
	return img
}

func TestSessionRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create and Get", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		session := seedSession(t, store, "beach")

		if session.ID == 0 {
			t.Fatal("session ID should be set after creation")
		}

		got, err := store.GetSession(ctx, session.ID)
		if err != nil {
			t.Fatalf("failed to get session: %v", err)
		}
		if got.Name != "beach" || !got.StartedAt.Equal(session.StartedAt) {
			t.Errorf("unexpected session: %+v", got)
		}
	})

	t.Run("ValidationError", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		err := store.Sessions.Create(ctx, &models.Session{Name: "a/b", StartedAt: time.Now()})
		if err == nil {
			t.Fatal("expected validation error for name with a path separator")
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		if _, err := store.GetSession(ctx, 42); !errors.Is(err, shared.ErrSessionNotFound) {
			t.Errorf("expected ErrSessionNotFound, got %v", err)
		}
	})

	t.Run("Archive hides from List", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		a := seedSession(t, store, "a")
		seedSession(t, store, "b")

		if err := store.Sessions.Archive(ctx, a.ID); err != nil {
			t.Fatalf("failed to archive: %v", err)
		}

		active, err := store.Sessions.List(ctx, false)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(active) != 1 || active[0].Name != "b" {
			t.Errorf("expected only session b, got %d sessions", len(active))
		}

		all, _ := store.Sessions.List(ctx, true)
		if len(all) != 2 {
			t.Errorf("expected 2 sessions including archived, got %d", len(all))
		}
	})
}

func TestImageRepository(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Create assigns per-session sequence", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		s1 := seedSession(t, store, "one")
		s2 := seedSession(t, store, "two")

		a := seedImage(t, store, s1.ID, base)
		b := seedImage(t, store, s1.ID, base.Add(time.Second))
		c := seedImage(t, store, s2.ID, base)

		if a.Sequence != 1 || b.Sequence != 2 || c.Sequence != 1 {
			t.Errorf("unexpected sequences: %d %d %d", a.Sequence, b.Sequence, c.Sequence)
		}

		n, err := store.CountImages(ctx, s1.ID)
		if err != nil || n != 2 {
			t.Errorf("CountImages() = %d, %v; want 2", n, err)
		}
	})

	t.Run("ListBySession orders by capture time", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		s := seedSession(t, store, "order")

		late := seedImage(t, store, s.ID, base.Add(2*time.Second))
		early := seedImage(t, store, s.ID, base.Add(500*time.Millisecond))
		mid := seedImage(t, store, s.ID, base.Add(time.Second))

		images, err := store.ListImages(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to list images: %v", err)
		}
		want := []int64{early.ID, mid.ID, late.ID}
		for i, img := range images {
			if img.ID != want[i] {
				t.Errorf("position %d: got image %d, want %d", i, img.ID, want[i])
			}
		}
	})

	t.Run("UpdateImportResult and candidates", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		s := seedSession(t, store, "hash")
		a := seedImage(t, store, s.ID, base)
		b := seedImage(t, store, s.ID, base.Add(time.Second))
		seedImage(t, store, s.ID, base.Add(2*time.Second))

		wb, tint := 5200.0, 1.02
		for _, img := range []*models.Image{a, b} {
			res := models.ImportResult{WorkingPath: "/w.tif", PreviewPath: "/p.jpg", Phash: "ff00", WhiteBalance: &wb, Tint: &tint}
			if err := store.UpdateImportResult(ctx, img.ID, res); err != nil {
				t.Fatalf("failed to update import result: %v", err)
			}
		}

		got, err := store.Images.Get(ctx, a.ID)
		if err != nil {
			t.Fatalf("failed to get image: %v", err)
		}
		if got.Phash != "ff00" || got.WhiteBalance == nil || *got.WhiteBalance != wb {
			t.Errorf("import result not stored: %+v", got)
		}
		if !got.UpdatedAt.Equal(a.UpdatedAt) {
			t.Error("import result must not count as an edit")
		}

		candidates, err := store.ListStackCandidates(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to list candidates: %v", err)
		}
		if len(candidates) != 2 {
			t.Fatalf("expected 2 hashed candidates, got %d", len(candidates))
		}

		if err := store.SetStack(ctx, a.ID, []int64{b.ID}); err != nil {
			t.Fatalf("failed to set stack: %v", err)
		}

		candidates, _ = store.ListStackCandidates(ctx, s.ID)
		if len(candidates) != 0 {
			t.Errorf("stacked images should not be candidates, got %d", len(candidates))
		}

		member, _ := store.Images.Get(ctx, b.ID)
		if member.StackID == nil || *member.StackID != a.ID {
			t.Errorf("member should point at base %d, got %v", a.ID, member.StackID)
		}
		baseImg, _ := store.Images.Get(ctx, a.ID)
		if !baseImg.IsStackBase || baseImg.StackID != nil {
			t.Errorf("base flags wrong: %+v", baseImg)
		}
	})

	t.Run("SetStack rolls back on missing member", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		s := seedSession(t, store, "tx")
		a := seedImage(t, store, s.ID, base)

		if err := store.SetStack(ctx, a.ID, []int64{999}); !errors.Is(err, shared.ErrImageNotFound) {
			t.Fatalf("expected ErrImageNotFound, got %v", err)
		}

		got, _ := store.Images.Get(ctx, a.ID)
		if got.IsStackBase {
			t.Error("base flag should have been rolled back")
		}
	})

	t.Run("MarkExported", func(t *testing.T) {
		store := NewStore(setupTestDB(t))
		s := seedSession(t, store, "export")
		a := seedImage(t, store, s.ID, base)

		if !a.NeedsExport(a.UpdatedAt) {
			t.Error("never exported image should need export")
		}

		at := a.UpdatedAt.Add(time.Minute)
		if err := store.MarkExported(ctx, a.ID, at); err != nil {
			t.Fatalf("failed to mark exported: %v", err)
		}

		got, _ := store.Images.Get(ctx, a.ID)
		if got.LastExportedAt == nil || !got.LastExportedAt.Equal(at.UTC()) {
			t.Fatalf("last export not stored: %v", got.LastExportedAt)
		}
		if got.NeedsExport(got.UpdatedAt) {
			t.Error("image exported after its last edit should not need export")
		}
		if !got.NeedsExport(at.Add(time.Second)) {
			t.Error("image edited after export should need export")
		}
	})
}

func TestSnapshotRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	s := seedSession(t, store, "snap")
	img := seedImage(t, store, s.ID, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	t.Run("Latest without snapshots", func(t *testing.T) {
		snap, err := store.LatestSnapshot(ctx, img.ID)
		if err != nil || snap != nil {
			t.Errorf("LatestSnapshot() = %v, %v; want nil, nil", snap, err)
		}
	})

	t.Run("Latest returns newest", func(t *testing.T) {
		t0 := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
		for i, body := range []string{"[Exposure]\nCompensation=0", "[Exposure]\nCompensation=1"} {
			snap := &models.Snapshot{ImageID: img.ID, PP3: body, CreatedAt: t0.Add(time.Duration(i) * time.Minute)}
			if err := store.Snapshots.Create(ctx, snap); err != nil {
				t.Fatalf("failed to create snapshot: %v", err)
			}
		}

		snap, err := store.LatestSnapshot(ctx, img.ID)
		if err != nil {
			t.Fatalf("failed to get latest snapshot: %v", err)
		}
		if snap.PP3 != "[Exposure]\nCompensation=1" {
			t.Errorf("expected newest snapshot, got %q", snap.PP3)
		}
	})
}

func TestMediaRepository(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestDB(t))
	s := seedSession(t, store, "media")
	img := seedImage(t, store, s.ID, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC))

	album := &models.Album{SessionID: s.ID, Integration: "google", ExternalID: "alb-1", Title: "media"}
	if err := store.Albums.Create(ctx, album); err != nil {
		t.Fatalf("failed to create album: %v", err)
	}

	t.Run("Find missing", func(t *testing.T) {
		m, err := store.FindMedia(ctx, album.ID, img.ID, "google")
		if err != nil || m != nil {
			t.Errorf("FindMedia() = %v, %v; want nil, nil", m, err)
		}
	})

	t.Run("Create, duplicate and update", func(t *testing.T) {
		m := &models.Media{AlbumID: album.ID, ImageID: img.ID, Integration: "google", ExternalID: "asset-1"}
		if err := store.CreateMedia(ctx, m); err != nil {
			t.Fatalf("failed to create media: %v", err)
		}

		dup := &models.Media{AlbumID: album.ID, ImageID: img.ID, Integration: "google", ExternalID: "asset-2"}
		if err := store.CreateMedia(ctx, dup); !errors.Is(err, shared.ErrDuplicateMedia) {
			t.Errorf("expected ErrDuplicateMedia, got %v", err)
		}

		if err := store.UpdateMediaExternalID(ctx, m.ID, "asset-3"); err != nil {
			t.Fatalf("failed to update media: %v", err)
		}

		got, err := store.FindMedia(ctx, album.ID, img.ID, "google")
		if err != nil || got == nil || got.ExternalID != "asset-3" {
			t.Errorf("FindMedia() = %+v, %v; want asset-3", got, err)
		}

		albums, _ := store.ListAlbums(ctx, s.ID)
		if len(albums) != 1 || albums[0].ExternalID != "alb-1" {
			t.Errorf("unexpected albums: %+v", albums)
		}
	})
}

func TestNotificationRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("newest first and capped", func(t *testing.T) {
		repo := NewNotificationRepository(setupTestDB(t))
		clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
		repo.now = func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		}

		for i := range NotificationLimit + 5 {
			if err := repo.Notify(ctx, fmt.Sprintf("message %d", i), models.NotificationInfo); err != nil {
				t.Fatalf("failed to notify: %v", err)
			}
		}

		list, err := repo.List(ctx)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(list) != NotificationLimit {
			t.Fatalf("expected %d notifications, got %d", NotificationLimit, len(list))
		}
		if list[0].Message != fmt.Sprintf("message %d", NotificationLimit+4) {
			t.Errorf("expected newest first, got %q", list[0].Message)
		}
		if list[len(list)-1].Message != "message 5" {
			t.Errorf("expected oldest retained to be message 5, got %q", list[len(list)-1].Message)
		}
	})

	t.Run("MarkAllRead and Clear", func(t *testing.T) {
		repo := NewNotificationRepository(setupTestDB(t))
		_ = repo.Notify(ctx, "done", models.NotificationSuccess)
		_ = repo.Notify(ctx, "broke", models.NotificationError)

		if err := repo.MarkAllRead(ctx); err != nil {
			t.Fatalf("failed to mark read: %v", err)
		}
		list, _ := repo.List(ctx)
		for _, n := range list {
			if !n.Read {
				t.Errorf("notification %q should be read", n.Message)
			}
		}

		if err := repo.Clear(ctx); err != nil {
			t.Fatalf("failed to clear: %v", err)
		}
		list, _ = repo.List(ctx)
		if len(list) != 0 {
			t.Errorf("expected no notifications after clear, got %d", len(list))
		}
	})
}

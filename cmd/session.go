package main

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/darkroom/internal/models"
	"github.com/desertthunder/darkroom/internal/shared"
)

// SessionCreate creates a session named by the positional arguments.
func (r *Runner) SessionCreate(ctx context.Context, cmd *cli.Command) error {
	name := strings.TrimSpace(strings.Join(cmd.Args().Slice(), " "))
	if name == "" {
		return fmt.Errorf("%w: session name", shared.ErrMissingArgument)
	}

	startedAt := time.Now()
	if s := cmd.String("started"); s != "" {
		t, err := time.ParseInLocation("2006-01-02", s, time.Local)
		if err != nil {
			return fmt.Errorf("%w: --started must be YYYY-MM-DD: %v", shared.ErrInvalidArgument, err)
		}
		startedAt = t
	}

	store, err := r.openStore()
	if err != nil {
		return err
	}

	session := &models.Session{Name: name, StartedAt: startedAt}
	if err := store.Sessions.Create(ctx, session); err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(session, true)
	}
	return r.writePlain("✓ Created session #%d %s\n", session.ID, session.Name)
}

// SessionList prints sessions, newest first.
func (r *Runner) SessionList(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore()
	if err != nil {
		return err
	}

	sessions, err := store.Sessions.List(ctx, cmd.Bool("all"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if sessions == nil {
			sessions = []*models.Session{}
		}
		return r.writeJSON(sessions, true)
	}

	if len(sessions) == 0 {
		return r.writePlain("No sessions\n")
	}

	for _, s := range sessions {
		count, err := store.Images.CountBySession(ctx, s.ID)
		if err != nil {
			return err
		}
		var archived string
		if s.Archived {
			archived = " (archived)"
		}
		r.writePlain("%4d  %s  %-30s %4d images%s\n", s.ID, s.StartedAt.Local().Format("2006-01-02"), shared.Truncate(s.Name, 30), count, archived)
	}
	return nil
}

// SessionAdd admits raw files into a session, reading their capture metadata.
func (r *Runner) SessionAdd(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	paths := cmd.Args().Slice()[1:]
	if len(paths) == 0 {
		return fmt.Errorf("%w: at least one raw file", shared.ErrMissingArgument)
	}

	exec, err := r.newExecutor(nil)
	if err != nil {
		return err
	}

	images, err := exec.Admit(ctx, id, paths)
	for _, img := range images {
		r.writePlain("✓ #%d %s\n", img.Sequence, filepath.Base(img.Filepath))
	}
	if err != nil {
		return err
	}
	return r.writePlainln("Added %d images to session %d. Run 'darkroom import %d' next.", len(images), id, id)
}

// SessionArchive hides a session from the default listing and from exports.
func (r *Runner) SessionArchive(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	store, err := r.openStore()
	if err != nil {
		return err
	}
	if err := store.Sessions.Archive(ctx, id); err != nil {
		return err
	}
	return r.writePlain("✓ Archived session %d\n", id)
}

// AlbumCreate creates a remote album and records it against the session.
func (r *Runner) AlbumCreate(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	store, err := r.openStore()
	if err != nil {
		return err
	}
	session, err := store.Sessions.Get(ctx, id)
	if err != nil {
		return err
	}

	registry, err := r.registry()
	if err != nil {
		return err
	}
	name := cmd.String("integration")
	integration, ok := registry.Get(name)
	if !ok {
		return fmt.Errorf("%w: %q (known: %s)", shared.ErrUnknownIntegration, name, strings.Join(registry.Names(), ", "))
	}
	if !integration.IsConfigured() {
		return fmt.Errorf("%w: %s is not configured", shared.ErrNotAuthenticated, name)
	}

	title := cmp.Or(cmd.String("title"), session.Name)
	remote, err := integration.CreateAlbum(ctx, title)
	if err != nil {
		return fmt.Errorf("failed to create %s album: %w", name, err)
	}

	album := &models.Album{
		SessionID:   session.ID,
		Integration: name,
		ExternalID:  remote.ID,
		URL:         remote.URL,
		Title:       title,
	}
	if err := store.Albums.Create(ctx, album); err != nil {
		return err
	}

	r.writePlain("✓ Created %s album %q for session %d\n", name, title, session.ID)
	return r.writePlain("Link: %s\n", integration.LinkToAlbum(album))
}

// AlbumList prints the albums attached to a session.
func (r *Runner) AlbumList(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	store, err := r.openStore()
	if err != nil {
		return err
	}
	albums, err := store.Albums.ListBySession(ctx, id)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if albums == nil {
			albums = []*models.Album{}
		}
		return r.writeJSON(albums, true)
	}
	if len(albums) == 0 {
		return r.writePlain("No albums for session %d\n", id)
	}
	for _, a := range albums {
		r.writePlain("%4d  %-7s %-30s %s\n", a.ID, a.Integration, shared.Truncate(a.Title, 30), a.ExternalID)
	}
	return nil
}

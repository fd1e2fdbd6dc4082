package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/darkroom/internal/formatter"
	"github.com/desertthunder/darkroom/internal/models"
)

// NotificationsList prints the notification log, unread entries marked with '*'.
func (r *Runner) NotificationsList(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore()
	if err != nil {
		return err
	}
	notifications, err := store.Notifications.List(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		if notifications == nil {
			notifications = []models.Notification{}
		}
		return r.writeJSON(notifications, true)
	}
	_, err = r.output.Write(formatter.NotificationsToText(notifications))
	return err
}

func (r *Runner) NotificationsRead(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore()
	if err != nil {
		return err
	}
	if err := store.Notifications.MarkAllRead(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Marked all notifications read\n")
}

func (r *Runner) NotificationsClear(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore()
	if err != nil {
		return err
	}
	if err := store.Notifications.Clear(ctx); err != nil {
		return err
	}
	return r.writePlain("✓ Cleared notifications\n")
}

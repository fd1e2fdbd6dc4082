package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/darkroom/internal/shared"
	"github.com/desertthunder/darkroom/internal/tasks"
	"github.com/desertthunder/darkroom/internal/ui"
)

// TUI launches the job monitor with its own in-process manager.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger("./tmp/darkroom-tui.log")
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	fileLogger.SetLevel(r.logger.GetLevel())
	r.SetLogger(fileLogger)

	store, err := r.openStore()
	if err != nil {
		return err
	}
	progress := make(chan tasks.ProgressUpdate, 64)
	exec, err := r.newExecutor(progress)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	manager := tasks.NewManager(ctx, exec, store.Notifications, r.logger)

	model := ui.NewModel(ctx, ui.ModelOpts{
		Sessions:      store.Sessions,
		Jobs:          manager,
		Notifications: store.Notifications,
		Progress:      progress,
	})
	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()

	cancel()
	manager.Wait()
	close(progress)

	if err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}
	return nil
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/darkroom/internal/server"
	"github.com/desertthunder/darkroom/internal/tasks"
)

// Serve runs the job manager behind the HTTP API until SIGINT or SIGTERM.
// Running jobs are cancelled on shutdown and waited for.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := r.openStore()
	if err != nil {
		return err
	}
	exec, err := r.newExecutor(nil)
	if err != nil {
		return err
	}
	google, err := r.google()
	if err != nil {
		return err
	}

	jobsCtx, cancelJobs := context.WithCancel(ctx)
	manager := tasks.NewManager(jobsCtx, exec, store.Notifications, r.logger)

	api := server.NewAPI(server.APIOpts{
		Jobs:          manager,
		Notifications: store.Notifications,
		Google:        google,
		Logger:        r.logger,
	})
	srv := server.New(r.config.Server.Addr(), server.NewRouter(api), r.logger)

	err = srv.Run(ctx)

	cancelJobs()
	if running := manager.Summary().Running; running > 0 {
		r.logger.Info("waiting for running jobs to stop", "count", running)
	}
	manager.Wait()
	return err
}

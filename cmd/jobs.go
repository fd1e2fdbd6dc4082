package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/darkroom/internal/tasks"
)

// Import submits an import job, or runs it here with --wait.
func (r *Runner) Import(ctx context.Context, cmd *cli.Command) error {
	return r.runJob(ctx, cmd, tasks.KindImport)
}

// Export submits an export job, or runs it here with --wait.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	return r.runJob(ctx, cmd, tasks.KindExport)
}

func (r *Runner) runJob(ctx context.Context, cmd *cli.Command, kind tasks.JobKind) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	if cmd.Bool("wait") {
		return r.runLocal(ctx, kind, id)
	}

	state, err := r.api().Submit(ctx, kind, id)
	if err != nil {
		return err
	}
	r.writePlain("→ %s submitted for session %d (%s)\n", kind, id, state.Status)
	return r.writePlain("Follow it with 'darkroom jobs status %d'\n", id)
}

// runLocal runs one job through an in-process manager and prints its progress until it ends.
// Interrupting cancels the job after the image in flight.
func (r *Runner) runLocal(ctx context.Context, kind tasks.JobKind, sessionID int64) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	store, err := r.openStore()
	if err != nil {
		return err
	}
	session, err := store.Sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}

	progress := make(chan tasks.ProgressUpdate, 64)
	exec, err := r.newExecutor(progress)
	if err != nil {
		return err
	}

	manager := tasks.NewManager(ctx, exec, store.Notifications, r.logger)
	r.writePlainHeader(fmt.Sprintf("%s: %s (#%d)", kind, session.Name, session.ID))

	job := manager.Submit(kind, tasks.JobPayload{SessionID: sessionID})
	r.streamProgress(progress, job.Done())
	manager.Wait()

	state := manager.State(sessionID, kind)
	switch state.Status {
	case tasks.StatusSuccess:
		return r.writePlainln("✓ %s finished for session %d", kind, sessionID)
	case tasks.StatusCancelled:
		return fmt.Errorf("%w: %s of session %d", tasks.ErrCancelled, kind, sessionID)
	default:
		return fmt.Errorf("%s failed for session %d: %s", kind, sessionID, state.Message)
	}
}

// streamProgress prints updates until done is closed, then drains what is buffered.
func (r *Runner) streamProgress(progress <-chan tasks.ProgressUpdate, done <-chan struct{}) {
	for {
		select {
		case u := <-progress:
			r.writePlain("%s\n", u.Message)
		case <-done:
			for {
				select {
				case u := <-progress:
					r.writePlain("%s\n", u.Message)
				default:
					return
				}
			}
		}
	}
}

// JobsStatus prints the server's job summary, or both job states of one session.
func (r *Runner) JobsStatus(ctx context.Context, cmd *cli.Command) error {
	client := r.api()

	if cmd.Args().Len() == 0 {
		summary, err := client.Summary(ctx)
		if err != nil {
			return err
		}
		if cmd.Bool("json") {
			return r.writeJSON(summary, true)
		}
		if !summary.Active {
			return r.writePlain("No running jobs\n")
		}
		return r.writePlain("%d running job(s) across sessions %v\n", summary.Running, summary.Sessions)
	}

	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}

	states := make([]tasks.JobState, 0, 2)
	for _, kind := range []tasks.JobKind{tasks.KindImport, tasks.KindExport} {
		state, err := client.State(ctx, kind, id)
		if err != nil {
			return err
		}
		states = append(states, state)
	}

	if cmd.Bool("json") {
		return r.writeJSON(states, true)
	}
	for _, s := range states {
		line := fmt.Sprintf("%-6s %-9s %s", s.Kind, s.Status, s.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
		if s.Message != "" && s.Status == tasks.StatusError {
			line += "  " + s.Message
		}
		r.writePlain("%s\n", line)
	}
	return nil
}

// JobsCancel asks the server to cancel every job of a session.
func (r *Runner) JobsCancel(ctx context.Context, cmd *cli.Command) error {
	id, err := argID(cmd, 0)
	if err != nil {
		return err
	}
	if err := r.api().Cancel(ctx, id); err != nil {
		return err
	}
	return r.writePlain("→ Cancellation requested for session %d\n", id)
}

// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{Name: "json", Usage: "Output raw JSON"}
}

func waitFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:    "wait",
		Aliases: []string{"w"},
		Usage:   "Run in this process and stream progress instead of submitting to the server",
	}
}

// setupCommand initializes config, database and storage directories.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Create config.toml if missing, run migrations and create storage directories",
		Action: r.Setup,
	}
}

// sessionCommand handles shooting sessions
func sessionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "session",
		Aliases: []string{"s"},
		Usage:   "Manage shooting sessions",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a session",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "started",
						Usage: "Session date as YYYY-MM-DD (default: today)",
					},
					jsonFlag(),
				},
				Action: r.SessionCreate,
			},
			{
				Name:  "list",
				Usage: "List sessions",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:    "all",
						Aliases: []string{"a"},
						Usage:   "Include archived sessions",
					},
					jsonFlag(),
				},
				Action: r.SessionList,
			},
			{
				Name:      "add",
				Usage:     "Add raw files to a session",
				ArgsUsage: "<session-id> <path>...",
				Action:    r.SessionAdd,
			},
			{
				Name:      "archive",
				Usage:     "Archive a session",
				ArgsUsage: "<session-id>",
				Action:    r.SessionArchive,
			},
		},
	}
}

// albumCommand handles remote albums attached to sessions
func albumCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "album",
		Usage: "Manage remote albums",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create an album on an integration and attach it to a session",
				ArgsUsage: "<session-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "integration",
						Aliases:  []string{"i"},
						Usage:    "Integration name (google or immich)",
						Required: true,
					},
					&cli.StringFlag{
						Name:    "title",
						Aliases: []string{"t"},
						Usage:   "Album title (default: session name)",
					},
				},
				Action: r.AlbumCreate,
			},
			{
				Name:      "list",
				Usage:     "List albums attached to a session",
				ArgsUsage: "<session-id>",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.AlbumList,
			},
		},
	}
}

func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Build working copies, previews and hashes for a session",
		ArgsUsage: "<session-id>",
		Flags:     []cli.Flag{waitFlag()},
		Action:    r.Import,
	}
}

func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Render changed images of a session and sync them to its albums",
		ArgsUsage: "<session-id>",
		Flags:     []cli.Flag{waitFlag()},
		Action:    r.Export,
	}
}

// jobsCommand queries and cancels jobs on a running server
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "Inspect jobs on the running server",
		Commands: []*cli.Command{
			{
				Name:      "status",
				Usage:     "Show the job summary, or both job states of one session",
				ArgsUsage: "[session-id]",
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.JobsStatus,
			},
			{
				Name:      "cancel",
				Usage:     "Cancel every running job of a session",
				ArgsUsage: "<session-id>",
				Action:    r.JobsCancel,
			},
		},
	}
}

func notificationsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "notifications",
		Aliases: []string{"notes"},
		Usage:   "Read the notification log",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List notifications, newest first",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.NotificationsList,
			},
			{
				Name:   "read",
				Usage:  "Mark every notification read",
				Action: r.NotificationsRead,
			},
			{
				Name:   "clear",
				Usage:  "Delete every notification",
				Action: r.NotificationsClear,
			},
		},
	}
}

// authCommand handles integration authorization
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize integrations",
		Commands: []*cli.Command{
			{
				Name:   "google",
				Usage:  "Authorize Google Photos using OAuth2",
				Action: r.AuthGoogle,
			},
			{
				Name:   "status",
				Usage:  "Show which integrations are configured",
				Action: r.AuthStatus,
			},
		},
	}
}

func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "serve",
		Usage:  "Run the job manager behind the HTTP API until interrupted",
		Action: r.Serve,
	}
}

// tuiCommand returns the top-level TUI command for monitoring jobs.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "tui",
		Aliases: []string{"ui"},
		Usage:   "Launch the interactive job monitor",
		Action:  r.TUI,
	}
}

package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/darkroom/internal/editor"
	"github.com/desertthunder/darkroom/internal/repositories"
	"github.com/desertthunder/darkroom/internal/services"
	"github.com/desertthunder/darkroom/internal/shared"
	"github.com/desertthunder/darkroom/internal/tasks"
)

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config       *shared.Config
	configPath   string
	fixedConfig  bool
	httpClient   *http.Client
	logger       *log.Logger
	output       io.Writer
	db           *sql.DB
	store        *repositories.Store
	integrations services.Registry
}

// RunnerOpts contains configuration options for creating a Runner.
//
// A non-nil Config is used as-is and the --config flag is ignored. Store and
// Integrations are built from the config on first use when left nil.
type RunnerOpts struct {
	Config       *shared.Config
	ConfigPath   string
	HTTPClient   *http.Client
	Logger       *log.Logger
	Output       io.Writer
	Store        *repositories.Store
	Integrations services.Registry
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	fixed := opts.Config != nil
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:       opts.Config,
		configPath:   opts.ConfigPath,
		fixedConfig:  fixed,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		output:       opts.Output,
		store:        opts.Store,
		integrations: opts.Integrations,
	}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, sessionCommand, albumCommand, importCommand, exportCommand,
		jobsCommand, notificationsCommand, authCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger, used by the TUI to keep logs off the terminal.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// loadConfig reads --config when the runner was not handed a config.
func (r *Runner) loadConfig(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.fixedConfig {
		return ctx, nil
	}

	path := cmd.String("config")
	r.configPath = path
	if _, err := os.Stat(path); err == nil {
		config, err := shared.LoadConfig(path)
		if err != nil {
			return ctx, err
		}
		r.config = config
	} else {
		r.logger.Debug("config file not found, using defaults", "path", path)
		r.config.ApplyEnv()
	}

	shared.SetLogLevel(r.logger, shared.ParseLogLevel(r.config.LogLevel))
	return ctx, nil
}

// openStore opens and migrates the database on first use.
func (r *Runner) openStore() (*repositories.Store, error) {
	if r.store != nil {
		return r.store, nil
	}

	db, err := shared.NewDatabase(r.config.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, r.config.Database.MaxOpenConns, r.config.Database.MaxIdleConns)

	if err := shared.RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	r.db = db
	r.store = repositories.NewStore(db)
	return r.store, nil
}

func (r *Runner) close(ctx context.Context, cmd *cli.Command) error {
	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	r.store = nil
	return err
}

// registry builds both integrations from config. Unconfigured ones are kept so callers can report them.
func (r *Runner) registry() (services.Registry, error) {
	if r.integrations != nil {
		return r.integrations, nil
	}

	google, err := services.NewGooglePhotosService(services.GooglePhotosOpts{
		Config:     r.config.Integrations.Google,
		TokenStore: services.NewFileTokenStore(r.config.Integrations.Google.TokenPath),
		Logger:     r.logger.WithPrefix(services.GoogleName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load google photos token: %w", err)
	}
	immich := services.NewImmichService(services.ImmichOpts{
		Config: r.config.Integrations.Immich,
		Logger: r.logger.WithPrefix(services.ImmichName),
	})

	r.integrations = services.NewRegistry(google, immich)
	return r.integrations, nil
}

// google returns the Google Photos integration as its concrete type for the OAuth routes.
func (r *Runner) google() (*services.GooglePhotosService, error) {
	registry, err := r.registry()
	if err != nil {
		return nil, err
	}
	integration, ok := registry.Get(services.GoogleName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrUnknownIntegration, services.GoogleName)
	}
	google, ok := integration.(*services.GooglePhotosService)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not support OAuth", shared.ErrInvalidConfig, services.GoogleName)
	}
	return google, nil
}

// newExecutor wires the pipelines to rawtherapee-cli, exiftool and the integrations.
func (r *Runner) newExecutor(progress chan<- tasks.ProgressUpdate) (*tasks.Executor, error) {
	store, err := r.openStore()
	if err != nil {
		return nil, err
	}
	registry, err := r.registry()
	if err != nil {
		return nil, err
	}

	tools := r.config.Tools
	runner := editor.NewExecRunner(r.logger.WithPrefix("exec"))
	exif := editor.NewExifTool(tools.ExifTool, runner)
	rawtherapee := editor.NewRawTherapee(tools.RawTherapee, r.config.Storage.TempDir, tools.JPEGQuality, runner, exif, r.logger.WithPrefix("rawtherapee"))

	return tasks.NewExecutor(tasks.ExecutorOpts{
		Store:        store,
		Processor:    rawtherapee,
		Metadata:     exif,
		Integrations: registry,
		Storage:      r.config.Storage,
		Jobs:         r.config.Jobs,
		Quality:      tools.JPEGQuality,
		Logger:       r.logger,
		Progress:     progress,
	}), nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

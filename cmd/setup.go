package main

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/darkroom/internal/shared"
)

// Setup writes a config file when none exists, runs migrations and creates the storage directories.
func (r *Runner) Setup(ctx context.Context, cmd *cli.Command) error {
	if !r.fixedConfig {
		path := cmp.Or(r.configPath, "config.toml")
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			r.logger.Info("config file not found, creating from template", "path", path)
			if err := shared.CreateConfigFile(path); err != nil {
				return err
			}
			config, err := shared.LoadConfig(path)
			if err != nil {
				return err
			}
			r.config = config
		}
	}

	if err := r.config.Validate(); err != nil {
		return err
	}

	storage := r.config.Storage
	for _, dir := range []string{storage.ExportDir, storage.WorkingDir, storage.PreviewDir, storage.TempDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	r.logger.Info("initializing database", "path", r.config.Database.Path)
	if _, err := r.openStore(); err != nil {
		return err
	}

	r.writePlain("✓ Setup complete\n")
	r.writePlain("Database: %s\n", r.config.Database.Path)
	r.writePlain("Exports:  %s\n", storage.ExportDir)
	return nil
}

// argID parses the positional argument at i as a positive id.
func argID(cmd *cli.Command, i int) (int64, error) {
	s := cmd.Args().Get(i)
	if s == "" {
		return 0, fmt.Errorf("%w: session id", shared.ErrMissingArgument)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: session id %q", shared.ErrInvalidArgument, s)
	}
	return id, nil
}

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/darkroom/internal/server"
	"github.com/desertthunder/darkroom/internal/shared"
)

const authTimeout = 2 * time.Minute

// AuthGoogle runs the OAuth consent flow on a short-lived local callback server and stores the token.
func (r *Runner) AuthGoogle(ctx context.Context, cmd *cli.Command) error {
	google, err := r.google()
	if err != nil {
		return err
	}
	authURL, err := google.Configure(ctx)
	if err != nil {
		return err
	}

	handler := server.NewOAuthHandler(google)
	router := server.NewBasicRouter()
	router.Handler(handler)
	srv := server.New(r.config.Server.Addr(), router, r.logger)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Run(ctx)
	}()

	time.Sleep(100 * time.Millisecond)

	r.writePlain("→ Opening browser for Google Photos authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (2 minute timeout)...\n")

	timeout := time.NewTimer(authTimeout)
	defer timeout.Stop()

	var result server.OAuthResult
	select {
	case result = <-handler.Result():
	case err := <-serverErrors:
		if err == nil {
			err = fmt.Errorf("callback server stopped")
		}
		return err
	case <-timeout.C:
		return fmt.Errorf("%w: authorization timed out after %v", shared.ErrTimeout, authTimeout)
	}

	cancel()
	<-serverErrors

	if err := result.Error(); err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	r.writePlain("✓ Google Photos authorized\n")
	return r.writePlain("Token saved to: %s\n", r.config.Integrations.Google.TokenPath)
}

// AuthStatus reports which integrations can sync right now.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	registry, err := r.registry()
	if err != nil {
		return err
	}

	for _, name := range registry.Names() {
		integration, _ := registry.Get(name)
		switch {
		case integration.IsConfigured():
			r.writePlain("✓ %s: configured\n", name)
		case integration.CanBeConfigured():
			r.writePlain("✗ %s: not authorized, run 'darkroom auth %s'\n", name, name)
		default:
			r.writePlain("✗ %s: missing credentials in config\n", name)
		}
	}
	return nil
}

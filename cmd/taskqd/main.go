// Package main implements taskqd, a host process for the in-process task
// dispatcher. It serves an inspection API over the live task registry and,
// when enabled, archives settled tasks to SQLite or PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/taskq/internal/auth"
	"github.com/phrazzld/taskq/internal/config"
	"github.com/phrazzld/taskq/internal/platform/logger"
)

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		log.Fatalf("taskqd: %v", err)
	}
}

// run parses flags and either prints a bearer token or serves until ctx is
// canceled or SIGINT/SIGTERM arrives.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("taskqd", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to a YAML config file")
	issueToken := fs.String("issue-token", "", "print a bearer token for this subject and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if *issueToken != "" {
		return printToken(ctx, cfg.Auth, *issueToken, stdout)
	}

	appLogger, err := logger.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	appLogger.Info("configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Log.Level,
		"queue_capacity", cfg.Queue.Capacity,
		"archive_enabled", cfg.Archive.Enabled,
		"auth_enabled", cfg.Auth.JWTSecret != "")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

func printToken(ctx context.Context, cfg config.AuthConfig, subject string, stdout io.Writer) error {
	if cfg.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must be set to issue tokens")
	}
	tokens, err := auth.NewTokenService(cfg)
	if err != nil {
		return err
	}
	token, err := tokens.GenerateToken(ctx, subject)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, token)
	return err
}

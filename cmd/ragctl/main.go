package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/kirillkom/compliance-rag/internal/adapters/cli"
	"github.com/kirillkom/compliance-rag/internal/bootstrap"
	"github.com/kirillkom/compliance-rag/internal/config"
	"github.com/kirillkom/compliance-rag/internal/observability/logging"
)

const serviceName = "ragctl"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var app *bootstrap.App
	load := func(ctx context.Context) (*cli.Services, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		// stdout carries command output (and MCP frames), so logs go to stderr
		slog.SetDefault(logging.NewTextLogger(os.Stderr, serviceName, cfg.LogLevel))

		app, err = bootstrap.NewCore(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return &cli.Services{
			Builder:   app.Builder,
			Answerer:  app.Answerer,
			Catalog:   app.Catalog,
			Questions: app.Questions,
			Reports:   app.Reports,
			SourceDir: func(namespace string) string {
				if dir, err := app.Storage.Path(namespace); err == nil {
					return dir
				}
				return filepath.Join(cfg.SourceRoot, namespace)
			},
		}, nil
	}

	root := cli.NewRootCommand(load)
	root.SetOut(os.Stdout)
	err := root.ExecuteContext(ctx)
	if app != nil {
		app.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

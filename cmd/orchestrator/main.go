// Command orchestrator starts the batch job orchestration platform: it
// loads the configuration bag (spec.md §6), builds the Runtime, starts
// every component in dependency order, and blocks until an interrupt or
// terminate signal triggers an orderly shutdown.
//
// Exit codes: 0 on a clean shutdown, non-zero on any fatal startup error
// (spec.md §6 "Exit codes on the CLI entrypoint").
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/trailcast/orchestrator/appconfig"
	"github.com/trailcast/orchestrator/cli"
	"github.com/trailcast/orchestrator/l3"
	"github.com/trailcast/orchestrator/runtime"
	"github.com/trailcast/orchestrator/store"
)

var logger = l3.Get()

const version = "0.1.0"

func main() {
	app := cli.NewCLI()
	app.AddVersion(version)
	app.AddCommand(serveCommand())
	app.AddCommand(migrateCommand())

	if err := app.Execute(); err != nil {
		logger.ErrorF("orchestrator: %v", err)
		os.Exit(1)
	}
}

func configFlag() *cli.Flag {
	return &cli.Flag{
		Name:    "config",
		Usage:   "path to the orchestrator configuration file",
		Aliases: []string{"c"},
		Default: "config.yaml",
	}
}

// serveCommand builds and starts every component, then blocks until an
// interrupt or terminate signal triggers an orderly shutdown.
func serveCommand() *cli.Command {
	cmd := cli.NewCommand("serve", "run the orchestrator, serving the HTTP/WebSocket control surface", version, func(ctx *cli.Context) error {
		configPath, _ := ctx.GetFlag("config")

		cfg, err := appconfig.Load(configPath)
		if err != nil {
			logger.ErrorF("orchestrator: config load failed: %v", err)
			os.Exit(1)
		}

		rt, err := runtime.Build(cfg)
		if err != nil {
			logger.ErrorF("orchestrator: runtime build failed: %v", err)
			os.Exit(1)
		}

		runCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stopSignals()

		if err := rt.Start(runCtx); err != nil {
			logger.ErrorF("orchestrator: runtime start failed: %v", err)
			os.Exit(1)
		}
		logger.Info("orchestrator: all components started, serving")

		<-runCtx.Done()
		logger.Info("orchestrator: shutdown signal received, stopping components")

		if err := rt.Stop(); err != nil {
			logger.ErrorF("orchestrator: shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("orchestrator: shutdown complete")
		return nil
	})
	cmd.Flags = []*cli.Flag{configFlag()}
	return cmd
}

// migrateCommand runs the embedded goose migrations against the
// configured database and exits, without starting any component. Useful
// for applying schema changes ahead of a rolling deploy.
func migrateCommand() *cli.Command {
	cmd := cli.NewCommand("migrate", "apply pending database migrations and exit", version, func(ctx *cli.Context) error {
		configPath, _ := ctx.GetFlag("config")

		cfg, err := appconfig.Load(configPath)
		if err != nil {
			logger.ErrorF("orchestrator: config load failed: %v", err)
			os.Exit(1)
		}

		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			logger.ErrorF("orchestrator: database open failed: %v", err)
			os.Exit(1)
		}
		if err := db.Migrate(context.Background()); err != nil {
			logger.ErrorF("orchestrator: migration failed: %v", err)
			os.Exit(1)
		}
		logger.Info("orchestrator: migrations applied")
		return nil
	})
	cmd.Flags = []*cli.Flag{configFlag()}
	return cmd
}

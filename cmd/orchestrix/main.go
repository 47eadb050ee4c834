package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/ifBars/orchestrix/config"
)

// CLI defines orchestrix's command-line interface.
type CLI struct {
	Serve   ServeCmd   `cmd:"" help:"Start the HTTP/SSE gateway and run the startup recovery sweep."`
	Run     RunCmd     `cmd:"" help:"Submit one task and drive it to completion (or awaiting-approval) without serving HTTP."`
	Resume  ResumeCmd  `cmd:"" help:"Re-run the startup recovery sweep for non-terminal runs."`
	Index   IndexCmd   `cmd:"" help:"Build the semantic index for a workspace and report stats."`
	Version VersionCmd `cmd:"" help:"Show version information."`

	Config    string `short:"c" help:"Path to config file." type:"path"`
	Workspace string `short:"w" help:"Workspace root directory." default:"." type:"path"`
}

type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Println("orchestrix dev")
	return nil
}

type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, cfg, err := bootstrap(ctx, cli)
	if err != nil {
		return err
	}
	defer app.Shutdown(context.Background())

	stats, err := app.recovery.Run()
	if err != nil {
		return fmt.Errorf("recovery sweep failed: %w", err)
	}
	app.logger.Info("recovery sweep complete", "scanned", stats.RunsScanned, "resumed", stats.RunsResumed, "failed", stats.RunsFailed)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		app.logger.Info("shutdown signal received")
		cancel()
	}()

	srv := &httpServer{addr: cfg.Server.Address, handler: app.gateway.Router(), logger: app.logger}
	app.logger.Info("gateway listening", "address", cfg.Server.Address)
	return srv.run(ctx)
}

type RunCmd struct {
	Prompt string `arg:"" help:"The task prompt to submit."`
}

func (c *RunCmd) Run(cli *CLI) error {
	ctx := context.Background()
	app, _, err := bootstrap(ctx, cli)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)

	run, err := app.submitTask(c.Prompt)
	if err != nil {
		return err
	}
	fmt.Printf("run %s reached status %s (task %s)\n", run.ID, run.Status, run.TaskID)
	return nil
}

type ResumeCmd struct{}

func (c *ResumeCmd) Run(cli *CLI) error {
	ctx := context.Background()
	app, _, err := bootstrap(ctx, cli)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)

	stats, err := app.recovery.Run()
	if err != nil {
		return err
	}
	fmt.Printf("scanned=%d resumed=%d failed=%d\n", stats.RunsScanned, stats.RunsResumed, stats.RunsFailed)
	if len(stats.FailedRunIDs) > 0 {
		fmt.Println("unrecoverable runs:", stats.FailedRunIDs)
	}
	return nil
}

type IndexCmd struct{}

func (c *IndexCmd) Run(cli *CLI) error {
	ctx := context.Background()
	app, _, err := bootstrap(ctx, cli)
	if err != nil {
		return err
	}
	defer app.Shutdown(ctx)

	stats, err := app.index.Build(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d files, %d chunks (skipped=%d, file_cap=%v, chunk_cap=%v)\n",
		stats.FilesIndexed, stats.ChunksIndexed, stats.FilesSkipped, stats.TruncatedAtFileCap, stats.TruncatedAtChunkCap)
	return nil
}

// bootstrap loads config and wires an App for any subcommand.
func bootstrap(ctx context.Context, cli *CLI) (*App, *config.Config, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, nil, err
	}
	if err := config.LoadDotEnv(); err != nil {
		return nil, nil, err
	}
	app, err := NewApp(ctx, cfg, cli.Workspace)
	if err != nil {
		return nil, nil, err
	}
	return app, cfg, nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("orchestrix"),
		kong.Description("Autonomous build-plan-execute agent orchestrator."),
		kong.UsageOnError(),
	)
	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

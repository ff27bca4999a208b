package command

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/urfave/cli/v2"

	"penman/cli/internal/config"
)

// RunRequest is one command line handed to the job queue by "penman run".
type RunRequest struct {
	Line      string
	Dir       string
	Subsystem string
	Timed     bool
}

type Deps struct {
	LoadConfig   func() config.Config
	RunShell     func(context.Context, config.Config, []string) error
	RunCommand   func(context.Context, config.Config, RunRequest) error
	ListRecent   func(context.Context, config.Config, io.Writer, int) error
	RunMigrateUp func(context.Context, config.Config) error
}

func BuildApp(deps Deps) *cli.App {
	return &cli.App{
		Name:  "penman",
		Usage: "line editor shell with background file I/O and a command queue",
		Action: func(ctx *cli.Context) error {
			cfg := loadConfig(deps)
			return runShell(ctx.Context, deps, cfg, ctx.Args().Slice())
		},
		Commands: []*cli.Command{
			{
				Name:      "shell",
				Usage:     "start the interactive shell",
				ArgsUsage: "[file...]",
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(deps)
					return runShell(ctx.Context, deps, cfg, ctx.Args().Slice())
				},
			},
			{
				Name:      "open",
				Usage:     "open files in the shell",
				ArgsUsage: "file...",
				Action: func(ctx *cli.Context) error {
					if ctx.NArg() == 0 {
						return cli.Exit("open: at least one file is required", 2)
					}
					cfg := loadConfig(deps)
					return runShell(ctx.Context, deps, cfg, ctx.Args().Slice())
				},
			},
			{
				Name:      "run",
				Usage:     "run one command through the job queue and print its output",
				ArgsUsage: "command line",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "dir", Usage: "working directory"},
					&cli.StringFlag{Name: "subsystem", Value: "cli", Usage: "cli, shell, gui or a digit 0..7"},
					&cli.BoolFlag{Name: "time", Usage: "report elapsed time"},
				},
				Action: func(ctx *cli.Context) error {
					line := strings.TrimSpace(strings.Join(ctx.Args().Slice(), " "))
					if line == "" {
						return cli.Exit("run: command line is required", 2)
					}
					cfg := loadConfig(deps)
					return runCommand(ctx.Context, deps, cfg, RunRequest{
						Line:      line,
						Dir:       ctx.String("dir"),
						Subsystem: ctx.String("subsystem"),
						Timed:     ctx.Bool("time"),
					})
				},
			},
			{
				Name:  "recent",
				Usage: "list recently opened files",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Aliases: []string{"n"}, Value: 20},
				},
				Action: func(ctx *cli.Context) error {
					cfg := loadConfig(deps)
					return listRecent(ctx.Context, deps, cfg, ctx.App.Writer, ctx.Int("limit"))
				},
			},
			{
				Name:  "migrate",
				Usage: "run database migration",
				Subcommands: []*cli.Command{
					{
						Name:  "up",
						Usage: "apply pending migrations",
						Action: func(ctx *cli.Context) error {
							cfg := loadConfig(deps)
							return runMigrateUp(ctx.Context, deps, cfg)
						},
					},
				},
			},
		},
	}
}

func loadConfig(deps Deps) config.Config {
	if deps.LoadConfig != nil {
		return deps.LoadConfig()
	}
	return config.LoadConfig()
}

func runShell(ctx context.Context, deps Deps, cfg config.Config, files []string) error {
	if deps.RunShell == nil {
		return errors.New("shell runner is not configured")
	}
	return deps.RunShell(ctx, cfg, files)
}

func runCommand(ctx context.Context, deps Deps, cfg config.Config, req RunRequest) error {
	if deps.RunCommand == nil {
		return errors.New("command runner is not configured")
	}
	return deps.RunCommand(ctx, cfg, req)
}

func listRecent(ctx context.Context, deps Deps, cfg config.Config, out io.Writer, limit int) error {
	if deps.ListRecent == nil {
		return errors.New("recent file lister is not configured")
	}
	return deps.ListRecent(ctx, cfg, out, limit)
}

func runMigrateUp(ctx context.Context, deps Deps, cfg config.Config) error {
	if deps.RunMigrateUp == nil {
		return errors.New("migrate up runner is not configured")
	}
	return deps.RunMigrateUp(ctx, cfg)
}

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"penman/cli/internal/command"
	"penman/cli/internal/config"
	"penman/cli/internal/db"
	"penman/cli/internal/db/migration"
	"penman/cli/internal/editor"
	"penman/cli/internal/filewatch"
	"penman/cli/internal/global"
	"penman/cli/internal/historydb"
	"penman/cli/internal/jobqueue"
	"penman/cli/internal/lifecycle"
	"penman/cli/internal/logging"
	"penman/cli/internal/mainloop"
	"penman/cli/internal/mirror"
)

var version = "dev"

var autosaveInterval = time.Second

func main() {
	app := command.BuildApp(command.Deps{
		LoadConfig:   config.LoadConfig,
		RunShell:     runShell,
		RunCommand:   runCommand,
		ListRecent:   listRecent,
		RunMigrateUp: runMigrateUp,
	})
	app.Version = version
	if err := app.RunContext(context.Background(), os.Args); err != nil {
		logging.NewLogger(logging.Options{Level: "error", Component: "penman"}).Error("penman failed", "err", err)
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) *slog.Logger {
	return logging.NewLogger(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Writer:    os.Stderr,
		Component: "penman",
	})
}

func resolveConfigDir(cfg config.Config) (string, error) {
	if cfg.ConfigDir != "" {
		return cfg.ConfigDir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(base, "penman"), nil
}

// runtimeOptions selects what a runtime wires beyond the editor core.
type runtimeOptions struct {
	host        editor.Host
	interactive bool
	onJobDone   func(code int, cancelled bool)
	tune        func(*global.Properties)
}

// runtime is one fully wired editor process.
type runtime struct {
	logger  *slog.Logger
	props   global.Properties
	gdb     *gorm.DB
	loop    *mainloop.Loop
	queue   *jobqueue.Queue
	hub     *mirror.Hub
	watcher *filewatch.Watcher
	editor  *editor.Editor
	mirror  string
}

func newRuntime(cfg config.Config, opts runtimeOptions) (*runtime, error) {
	lg := newLogger(cfg)
	dir, err := resolveConfigDir(cfg)
	if err != nil {
		return nil, err
	}
	props, err := global.NewPropertyStore(dir).LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load properties: %w", err)
	}
	if opts.tune != nil {
		opts.tune(&props)
	}

	gdb, err := db.OpenGORM(cfg.ResolveDBPath(dir))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	history, err := historydb.NewStore(gdb)
	if err != nil {
		_ = db.Close(gdb)
		return nil, err
	}

	rt := &runtime{logger: lg, props: props, gdb: gdb, mirror: cfg.MirrorAddr}
	rt.loop = mainloop.New(lg.With("subsystem", "mainloop"))
	rt.queue = jobqueue.New(rt.loop, jobqueue.Options{
		Capacity:           props.Jobs.Capacity,
		ClearBeforeExecute: props.Jobs.ClearBeforeExecute,
		TimeCommands:       props.Jobs.TimeCommands,
		PollInterval:       props.PollInterval(),
		Logger:             lg.With("subsystem", "jobqueue"),
	})
	proc := processExecutor(props)
	if props.Jobs.UsePTY {
		rt.queue.SetFallback(jobqueue.PTYExecutor{Process: proc})
	} else {
		rt.queue.SetFallback(proc)
	}
	rt.queue.SetExecutor(jobqueue.SubsystemGUI, jobqueue.DetachedExecutor{Process: proc})
	rt.queue.SetExecutor(jobqueue.SubsystemGrep, jobqueue.GrepExecutor{})

	if cfg.MirrorAddr != "" {
		rt.hub = mirror.NewHub(lg.With("subsystem", "mirror"))
	}
	pub := &jobWatcher{done: opts.onJobDone}
	if rt.hub != nil {
		pub.next = rt.hub
	}

	edOpts := editor.Options{
		Props:   props,
		Host:    opts.host,
		Loop:    rt.loop,
		Queue:   rt.queue,
		History: history,
		Mirror:  pub,
		Logger:  lg.With("subsystem", "editor"),
	}
	if opts.interactive && props.Files.WatchExternal {
		w, err := filewatch.New(func(path string) {
			rt.loop.Do(func() { rt.editor.FileChangedOnDisk(path) })
		}, filewatch.WithLogger(lg.With("subsystem", "filewatch")))
		if err != nil {
			lg.Warn("external change watching disabled", "err", err)
		} else {
			rt.watcher = w
			edOpts.Watcher = w
		}
	}
	rt.editor = editor.New(edOpts)
	rt.queue.SetExecutor(jobqueue.SubsystemExtension, rt.editor.ExtensionExecutor())
	return rt, nil
}

func processExecutor(props global.Properties) jobqueue.ProcessExecutor {
	shell, flag := jobqueue.DefaultShell()
	if props.Jobs.Shell != "" {
		shell = props.Jobs.Shell
	}
	return jobqueue.ProcessExecutor{Shell: shell, ShellFlag: flag}
}

// manager registers the runtime's goroutines. Shutdown cancels background
// file work before the history database is closed.
func (rt *runtime) manager() *lifecycle.Manager {
	m := lifecycle.NewManager()
	m.SetLogger(rt.logger)
	m.AddRun("mainloop", rt.loop.Run)
	m.AddRun("jobqueue", rt.queue.Run)
	if rt.watcher != nil {
		m.AddRun("filewatch", rt.watcher.Run)
	}
	if rt.hub != nil {
		m.AddRun("mirror", func(ctx context.Context) error {
			return rt.hub.Serve(ctx, rt.mirror)
		})
	}
	m.AddShutdown("editor", rt.editor.Shutdown)
	m.AddShutdown("history-db", func(context.Context) error {
		return db.Close(rt.gdb)
	})
	return m
}

func (rt *runtime) autosave(ctx context.Context) error {
	if rt.props.AutosaveDelay() <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(autosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			rt.loop.Do(func() { rt.editor.AutoSaveTick() })
		}
	}
}

func runShell(parent context.Context, cfg config.Config, files []string) error {
	host := newConsoleHost(os.Stdout)
	rt, err := newRuntime(cfg, runtimeOptions{host: host, interactive: true})
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rt.loop.Do(func() {
		for _, f := range files {
			if _, err := rt.editor.Open(f); err != nil {
				rt.logger.Debug("open from command line failed", "path", f, "err", err)
			}
		}
	})
	shell := &repl{editor: rt.editor, host: host, out: os.Stdout, quit: cancel}

	m := rt.manager()
	m.AddRun("autosave", rt.autosave)
	m.AddRun("repl", func(ctx context.Context) error {
		return readLines(ctx, os.Stdin, func(line string) {
			rt.loop.Do(func() { shell.handle(line) })
		}, cancel)
	})
	rt.logger.Info("shell started", "version", version, "files", len(files))
	return m.StartAndWait(ctx, os.Interrupt, syscall.SIGTERM)
}

// readLines feeds lines from in to handle until ctx is done. End of input
// calls eof.
func readLines(ctx context.Context, in io.Reader, handle func(string), eof func()) error {
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				eof()
				return nil
			}
			handle(line)
		}
	}
}

func runCommand(parent context.Context, cfg config.Config, req command.RunRequest) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	exitCode := 0
	rt, err := newRuntime(cfg, runtimeOptions{
		host: newConsoleHost(os.Stdout),
		onJobDone: func(code int, cancelled bool) {
			exitCode = code
			if cancelled && code == 0 {
				exitCode = 130
			}
			cancel()
		},
		tune: func(p *global.Properties) {
			p.Jobs.TimeCommands = p.Jobs.TimeCommands || req.Timed
			p.Jobs.ClearBeforeExecute = false
		},
	})
	if err != nil {
		return err
	}

	var execErr error
	rt.loop.Do(func() {
		execErr = rt.editor.Execute(jobqueue.Command{
			Line:      req.Line,
			Dir:       req.Dir,
			Subsystem: jobqueue.ParseSubsystem(req.Subsystem),
		})
		if execErr != nil || jobqueue.ParseSubsystem(req.Subsystem) == jobqueue.SubsystemImmediate {
			cancel()
		}
	})
	if err := rt.manager().StartAndWait(ctx, os.Interrupt, syscall.SIGTERM); err != nil {
		return err
	}
	if execErr != nil {
		return execErr
	}
	if exitCode != 0 {
		return cli.Exit("", exitCode)
	}
	return nil
}

func listRecent(_ context.Context, cfg config.Config, out io.Writer, limit int) error {
	dir, err := resolveConfigDir(cfg)
	if err != nil {
		return err
	}
	gdb, err := db.OpenGORM(cfg.ResolveDBPath(dir))
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(gdb) }()
	store, err := historydb.NewStore(gdb)
	if err != nil {
		return err
	}
	entries, err := store.List(limit)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(out, "%s\t%s\t%d\t%s\n", e.LastOpened.Local().Format(time.DateTime), e.Encoding, e.OpenCount, e.Path)
	}
	return nil
}

func runMigrateUp(_ context.Context, cfg config.Config) error {
	dir, err := resolveConfigDir(cfg)
	if err != nil {
		return err
	}
	path := cfg.ResolveDBPath(dir)
	gdb, err := db.OpenGORM(path)
	if err != nil {
		return err
	}
	lg := newLogger(cfg)
	lg.Info("migrations applied", "db", path, "steps", strings.Join(migration.Names(), ","))
	return db.Close(gdb)
}

// repl interprets one console line on the UI goroutine.
type repl struct {
	editor *editor.Editor
	host   editor.Host
	out    io.Writer
	quit   func()
}

func (r *repl) handle(line string) {
	line = strings.TrimSpace(line)
	var err error
	switch {
	case line == "":
		return
	case line == "quit" || line == "exit":
		r.quit()
		return
	case line == "help":
		out := r.out
		fmt.Fprintf(out, "commands: %s, a <text>, p, !<shell command>, quit\n", strings.Join(r.editor.Builtins(), ", "))
		return
	case line == "p":
		err = r.print()
	case strings.HasPrefix(line, "a "):
		err = r.appendLine(strings.TrimPrefix(line, "a "))
	case strings.HasPrefix(line, "!"):
		err = r.editor.Execute(jobqueue.Command{Line: strings.TrimPrefix(line, "!")})
	default:
		err = r.editor.RunBuiltin(line)
	}
	if err != nil && !errors.Is(err, jobqueue.ErrQueueFull) {
		r.host.Message(editor.MessageError, err.Error())
	}
}

func (r *repl) appendLine(text string) error {
	idx := r.editor.Current()
	if idx < 0 {
		idx = r.editor.NewDocument()
	}
	return r.editor.AppendText(idx, text+"\n")
}

func (r *repl) print() error {
	doc, err := r.editor.Document(r.editor.Current())
	if err != nil {
		return editor.ErrNoDocument
	}
	out := r.out
	fmt.Fprintf(out, "%s", doc.Text.String())
	return nil
}

// chatmesh is an interactive terminal front-end for a multi-agent group
// chat. Lines typed at the prompt are sent to the current topic; the
// orchestrator then picks which agents answer and their replies are
// streamed to the terminal as they arrive.
//
// Press Ctrl-C (or type /cancel) to abort a running orchestration. Press
// Ctrl-C at an idle prompt, or type /quit, to exit.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"

	"github.com/hupe1980/chatmesh"
	"github.com/hupe1980/chatmesh/config"
	"github.com/hupe1980/chatmesh/engine"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		color.Red("Error: %v\n", err)
		os.Exit(1)
	}
}

type flags struct {
	configPath  string
	backend     string
	storagePath string
	logLevel    string
	maxTurns    int
	noColor     bool
}

func parseFlags(args []string) (*flags, bool, error) {
	f := &flags{maxTurns: -1}

	flagSet := pflag.NewFlagSet("chatmesh", pflag.ContinueOnError)
	flagSet.StringVarP(&f.configPath, "config", "c", "", "path to the YAML configuration file")
	flagSet.StringVar(&f.backend, "storage", "", "storage backend override (memory, file, sqlite)")
	flagSet.StringVar(&f.storagePath, "storage-path", "", "storage path override")
	flagSet.StringVar(&f.logLevel, "log-level", "", "log level override (debug, info, warn, error)")
	flagSet.IntVar(&f.maxTurns, "max-turns", -1, "agent turns per message (0 = unlimited)")
	flagSet.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil, true, nil
		}
		return nil, false, err
	}

	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil, true, nil
	}

	if rest := flagSet.Args(); len(rest) > 0 {
		return nil, false, fmt.Errorf("unexpected argument: %s", rest[0])
	}

	return f, false, nil
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `chatmesh: talk to a group of AI agents from the terminal.

Usage:
  chatmesh [flags]

Flags:
%s
Type /help at the prompt for the list of commands.
`, flagSet.FlagUsages())
}

// loadConfig reads the configuration file, if any, and applies the flag
// overrides on top of it.
func loadConfig(f *flags) (*config.Config, error) {
	cfg := config.Default()
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if f.backend != "" {
		cfg.Storage.Backend = f.backend
	}
	if f.storagePath != "" {
		cfg.Storage.Path = f.storagePath
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.maxTurns >= 0 {
		cfg.Engine.MaxTurns = f.maxTurns
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// run starts the REPL. optFns are applied to the mesh options after the
// configured ones.
func run(args []string, in io.Reader, out io.Writer, optFns ...func(o *chatmesh.Options)) error {
	f, done, err := parseFlags(args)
	if err != nil || done {
		return err
	}
	if f.noColor {
		color.NoColor = true
	}

	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	logger, closeLog, err := cfg.NewLogger()
	if err != nil {
		return err
	}
	defer func() { _ = closeLog() }()

	blobs, closeStore, err := cfg.OpenStore()
	if err != nil {
		return fmt.Errorf("opening %s storage: %w", cfg.Storage.Backend, err)
	}
	defer func() { _ = closeStore() }()

	r := newRenderer(out)
	mesh := chatmesh.New(func(o *chatmesh.Options) {
		o.Persister = cfg.NewPersister(blobs, logger.WithComponent("storage"))
		o.Observer = r
		o.MaxTurns = cfg.Engine.MaxTurns
		o.MaxTokens = cfg.Engine.MaxTokens
		o.Logger = logger
		for _, fn := range optFns {
			fn(o)
		}
	})

	loaded, err := mesh.Load()
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	if !loaded {
		if _, err := cfg.Seed(mesh); err != nil {
			return err
		}
	}
	r.setUserName(mesh.Store().Settings().UserName)

	return newREPL(mesh, r, in, out).loop()
}

// repl couples line input, signal handling and the background send.
type repl struct {
	mesh *chatmesh.Mesh
	r    *renderer
	in   io.Reader
	out  io.Writer

	results chan sendResult
	busy    bool
}

type sendResult struct {
	outcome engine.Outcome
	err     error
}

func newREPL(mesh *chatmesh.Mesh, r *renderer, in io.Reader, out io.Writer) *repl {
	return &repl{
		mesh:    mesh,
		r:       r,
		in:      in,
		out:     out,
		results: make(chan sendResult, 1),
	}
}

func (p *repl) loop() error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(p.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	p.r.banner(p.mesh)
	p.r.prompt()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				// Input ended: let a running orchestration finish.
				p.wait(interrupts)
				return nil
			}
			if quit := p.handle(line); quit {
				if p.busy {
					p.mesh.CancelActiveOrchestration()
					p.wait(interrupts)
				}
				return nil
			}
			if !p.busy {
				p.r.prompt()
			}
		case res := <-p.results:
			p.busy = false
			p.r.outcome(res.outcome, res.err)
			p.r.prompt()
		case <-interrupts:
			if p.busy {
				p.mesh.CancelActiveOrchestration()
				continue
			}
			return nil
		}
	}
}

// wait blocks until the in-flight send, if any, has returned and reports its
// outcome. An interrupt cancels the send but still waits for it.
func (p *repl) wait(interrupts <-chan os.Signal) {
	for p.busy {
		select {
		case res := <-p.results:
			p.busy = false
			p.r.outcome(res.outcome, res.err)
		case <-interrupts:
			p.mesh.CancelActiveOrchestration()
		}
	}
}

// handle processes one input line and reports whether the REPL should exit.
func (p *repl) handle(line string) bool {
	cmd, arg, isCommand := parseCommand(line)
	if !isCommand {
		if arg == "" {
			return false
		}
		p.send(arg)
		return false
	}

	if p.busy && cmd != "cancel" && cmd != "quit" && cmd != "stats" && cmd != "help" {
		p.r.notice("an orchestration is running; /cancel it first")
		return false
	}

	if err := p.dispatch(cmd, arg); err != nil {
		if errors.Is(err, errQuit) {
			return true
		}
		p.r.failure(err)
	}

	return false
}

func (p *repl) send(text string) {
	p.busy = true
	go func() {
		outcome, err := p.mesh.SendUserMessage(context.Background(), text)
		p.results <- sendResult{outcome: outcome, err: err}
	}()
}

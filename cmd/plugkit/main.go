// Command plugkit installs, inspects and runs sandboxed Lua plugins.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/dshills/plugkit/internal/config"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
)

// errUsage marks errors caused by bad invocation.
var errUsage = errors.New("usage")

type options struct {
	configPath string
	logLevel   string
	logFormat  string
	memory     bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()

	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		fmt.Fprintf(os.Stderr, "Error: %v\nRun 'plugkit --help' for usage.\n", err)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	var (
		opts        options
		showVersion bool
		showHelp    bool
	)
	flagSet := pflag.NewFlagSet("plugkit", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.SetInterspersed(false)
	flagSet.StringVarP(&opts.configPath, "config", "c", "", "path to configuration file (default: "+config.DefaultPath()+")")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	flagSet.StringVar(&opts.logFormat, "log-format", "", "override log format (text, json)")
	flagSet.BoolVar(&opts.memory, "memory", false, "use an in-memory store; nothing is persisted")
	flagSet.BoolVarP(&showVersion, "version", "v", false, "show version information")
	flagSet.BoolVarP(&showHelp, "help", "h", false, "show help")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(stdout, flagSet)
			return nil
		}
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if showHelp {
		printHelp(stdout, flagSet)
		return nil
	}
	if showVersion {
		fmt.Fprintf(stdout, "plugkit %s (%s)\n", version, commit)
		return nil
	}

	rest := flagSet.Args()
	if len(rest) == 0 {
		printHelp(stderr, flagSet)
		return fmt.Errorf("%w: missing command", errUsage)
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, rest[0])
	}
	if len(rest)-1 < cmd.minArgs || (cmd.maxArgs >= 0 && len(rest)-1 > cmd.maxArgs) {
		return fmt.Errorf("%w: plugkit %s %s", errUsage, rest[0], cmd.usage)
	}

	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	h, err := openHost(ctx, cfg, stdout, stderr)
	if err != nil {
		return err
	}
	err = cmd.run(ctx, h, rest[1:])
	return errors.Join(err, h.Close())
}

func loadConfig(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Log.Format = opts.logFormat
	}
	if opts.memory {
		cfg.Storage.Driver = config.DriverMemory
	}
	return cfg, cfg.Validate()
}

func printHelp(w io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprint(w, `plugkit - sandboxed Lua plugin host

Usage:
  plugkit [flags] <command> [arguments]

Commands:
`)
	for _, name := range commandOrder {
		c := commands[name]
		fmt.Fprintf(w, "  %-10s %-28s %s\n", name, c.usage, c.summary)
	}
	fmt.Fprint(w, "\nFlags:\n")
	fmt.Fprint(w, flagSet.FlagUsages())
	fmt.Fprint(w, `
Examples:
  plugkit install ./plugins/greeter
  plugkit call greeter hello '["world"]'
  plugkit config greeter '{"limit": 5}'
  plugkit run
`)
}

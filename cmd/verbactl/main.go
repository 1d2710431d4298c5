package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/verbalab/verbactl/internal/buildinfo"
)

const usageText = `verbactl is the CLI for a Verba backend.

Usage:
  verbactl --version
  verbactl [global flags] detect
  verbactl [global flags] health
  verbactl [global flags] config
  verbactl [global flags] connect [--deployment <name>] [--weaviate-url <url>] [--weaviate-api-key <key>] [--credentials <name>] [--identity <path>] [--plaintext]
  verbactl [global flags] import [--out <dir>] [--api-url <url>] [--endpoint <path>] [--ext <list>] [--ledger <path>] [--resume] [--metrics-listen <addr>] <dir>
  verbactl [global flags] init [--force]

Global Flags:
  --config PATH     Path to the config file (default <user config dir>/verbactl/config.yaml)
  --local URL       Local backend probed first (default http://localhost:8000)
  --origin URL      Deployed backend probed when the local one is down
  --json            Output json
  --timeout         Request timeout (e.g. 30s, 2m)
  --probe-timeout   Per-candidate health probe timeout (e.g. 3s)
  --verbose         Log at debug level
  --quiet           Log errors only
`

type globalOptions struct {
	configPath   string
	localURL     string
	origin       string
	jsonOutput   bool
	timeout      time.Duration
	probeTimeout time.Duration
	verbose      bool
	quiet        bool
	showVersion  bool
}

func main() {
	// A .env in the working directory may carry VERBACTL_* overrides.
	_ = godotenv.Load()

	opts, args, err := parseGlobal(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			printUsage()
			return
		}
		fmt.Fprintln(os.Stderr, err)
		printUsage()
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Println(buildinfo.String())
		return
	}
	if len(args) == 0 {
		printUsage()
		return
	}
	if isHelpToken(args[0]) {
		printUsage()
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	base := commonFlags{
		configPath:   opts.configPath,
		localURL:     opts.localURL,
		origin:       opts.origin,
		jsonOutput:   opts.jsonOutput,
		timeout:      opts.timeout,
		probeTimeout: opts.probeTimeout,
		logger:       newLogger(opts.verbose, opts.quiet),
	}
	if err := dispatch(ctx, args, base); err != nil {
		if errors.Is(err, errHelp) {
			return
		}
		msg, next, hints := describeError(err)
		printError(os.Stderr, msg, next, hints)
		os.Exit(1)
	}
}

func parseGlobal(args []string) (globalOptions, []string, error) {
	opts := globalOptions{}
	fs := flag.NewFlagSet("verbactl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.configPath, "config", "", "path to config file")
	fs.StringVar(&opts.localURL, "local", "", "local backend base URL")
	fs.StringVar(&opts.origin, "origin", "", "deployed backend base URL")
	fs.BoolVar(&opts.jsonOutput, "json", false, jsonFlagDescription)
	fs.DurationVar(&opts.timeout, "timeout", 0, "request timeout (e.g. 30s, 2m)")
	fs.DurationVar(&opts.probeTimeout, "probe-timeout", 0, "health probe timeout (e.g. 3s)")
	fs.BoolVar(&opts.verbose, "verbose", false, "log at debug level")
	fs.BoolVar(&opts.quiet, "quiet", false, "log errors only")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, nil, err
	}
	return opts, fs.Args(), nil
}

// newLogger builds the diagnostic logger shared by every command. It writes
// to stderr so command output on stdout stays parseable.
func newLogger(verbose, quiet bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	switch {
	case quiet:
		logger.SetLevel(logrus.ErrorLevel)
	case verbose:
		logger.SetLevel(logrus.DebugLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}

var commandNames = []string{"detect", "health", "config", "connect", "import", "init"}

func dispatch(ctx context.Context, args []string, base commonFlags) error {
	switch args[0] {
	case "detect":
		return runDetectCommand(ctx, args[1:], base)
	case "health":
		return runHealthCommand(ctx, args[1:], base)
	case "config":
		return runConfigCommand(ctx, args[1:], base)
	case "connect":
		return runConnectCommand(ctx, args[1:], base)
	case "import":
		return runImportCommand(ctx, args[1:], base)
	case "init":
		return runInitCommand(ctx, args[1:], base)
	default:
		printUsage()
		return unknownCommandError(args[0], commandNames)
	}
}

func printUsage() {
	_, _ = fmt.Fprint(os.Stdout, usageText)
}

func printDetectUsage() {
	fmt.Fprintln(os.Stdout, "Usage: verbactl detect")
	fmt.Fprintln(os.Stdout, "Note: probes the local candidate first and falls back to --origin.")
}

func printHealthUsage() {
	fmt.Fprintln(os.Stdout, "Usage: verbactl health")
}

func printConfigUsage() {
	fmt.Fprintln(os.Stdout, "Usage: verbactl config")
}

func printConnectUsage() {
	fmt.Fprintln(os.Stdout, "Usage: verbactl connect [--deployment <name>] [--weaviate-url <url>] [--weaviate-api-key <key>] [--credentials <name>] [--identity <path>] [--plaintext]")
	fmt.Fprintln(os.Stdout, "Note: flags win over environment variables, then credential bundles, then the config file.")
}

func printImportUsage() {
	fmt.Fprintln(os.Stdout, "Usage: verbactl import [--out <dir>] [--api-url <url>] [--endpoint <path>] [--ext <list>] [--ledger <path>] [--resume] [--metrics-listen <addr>] <dir>")
	fmt.Fprintln(os.Stdout, "Note: --resume without --ledger records runs in <out>/import.db.")
}

func printInitUsage() {
	fmt.Fprintln(os.Stdout, "Usage: verbactl init [--force]")
	fmt.Fprintln(os.Stdout, "Note: writes a starter config file, honoring --config, --local, and --origin.")
}

func isHelpToken(value string) bool {
	switch strings.TrimSpace(value) {
	case "help", "-h", "--help":
		return true
	default:
		return false
	}
}

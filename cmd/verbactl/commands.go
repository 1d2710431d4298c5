package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/verbalab/verbactl/internal/api"
	"github.com/verbalab/verbactl/internal/config"
	"github.com/verbalab/verbactl/internal/credentials"
	"github.com/verbalab/verbactl/internal/hostdetect"
	"github.com/verbalab/verbactl/internal/importer"
	"github.com/verbalab/verbactl/internal/ledger"
	"github.com/verbalab/verbactl/internal/metrics"
)

const jsonFlagDescription = "output json"

var errHelp = errors.New("help requested")

type commonFlags struct {
	configPath   string
	localURL     string
	origin       string
	jsonOutput   bool
	timeout      time.Duration
	probeTimeout time.Duration
	logger       *logrus.Logger
}

func (c *commonFlags) bind(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", c.configPath, "path to config file")
	fs.StringVar(&c.localURL, "local", c.localURL, "local backend base URL")
	fs.StringVar(&c.origin, "origin", c.origin, "deployed backend base URL")
	fs.BoolVar(&c.jsonOutput, "json", c.jsonOutput, jsonFlagDescription)
	fs.DurationVar(&c.timeout, "timeout", c.timeout, "request timeout (e.g. 30s, 2m)")
	fs.DurationVar(&c.probeTimeout, "probe-timeout", c.probeTimeout, "health probe timeout (e.g. 3s)")
}

// fieldLogger returns the diagnostic logger, falling back to a discard
// logger so library calls never receive a typed nil.
func (c commonFlags) fieldLogger() logrus.FieldLogger {
	if c.logger != nil {
		return c.logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// loadConfig resolves the layered configuration and folds the command line
// overrides on top.
func (c commonFlags) loadConfig() (config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return cfg, err
	}
	if c.localURL != "" {
		local, err := config.NormalizeBaseURL(c.localURL)
		if err != nil {
			return cfg, fmt.Errorf("--local: %w", err)
		}
		cfg.LocalURL = local
	}
	if c.origin != "" {
		origin, err := config.NormalizeBaseURL(c.origin)
		if err != nil {
			return cfg, fmt.Errorf("--origin: %w", err)
		}
		cfg.Origin = origin
	}
	if c.timeout != 0 {
		cfg.RequestTimeout = c.timeout
	}
	if c.probeTimeout != 0 {
		cfg.ProbeTimeout = c.probeTimeout
	}
	return cfg, nil
}

// newClient wires a detector and API client from the resolved config. The
// metrics registry may be nil.
func (c commonFlags) newClient(cfg config.Config, m *metrics.Metrics) *api.Client {
	detector := hostdetect.New(hostdetect.Options{
		LocalURL:     cfg.LocalURL,
		Origin:       cfg.Origin,
		HealthPath:   cfg.HealthPath,
		ProbeTimeout: cfg.ProbeTimeout,
		Logger:       c.fieldLogger(),
		Metrics:      m,
	})
	return api.New(api.Options{
		Detector: detector,
		Timeout:  cfg.RequestTimeout,
		Logger:   c.fieldLogger(),
		Metrics:  m,
	})
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, usage func(), help *bool) error {
	fs.Usage = usage
	if err := fs.Parse(args); err != nil {
		usage()
		return err
	}
	if help != nil && *help {
		usage()
		return errHelp
	}
	return nil
}

func runDetectCommand(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("detect")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printDetectUsage, &help); err != nil {
		return err
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	client := opts.newClient(cfg, nil)
	host, err := client.ResolveHost(ctx)
	if err != nil {
		err = withNext(err, "verbactl detect --verbose")
		return withHints(err,
			fmt.Sprintf("local candidate: %s%s", cfg.LocalURL, cfg.HealthPath),
			originHint(cfg.Origin))
	}
	if opts.jsonOutput {
		return printJSON(os.Stdout, map[string]string{"host": host})
	}
	fmt.Println(host)
	return nil
}

func originHint(origin string) string {
	if origin == "" {
		return "no deployed origin configured; set --origin or origin in the config file"
	}
	return fmt.Sprintf("deployed candidate: %s", origin)
}

func runHealthCommand(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("health")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printHealthUsage, &help); err != nil {
		return err
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	client := opts.newClient(cfg, nil)
	payload := client.Health(ctx)
	if payload == nil {
		return newCLIError("backend did not answer the health check", "verbactl detect",
			"run with --verbose for probe details")
	}
	if opts.jsonOutput {
		return printJSON(os.Stdout, payload)
	}
	printDocument(os.Stdout, *payload)
	return nil
}

func runConfigCommand(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("config")
	opts := base
	opts.bind(fs)
	var help bool
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printConfigUsage, &help); err != nil {
		return err
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	client := opts.newClient(cfg, nil)
	payload := client.Config(ctx)
	if payload == nil {
		return newCLIError("backend did not return its configuration", "verbactl health",
			"run with --verbose for request details")
	}
	if opts.jsonOutput {
		return printJSON(os.Stdout, payload)
	}
	printDocument(os.Stdout, *payload)
	return nil
}

type connectCredentials struct {
	Deployment     string
	WeaviateURL    string
	WeaviateAPIKey string
}

func (c *connectCredentials) fillFrom(other connectCredentials) {
	if c.Deployment == "" {
		c.Deployment = other.Deployment
	}
	if c.WeaviateURL == "" {
		c.WeaviateURL = other.WeaviateURL
	}
	if c.WeaviateAPIKey == "" {
		c.WeaviateAPIKey = other.WeaviateAPIKey
	}
}

func runConnectCommand(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("connect")
	opts := base
	opts.bind(fs)
	var deployment string
	var weaviateURL string
	var weaviateAPIKey string
	var bundleName string
	var identityPath string
	var plaintext bool
	var help bool
	fs.StringVar(&deployment, "deployment", "", "deployment name (e.g. Local, Docker, Weaviate)")
	fs.StringVar(&weaviateURL, "weaviate-url", "", "weaviate url for the backend to connect to")
	fs.StringVar(&weaviateAPIKey, "weaviate-api-key", "", "weaviate api key")
	fs.StringVar(&bundleName, "credentials", "", "credential bundle name or path")
	fs.StringVar(&identityPath, "identity", "", "age identity file for encrypted bundles")
	fs.BoolVar(&plaintext, "plaintext", false, "allow plaintext credential bundles")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printConnectUsage, &help); err != nil {
		return err
	}

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	flagCreds := connectCredentials{
		Deployment:     deployment,
		WeaviateURL:    weaviateURL,
		WeaviateAPIKey: weaviateAPIKey,
	}
	creds, err := resolveConnectCredentials(cfg, flagCreds, bundleName, identityPath, plaintext, opts.fieldLogger())
	if err != nil {
		return err
	}
	if creds.Deployment == "" {
		printConnectUsage()
		return fmt.Errorf("deployment is required")
	}

	client := opts.newClient(cfg, nil)
	payload, err := client.Connect(ctx, creds.Deployment, creds.WeaviateURL, creds.WeaviateAPIKey)
	if err != nil {
		return withDefaultNext(err, "verbactl detect")
	}
	if rejected, reason := connectRejected(*payload); rejected {
		return newCLIError("backend refused the connection: "+reason, "verbactl config",
			"check the weaviate url and api key")
	}
	if opts.jsonOutput {
		return printJSON(os.Stdout, payload)
	}
	printDocument(os.Stdout, *payload)
	return nil
}

// resolveConnectCredentials merges connect credentials by precedence:
// command line flags, environment variables, a credential bundle, then the
// config file.
func resolveConnectCredentials(cfg config.Config, flags connectCredentials, bundleName, identityPath string, plaintext bool, logger logrus.FieldLogger) (connectCredentials, error) {
	creds := flags
	creds.fillFrom(connectCredentials{
		Deployment:     strings.TrimSpace(os.Getenv(config.EnvDeployment)),
		WeaviateURL:    strings.TrimSpace(os.Getenv(config.EnvWeaviateURL)),
		WeaviateAPIKey: strings.TrimSpace(os.Getenv(config.EnvWeaviateAPIKey)),
	})

	if bundleName == "" {
		bundleName = cfg.Credentials
	}
	if bundleName != "" {
		store := credentials.Store{
			Dir:            cfg.CredentialsDir,
			IdentityPath:   cfg.IdentityPath,
			AllowPlaintext: plaintext || cfg.AllowPlaintext,
		}
		if identityPath != "" {
			store.IdentityPath = identityPath
		}
		if store.IdentityPath != "" {
			if _, err := os.Stat(store.IdentityPath); err == nil {
				warning, err := credentials.CheckIdentityPermissions(store.IdentityPath)
				if err != nil {
					return connectCredentials{}, err
				}
				if warning != "" {
					logger.Warn(warning)
				}
			}
		}
		bundle, err := store.Load(bundleName)
		if err != nil {
			return connectCredentials{}, wrapCLIError(err,
				fmt.Sprintf("load credential bundle %q", bundleName),
				"verbactl connect --help",
				"pass --identity for encrypted bundles",
				"pass --plaintext for unencrypted yaml bundles")
		}
		creds.fillFrom(connectCredentials{
			Deployment:     bundle.Deployment,
			WeaviateURL:    bundle.WeaviateURL,
			WeaviateAPIKey: bundle.WeaviateAPIKey,
		})
	}

	creds.fillFrom(connectCredentials{
		Deployment:     cfg.Deployment,
		WeaviateURL:    cfg.WeaviateURL,
		WeaviateAPIKey: cfg.WeaviateAPIKey,
	})
	return creds, nil
}

// connectRejected reports whether the backend's connect response says the
// connection failed. Backends signal failure inside the body, not through
// the status line.
func connectRejected(payload api.ConnectPayload) (bool, string) {
	raw, ok := payload["connected"]
	if !ok {
		return false, ""
	}
	connected, ok := raw.(bool)
	if !ok || connected {
		return false, ""
	}
	reason := "no reason given"
	if msg, ok := payload["error"].(string); ok && strings.TrimSpace(msg) != "" {
		reason = strings.TrimSpace(msg)
	}
	return true, reason
}

func runImportCommand(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("import")
	opts := base
	opts.bind(fs)
	var outputDir string
	var apiURL string
	var endpoint string
	var extList string
	var ledgerPath string
	var metricsListen string
	var resume bool
	var help bool
	fs.StringVar(&outputDir, "out", "", "output directory for parsed documents")
	fs.StringVar(&apiURL, "api-url", "", "backend base URL (skips host detection)")
	fs.StringVar(&endpoint, "endpoint", "", "parse endpoint path")
	fs.StringVar(&extList, "ext", "", "comma-separated extensions to import (e.g. pdf,txt)")
	fs.StringVar(&ledgerPath, "ledger", "", "sqlite ledger recording every document")
	fs.BoolVar(&resume, "resume", false, "skip documents the ledger already marks imported")
	fs.StringVar(&metricsListen, "metrics-listen", "", "serve Prometheus metrics on this loopback address during the run")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printImportUsage, &help); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		printImportUsage()
		return fmt.Errorf("input directory is required")
	}
	inputDir := fs.Arg(0)

	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	if outputDir != "" {
		cfg.Import.OutputDir = outputDir
	}
	if endpoint != "" {
		cfg.Import.Endpoint = normalizeEndpoint(endpoint)
	}
	if extList != "" {
		cfg.Import.Extensions = splitExtensions(extList)
	}
	if ledgerPath != "" {
		cfg.Import.LedgerPath = ledgerPath
	}
	if metricsListen != "" {
		cfg.Import.MetricsListen = metricsListen
	}
	if resume && cfg.Import.LedgerPath == "" {
		cfg.Import.LedgerPath = filepath.Join(cfg.Import.OutputDir, "import.db")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	host := ""
	if apiURL != "" {
		host, err = config.NormalizeBaseURL(apiURL)
		if err != nil {
			return fmt.Errorf("--api-url: %w", err)
		}
	}

	var registry *metrics.Metrics
	if cfg.Import.MetricsListen != "" {
		registry = metrics.New()
		shutdown, err := serveMetrics(cfg.Import.MetricsListen, registry, opts.fieldLogger())
		if err != nil {
			return err
		}
		defer shutdown()
	}

	var store *ledger.Store
	if cfg.Import.LedgerPath != "" {
		store, err = ledger.Open(cfg.Import.LedgerPath)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	imp, err := importer.New(importer.Options{
		Client:     opts.newClient(cfg, registry),
		InputDir:   inputDir,
		OutputDir:  cfg.Import.OutputDir,
		Endpoint:   cfg.Import.Endpoint,
		Host:       host,
		Extensions: cfg.Import.Extensions,
		Ledger:     store,
		Resume:     resume,
		Logger:     opts.fieldLogger(),
		Metrics:    registry,
	})
	if err != nil {
		return err
	}

	summary, runErr := imp.Run(ctx)
	if opts.jsonOutput {
		if err := printJSON(os.Stdout, summary); err != nil {
			return err
		}
	} else {
		printImportSummary(os.Stdout, summary)
	}
	if runErr != nil {
		return withDefaultNext(runErr, "verbactl detect")
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d of %d documents failed", summary.Failed, summary.Total)
	}
	return nil
}

func printImportSummary(w io.Writer, summary importer.Summary) {
	fmt.Fprintf(w, "Run ID: %s\n", summary.RunID)
	fmt.Fprintf(w, "Host: %s\n", summary.Host)
	fmt.Fprintf(w, "Total: %d\n", summary.Total)
	fmt.Fprintf(w, "Imported: %d\n", summary.Processed)
	fmt.Fprintf(w, "Skipped: %d\n", summary.Skipped)
	fmt.Fprintf(w, "Failed: %d\n", summary.Failed)
}

// serveMetrics exposes the registry on a loopback listener for the length
// of an import run. The returned function shuts the listener down.
func serveMetrics(listen string, registry *metrics.Metrics, logger logrus.FieldLogger) (func(), error) {
	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listen %s: %w", listen, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	srv := &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server stopped")
		}
	}()
	logger.WithField("addr", listener.Addr().String()).Debug("serving metrics")
	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

func normalizeEndpoint(endpoint string) string {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" || strings.HasPrefix(endpoint, "/") {
		return endpoint
	}
	return "/" + endpoint
}

func splitExtensions(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		ext := strings.ToLower(strings.TrimSpace(part))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		out = append(out, ext)
	}
	return out
}

func runInitCommand(ctx context.Context, args []string, base commonFlags) error {
	fs := newFlagSet("init")
	opts := base
	opts.bind(fs)
	var force bool
	var help bool
	fs.BoolVar(&force, "force", false, "overwrite an existing config file")
	fs.BoolVar(&help, "help", false, "show help")
	fs.BoolVar(&help, "h", false, "show help")
	if err := parseFlags(fs, args, printInitUsage, &help); err != nil {
		return err
	}

	path := opts.configPath
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return fmt.Errorf("resolve config path: %w", err)
		}
		path = defaultPath
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return newCLIError(fmt.Sprintf("config already exists at %s", path), "verbactl init --force")
		}
	}

	defaults := config.DefaultConfig()
	fileCfg := config.FileConfig{
		LocalURL:              defaults.LocalURL,
		HealthPath:            defaults.HealthPath,
		ProbeTimeoutSeconds:   int(defaults.ProbeTimeout / time.Second),
		RequestTimeoutSeconds: int(defaults.RequestTimeout / time.Second),
		Import: config.FileImportConfig{
			OutputDir:  defaults.Import.OutputDir,
			Endpoint:   defaults.Import.Endpoint,
			Extensions: defaults.Import.Extensions,
		},
	}
	if opts.localURL != "" {
		local, err := config.NormalizeBaseURL(opts.localURL)
		if err != nil {
			return fmt.Errorf("--local: %w", err)
		}
		fileCfg.LocalURL = local
	}
	if opts.origin != "" {
		origin, err := config.NormalizeBaseURL(opts.origin)
		if err != nil {
			return fmt.Errorf("--origin: %w", err)
		}
		fileCfg.Origin = origin
	}
	if err := config.Write(path, fileCfg); err != nil {
		return err
	}
	if opts.jsonOutput {
		return printJSON(os.Stdout, map[string]string{"config": path})
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

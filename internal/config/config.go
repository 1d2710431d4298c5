package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/verbalab/verbactl/internal/api"
	"github.com/verbalab/verbactl/internal/hostdetect"
	"github.com/verbalab/verbactl/internal/importer"
)

const (
	configDirName  = "verbactl"
	configFileName = "config.yaml"

	envLocalURL     = "VERBACTL_LOCAL_URL"
	envOrigin       = "VERBACTL_ORIGIN"
	envCredentials  = "VERBACTL_CREDENTIALS"
	envIdentityPath = "VERBACTL_AGE_KEY"
)

// Connect credential environment overrides. Exported so the CLI can rank
// plain environment values against credential bundles.
const (
	EnvDeployment     = "VERBACTL_DEPLOYMENT"
	EnvWeaviateURL    = "VERBACTL_WEAVIATE_URL"
	EnvWeaviateAPIKey = "VERBACTL_WEAVIATE_API_KEY"
)

// Config holds resolved client settings: which hosts to probe, request
// budgets, connect credentials, and importer defaults.
type Config struct {
	ConfigPath     string
	LocalURL       string
	Origin         string
	HealthPath     string
	ProbeTimeout   time.Duration
	RequestTimeout time.Duration

	Deployment     string
	WeaviateURL    string
	WeaviateAPIKey string

	CredentialsDir string
	Credentials    string
	IdentityPath   string
	AllowPlaintext bool

	Import ImportConfig
}

// ImportConfig holds defaults for the document importer.
type ImportConfig struct {
	OutputDir     string
	Endpoint      string
	Extensions    []string
	LedgerPath    string
	MetricsListen string
}

// FileConfig represents supported YAML config overrides.
type FileConfig struct {
	LocalURL              string           `yaml:"local_url"`
	Origin                string           `yaml:"origin"`
	HealthPath            string           `yaml:"health_path"`
	ProbeTimeoutSeconds   int              `yaml:"probe_timeout_seconds"`
	RequestTimeoutSeconds int              `yaml:"request_timeout_seconds"`
	Deployment            string           `yaml:"deployment"`
	WeaviateURL           string           `yaml:"weaviate_url"`
	WeaviateAPIKey        string           `yaml:"weaviate_api_key"`
	CredentialsDir        string           `yaml:"credentials_dir"`
	Credentials           string           `yaml:"credentials"`
	IdentityPath          string           `yaml:"identity_path"`
	AllowPlaintext        *bool            `yaml:"allow_plaintext"`
	Import                FileImportConfig `yaml:"import"`
}

// FileImportConfig represents the import section of the YAML file.
type FileImportConfig struct {
	OutputDir     string   `yaml:"output_dir"`
	Endpoint      string   `yaml:"endpoint"`
	Extensions    []string `yaml:"extensions"`
	LedgerPath    string   `yaml:"ledger_path"`
	MetricsListen string   `yaml:"metrics_listen"`
}

func DefaultConfig() Config {
	return Config{
		LocalURL:       hostdetect.DefaultLocalURL,
		HealthPath:     hostdetect.DefaultHealthPath,
		ProbeTimeout:   hostdetect.DefaultProbeTimeout,
		RequestTimeout: api.DefaultRequestTimeout,
		Import: ImportConfig{
			OutputDir:  importer.DefaultOutputDir,
			Endpoint:   importer.DefaultEndpoint,
			Extensions: append([]string(nil), importer.DefaultExtensions...),
		},
	}
}

// DefaultPath returns the per-user config file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configDirName, configFileName), nil
}

// Load resolves the configuration: defaults, then the YAML file, then
// environment overrides. A missing file at the default location is fine;
// a missing file named explicitly is an error.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		if p, err := DefaultPath(); err == nil {
			path = p
		}
	}
	cfg.ConfigPath = path

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			var fileCfg FileConfig
			if err := yaml.Unmarshal(data, &fileCfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
			if err := enforcePermissions(path); err != nil {
				return cfg, err
			}
			applyFileConfig(&cfg, fileCfg)
		case errors.Is(err, os.ErrNotExist) && !explicit:
			// Defaults plus environment only.
		default:
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	applyUserDirs(&cfg)
	if err := cfg.normalize(); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyFileConfig(cfg *Config, fileCfg FileConfig) {
	if fileCfg.LocalURL != "" {
		cfg.LocalURL = fileCfg.LocalURL
	}
	if fileCfg.Origin != "" {
		cfg.Origin = fileCfg.Origin
	}
	if fileCfg.HealthPath != "" {
		cfg.HealthPath = fileCfg.HealthPath
	}
	if fileCfg.ProbeTimeoutSeconds > 0 {
		cfg.ProbeTimeout = time.Duration(fileCfg.ProbeTimeoutSeconds) * time.Second
	}
	if fileCfg.RequestTimeoutSeconds > 0 {
		cfg.RequestTimeout = time.Duration(fileCfg.RequestTimeoutSeconds) * time.Second
	}
	if fileCfg.Deployment != "" {
		cfg.Deployment = fileCfg.Deployment
	}
	if fileCfg.WeaviateURL != "" {
		cfg.WeaviateURL = fileCfg.WeaviateURL
	}
	if fileCfg.WeaviateAPIKey != "" {
		cfg.WeaviateAPIKey = fileCfg.WeaviateAPIKey
	}
	if fileCfg.CredentialsDir != "" {
		cfg.CredentialsDir = fileCfg.CredentialsDir
	}
	if fileCfg.Credentials != "" {
		cfg.Credentials = fileCfg.Credentials
	}
	if fileCfg.IdentityPath != "" {
		cfg.IdentityPath = fileCfg.IdentityPath
	}
	if fileCfg.AllowPlaintext != nil {
		cfg.AllowPlaintext = *fileCfg.AllowPlaintext
	}
	if fileCfg.Import.OutputDir != "" {
		cfg.Import.OutputDir = fileCfg.Import.OutputDir
	}
	if fileCfg.Import.Endpoint != "" {
		cfg.Import.Endpoint = fileCfg.Import.Endpoint
	}
	if len(fileCfg.Import.Extensions) > 0 {
		cfg.Import.Extensions = fileCfg.Import.Extensions
	}
	if fileCfg.Import.LedgerPath != "" {
		cfg.Import.LedgerPath = fileCfg.Import.LedgerPath
	}
	if fileCfg.Import.MetricsListen != "" {
		cfg.Import.MetricsListen = fileCfg.Import.MetricsListen
	}
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envLocalURL)); v != "" {
		cfg.LocalURL = v
	}
	if v := strings.TrimSpace(os.Getenv(envOrigin)); v != "" {
		cfg.Origin = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvDeployment)); v != "" {
		cfg.Deployment = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWeaviateURL)); v != "" {
		cfg.WeaviateURL = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvWeaviateAPIKey)); v != "" {
		cfg.WeaviateAPIKey = v
	}
	if v := strings.TrimSpace(os.Getenv(envCredentials)); v != "" {
		cfg.Credentials = v
	}
	if v := strings.TrimSpace(os.Getenv(envIdentityPath)); v != "" {
		cfg.IdentityPath = v
	}
}

// applyUserDirs fills credential paths that are still unset from the
// per-user config directory.
func applyUserDirs(cfg *Config) {
	if cfg.CredentialsDir != "" && cfg.IdentityPath != "" {
		return
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return
	}
	base := filepath.Join(dir, configDirName)
	if cfg.CredentialsDir == "" {
		cfg.CredentialsDir = filepath.Join(base, "credentials")
	}
	if cfg.IdentityPath == "" {
		cfg.IdentityPath = filepath.Join(base, "age.key")
	}
}

// Write renders fileCfg as YAML and writes it to path with owner-only
// permissions, creating parent directories as needed.
func Write(path string, fileCfg FileConfig) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("config path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := yaml.Marshal(fileCfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// enforcePermissions tightens the config file to 0600. The file may hold a
// Weaviate API key.
func enforcePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() == 0600 {
		return nil
	}
	if err := os.Chmod(path, 0600); err != nil {
		return fmt.Errorf("config must be 0600: %w", err)
	}
	return nil
}

func (c *Config) normalize() error {
	local, err := NormalizeBaseURL(c.LocalURL)
	if err != nil {
		return fmt.Errorf("local_url: %w", err)
	}
	c.LocalURL = local
	origin, err := NormalizeBaseURL(c.Origin)
	if err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	c.Origin = origin
	for i, ext := range c.Import.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Import.Extensions[i] = ext
	}
	return nil
}

// NormalizeBaseURL canonicalizes a backend base URL: a bare host gets the
// http scheme, trailing slashes are stripped, and anything beyond
// scheme://host is rejected. Empty input stays empty.
func NormalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q", raw)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("base URL scheme must be http or https")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("base URL must include host")
	}
	if parsed.Path != "" && parsed.Path != "/" {
		return "", fmt.Errorf("base URL must not include a path")
	}
	parsed.Path = ""
	parsed.RawQuery = ""
	parsed.Fragment = ""
	return strings.TrimRight(parsed.String(), "/"), nil
}

// Validate performs basic validation without exposing secrets.
func (c Config) Validate() error {
	if c.LocalURL == "" {
		return fmt.Errorf("local_url is required")
	}
	if !strings.HasPrefix(c.HealthPath, "/") {
		return fmt.Errorf("health_path must start with /")
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout_seconds must be positive")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout_seconds must be positive")
	}
	if c.Import.OutputDir == "" {
		return fmt.Errorf("import.output_dir is required")
	}
	if !strings.HasPrefix(c.Import.Endpoint, "/") {
		return fmt.Errorf("import.endpoint must start with /")
	}
	if len(c.Import.Extensions) == 0 {
		return fmt.Errorf("import.extensions must not be empty")
	}
	for _, ext := range c.Import.Extensions {
		if !strings.HasPrefix(ext, ".") {
			return fmt.Errorf("import extension %q must start with a dot", ext)
		}
	}
	if strings.TrimSpace(c.Import.MetricsListen) != "" {
		host, _, err := net.SplitHostPort(c.Import.MetricsListen)
		if err != nil {
			return fmt.Errorf("import.metrics_listen must be host:port: %w", err)
		}
		if !isLoopbackHost(host) {
			return fmt.Errorf("import.metrics_listen must be localhost-only (got %q)", host)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

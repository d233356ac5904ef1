// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/mangogate/errs"
)

const (
	// DefaultGroup is the margin group used when neither config nor GROUP names one.
	DefaultGroup = "mainnet.1"
	// DefaultRecentFillLimit bounds how many event-queue entries are scanned per market.
	DefaultRecentFillLimit = 10000

	defaultClusterURL       = "https://api.mainnet-beta.solana.com"
	defaultFillsURL         = "https://event-history-api.herokuapp.com"
	defaultMarketDataURL    = "https://serum-history.herokuapp.com"
	defaultKeypairPath      = "~/.config/solana/id.json"
	defaultAPIAddr          = ":3000"
	defaultRotationInterval = 20 * time.Second
)

var (
	defaultCandidates = []string{
		"https://api.mainnet-beta.solana.com",
		"https://lokidfxnwlabdq.main.genesysgo.net:8899",
		"https://solana-api.projectserum.com",
	}
	defaultPinnedPatterns = []string{"devnet", "localhost", "127.0.0.1"}
)

// ClusterConfig controls the ledger RPC endpoint pool and client budgets.
type ClusterConfig struct {
	URL                   string        `yaml:"url"`
	Candidates            []string      `yaml:"candidates"`
	PinnedPatterns        []string      `yaml:"pinnedPatterns"`
	RotationInterval      time.Duration `yaml:"rotationInterval"`
	Commitment            string        `yaml:"commitment"`
	MaxAccountsPerRequest int           `yaml:"maxAccountsPerRequest"`
	RequestsPerSecond     float64       `yaml:"requestsPerSecond"`
	Burst                 int           `yaml:"burst"`
	MaxRetries            int           `yaml:"maxRetries"`
	Timeout               time.Duration `yaml:"timeout"`
}

// WalletConfig identifies the signing keypair and the margin account to trade from.
type WalletConfig struct {
	KeypairPath  string `yaml:"keypairPath"`
	MangoAccount string `yaml:"mangoAccount"`
	// Keypair holds the raw secret key JSON from the KEYPAIR environment variable.
	Keypair string `yaml:"-"`
}

// ArchiveConfig selects and configures the historical data archive.
type ArchiveConfig struct {
	Driver        ArchiveDriver `yaml:"driver"`
	FillsURL      string        `yaml:"fillsURL"`
	MarketDataURL string        `yaml:"marketDataURL"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxRetries    int           `yaml:"maxRetries"`
}

// FillsConfig tunes fill reconciliation.
type FillsConfig struct {
	RecentLimit int `yaml:"recentLimit"`
}

// SignerConfig points at the transaction signing relay.
type SignerConfig struct {
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	Confirm        bool          `yaml:"confirm"`
	ConfirmTimeout time.Duration `yaml:"confirmTimeout"`
}

// Enabled reports whether a relay is configured.
func (c SignerConfig) Enabled() bool {
	return strings.TrimSpace(c.URL) != ""
}

// APIServerConfig configures the gateway's HTTP surface.
type APIServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// LoggingConfig adds an optional rotating log file next to stdout.
type LoggingConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/mangogate"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 8
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified gateway configuration sourced from YAML.
type AppConfig struct {
	Environment Environment     `yaml:"environment"`
	Group       string          `yaml:"group"`
	GroupsPath  string          `yaml:"groupsPath"`
	Groups      []GroupConfig   `yaml:"groups"`
	Cluster     ClusterConfig   `yaml:"cluster"`
	Wallet      WalletConfig    `yaml:"wallet"`
	Archive     ArchiveConfig   `yaml:"archive"`
	Fills       FillsConfig     `yaml:"fills"`
	Signer      SignerConfig    `yaml:"signer"`
	APIServer   APIServerConfig `yaml:"apiServer"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Database    DatabaseConfig  `yaml:"database"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// Load reads, normalises and validates an AppConfig from the provided YAML
// file, then applies environment overrides. Every failure is a config error.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, errs.Config("load config", errs.WithCause(err))
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, errs.Config("load config", errs.WithCause(fmt.Errorf("read config: %w", err)))
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, errs.Config("load config", errs.WithCause(fmt.Errorf("unmarshal config: %w", err)))
	}

	if cfg.GroupsPath = strings.TrimSpace(cfg.GroupsPath); cfg.GroupsPath != "" {
		path := cfg.GroupsPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(filepath.Dir(configPath), path)
		}
		groups, err := loadGroupsFile(path)
		if err != nil {
			return AppConfig{}, errs.Config("load config", errs.WithCause(err))
		}
		cfg.Groups = append(cfg.Groups, groups...)
	}

	cfg.loadEnv()
	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, errs.Config("invalid config", errs.WithCause(err))
	}
	return cfg, nil
}

// loadEnv applies operator overrides from the process environment.
func (c *AppConfig) loadEnv() {
	if v := strings.TrimSpace(os.Getenv("MANGOGATE_ENV")); v != "" {
		c.Environment = Environment(v)
	}
	if v := strings.TrimSpace(os.Getenv("GROUP")); v != "" {
		c.Group = v
	}
	if v := strings.TrimSpace(os.Getenv("CLUSTER_URL")); v != "" {
		c.Cluster.URL = v
	}
	if v := strings.TrimSpace(os.Getenv("KEYPAIR")); v != "" {
		c.Wallet.Keypair = v
	}
	if v := strings.TrimSpace(os.Getenv("MANGO_ACCOUNT")); v != "" {
		c.Wallet.MangoAccount = v
	}
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(normalizeIdentifier(string(c.Environment)))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.Group = strings.TrimSpace(c.Group)
	if c.Group == "" {
		c.Group = DefaultGroup
	}
	for i := range c.Groups {
		c.Groups[i].normalise()
	}

	c.Cluster.URL = strings.TrimSpace(c.Cluster.URL)
	if c.Cluster.URL == "" {
		c.Cluster.URL = defaultClusterURL
	}
	c.Cluster.Candidates = trimAll(c.Cluster.Candidates)
	if len(c.Cluster.Candidates) == 0 {
		c.Cluster.Candidates = append([]string(nil), defaultCandidates...)
	}
	c.Cluster.PinnedPatterns = trimAll(c.Cluster.PinnedPatterns)
	if len(c.Cluster.PinnedPatterns) == 0 {
		c.Cluster.PinnedPatterns = append([]string(nil), defaultPinnedPatterns...)
	}
	if c.Cluster.RotationInterval <= 0 {
		c.Cluster.RotationInterval = defaultRotationInterval
	}
	c.Cluster.Commitment = strings.TrimSpace(c.Cluster.Commitment)
	if c.Cluster.Commitment == "" {
		c.Cluster.Commitment = "processed"
	}
	if c.Cluster.MaxAccountsPerRequest <= 0 {
		c.Cluster.MaxAccountsPerRequest = 100
	}
	if c.Cluster.Timeout <= 0 {
		c.Cluster.Timeout = 10 * time.Second
	}

	c.Wallet.KeypairPath = strings.TrimSpace(c.Wallet.KeypairPath)
	if c.Wallet.KeypairPath == "" {
		c.Wallet.KeypairPath = defaultKeypairPath
	}
	c.Wallet.KeypairPath = expandHome(c.Wallet.KeypairPath)
	c.Wallet.MangoAccount = strings.TrimSpace(c.Wallet.MangoAccount)

	c.Archive.Driver = ArchiveDriver(normalizeIdentifier(string(c.Archive.Driver)))
	if c.Archive.Driver == "" {
		c.Archive.Driver = ArchiveHTTP
	}
	c.Archive.FillsURL = strings.TrimRight(strings.TrimSpace(c.Archive.FillsURL), "/")
	if c.Archive.FillsURL == "" {
		c.Archive.FillsURL = defaultFillsURL
	}
	c.Archive.MarketDataURL = strings.TrimRight(strings.TrimSpace(c.Archive.MarketDataURL), "/")
	if c.Archive.MarketDataURL == "" {
		c.Archive.MarketDataURL = defaultMarketDataURL
	}
	if c.Archive.Timeout <= 0 {
		c.Archive.Timeout = 15 * time.Second
	}

	if c.Fills.RecentLimit <= 0 {
		c.Fills.RecentLimit = DefaultRecentFillLimit
	}

	c.Signer.URL = strings.TrimRight(strings.TrimSpace(c.Signer.URL), "/")
	if c.Signer.Timeout <= 0 {
		c.Signer.Timeout = 30 * time.Second
	}
	if c.Signer.ConfirmTimeout <= 0 {
		c.Signer.ConfirmTimeout = 60 * time.Second
	}

	c.APIServer.Addr = strings.TrimSpace(c.APIServer.Addr)
	if c.APIServer.Addr == "" {
		c.APIServer.Addr = defaultAPIAddr
	}
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "mangogate"
	}
	c.Logging.File = strings.TrimSpace(c.Logging.File)

	c.Database.applyDefaults()
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if len(c.Groups) == 0 {
		return fmt.Errorf("groups required")
	}
	names := make(map[string]struct{}, len(c.Groups))
	for _, g := range c.Groups {
		if err := g.validate(); err != nil {
			return fmt.Errorf("group %q: %w", g.Name, err)
		}
		if _, dup := names[g.Name]; dup {
			return fmt.Errorf("duplicate group %q", g.Name)
		}
		names[g.Name] = struct{}{}
	}
	if _, ok := c.SelectedGroup(); !ok {
		return fmt.Errorf("group %q not found", c.Group)
	}

	if err := validateURL(c.Cluster.URL, "http", "https"); err != nil {
		return fmt.Errorf("cluster url: %w", err)
	}
	for _, candidate := range c.Cluster.Candidates {
		if err := validateURL(candidate, "http", "https"); err != nil {
			return fmt.Errorf("cluster candidate %q: %w", candidate, err)
		}
	}
	if c.Cluster.RequestsPerSecond < 0 {
		return fmt.Errorf("cluster requestsPerSecond must be >=0")
	}
	if c.Cluster.MaxRetries < 0 {
		return fmt.Errorf("cluster maxRetries must be >=0")
	}

	switch c.Archive.Driver {
	case ArchiveHTTP:
		if err := validateURL(c.Archive.FillsURL, "http", "https"); err != nil {
			return fmt.Errorf("archive fillsURL: %w", err)
		}
	case ArchivePostgres:
	default:
		return fmt.Errorf("archive driver must be one of http, postgres")
	}
	if err := validateURL(c.Archive.MarketDataURL, "http", "https"); err != nil {
		return fmt.Errorf("archive marketDataURL: %w", err)
	}

	if c.Signer.Enabled() {
		if err := validateURL(c.Signer.URL, "http", "https"); err != nil {
			return fmt.Errorf("signer url: %w", err)
		}
	}

	if strings.TrimSpace(c.APIServer.Addr) == "" {
		return fmt.Errorf("apiServer addr required")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging limits must be >=0")
	}

	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	return nil
}

// SelectedGroup returns the group named by Group.
func (c AppConfig) SelectedGroup() (GroupConfig, bool) {
	for _, g := range c.Groups {
		if g.Name == c.Group {
			return g, true
		}
	}
	return GroupConfig{}, false
}

func validateURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Host == "" {
		return fmt.Errorf("host required")
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return fmt.Errorf("unsupported scheme %q", u.Scheme)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}

// Copyright 2025 Certen Protocol
//
// Configuration Loader
//
// YAML configuration with environment-variable substitution, following
// pkg/config/anchor_config.go's shape: a root Config struct of nested
// ...Settings structs, a Duration wrapper for human-readable durations, and
// a LoadConfig entry point. getEnv/getEnvInt/getEnvBool mirror
// pkg/config/config.go's env-based Load().

package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root KERI node configuration.
type Config struct {
	Environment string `yaml:"environment"`

	Identity  IdentitySettings  `yaml:"identity"`
	Storage   StorageSettings   `yaml:"storage"`
	Witness   WitnessSettings   `yaml:"witness"`
	Escrow    EscrowSettings    `yaml:"escrow"`
	Reply     ReplySettings     `yaml:"reply"`
	Transport TransportSettings `yaml:"transport"`
	Database  DatabaseSettings  `yaml:"database"`
	Logging   LoggingSettings   `yaml:"logging"`
	Metrics   MetricsSettings   `yaml:"metrics"`
}

// IdentitySettings configures the controller identity this node operates as.
type IdentitySettings struct {
	Ed25519KeyPath     string `yaml:"ed25519_key_path"`
	NextEd25519KeyPath string `yaml:"next_ed25519_key_path"`
	HashCode           string `yaml:"hash_code"` // "E" (SHA-256) or "F" (Blake3), per said.Code
}

// StorageSettings selects and configures the KEL/receipt/reply backend.
type StorageSettings struct {
	Backend string `yaml:"backend"` // "badger", "goleveldb", "memdb" (cometbft-db driver names)
	DataDir string `yaml:"data_dir"`
}

// WitnessSettings configures this node's own witness role and/or the default
// witness pool it anchors new identifiers to.
type WitnessSettings struct {
	Enabled          bool     `yaml:"enabled"`
	Prefix           string   `yaml:"prefix"`
	DefaultPool      []string `yaml:"default_pool"`
	DefaultThreshold int      `yaml:"default_threshold"`
}

// EscrowSettings configures the staleness window for each escrow class
// (spec §4.6). SweepInterval is loaded and defaulted, but no component reads
// it: escrows evict stale entries when a re-attempt visits them.
type EscrowSettings struct {
	SweepInterval      Duration `yaml:"sweep_interval"`
	OutOfOrder         Duration `yaml:"out_of_order_window"`
	PartiallySigned    Duration `yaml:"partially_signed_window"`
	PartiallyWitnessed Duration `yaml:"partially_witnessed_window"`
	Delegation         Duration `yaml:"delegation_window"`
	TransReceipts      Duration `yaml:"trans_receipts_window"`
}

// ReplySettings configures the reply/KSN escrow (spec §4.7).
type ReplySettings struct {
	StaleWindow Duration `yaml:"stale_window"`
}

// TransportSettings configures the node's listen addresses for incoming
// events, receipts, and replies.
type TransportSettings struct {
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseSettings configures the optional Postgres-backed forensic tables
// (pkg/keri/storage/sqlstore), adapted from pkg/config's DatabaseSettings.
type DatabaseSettings struct {
	URL            string   `yaml:"url"`
	MaxConnections int      `yaml:"max_connections"`
	MinConnections int      `yaml:"min_connections"`
	MaxIdleTime    Duration `yaml:"max_idle_time"`
	MaxLifetime    Duration `yaml:"max_lifetime"`
	Required       bool     `yaml:"required"`
}

// LoggingSettings configures cmtlog output, matching the teacher's
// LoggingSettings fields (pkg/config/anchor_config.go).
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsSettings configures the Prometheus exporter.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// Duration wraps time.Duration for human-readable YAML values ("30s", "5m").
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultValue := ""
		if len(groups) >= 4 {
			defaultValue = groups[3]
		}
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return defaultValue
	})
}

// LoadConfig reads path, substitutes ${VAR_NAME} references against the
// environment, parses the result as YAML, and applies defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := substituteEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Identity.HashCode == "" {
		c.Identity.HashCode = "E"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "goleveldb"
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = "./data"
	}
	if c.Witness.DefaultThreshold == 0 && len(c.Witness.DefaultPool) > 0 {
		c.Witness.DefaultThreshold = len(c.Witness.DefaultPool)/2 + 1
	}
	if c.Escrow.SweepInterval == 0 {
		c.Escrow.SweepInterval = Duration(10 * time.Second)
	}
	if c.Escrow.OutOfOrder == 0 {
		c.Escrow.OutOfOrder = Duration(24 * time.Hour)
	}
	if c.Escrow.PartiallySigned == 0 {
		c.Escrow.PartiallySigned = Duration(24 * time.Hour)
	}
	if c.Escrow.PartiallyWitnessed == 0 {
		c.Escrow.PartiallyWitnessed = Duration(24 * time.Hour)
	}
	if c.Escrow.Delegation == 0 {
		c.Escrow.Delegation = Duration(24 * time.Hour)
	}
	if c.Escrow.TransReceipts == 0 {
		c.Escrow.TransReceipts = Duration(24 * time.Hour)
	}
	if c.Reply.StaleWindow == 0 {
		c.Reply.StaleWindow = Duration(24 * time.Hour)
	}
	if c.Transport.ListenAddr == "" {
		c.Transport.ListenAddr = "0.0.0.0:5621" // KERI's conventional direct-mode port
	}
	if c.Database.MaxConnections == 0 {
		c.Database.MaxConnections = 25
	}
	if c.Database.MinConnections == 0 {
		c.Database.MinConnections = 5
	}
	if c.Database.MaxIdleTime == 0 {
		c.Database.MaxIdleTime = Duration(5 * time.Minute)
	}
	if c.Database.MaxLifetime == 0 {
		c.Database.MaxLifetime = Duration(time.Hour)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = "0.0.0.0:9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that configuration required to run a node is present.
func (c *Config) Validate() error {
	var errs []string

	if c.Identity.Ed25519KeyPath == "" || strings.HasPrefix(c.Identity.Ed25519KeyPath, "${") {
		errs = append(errs, "identity.ed25519_key_path is required")
	}
	if c.Identity.HashCode != "E" && c.Identity.HashCode != "F" {
		errs = append(errs, "identity.hash_code must be \"E\" (SHA-256) or \"F\" (Blake3)")
	}
	if c.Storage.DataDir == "" {
		errs = append(errs, "storage.data_dir is required")
	}
	if c.Witness.Enabled && c.Witness.Prefix == "" {
		errs = append(errs, "witness.prefix is required when witness.enabled is true")
	}
	if c.Database.Required && (c.Database.URL == "" || strings.HasPrefix(c.Database.URL, "${")) {
		errs = append(errs, "database.url is required when database.required is true")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

// LoadFromEnv builds a Config entirely from environment variables, for
// deployments that prefer ambient configuration to a YAML file (mirrors
// pkg/config's env-based Load(), scaled down to this node's concerns).
func LoadFromEnv() *Config {
	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Identity: IdentitySettings{
			Ed25519KeyPath:     getEnv("ED25519_KEY_PATH", ""),
			NextEd25519KeyPath: getEnv("NEXT_ED25519_KEY_PATH", ""),
			HashCode:           getEnv("SAID_HASH_CODE", "E"),
		},
		Storage: StorageSettings{
			Backend: getEnv("STORAGE_BACKEND", "goleveldb"),
			DataDir: getEnv("DATA_DIR", "./data"),
		},
		Witness: WitnessSettings{
			Enabled: getEnvBool("WITNESS_ENABLED", false),
			Prefix:  getEnv("WITNESS_PREFIX", ""),
		},
		Transport: TransportSettings{
			ListenAddr: getEnv("LISTEN_ADDR", "0.0.0.0:5621"),
		},
		Database: DatabaseSettings{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNS", 25),
			MinConnections: getEnvInt("DATABASE_MIN_CONNS", 5),
			Required:       getEnvBool("DATABASE_REQUIRED", false),
		},
		Logging: LoggingSettings{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Metrics: MetricsSettings{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Addr:    getEnv("METRICS_ADDR", "0.0.0.0:9090"),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}
	cfg.applyDefaults()
	return cfg
}

package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the ILR engine.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	Database DatabaseConfig `yaml:"database"`
	Imports  ImportsConfig  `yaml:"imports"`
	Ops      OpsConfig      `yaml:"ops"`
}

// OpsConfig locates the OPS API that funding summaries are exported to.
// Exports are refused while Enabled is false.
type OpsConfig struct {
	Enabled            bool          `yaml:"enabled" env:"OPS_ENABLED" env-default:"false"`
	BaseURL            string        `yaml:"base_url" env:"OPS_BASE_URL" env-default:""`
	FundingSummaryPath string        `yaml:"funding_summary_path" env:"OPS_FUNDING_SUMMARY_PATH" env-default:"/api/v1/skills/fundingSummary"`
	Username           string        `yaml:"username" env:"OPS_USERNAME" env-default:""`
	Password           string        `yaml:"-" env:"OPS_PASSWORD"` // Secret - not in YAML
	Timeout            time.Duration `yaml:"timeout" env:"OPS_TIMEOUT" env-default:"30s"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ilr"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ilr_engine"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"10"`
	MinConnections int32  `yaml:"min_connections" env:"PGMIN_CONNECTIONS" env-default:"1"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`

	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime" env:"PGMAX_CONN_LIFETIME" env-default:"1h"`
	StatementTimeout time.Duration `yaml:"statement_timeout" env:"PGSTATEMENT_TIMEOUT" env-default:"0s"`
}

// ImportsConfig controls the upload pipeline.
type ImportsConfig struct {
	// AsyncThresholdBytes routes larger uploads to the background queue.
	AsyncThresholdBytes int64 `yaml:"async_threshold_bytes" env:"IMPORT_ASYNC_THRESHOLD_BYTES" env-default:"1000000"`
	// CheckpointRows is the number of rows per committed sub-transaction.
	CheckpointRows int `yaml:"checkpoint_rows" env:"IMPORT_CHECKPOINT_ROWS" env-default:"1000"`
	// MaxSummaryMessages caps the distinct row errors returned to the caller.
	MaxSummaryMessages int `yaml:"max_summary_messages" env:"IMPORT_MAX_SUMMARY_MESSAGES" env-default:"50"`
	// WorkerConcurrency is the number of background uploads running at once.
	WorkerConcurrency int `yaml:"worker_concurrency" env:"IMPORT_WORKER_CONCURRENCY" env-default:"1"`
	// TaskHistory is how many finished background uploads the queue remembers.
	TaskHistory int `yaml:"task_history" env:"IMPORT_TASK_HISTORY" env-default:"100"`
	// TaskMaxRetries is how often a background upload that failed to start is retried.
	TaskMaxRetries int `yaml:"task_max_retries" env:"IMPORT_TASK_MAX_RETRIES" env-default:"3"`
	// MaxUploadBytes bounds the multipart request body.
	MaxUploadBytes int64 `yaml:"max_upload_bytes" env:"IMPORT_MAX_UPLOAD_BYTES" env-default:"209715200"`

	// FormatChangeYearsStr is a comma-separated list of academic years at
	// which the occupancy report gained columns, oldest first.
	FormatChangeYearsStr string `yaml:"occupancy_format_change_years" env:"IMPORT_OCCUPANCY_FORMAT_CHANGE_YEARS" env-default:"2020,2021"`
	// FormatChangeYears is parsed from FormatChangeYearsStr (not from config file).
	FormatChangeYears []int `yaml:"-"`

	// ColumnTableFile optionally points at a YAML file that replaces the
	// built-in occupancy column thresholds. See LoadColumnTable.
	ColumnTableFile string `yaml:"column_table_file" env:"IMPORT_COLUMN_TABLE_FILE" env-default:""`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	return LoadFrom("config.yaml", version)
}

// LoadFrom reads configuration from the given YAML path with environment overrides.
func LoadFrom(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.parseComplexFields(); err != nil {
		return nil, fmt.Errorf("failed to parse config fields: %w", err)
	}

	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.Imports.validate(); err != nil {
		return nil, fmt.Errorf("invalid imports configuration: %w", err)
	}

	if err := cfg.Ops.validate(); err != nil {
		return nil, fmt.Errorf("invalid ops configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) parseComplexFields() error {
	years, err := parseYearList(c.Imports.FormatChangeYearsStr)
	if err != nil {
		return fmt.Errorf("occupancy_format_change_years: %w", err)
	}
	c.Imports.FormatChangeYears = years
	return nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

func (ic *ImportsConfig) validate() error {
	if ic.CheckpointRows < 1 {
		return fmt.Errorf("checkpoint_rows must be positive, got %d", ic.CheckpointRows)
	}
	if ic.WorkerConcurrency < 1 {
		return fmt.Errorf("worker_concurrency must be positive, got %d", ic.WorkerConcurrency)
	}
	if ic.TaskMaxRetries < 0 {
		return fmt.Errorf("task_max_retries must not be negative, got %d", ic.TaskMaxRetries)
	}
	if ic.MaxSummaryMessages < 1 {
		return fmt.Errorf("max_summary_messages must be positive, got %d", ic.MaxSummaryMessages)
	}
	for i := 1; i < len(ic.FormatChangeYears); i++ {
		if ic.FormatChangeYears[i] <= ic.FormatChangeYears[i-1] {
			return fmt.Errorf("occupancy_format_change_years must be ascending, got %v", ic.FormatChangeYears)
		}
	}
	return nil
}

func (oc *OpsConfig) validate() error {
	if !oc.Enabled {
		return nil
	}
	u, err := url.Parse(oc.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("base_url must be an absolute URL when ops is enabled, got %q", oc.BaseURL)
	}
	return nil
}

// parseYearList parses "2020,2021" into []int{2020, 2021}.
func parseYearList(value string) ([]int, error) {
	var years []int
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		year, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid year %q", part)
		}
		years = append(years, year)
	}
	return years, nil
}

// URL returns a pgx connection URL.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(ResolveHostForDocker(c.Host), strconv.Itoa(c.Port)),
		Path:   "/" + c.Database,
	}
	q := url.Values{}
	q.Set("sslmode", c.SSLMode)
	u.RawQuery = q.Encode()
	return u.String()
}

// Addr is the listen address of the HTTP server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.BindAddr, c.Port)
}

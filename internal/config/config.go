// Package config handles application configuration from a YAML file or
// environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Target roles.
const (
	RolePrimary = "primary"
	RoleReplica = "replica"
)

// Config holds all application configuration.
type Config struct {
	Vault     VaultConfig     `yaml:"vault"`
	Retention RetentionConfig `yaml:"retention"`
	Targets   []Target        `yaml:"targets"`
	Transport TransportConfig `yaml:"transport"`
	Settings  SettingsConfig  `yaml:"settings"`
	Server    ServerConfig    `yaml:"server"`
	Tracing   TracingConfig   `yaml:"tracing"`

	// Respawn protection
	RespawnProtectionHours int  `yaml:"respawn_protection_hours"`
	ForceUpload            bool `yaml:"force_upload"`

	// Archive naming
	FilePrefix string `yaml:"file_prefix"`
}

// VaultConfig controls replication across targets.
type VaultConfig struct {
	Primary          string        `yaml:"primary"`
	Replicas         []string      `yaml:"replicas"`
	ExpectedCopies   int           `yaml:"expected_copies"` // 0 means every target
	LatencyBudget    time.Duration `yaml:"latency_budget"`  // 0 disables the alert
	Parallelism      int           `yaml:"parallelism"`
	HistoryLimit     int           `yaml:"history_limit"`
	ResumeTTL        time.Duration `yaml:"resume_ttl"`
	MaxResumeEntries int           `yaml:"max_resume_entries"`
	PruneAfterUpload bool          `yaml:"prune_after_upload"`
}

// RetentionConfig holds the retention policy applied to every target.
type RetentionConfig struct {
	KeepCount        int `yaml:"keep_count"`
	KeepDays         int `yaml:"keep_days"`
	ImmutabilityDays int `yaml:"immutability_days"`
}

// Target describes one storage location receiving a replica.
type Target struct {
	Name                 string `yaml:"name"` // defaults to the region
	Provider             string `yaml:"provider"`
	AccessKey            string `yaml:"access_key"`
	SecretKey            string `yaml:"secret_key"`
	Region               string `yaml:"region"`
	Bucket               string `yaml:"bucket"`
	Prefix               string `yaml:"prefix"`
	Endpoint             string `yaml:"endpoint"`
	ServerSideEncryption string `yaml:"sse"`
	KMSKeyID             string `yaml:"kms_key_id"`
	PathStyle            bool   `yaml:"path_style"`
	ObjectLock           bool   `yaml:"object_lock"`

	// GCS
	ProjectID          string `yaml:"project_id"`
	ServiceAccountJSON string `yaml:"service_account_json"`

	// Role is derived from vault.primary.
	Role string `yaml:"-"`
}

// TransportConfig holds HTTP client settings.
type TransportConfig struct {
	Timeout        time.Duration `yaml:"timeout"`
	RequestsPerSec float64       `yaml:"requests_per_sec"`
	Burst          int           `yaml:"burst"`
	RetryAttempts  int           `yaml:"retry_attempts"`
}

// SettingsConfig selects the status store.
type SettingsConfig struct {
	Driver string `yaml:"driver"` // memory, starskey, sqlite or postgres
	DSN    string `yaml:"dsn"`
	Path   string `yaml:"path"`
}

// ServerConfig holds the health/metrics server settings.
type ServerConfig struct {
	Port       int           `yaml:"port"`
	StaleAfter time.Duration `yaml:"stale_after"` // 0 disables the last-upload age check
}

// TracingConfig holds OpenTelemetry exporter settings.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	Insecure   bool    `yaml:"insecure"`
	SampleRate float64 `yaml:"sample_rate"`
}

// ProviderName returns the normalized provider, "aws" when unset.
func (t Target) ProviderName() string {
	p := strings.ToLower(strings.TrimSpace(t.Provider))
	if p == "" {
		return "aws"
	}
	return p
}

// Load reads configuration from path, or from environment variables when
// path is empty.
func Load(path string) (*Config, error) {
	if path != "" {
		return LoadFile(path)
	}
	return FromEnv()
}

// LoadFile reads and parses a YAML configuration file. ${VAR} references are
// expanded from the environment before parsing.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.SetDefaultsAndValidate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// FromEnv builds a configuration from environment variables. The primary
// target comes from the S3_* (or GCS_*) variables; REPLICA_REGIONS adds a
// target per region using the same bucket and credentials.
func FromEnv() (*Config, error) {
	primary := Target{
		Provider:             os.Getenv("STORAGE_PROVIDER"),
		AccessKey:            os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey:            os.Getenv("AWS_SECRET_ACCESS_KEY"),
		Region:               os.Getenv("S3_REGION"),
		Bucket:               os.Getenv("S3_BUCKET"),
		Endpoint:             os.Getenv("S3_ENDPOINT"),
		Prefix:               os.Getenv("S3_PREFIX"),
		ServerSideEncryption: os.Getenv("S3_SSE"),
		KMSKeyID:             os.Getenv("S3_KMS_KEY_ID"),
		PathStyle:            getEnvBool("S3_PATH_STYLE", false),
	}
	if primary.ProviderName() == "gcs" {
		primary.Name = "gcs"
		primary.Bucket = os.Getenv("GCS_BUCKET")
		primary.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
		primary.ServiceAccountJSON = os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON")
	}

	cfg := &Config{
		Targets: []Target{primary},
		Vault: VaultConfig{
			ExpectedCopies:   getEnvInt("EXPECTED_COPIES", 0),
			LatencyBudget:    getEnvDuration("LATENCY_BUDGET", 0),
			Parallelism:      getEnvInt("REPLICA_PARALLELISM", 1),
			PruneAfterUpload: getEnvBool("PRUNE_AFTER_UPLOAD", true),
		},
		Retention: RetentionConfig{
			KeepCount:        getEnvInt("RETENTION_COUNT", 0),
			KeepDays:         getEnvInt("RETENTION_DAYS", 0), // 0 means no age limit
			ImmutabilityDays: getEnvInt("IMMUTABILITY_DAYS", 0),
		},
		Settings: SettingsConfig{
			Driver: os.Getenv("SETTINGS_DRIVER"),
			DSN:    os.Getenv("SETTINGS_DSN"),
			Path:   os.Getenv("SETTINGS_PATH"),
		},
		Server: ServerConfig{
			Port:       getEnvInt("PORT", 0),
			StaleAfter: getEnvDuration("HEALTH_STALE_AFTER", 0),
		},
		Tracing: TracingConfig{
			Enabled:  getEnvBool("TRACING_ENABLED", false),
			Endpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
			Insecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		},
		RespawnProtectionHours: getEnvInt("RESPAWN_PROTECTION_HOURS", 6),
		ForceUpload:            getEnvBool("FORCE_UPLOAD", false),
		FilePrefix:             os.Getenv("BACKUP_FILE_PREFIX"),
	}

	if regions := os.Getenv("REPLICA_REGIONS"); regions != "" && primary.ProviderName() != "gcs" {
		for _, region := range strings.Split(regions, ",") {
			region = strings.TrimSpace(region)
			if region == "" || region == primary.Region {
				continue
			}
			replica := primary
			replica.Name = ""
			replica.Region = region
			cfg.Targets = append(cfg.Targets, replica)
		}
	}

	if err := cfg.SetDefaultsAndValidate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetDefaultsAndValidate applies default values for optional fields and checks
// that all required configuration values are present.
func (c *Config) SetDefaultsAndValidate() error {
	var errs []string

	// --- Targets ---
	if len(c.Targets) == 0 {
		errs = append(errs, "at least one target is required")
	}

	names := make(map[string]bool)
	for i := range c.Targets {
		t := &c.Targets[i]
		if t.Name == "" {
			t.Name = t.Region
		}
		if t.Name == "" {
			t.Name = fmt.Sprintf("target-%d", i)
		}
		if names[t.Name] {
			errs = append(errs, fmt.Sprintf("targets[%d]: duplicate name %q", i, t.Name))
		}
		names[t.Name] = true
		errs = append(errs, t.validate(i)...)
	}

	// --- Vault ---
	if c.Vault.Primary == "" && len(c.Targets) > 0 {
		c.Vault.Primary = c.Targets[0].Name
	}
	if c.Vault.Primary != "" && !names[c.Vault.Primary] {
		errs = append(errs, fmt.Sprintf("vault.primary %q does not name a target", c.Vault.Primary))
	}
	if len(c.Vault.Replicas) == 0 {
		for _, t := range c.Targets {
			if t.Name != c.Vault.Primary {
				c.Vault.Replicas = append(c.Vault.Replicas, t.Name)
			}
		}
	}
	for _, r := range c.Vault.Replicas {
		if !names[r] {
			errs = append(errs, fmt.Sprintf("vault.replicas: %q does not name a target", r))
		}
	}
	for i := range c.Targets {
		if c.Targets[i].Name == c.Vault.Primary {
			c.Targets[i].Role = RolePrimary
		} else {
			c.Targets[i].Role = RoleReplica
		}
	}

	if c.Vault.ExpectedCopies < 0 {
		errs = append(errs, "vault.expected_copies must be non-negative")
	}
	if c.Vault.Parallelism <= 0 {
		c.Vault.Parallelism = 1
	}
	if c.Vault.HistoryLimit == 0 {
		c.Vault.HistoryLimit = 50
	}
	if c.Vault.ResumeTTL == 0 {
		c.Vault.ResumeTTL = 7 * 24 * time.Hour
	}
	if c.Vault.MaxResumeEntries == 0 {
		c.Vault.MaxResumeEntries = 100
	}

	// --- Retention ---
	if c.Retention.KeepCount < 0 {
		errs = append(errs, "retention.keep_count must be non-negative")
	}
	if c.Retention.KeepDays < 0 {
		errs = append(errs, "retention.keep_days must be non-negative")
	}
	if c.Retention.ImmutabilityDays < 0 {
		errs = append(errs, "retention.immutability_days must be non-negative")
	}

	// --- Transport ---
	if c.Transport.Timeout == 0 {
		c.Transport.Timeout = 60 * time.Second
	}
	if c.Transport.Burst == 0 {
		c.Transport.Burst = 1
	}
	if c.Transport.RetryAttempts == 0 {
		c.Transport.RetryAttempts = 3
	}

	// --- Settings ---
	if c.Settings.Driver == "" {
		c.Settings.Driver = "starskey"
	}
	switch c.Settings.Driver {
	case "memory":
	case "starskey":
		if c.Settings.Path == "" {
			c.Settings.Path = ".vault/state"
		}
	case "sqlite":
		if c.Settings.DSN == "" {
			c.Settings.DSN = "vault.db"
		}
	case "postgres":
		if c.Settings.DSN == "" {
			errs = append(errs, "settings.dsn is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("settings.driver %q must be memory, starskey, sqlite or postgres", c.Settings.Driver))
	}

	// --- Server ---
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}

	// --- Tracing ---
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = "localhost:4317"
	}
	if c.Tracing.SampleRate == 0 {
		c.Tracing.SampleRate = 1.0
	}

	if c.RespawnProtectionHours < 0 {
		errs = append(errs, "respawn_protection_hours must be non-negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func (t *Target) validate(i int) []string {
	var errs []string
	prefix := fmt.Sprintf("targets[%d] (%s)", i, t.Name)

	switch t.ProviderName() {
	case "aws", "s3", "wasabi", "generic", "minio", "s3sdk":
		if t.AccessKey == "" {
			errs = append(errs, prefix+": access_key is required")
		}
		if t.SecretKey == "" {
			errs = append(errs, prefix+": secret_key is required")
		}
		if t.Bucket == "" {
			errs = append(errs, prefix+": bucket is required")
		}
		if t.Region == "" && t.Endpoint == "" {
			errs = append(errs, prefix+": region is required unless endpoint is set")
		}
		if (t.ProviderName() == "generic" || t.ProviderName() == "minio") && t.Endpoint == "" {
			errs = append(errs, prefix+": endpoint is required for the generic provider")
		}
		switch t.ServerSideEncryption {
		case "", "AES256", "aws:kms":
		default:
			errs = append(errs, prefix+": sse must be AES256 or aws:kms")
		}
	case "gcs":
		if t.Bucket == "" {
			errs = append(errs, prefix+": bucket is required")
		}
		if t.ProjectID == "" {
			errs = append(errs, prefix+": project_id is required")
		}
	default:
		errs = append(errs, fmt.Sprintf("%s: invalid provider %q", prefix, t.Provider))
	}
	return errs
}

// GetRespawnProtectionDuration returns the respawn protection as a Duration.
func (c *Config) GetRespawnProtectionDuration() time.Duration {
	return time.Duration(c.RespawnProtectionHours) * time.Hour
}

// Target returns the target named name.
func (c *Config) Target(name string) (Target, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return Target{}, false
}

// getEnvInt gets an integer from environment variable with a default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean from environment variable with a default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration from environment variable with a default value.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

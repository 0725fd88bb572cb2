package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"STORAGE_PROVIDER", "AWS_ACCESS_KEY_ID", "AWS_SECRET_ACCESS_KEY", "S3_REGION", "S3_BUCKET",
	"S3_ENDPOINT", "S3_PREFIX", "S3_SSE", "S3_KMS_KEY_ID", "S3_PATH_STYLE", "GCS_BUCKET",
	"GOOGLE_PROJECT_ID", "GOOGLE_SERVICE_ACCOUNT_JSON", "EXPECTED_COPIES", "LATENCY_BUDGET",
	"REPLICA_PARALLELISM", "PRUNE_AFTER_UPLOAD", "RETENTION_COUNT", "RETENTION_DAYS",
	"IMMUTABILITY_DAYS", "SETTINGS_DRIVER", "SETTINGS_DSN", "SETTINGS_PATH", "PORT",
	"TRACING_ENABLED", "OTEL_EXPORTER_OTLP_ENDPOINT", "OTEL_EXPORTER_OTLP_INSECURE",
	"HEALTH_STALE_AFTER", "RESPAWN_PROTECTION_HOURS", "FORCE_UPLOAD", "BACKUP_FILE_PREFIX", "REPLICA_REGIONS",
}

func setEnv(t *testing.T, env map[string]string) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
	for k, v := range env {
		t.Setenv(k, v)
	}
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{
			name: "valid S3 config",
			env: map[string]string{
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
				"S3_BUCKET":             "test-bucket",
				"S3_REGION":             "us-east-1",
			},
			wantErr: false,
		},
		{
			name: "valid GCS config",
			env: map[string]string{
				"STORAGE_PROVIDER":            "gcs",
				"GCS_BUCKET":                  "test-bucket",
				"GOOGLE_PROJECT_ID":           "test-project",
				"GOOGLE_SERVICE_ACCOUNT_JSON": `{"type": "service_account"}`,
			},
			wantErr: false,
		},
		{
			name: "missing credentials",
			env: map[string]string{
				"S3_BUCKET": "test-bucket",
				"S3_REGION": "us-east-1",
			},
			wantErr: true,
		},
		{
			name: "invalid STORAGE_PROVIDER",
			env: map[string]string{
				"STORAGE_PROVIDER":      "ftp",
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
				"S3_BUCKET":             "test-bucket",
			},
			wantErr: true,
		},
		{
			name: "S3 with custom endpoint",
			env: map[string]string{
				"STORAGE_PROVIDER":      "generic",
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
				"S3_BUCKET":             "test-bucket",
				"S3_ENDPOINT":           "http://minio:9000",
			},
			wantErr: false,
		},
		{
			name: "negative retention",
			env: map[string]string{
				"AWS_ACCESS_KEY_ID":     "test-key",
				"AWS_SECRET_ACCESS_KEY": "test-secret",
				"S3_BUCKET":             "test-bucket",
				"S3_REGION":             "us-east-1",
				"RETENTION_DAYS":        "-1",
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.env)

			_, err := FromEnv()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFromEnv_ReplicaRegions(t *testing.T) {
	setEnv(t, map[string]string{
		"AWS_ACCESS_KEY_ID":     "test-key",
		"AWS_SECRET_ACCESS_KEY": "test-secret",
		"S3_BUCKET":             "test-bucket",
		"S3_REGION":             "us-east-1",
		"REPLICA_REGIONS":       "eu-west-1, us-east-1,ap-south-1",
		"RETENTION_COUNT":       "7",
	})

	cfg, err := FromEnv()
	require.NoError(t, err)

	require.Len(t, cfg.Targets, 3)
	assert.Equal(t, "us-east-1", cfg.Vault.Primary)
	assert.Equal(t, []string{"eu-west-1", "ap-south-1"}, cfg.Vault.Replicas)
	assert.Equal(t, RolePrimary, cfg.Targets[0].Role)
	assert.Equal(t, RoleReplica, cfg.Targets[1].Role)
	assert.Equal(t, "test-bucket", cfg.Targets[2].Bucket, "replica inherits bucket")
	assert.Equal(t, "test-key", cfg.Targets[2].AccessKey, "replica inherits credentials")
	assert.Equal(t, 7, cfg.Retention.KeepCount)
	assert.Equal(t, 6, cfg.RespawnProtectionHours)
}

func TestLoadFile(t *testing.T) {
	setEnv(t, nil)
	t.Setenv("VAULT_TEST_SECRET", "from-env")

	yamlDoc := `
vault:
  primary: east
  expected_copies: 2
  latency_budget: 1500ms
  parallelism: 2
retention:
  keep_count: 5
  keep_days: 30
  immutability_days: 7
targets:
  - name: east
    provider: aws
    access_key: AKID
    secret_key: ${VAULT_TEST_SECRET}
    region: us-east-1
    bucket: vault-east
    sse: AES256
  - name: west
    provider: wasabi
    access_key: AKID
    secret_key: ${VAULT_TEST_SECRET}
    region: us-west-1
    bucket: vault-west
settings:
  driver: memory
transport:
  timeout: 30s
`
	path := filepath.Join(t.TempDir(), "vault.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yamlDoc), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Targets[0].SecretKey)
	assert.Equal(t, 1500*time.Millisecond, cfg.Vault.LatencyBudget)
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, []string{"west"}, cfg.Vault.Replicas)
	assert.Equal(t, 50, cfg.Vault.HistoryLimit)
	assert.Equal(t, 8080, cfg.Server.Port)

	tgt, ok := cfg.Target("west")
	require.True(t, ok)
	assert.Equal(t, RoleReplica, tgt.Role)
}

func TestSetDefaultsAndValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Targets: []Target{{
				Name: "east", AccessKey: "a", SecretKey: "s", Region: "us-east-1", Bucket: "b",
			}},
			Settings: SettingsConfig{Driver: "memory"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{name: "no targets", mutate: func(c *Config) { c.Targets = nil }, wantErr: "at least one target"},
		{name: "unknown primary", mutate: func(c *Config) { c.Vault.Primary = "nowhere" }, wantErr: "vault.primary"},
		{name: "unknown replica", mutate: func(c *Config) { c.Vault.Replicas = []string{"nowhere"} }, wantErr: "vault.replicas"},
		{name: "bad sse", mutate: func(c *Config) { c.Targets[0].ServerSideEncryption = "DES" }, wantErr: "sse"},
		{name: "generic without endpoint", mutate: func(c *Config) { c.Targets[0].Provider = "generic" }, wantErr: "endpoint is required"},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Settings.Driver = "postgres" }, wantErr: "settings.dsn"},
		{name: "unknown driver", mutate: func(c *Config) { c.Settings.Driver = "redis" }, wantErr: "settings.driver"},
		{
			name: "duplicate names",
			mutate: func(c *Config) {
				c.Targets = append(c.Targets, c.Targets[0])
			},
			wantErr: "duplicate name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)

			err := cfg.SetDefaultsAndValidate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGetRespawnProtectionDuration(t *testing.T) {
	cfg := &Config{RespawnProtectionHours: 6}
	assert.Equal(t, 6*time.Hour, cfg.GetRespawnProtectionDuration())
}

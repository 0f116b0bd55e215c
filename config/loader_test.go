// Loader and validation tests.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "medium", cfg.Scan.Aggressivity)
	assert.Equal(t, 4, cfg.Scan.ConcurrentTargets)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, "memory", cfg.History.Backend)
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "medium", cfg.Scan.Aggressivity)
	assert.Equal(t, 4, cfg.Scan.ConcurrentTargets)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
scan:
  aggressivity: "high"
  severities: ["high", "critical"]
  concurrent_targets: 10
  requests_delay_ms: 50

log:
  level: "debug"
  format: "console"

history:
  backend: "sql"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, "high", cfg.Scan.Aggressivity)
	assert.Equal(t, []string{"high", "critical"}, cfg.Scan.Severities)
	assert.Equal(t, 10, cfg.Scan.ConcurrentTargets)
	assert.Equal(t, 50, cfg.Scan.RequestsDelayMs)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, "sql", cfg.History.Backend)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"SCANNER_SCAN_AGGRESSIVITY":       "low",
		"SCANNER_SCAN_CONCURRENT_TARGETS": "2",
		"SCANNER_SCAN_REQUESTS_DELAY_MS":  "100",
		"SCANNER_LOG_LEVEL":               "warn",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "low", cfg.Scan.Aggressivity)
	assert.Equal(t, 2, cfg.Scan.ConcurrentTargets)
	assert.Equal(t, 100, cfg.Scan.RequestsDelayMs)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
scan:
  aggressivity: "low"
  concurrent_targets: 3
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	os.Setenv("SCANNER_SCAN_CONCURRENT_TARGETS", "9")
	defer os.Unsetenv("SCANNER_SCAN_CONCURRENT_TARGETS")

	cfg, err := NewLoader().
		WithConfigPath(configPath).
		Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Scan.ConcurrentTargets)
	// YAML value retained where env did not override.
	assert.Equal(t, "low", cfg.Scan.Aggressivity)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("MYAPP_SCAN_CONCURRENT_TARGETS", "6")
	defer os.Unsetenv("MYAPP_SCAN_CONCURRENT_TARGETS")

	cfg, err := NewLoader().
		WithEnvPrefix("MYAPP").
		Load()
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Scan.ConcurrentTargets)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Scan.ConcurrentTargets < 1 {
			return assert.AnError
		}
		return nil
	}

	os.Setenv("SCANNER_SCAN_CONCURRENT_TARGETS", "0")
	defer os.Unsetenv("SCANNER_SCAN_CONCURRENT_TARGETS")

	_, err := NewLoader().
		WithValidator(validator).
		Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().
		WithConfigPath("/non/existent/path/config.yaml").
		Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "medium", cfg.Scan.Aggressivity)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
scan:
  concurrent_targets: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	_, err = NewLoader().
		WithConfigPath(configPath).
		Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "negative concurrent targets",
			modify: func(c *Config) {
				c.Scan.ConcurrentTargets = -1
			},
			wantErr: true,
		},
		{
			name: "invalid aggressivity",
			modify: func(c *Config) {
				c.Scan.Aggressivity = "extreme"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name: "sqlite DSN",
			config: DatabaseConfig{
				Driver: "sqlite",
				Name:   "/path/to/db.sqlite",
			},
			expected: "/path/to/db.sqlite",
		},
		{
			name: "unknown driver",
			config: DatabaseConfig{
				Driver: "unknown",
			},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
scan:
  concurrent_targets: 5
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 5, cfg.Scan.ConcurrentTargets)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	os.Setenv("SCANNER_SCAN_CONCURRENT_TARGETS", "11")
	defer os.Unsetenv("SCANNER_SCAN_CONCURRENT_TARGETS")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 11, cfg.Scan.ConcurrentTargets)
}

// Package config loads the scanner's configuration: engine tuning knobs
// (ScanConfig), logging, telemetry, and execution-history sink selection.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("SCANNER").
//	    Load()
//
// Priority: defaults -> YAML file -> environment variables.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/caido-community/scanner/scan"
)

// Config is the full configuration tree for one scanner process.
type Config struct {
	Scan      ScanConfig         `yaml:"scan" env:"SCAN"`
	Log       LogConfig          `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig    `yaml:"telemetry" env:"TELEMETRY"`
	History   HistoryStoreConfig `yaml:"history" env:"HISTORY"`
}

// ScanConfig is the YAML/env-facing mirror of scan.ScanConfig. It stores
// aggressivity and severities as strings since those serialize more
// naturally than the engine's typed enums; ToEngineConfig converts.
type ScanConfig struct {
	Aggressivity string   `yaml:"aggressivity" env:"AGGRESSIVITY"`
	Severities   []string `yaml:"severities" env:"SEVERITIES"`
	InScopeOnly  bool     `yaml:"in_scope_only" env:"IN_SCOPE_ONLY"`

	ConcurrentTargets  int `yaml:"concurrent_targets" env:"CONCURRENT_TARGETS"`
	ConcurrentChecks   int `yaml:"concurrent_checks" env:"CONCURRENT_CHECKS"`
	ConcurrentRequests int `yaml:"concurrent_requests" env:"CONCURRENT_REQUESTS"`
	RequestsDelayMs    int `yaml:"requests_delay_ms" env:"REQUESTS_DELAY_MS"`

	ScanTimeoutSeconds  int `yaml:"scan_timeout_seconds" env:"SCAN_TIMEOUT_SECONDS"`
	CheckTimeoutSeconds int `yaml:"check_timeout_seconds" env:"CHECK_TIMEOUT_SECONDS"`
}

// ToEngineConfig parses the string-typed fields into scan.ScanConfig's
// enums, rejecting unrecognized aggressivity or severity names.
func (s ScanConfig) ToEngineConfig() (scan.ScanConfig, error) {
	aggressivity, err := parseAggressivity(s.Aggressivity)
	if err != nil {
		return scan.ScanConfig{}, err
	}

	severities := make([]scan.Severity, 0, len(s.Severities))
	for _, name := range s.Severities {
		sev, err := parseSeverity(name)
		if err != nil {
			return scan.ScanConfig{}, err
		}
		severities = append(severities, sev)
	}

	return scan.ScanConfig{
		Aggressivity:        aggressivity,
		Severities:          severities,
		InScopeOnly:         s.InScopeOnly,
		ConcurrentTargets:   s.ConcurrentTargets,
		ConcurrentChecks:    s.ConcurrentChecks,
		ConcurrentRequests:  s.ConcurrentRequests,
		RequestsDelayMs:     s.RequestsDelayMs,
		ScanTimeoutSeconds:  s.ScanTimeoutSeconds,
		CheckTimeoutSeconds: s.CheckTimeoutSeconds,
	}, nil
}

func parseAggressivity(name string) (scan.Aggressivity, error) {
	switch strings.ToLower(name) {
	case "low":
		return scan.AggressivityLow, nil
	case "medium":
		return scan.AggressivityMedium, nil
	case "high":
		return scan.AggressivityHigh, nil
	default:
		return 0, fmt.Errorf("unknown aggressivity %q", name)
	}
}

func parseSeverity(name string) (scan.Severity, error) {
	switch scan.Severity(strings.ToLower(name)) {
	case scan.SeverityInfo, scan.SeverityLow, scan.SeverityMedium, scan.SeverityHigh, scan.SeverityCritical:
		return scan.Severity(strings.ToLower(name)), nil
	default:
		return "", fmt.Errorf("unknown severity %q", name)
	}
}

// LogConfig tunes the zap logger every component derives its child logger
// from.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig tunes internal/telemetry's OTel providers.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// HistoryStoreConfig selects and configures the execution-history
// persistence sink. Backend "memory" (the default the core's invariants
// are tested against) needs no further configuration; "sql" and "redis"
// read the matching sub-config.
type HistoryStoreConfig struct {
	Backend string         `yaml:"backend" env:"BACKEND"`
	SQL     DatabaseConfig `yaml:"sql" env:"SQL"`
	Redis   RedisConfig    `yaml:"redis" env:"REDIS"`
}

// RedisConfig configures historystore/redisstore's go-redis client.
type RedisConfig struct {
	Addr         string `yaml:"addr" env:"ADDR"`
	Password     string `yaml:"password" env:"PASSWORD"`
	DB           int    `yaml:"db" env:"DB"`
	PoolSize     int    `yaml:"pool_size" env:"POOL_SIZE"`
	MinIdleConns int    `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
}

// DatabaseConfig configures historystore/sql's gorm connection.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DRIVER"`
	Host            string        `yaml:"host" env:"HOST"`
	Port            int           `yaml:"port" env:"PORT"`
	User            string        `yaml:"user" env:"USER"`
	Password        string        `yaml:"password" env:"PASSWORD"`
	Name            string        `yaml:"name" env:"NAME"`
	SSLMode         string        `yaml:"ssl_mode" env:"SSL_MODE"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN returns the driver-appropriate connection string.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// Loader loads Config via the builder pattern.
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader creates a loader with the default env prefix "SCANNER".
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "SCANNER",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath sets the YAML file to load.
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix sets the environment variable prefix.
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator adds a validation hook run after loading.
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load merges defaults, the YAML file (if any) and environment overrides,
// then runs every registered validator.
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// MustLoad loads Config from path, panicking on failure.
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv loads Config from defaults plus environment variables only.
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate checks the aggregate config for obviously invalid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Scan.ConcurrentTargets < 0 {
		errs = append(errs, "scan.concurrent_targets must not be negative")
	}
	if c.Scan.ConcurrentChecks < 0 {
		errs = append(errs, "scan.concurrent_checks must not be negative")
	}
	if c.Scan.ConcurrentRequests < 0 {
		errs = append(errs, "scan.concurrent_requests must not be negative")
	}
	if _, err := parseAggressivity(c.Scan.Aggressivity); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

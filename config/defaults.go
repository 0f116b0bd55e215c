// Sensible defaults for every configuration section.
package config

import "time"

// DefaultConfig returns the baseline configuration: medium aggressivity,
// every severity enabled, conservative concurrency, no scan timeout, a
// 30-second per-check timeout, an in-memory history store.
func DefaultConfig() *Config {
	return &Config{
		Scan:      DefaultScanConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		History:   DefaultHistoryStoreConfig(),
	}
}

// DefaultScanConfig returns the default engine tuning knobs.
func DefaultScanConfig() ScanConfig {
	return ScanConfig{
		Aggressivity:        "medium",
		Severities:          []string{"info", "low", "medium", "high", "critical"},
		InScopeOnly:         true,
		ConcurrentTargets:   4,
		ConcurrentChecks:    8,
		ConcurrentRequests:  4,
		RequestsDelayMs:     0,
		ScanTimeoutSeconds:  0,
		CheckTimeoutSeconds: 30,
	}
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig returns the default telemetry configuration:
// disabled, so the Scan Runner uses noop tracer/meter providers.
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "scanner",
		SampleRate:   0.1,
	}
}

// DefaultHistoryStoreConfig returns the in-memory history store, the
// default the core's invariants are tested against.
func DefaultHistoryStoreConfig() HistoryStoreConfig {
	return HistoryStoreConfig{
		Backend: "memory",
		SQL:     DefaultDatabaseConfig(),
		Redis:   DefaultRedisConfig(),
	}
}

// DefaultRedisConfig returns the default Redis sink configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig returns the default SQL sink configuration.
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "scanner",
		Password:        "",
		Name:            "scanner.db",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

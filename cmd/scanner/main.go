// Scanner command-line entry point.
//
// Usage:
//
//	scanner run [--config config.yaml] [--url url] [--metrics-addr addr]
//	scanner version
//	scanner migrate up|down|status|version|goto|force|reset|prune
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/caido-community/scanner/checks/csp"
	"github.com/caido-community/scanner/config"
	"github.com/caido-community/scanner/internal/telemetry"
	"github.com/caido-community/scanner/scan"
	"github.com/caido-community/scanner/scan/eventbus"
	"github.com/caido-community/scanner/scan/hostsdk"
	"github.com/caido-community/scanner/scan/metrics"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "run":
		runScan(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// runScan seeds a MemoryHost with one captured request, registers the
// bundled CSP checks, and runs a scan against it. It exists to exercise
// the engine end to end without a real host application.
func runScan(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	seedURL := fs.String("url", "https://example.com/", "URL to seed as the scan target")
	metricsAddr := fs.String("metrics-addr", "", "If set, serve Prometheus metrics and a websocket event relay on this address")
	fs.Parse(args)

	targetURL, err := url.Parse(*seedURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --url: %v\n", err)
		os.Exit(1)
	}
	targetHost, targetPort, useTLS := targetURL.Hostname(), targetURL.Port(), targetURL.Scheme != "http"
	if targetPort == "" {
		if useTLS {
			targetPort = "443"
		} else {
			targetPort = "80"
		}
	}
	portNum, err := strconv.Atoi(targetPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid port in --url: %v\n", err)
		os.Exit(1)
	}
	path := targetURL.Path
	if path == "" {
		path = "/"
	}

	loader := config.NewLoader()
	if *configPath != "" {
		loader = loader.WithConfigPath(*configPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Log)
	defer logger.Sync()

	otelProviders, err := telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	} else {
		defer otelProviders.Shutdown(context.Background())
	}

	engineCfg, err := cfg.Scan.ToEngineConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid scan config: %v\n", err)
		os.Exit(1)
	}

	host := hostsdk.NewMemoryHost(true)
	requestID := "seed-1"
	host.Seed(requestID, hostsdk.RequestResponse{
		Request: &hostsdk.MemoryRequest{IDValue: requestID, HostValue: targetHost, PortValue: portNum, PathValue: path, MethodValue: "GET", TLSValue: useTLS},
		Response: &hostsdk.MemoryResponse{
			CodeValue:    200,
			HeaderValues: map[string][]string{"Content-Type": {"text/html"}},
			BodyValue:    []byte("<html><head><script src=\"/app.js\"></script></head><body>hello</body></html>"),
		},
	})

	registry := scan.NewRegistry(csp.Checks())
	plan, err := registry.Plan()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to plan checks: %v\n", err)
		os.Exit(1)
	}

	runner := scan.NewRunner(host, plan, engineCfg)
	runner.OnAny(func(evt scan.Event) {
		logger.Debug("scan event", zap.String("kind", string(evt.Kind)))
	})

	collector := metrics.NewCollector("scanner", logger)
	collector.Bind(runner, 1)

	relay := eventbus.NewRelay(logger)
	defer relay.Close()
	runner.OnAny(relay.Handle)

	if *metricsAddr != "" {
		serveDebugEndpoints(*metricsAddr, relay, logger)
	}

	result := runner.Run(context.Background(), []string{requestID})
	logger.Info("scan finished",
		zap.String("kind", string(result.Kind)),
		zap.Int("findings", len(result.Findings)),
	)
	for _, f := range result.Findings {
		fmt.Printf("[%s] %s: %s\n", f.Severity, f.Name, f.Description)
	}
}

// serveDebugEndpoints starts a background HTTP server exposing Prometheus
// metrics at /metrics and the websocket event relay at /events. It's
// best-effort: a bind failure is logged, not fatal, since these endpoints
// are a convenience for watching the demo scan, not required for it to run.
func serveDebugEndpoints(addr string, relay *eventbus.Relay, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/events", relay)

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("debug endpoint server stopped", zap.Error(err))
		}
	}()
	logger.Info("serving debug endpoints", zap.String("addr", addr))
}

func printVersion() {
	fmt.Printf("scanner %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`scanner - check-execution engine demo CLI

Usage:
  scanner <command> [options]

Commands:
  run       Seed a captured request and run the bundled checks against it
  migrate   Execution-history database migration commands
  version   Show version information
  help      Show this help message

Options for 'run':
  --config <path>       Path to configuration file (YAML)
  --url <url>           URL to present as the seeded target (cosmetic only)
  --metrics-addr <addr> Serve Prometheus metrics and a websocket event relay

Examples:
  scanner run
  scanner run --config config.yaml
  scanner migrate up
  scanner migrate status
  scanner version`)
}

func initLogger(cfg config.LogConfig) *zap.Logger {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == "console" {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	zapConfig := zap.Config{
		Level:            zap.NewAtomicLevelAt(level),
		Development:      cfg.Format == "console",
		Encoding:         cfg.Format,
		EncoderConfig:    encoderConfig,
		OutputPaths:      cfg.OutputPaths,
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build(
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	if err != nil {
		logger, _ = zap.NewProduction()
	}

	return logger
}

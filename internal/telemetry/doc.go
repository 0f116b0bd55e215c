// Package telemetry wraps OpenTelemetry SDK initialization, giving the
// scanner a single TracerProvider/MeterProvider setup. When telemetry
// is disabled, providers are noop and no external service is contacted.
package telemetry

package gateway

import "time"

// Telemetry receives time-series points from a session.
// *influxdb.Client satisfies it.
type Telemetry interface {
	WriteValue(gateway string, node, child uint8, valueType, value string, at time.Time)
	WriteAckTimeout(gateway string, node, child uint8, valueType string, at time.Time)
	WriteSessionState(gateway, from, to, reason string, at time.Time)
}

type noopTelemetry struct{}

func (noopTelemetry) WriteValue(string, uint8, uint8, string, string, time.Time) {}
func (noopTelemetry) WriteAckTimeout(string, uint8, uint8, string, time.Time)    {}
func (noopTelemetry) WriteSessionState(string, string, string, string, time.Time) {}

// Logger is the logging interface used throughout the package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

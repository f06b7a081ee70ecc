// Package logger provides structured logging functionality for the application.
//
// It utilizes Go's standard library log/slog package to implement structured JSON
// or text logging with configurable log levels, optional rotated file output,
// and a per-context logger so job bodies log with their task attributes.
package logger

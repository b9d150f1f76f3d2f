// Package log provides structured logging for Pulse components.
//
// It wraps log/slog with a typed Field API so call sites stay compact:
//
//	logger := log.NewLogger(log.WithLevel(log.InfoLevel), log.WithFormat(log.FormatText))
//	logger = logger.WithComponent("batcher")
//	logger.Info("batch flushed", log.Str("target", "conn1"), log.Int("count", 12))
//
// Level and format default from PULSE_LOG_LEVEL / PULSE_LOG_FORMAT via
// ApplyConfig. Fatal logs at error level and exits the process.
package log

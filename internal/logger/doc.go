// Package logger provides a simple, thread-safe logging facility.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, optional scope, and message.
// The scope is usually a training session ID, so every line produced by one
// run can be grepped together.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Server started")
//	logger.Info(sessionID, "Step %d resolved", order)
//	logger.Error(sessionID, "Persist failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug(sessionID, "Debug message")
//
// The level is normally taken from configuration:
//
//	lvl, err := logger.ParseLevel(cfg.LogLevel)
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
// Timer callbacks of a running session log from their own goroutine.
package logger

// Package logger provides a small leveled logger shared by every component
// of the dispatch server.
//
// Each line carries a timestamp, the level, an optional source tag and the
// message. The source tag names the goroutine role that wrote the line, such
// as "listener", "worker#2" or "queue", and is passed explicitly by the caller.
//
// # Basic Usage
//
//	logger.Info("", "server started")
//	logger.Info("worker#1", "served %s", remote)
//	logger.Error("listener", "accept failed: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("queue", "wait timed out")
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// ParseLevel maps the "log_level" configuration value onto a Level.
//
// # Fatal
//
// Fatal writes an ERROR line and terminates the process with exit code 1.
// It is reserved for states with no defined recovery.
//
// # Thread Safety
//
// All logging operations are protected by a mutex and safe for concurrent use.
package logger

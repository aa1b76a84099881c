// Package logging provides structured logging using uber/zap.
//
// Two modes are available:
//   - Production: JSON lines for machine parsing
//   - Development: Colored console output for interactive use
//
// All output goes to stderr so that command results on stdout stay clean.
// Components receive a *Logger by injection and derive a named child:
//
//	logger := logging.FromSettings(cfg.Logging.Level, cfg.Logging.Development)
//	sessions := session.NewStore(kv, connector, logger.Named("session"))
//	logger.Info("Archive written", zap.String("path", archive.Path))
//
// Credentials (passwords, tokens) are never passed to the logger.
package logging

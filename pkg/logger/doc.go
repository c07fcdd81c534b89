// Package logger provides the structured logging interface used across unsplashdl.
//
// It wraps zerolog with:
// - Levels (Debug, Info, Warn, Error, Fatal)
// - Structured fields, errors and context
// - Coloured console output, JSON output and an optional log file
// - A global logger plus injectable instances
// - Printf adapters for the browser automation callbacks
// - Nop and capturing test loggers
//
// Basic Usage:
//
//	err := logger.Initialize(&cfg.Logging)
//
//	logger.Info("Run started")
//	logger.WithField("entry_id", id).Info("Download completed")
//
// Components take a Logger so tests can pass logger.NewTestLogger():
//
//	log := logger.GetLogger().WithField("component", "coordinator")
//	log.InfoWithFields("entry finished", map[string]interface{}{
//	    "entry_id": id,
//	    "attempts": 2,
//	})
package logger

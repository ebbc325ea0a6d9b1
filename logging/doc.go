// Package logging provides the minimal Logger interface used throughout
// SupportMesh together with slog and zerolog adapters.
//
// Components accept a Logger through their options and default to
// NoOpLogger. Log messages use dotted event names followed by key/value
// pairs:
//
//	logger.Info("orchestrator.process.start", "session", id, "mode", mode)
//
// New selects a backend from Config:
//
//	logger, err := logging.New(logging.Config{Backend: "zerolog", Level: logging.LogLevelDebug})
package logging

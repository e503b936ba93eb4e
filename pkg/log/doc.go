/*
Package log provides structured logging for vboxwrapper using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific child loggers, configurable log levels, and helper
functions for common logging patterns. All logs include timestamps and support
filtering by severity level.

# Usage

Initializing the logger:

	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

Simple logging:

	log.Info("control server started")
	log.Error("failed to reach the VirtualBox API")

Structured logging:

	log.Logger.Warn().
		Err(err).
		Str("instance", "R1").
		Int("attempt", 3).
		Msg("cannot lock the machine, retrying")

Component loggers:

	serverLog := log.WithComponent("server")
	serverLog.Info().Msg("accepting connections")

	vmLog := log.WithInstance("R1")
	vmLog.Info().Msg("VM started")

# Integration Points

This package integrates with:

  - pkg/server: logs connections, requests and replies
  - pkg/registry: logs instance creation and removal
  - pkg/controller: logs lifecycle transitions and backend retries
  - pkg/console: logs console pipe proxy sessions
  - cmd/vboxwrapper: initializes the global logger from flags/config
*/
package log

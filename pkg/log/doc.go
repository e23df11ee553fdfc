/*
Package log provides structured logging for amino using zerolog.

A single package-level zerolog.Logger is configured once by the CLI via Init
and shared by every component. Components derive child loggers that carry a
"component" field, and optionally the storage partition or session id they
operate on:

	logger := log.WithComponent("syncer")
	logger.Info().Int("processed", n).Msg("Sync cycle completed")

	plog := log.WithPartition("coalescer", "session")
	slog := log.WithSessionID(rec.SessionID)

# Output

JSON output is intended for the service mode (`amino serve --log-json`);
console output with RFC3339 timestamps is the default for interactive CLI
use. The level is global (zerolog.SetGlobalLevel), so Init must run before
components are constructed if debug output is wanted during startup.

# Conventions

  - Messages start with a capital letter and describe the event, not the code
  - Identifiers go into fields (action_id, tier, url, key), never into the message
  - Errors use .Err(err); recoverable failures log at Warn, data loss risks at Error
*/
package log

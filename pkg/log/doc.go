/*
Package log provides structured logging for the dispatch platform using
zerolog.

The package wraps zerolog to give JSON-structured logging with
component-specific child loggers, a configurable level, and helper functions
for the job/worker context fields that show up throughout the dispatcher and
worker agent.

# Architecture

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                     │          │
	│  │  - zerolog.Logger instance                   │          │
	│  │  - initialized via log.Init()                │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                      │          │
	│  │  - Level: debug/info/warn/error              │          │
	│  │  - JSONOutput: JSON vs console format        │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Context Loggers                      │          │
	│  │  - WithComponent("scheduler")                │          │
	│  │  - WithJobID("job-abc123")                   │          │
	│  │  - WithWorkerID("worker-1")                  │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Log Levels

  - Debug: verbose development/troubleshooting detail
  - Info: default production level
  - Warn: situations that may need attention but aren't failures
  - Error: a failed operation that needs investigating
  - Fatal: unrecoverable startup error, exits via os.Exit(1)

# Usage

	import "github.com/cuemby/dispatch-core/pkg/log"

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	log.Info("dispatcher starting")

	schedLog := log.WithComponent("scheduler")
	schedLog.Info().Msg("run complete")

	jobLog := log.WithJobID("job-123")
	jobLog.Error().Err(err).Msg("execution failed")

	workerLog := log.WithWorkerID("worker-1")
	workerLog.Warn().Msg("heartbeat overdue")

# Integration Points

  - pkg/scheduler: logs phase failures and per-run errors
  - pkg/dispatcher: logs request handling errors
  - pkg/worker: logs job execution, polling, and heartbeat activity
  - cmd/dispatcherd, cmd/worker-agent: wire log.Init() from CLI flags

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
*/
package log

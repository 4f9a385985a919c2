// Package logging hands out per-module slog loggers whose levels can change
// while the process runs.
//
// Initialize installs the configuration once; GetLogger returns the logger of
// a module and tags every record with module=<name>. Each logger writes to
// stdout (or Config.Output), to the systemd journal when its socket exists,
// and to an in-memory History.
//
// # Levels
//
// Every module logger owns a slog.LevelVar. ApplyLevels rewrites those vars
// in place, so loggers handed out before a reload follow the new levels
// without being fetched again. The server calls it from a file watcher on
// the [logging] table:
//
//	[logging]
//	level = "info"
//	format = "json"
//	registry = "debug"
//	streamcli = "warn"
//
// Keys other than level and format are module names. Format only takes
// effect on Initialize.
//
// # History
//
// History keeps the most recent entries, each numbered in write order.
// Since(seq) returns what a reader has not seen yet, which lets the log
// stream of the API replay the backlog and then continue from
// SetLogCallback without duplicates.
//
// Journal fields are the upper-cased attribute keys under the agentexec
// identifier, e.g. journalctl -t agentexec PROCESS_ID=<id>.
package logging

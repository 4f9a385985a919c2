// Package cmd holds the agentexec subcommands.
package cmd

import (
	"log/slog"
	"os"

	"github.com/smazurov/agentexec/internal/logging"
	"github.com/smazurov/agentexec/internal/process"
	"github.com/spf13/cobra"
)

// commandFlags are shared by the subcommands that run processes.
type commandFlags struct {
	logLevel string
	logJSON  bool
	policy   string
	grace    string
}

func (f *commandFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.logLevel, "log-level", "warn", "Logging level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&f.logJSON, "log-json", false, "Use JSON log format")
	cmd.Flags().StringVar(&f.policy, "policy", "auto", "Timing policy (auto, standard, compat)")
	cmd.Flags().StringVar(&f.grace, "grace", "", "Wait between SIGTERM and SIGKILL, e.g. 5s")
}

// initLogging writes logs to stderr; stdout carries command output.
func (f *commandFlags) initLogging(module string) *slog.Logger {
	cfg := logging.Config{
		Level:  f.logLevel,
		Format: "text",
		Output: os.Stderr,
	}
	if f.logJSON {
		cfg.Format = "json"
	}
	logging.Initialize(cfg)
	return logging.GetLogger(module)
}

func (f *commandFlags) basePolicy() process.Policy {
	switch f.policy {
	case "standard":
		return process.StandardPolicy()
	case "compat":
		return process.CompatPolicy()
	default:
		return process.DetectPolicy()
	}
}

// exitCode maps a finished command to the status of this process.
func exitCode(res process.Result) int {
	switch {
	case res.Aborted:
		return 130
	case res.ExitCode >= 0:
		return res.ExitCode
	default:
		return 1
	}
}

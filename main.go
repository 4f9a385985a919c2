package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/smazurov/agentexec/cmd"
	"github.com/smazurov/agentexec/internal/api"
	"github.com/smazurov/agentexec/internal/config"
	"github.com/smazurov/agentexec/internal/events"
	"github.com/smazurov/agentexec/internal/logging"
	"github.com/smazurov/agentexec/internal/metrics/exporters"
	"github.com/smazurov/agentexec/internal/process"
	"github.com/smazurov/agentexec/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Server settings
	Port string `help:"Port to listen on" short:"p" default:":8090" toml:"server.port" env:"SERVER_PORT"`

	// Auth settings, disabled when either is empty
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Policy settings; durations accept "90s" or a number of seconds
	PolicyMode        string `help:"Timing policy (auto, standard, compat)" default:"auto" toml:"policy.mode" env:"POLICY_MODE"`
	PolicyTimeout     string `help:"Override the streaming subprocess timeout" default:"" toml:"policy.timeout" env:"POLICY_TIMEOUT"`
	PolicyGraceWindow string `help:"Override the wait between SIGTERM and SIGKILL" default:"" toml:"policy.grace_window" env:"POLICY_GRACE_WINDOW"`
	PolicyHeartbeat   string `help:"Override the liveness probe interval" default:"" toml:"policy.heartbeat_interval" env:"POLICY_HEARTBEAT_INTERVAL"`

	// Registry settings
	RegistryGraceWindow string `help:"Wait between SIGTERM and SIGKILL for tracked processes" default:"5s" toml:"registry.grace_window" env:"REGISTRY_GRACE_WINDOW"`

	// Execution settings
	ExecutionShell        string `help:"Shell used by host terminals" default:"/bin/sh" toml:"execution.shell" env:"EXECUTION_SHELL"`
	ExecutionThrottle     string `help:"Minimum interval between output notifications" default:"500ms" toml:"execution.throttle_interval" env:"EXECUTION_THROTTLE_INTERVAL"`
	ExecutionDrainTimeout string `help:"Wait for trailing output after exit" default:"1s" toml:"execution.drain_timeout" env:"EXECUTION_DRAIN_TIMEOUT"`
	ExecutionMaxTerminals int    `help:"Maximum pooled terminals, 0 for no limit" default:"0" toml:"execution.max_terminals" env:"EXECUTION_MAX_TERMINALS"`

	// Observability settings
	MetricsEnabled bool `help:"Serve /metrics and the metrics stream" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel     string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat    string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingRegistry  string `help:"Registry logging level" default:"" toml:"logging.registry" env:"LOGGING_REGISTRY"`
	LoggingExecution string `help:"Execution logging level" default:"" toml:"logging.execution" env:"LOGGING_EXECUTION"`
	LoggingPool      string `help:"Terminal pool logging level" default:"" toml:"logging.pool" env:"LOGGING_POOL"`
	LoggingStreamcli string `help:"Streaming client logging level" default:"" toml:"logging.streamcli" env:"LOGGING_STREAMCLI"`
	LoggingAPI       string `help:"API logging level" default:"" toml:"logging.api" env:"LOGGING_API"`
	LoggingHTTP      string `help:"HTTP request logging level" default:"" toml:"logging.http" env:"LOGGING_HTTP"`
}

func (o *Options) loggingConfig() logging.Config {
	modules := map[string]string{}
	for module, level := range map[string]string{
		"registry":  o.LoggingRegistry,
		"execution": o.LoggingExecution,
		"pool":      o.LoggingPool,
		"streamcli": o.LoggingStreamcli,
		"api":       o.LoggingAPI,
		"http":      o.LoggingHTTP,
	} {
		if level != "" {
			modules[module] = level
		}
	}
	return logging.Config{
		Level:   o.LoggingLevel,
		Format:  o.LoggingFormat,
		Modules: modules,
	}
}

func (o *Options) policy(logger *slog.Logger) process.Policy {
	var base process.Policy
	switch o.PolicyMode {
	case "standard":
		base = process.StandardPolicy()
	case "compat":
		base = process.CompatPolicy()
	default:
		base = process.DetectPolicy()
	}
	return base.WithOverrides(process.Policy{
		Timeout:           o.duration(logger, "policy.timeout", o.PolicyTimeout),
		GraceWindow:       o.duration(logger, "policy.grace_window", o.PolicyGraceWindow),
		HeartbeatInterval: o.duration(logger, "policy.heartbeat_interval", o.PolicyHeartbeat),
	})
}

// registryGrace is the kill window of tracked processes. It is independent
// of the policy, whose window only applies to streaming client teardown.
func (o *Options) registryGrace(logger *slog.Logger) time.Duration {
	if d := o.duration(logger, "registry.grace_window", o.RegistryGraceWindow); d > 0 {
		return d
	}
	return process.DefaultGraceWindow
}

// duration parses an optional duration option; invalid values are ignored.
func (o *Options) duration(logger *slog.Logger, name, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := config.ParseDuration(value)
	if err != nil {
		logger.Warn("Ignoring invalid duration", "option", name, "value", value, "error", err)
		return 0
	}
	return d
}

func main() {
	var cli humacli.CLI

	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// Load configuration automatically; explicit flags win
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		logging.Initialize(opts.loggingConfig())
		logger := logging.GetLogger("main")

		policy := opts.policy(logger)
		logger.Info("Timing policy selected",
			"compat", policy.Compat,
			"timeout", policy.Timeout,
			"grace_window", policy.GraceWindow,
			"heartbeat_interval", policy.HeartbeatInterval)

		// Create event bus for in-process event handling
		eventBus := events.New()

		registry := process.NewRegistry(process.RegistryOptions{
			GraceWindow: opts.registryGrace(logger),
			Publisher:   eventBus,
			Logger:      logging.GetLogger("registry"),
		})
		if attachErr := registry.Attach(eventBus); attachErr != nil {
			logger.Error("Failed to attach registry to session events", "error", attachErr)
			os.Exit(1)
		}

		pool := process.NewPool(&process.PoolOptions{
			Shell:            opts.ExecutionShell,
			Registry:         registry,
			MaxTerminals:     opts.ExecutionMaxTerminals,
			ThrottleInterval: opts.duration(logger, "execution.throttle_interval", opts.ExecutionThrottle),
			DrainTimeout:     opts.duration(logger, "execution.drain_timeout", opts.ExecutionDrainTimeout),
			Publisher:        eventBus,
			Logger:           logging.GetLogger("pool"),
		})

		apiOpts := &api.Options{
			AuthUsername: opts.AuthUsername,
			AuthPassword: opts.AuthPassword,
			Registry:     registry,
			Pool:         pool,
			EventBus:     eventBus,
		}

		var sseExporter *exporters.SSEExporter
		if opts.MetricsEnabled {
			apiOpts.PrometheusHandler = exporters.HTTPHandler()
			sseExporter = exporters.NewSSEExporter(eventBus)
		}

		server := api.NewServer(apiOpts)
		notifier := systemd.NewNotifier(logging.GetLogger("systemd"))

		var watcher *config.Watcher[logging.Config]

		hooks.OnStart(func() {
			if _, statErr := os.Stat(opts.Config); statErr == nil {
				w, watchErr := config.WatchLogging(opts.Config, logger)
				if watchErr != nil {
					logger.Warn("Failed to watch config for logging changes", "error", watchErr)
				} else {
					watcher = w
				}
			}

			if sseExporter != nil {
				sseExporter.Start(context.Background())
			}

			notifier.Ready()

			logger.Info("Starting HTTP server", "port", opts.Port)
			if startErr := server.Start(opts.Port); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
				logger.Error("Failed to start HTTP server", "error", startErr)
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			logger.Info("Shutting down server")
			notifier.Stopping()

			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if stopErr := server.Stop(ctx); stopErr != nil {
				logger.Error("Error stopping HTTP server", "error", stopErr)
			}

			// Abort running commands after the server stops accepting new ones
			if closeErr := pool.CloseAll(ctx); closeErr != nil {
				logger.Warn("Executions still running at shutdown", "error", closeErr)
			}
			if closeErr := registry.Close(); closeErr != nil {
				logger.Warn("Failed to kill tracked processes", "error", closeErr)
			}

			if sseExporter != nil {
				sseExporter.Stop()
			}
			if watcher != nil {
				_ = watcher.Stop()
			}
		})
	})

	cli.Root().AddCommand(cmd.CreateExecCmd())
	cli.Root().AddCommand(cmd.CreateStreamCmd())

	cli.Run()
}

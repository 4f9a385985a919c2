package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/smazurov/agentexec/internal/config"
	"github.com/smazurov/agentexec/internal/logging"
	"github.com/smazurov/agentexec/internal/process"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// execOptions describes one exec invocation.
type execOptions struct {
	Dir      string
	TaskID   string
	Shell    string
	Command  string
	Throttle time.Duration
	Grace    time.Duration
}

// CreateExecCmd creates the exec command.
func CreateExecCmd() *cobra.Command {
	var flags commandFlags
	var dir, taskID, shell, throttle string

	cmd := &cobra.Command{
		Use:   "exec [flags] -- command...",
		Short: "Run a command in a host terminal",
		Long: `Runs a command line through the terminal shell, streaming its combined output ` +
			`and reporting the directory the shell ended in. Interrupting the command kills its whole process tree.`,
		Args: cobra.MinimumNArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			logger := flags.initLogging("exec")

			opts := execOptions{
				Dir:     dir,
				TaskID:  taskID,
				Shell:   shell,
				Command: strings.Join(args, " "),
			}
			if d, err := config.ParseDuration(throttle); err == nil {
				opts.Throttle = d
			}
			grace, err := execGrace(flags.grace)
			if err != nil {
				logger.Error("Invalid grace window", "value", flags.grace, "error", err)
				os.Exit(2)
			}
			opts.Grace = grace
			if opts.Dir == "" {
				opts.Dir, _ = os.Getwd()
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
			defer stop()

			res, err := runExec(ctx, os.Stdout, opts)
			if err != nil {
				logger.Error("Command failed to start", "error", err)
				os.Exit(1)
			}
			logger.Info("Command finished",
				"exit_code", res.ExitCode,
				"signal", res.Signal,
				"aborted", res.Aborted,
				"directory", res.Directory,
				"duration", res.Duration)
			os.Exit(exitCode(res))
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&dir, "cwd", "", "Working directory (default: current directory)")
	cmd.Flags().StringVar(&taskID, "task", "", "Task identifier of the terminal")
	cmd.Flags().StringVar(&shell, "shell", process.DefaultShell, "Shell that runs the command line")
	cmd.Flags().StringVar(&throttle, "throttle", "100ms", "Minimum interval between output flushes")

	return cmd
}

// execGrace is the abort window of exec: the --grace value when given,
// the registry default otherwise. The timing policy does not apply.
func execGrace(flag string) (time.Duration, error) {
	if flag == "" {
		return process.DefaultGraceWindow, nil
	}
	return config.ParseDuration(flag)
}

// runExec runs opts.Command through a one-terminal pool and copies output
// to w as it arrives. Cancelling ctx aborts the command.
func runExec(ctx context.Context, w io.Writer, opts execOptions) (process.Result, error) {
	registry := process.NewRegistry(process.RegistryOptions{
		GraceWindow: opts.Grace,
		Logger:      logging.GetLogger("registry"),
	})
	defer registry.Close()

	pool := process.NewPool(&process.PoolOptions{
		Shell:            opts.Shell,
		Registry:         registry,
		MaxTerminals:     1,
		ThrottleInterval: opts.Throttle,
		Logger:           logging.GetLogger("pool"),
	})
	defer pool.CloseAll(context.Background())

	term, err := pool.Acquire(opts.Dir, opts.TaskID)
	if err != nil {
		return process.Result{}, err
	}
	exec := process.NewExecution(process.ExecutionOptions{
		Terminal:         term,
		Registry:         registry,
		GraceWindow:      opts.Grace,
		ThrottleInterval: opts.Throttle,
		Logger:           logging.GetLogger("execution"),
	})
	events, err := exec.Listen()
	if err != nil {
		return process.Result{}, err
	}
	if err := exec.Start(opts.Command); err != nil {
		return process.Result{}, err
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return exec.Result(), nil
			}
			if ev.Kind == process.EventLine {
				if _, err := io.WriteString(w, ev.Output); err != nil {
					exec.Abort()
				}
			}
		case <-ctx.Done():
			logging.GetLogger("exec").Warn("Interrupted, aborting command")
			exec.Abort()
			ctx = context.Background()
		}
	}
}

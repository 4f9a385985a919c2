package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"

	"github.com/smazurov/agentexec/internal/config"
	"github.com/smazurov/agentexec/internal/logging"
	"github.com/smazurov/agentexec/internal/process"
	"github.com/smazurov/agentexec/internal/streamcli"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

// recordPrinter selects and formats records for output.
type recordPrinter struct {
	types []string
	field string
}

func (p recordPrinter) print(w io.Writer, rec streamcli.Record) error {
	if len(p.types) > 0 && !slices.Contains(p.types, rec.Type) {
		return nil
	}
	if p.field != "" {
		v := rec.Get(p.field)
		if !v.Exists() {
			return nil
		}
		_, err := fmt.Fprintln(w, v.String())
		return err
	}
	_, err := fmt.Fprintln(w, rec.String())
	return err
}

// CreateStreamCmd creates the stream command.
func CreateStreamCmd() *cobra.Command {
	var flags commandFlags
	var dir, sessionID, commandLine, timeout, field string
	var salvage, types []string
	var passStdin bool

	cmd := &cobra.Command{
		Use:   "stream [flags] -- program [args...]",
		Short: "Run a program that streams JSON records",
		Long: `Runs a program that writes newline-delimited JSON on stdout and prints each record ` +
			`as it arrives. Split and truncated frames are reassembled; the process tree is torn down ` +
			`on timeout, interrupt or when the program misbehaves.`,
		Run: func(_ *cobra.Command, args []string) {
			logger := flags.initLogging("stream")

			argv := args
			if commandLine != "" {
				parsed, err := process.SplitCommand(commandLine)
				if err != nil {
					logger.Error("Invalid command line", "error", err)
					os.Exit(2)
				}
				argv = append(parsed, args...)
			}
			if len(argv) == 0 {
				logger.Error("No program given")
				os.Exit(2)
			}

			policy := flags.basePolicy()
			if timeout != "" {
				d, err := config.ParseDuration(timeout)
				if err != nil {
					logger.Error("Invalid timeout", "value", timeout, "error", err)
					os.Exit(2)
				}
				policy.Timeout = d
			}
			if flags.grace != "" {
				// Zero is kept: it tears the program down with SIGKILL at once.
				d, err := config.ParseDuration(flags.grace)
				if err != nil {
					logger.Error("Invalid grace window", "value", flags.grace, "error", err)
					os.Exit(2)
				}
				policy.GraceWindow = d
			}

			client := streamcli.New(streamcli.ClientOptions{
				Registry: process.NewRegistry(process.RegistryOptions{
					GraceWindow: policy.GraceWindow,
					Logger:      logging.GetLogger("registry"),
				}),
				Policy:       policy,
				SalvageTypes: salvage,
				Logger:       logging.GetLogger("streamcli"),
			})

			opts := streamcli.Options{
				Path:      argv[0],
				Args:      argv[1:],
				Dir:       dir,
				SessionID: sessionID,
			}
			if passStdin {
				opts.Stdin = os.Stdin
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, unix.SIGTERM)
			defer stop()

			err := runStream(ctx, os.Stdout, client, opts, recordPrinter{types: types, field: field})
			os.Exit(streamExitCode(err, logger.Error))
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&dir, "cwd", "", "Working directory of the program")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session the process is tracked under")
	cmd.Flags().StringVarP(&commandLine, "command", "C", "", "Program and arguments as one shell-quoted string")
	cmd.Flags().StringVar(&timeout, "timeout", "", "Override the policy timeout, e.g. 10m")
	cmd.Flags().StringSliceVar(&salvage, "salvage", streamcli.DefaultSalvageTypes, "Record types recovered from a truncated final frame")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only print records of these types")
	cmd.Flags().StringVar(&field, "field", "", "Print this JSON path of each record instead of the record")
	cmd.Flags().BoolVar(&passStdin, "stdin", false, "Pass this process's stdin to the program")

	return cmd
}

// runStream prints every record of one run. Write failures stop the run,
// which tears the program down.
func runStream(
	ctx context.Context,
	w io.Writer,
	client *streamcli.Client,
	opts streamcli.Options,
	printer recordPrinter,
) error {
	for rec, err := range client.Run(ctx, opts) {
		if err != nil {
			return err
		}
		if err := printer.print(w, rec); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}
	return nil
}

// streamExitCode maps a run error to the status of this process.
func streamExitCode(err error, report func(msg string, args ...any)) int {
	if err == nil {
		return 0
	}
	var exitErr *streamcli.ExitError
	switch {
	case errors.As(err, &exitErr):
		report("Program failed", "error", err)
		if exitErr.Code > 0 {
			return exitErr.Code
		}
		return 1
	case errors.Is(err, streamcli.ErrTimeout):
		report("Program timed out", "error", err)
		return 124
	case errors.Is(err, context.Canceled):
		return 130
	default:
		report("Stream failed", "error", err)
		return 1
	}
}

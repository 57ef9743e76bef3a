package fdwctl

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/duckmesh/wrappers/internal/config"
	"github.com/duckmesh/wrappers/internal/datum"
	"github.com/duckmesh/wrappers/internal/fdw"
	"github.com/duckmesh/wrappers/internal/observability"
	"github.com/duckmesh/wrappers/internal/registry"
	"github.com/duckmesh/wrappers/internal/stats"
)

type Options struct {
	Config   config.Config
	Registry *registry.Registry
	Secrets  fdw.SecretResolver
	Stats    *stats.Recorder
	Logger   *slog.Logger
	// OpenVault overrides how the vault commands reach the secrets database.
	OpenVault func(context.Context) (*sql.DB, error)
	Stdin     io.Reader
	Stdout    io.Writer
	Stderr    io.Writer
}

// usageError marks failures caused by how the command was invoked.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return usageError{err: fmt.Errorf(format, args...)}
}

type globalFlags struct {
	wrapper    string
	server     string
	options    []string
	printStats bool
	format     string
}

type runner struct {
	opts  Options
	flags globalFlags
	codec *datum.Codec
}

// Run executes one fdwctl invocation and returns the process exit code: 0 on
// success, 1 when the wrapper fails and 2 on invalid usage.
func Run(ctx context.Context, args []string, defaults Options) int {
	if defaults.Stdout == nil {
		defaults.Stdout = io.Discard
	}
	if defaults.Stderr == nil {
		defaults.Stderr = io.Discard
	}
	if defaults.Registry == nil {
		defaults.Registry = registry.New(registry.ConfigFrom(defaults.Config))
	}
	if defaults.Stats == nil {
		defaults.Stats = stats.NewRecorder(stats.Prometheus{})
	}
	if defaults.Logger == nil {
		defaults.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &runner{opts: defaults, codec: datum.New()}
	root := r.rootCommand()
	root.SetArgs(args)
	if defaults.Stdin != nil {
		root.SetIn(defaults.Stdin)
	}
	root.SetOut(defaults.Stdout)
	root.SetErr(defaults.Stderr)

	cmd, err := root.ExecuteContextC(ctx)
	if err == nil {
		return 0
	}
	_, _ = fmt.Fprintf(defaults.Stderr, "error: %v\n", err)
	var usage usageError
	if errors.As(err, &usage) {
		_, _ = fmt.Fprintln(defaults.Stderr)
		_, _ = fmt.Fprint(defaults.Stderr, cmd.UsageString())
		return 2
	}
	return 1
}

func (r *runner) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "fdwctl",
		Short:         "Drive a foreign data wrapper from the command line",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usageErrorf("unknown command %q", args[0])
			}
			return usageErrorf("a command is required")
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{err: err}
	})

	pf := root.PersistentFlags()
	pf.StringVar(&r.flags.wrapper, "wrapper", "", fmt.Sprintf("wrapper name, one of %s", r.opts.Registry.Options()))
	pf.StringVar(&r.flags.server, "server", "fdwctl", "foreign server name")
	pf.StringArrayVarP(&r.flags.options, "option", "o", nil, "server option as key=value (repeatable)")
	pf.BoolVar(&r.flags.printStats, "print-stats", false, "print wrapper telemetry to stderr when done")
	pf.StringVar(&r.flags.format, "format", formatTable, "output format: table or json")

	root.AddCommand(
		r.scanCommand(),
		r.importSchemaCommand(),
		r.insertCommand(),
		r.updateCommand(),
		r.deleteCommand(),
		r.vaultCommand(),
	)
	return root
}

// session is one opened wrapper plus the context its operations run under.
type session struct {
	ctx    context.Context
	inst   *fdw.Instance
	logger *slog.Logger
	cancel context.CancelFunc
}

func (r *runner) open(ctx context.Context) (*session, error) {
	if strings.TrimSpace(r.flags.wrapper) == "" {
		return nil, usageErrorf("--wrapper is required, expected one of %s", r.opts.Registry.Options())
	}
	if r.flags.format != formatTable && r.flags.format != formatJSON {
		return nil, usageErrorf("unknown format %q, expected %q or %q", r.flags.format, formatTable, formatJSON)
	}
	serverOpts, err := parseOptions(r.flags.options)
	if err != nil {
		return nil, err
	}

	ctx = observability.ContextWithTraceID(ctx, observability.NewTraceID())
	cancel := context.CancelFunc(func() {})
	if timeout := r.opts.Config.Remote.QueryTimeout; timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	logger := observability.LoggerFromContext(ctx, r.opts.Logger)

	env := fdw.Env{Secrets: r.opts.Secrets, Stats: r.opts.Stats, Logger: logger}
	server := fdw.ForeignServer{Name: r.flags.server, Wrapper: r.flags.wrapper, Options: serverOpts}
	inst, err := r.opts.Registry.Open(ctx, server, env)
	if err != nil {
		cancel()
		return nil, err
	}
	return &session{ctx: ctx, inst: inst, logger: logger, cancel: cancel}, nil
}

// finish releases the wrapper and joins any close failure into err.
func (r *runner) finish(s *session, err error) error {
	closeErr := s.inst.Close(context.WithoutCancel(s.ctx))
	s.cancel()
	if err != nil {
		stats.ObserveError(s.inst.Name(), err)
		s.logger.Error("command failed", slog.Any("error", err))
	}
	if r.flags.printStats {
		writeStats(r.opts.Stderr, r.opts.Stats.Snapshot())
	}
	return errors.Join(err, closeErr)
}

// Command cwtail tails CloudWatch Logs streams into local and remote sinks.
//
// Logging:
//   - Base logger is created here from the log configuration
//   - Logger is passed to all components via dependency injection
//   - No global slog configuration (no slog.SetDefault)
//   - Components scope loggers with their own attributes
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"cwtail/internal/checkpoint"
	"cwtail/internal/config"
	"cwtail/internal/discovery"
	"cwtail/internal/home"
	"cwtail/internal/logging"
	"cwtail/internal/logsource/cloudwatch"
	"cwtail/internal/metrics"
	"cwtail/internal/orchestrator"
	"cwtail/internal/registry"
	"cwtail/internal/sink"
	"cwtail/internal/sink/analytics"
	sinkfile "cwtail/internal/sink/file"
	sinkkafka "cwtail/internal/sink/kafka"
	sinkmqtt "cwtail/internal/sink/mqtt"
	"cwtail/internal/stream"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "cwtail",
		Short:         "Tail CloudWatch Logs streams",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(rootCmd.PersistentFlags())

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Discover streams and tail them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cmd, dryRun)
		},
	}
	runCmd.Flags().Bool("dry-run", false, "keep checkpoints in memory only")

	streamsCmd := &cobra.Command{
		Use:   "streams",
		Short: "List the streams one discovery pass would tail",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listStreams(cmd)
		},
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect the checkpoint",
	}
	checkpointShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the stored checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showCheckpoint(cmd)
		},
	}
	checkpointCmd.AddCommand(checkpointShowCmd)

	for _, c := range []*cobra.Command{streamsCmd, checkpointShowCmd} {
		c.Flags().StringP("output", "o", "table", "output format: table or json")
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}

	rootCmd.AddCommand(runCmd, streamsCmd, checkpointCmd, versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// environment is what every command needs before doing real work.
type environment struct {
	cfg    config.Config
	home   home.Dir
	logger *slog.Logger
}

// setup resolves the home directory, loads and validates the
// configuration and builds the logger.
func setup(cmd *cobra.Command) (environment, error) {
	flags := cmd.Flags()
	homeFlag, _ := flags.GetString("home")
	hd, err := resolveHome(homeFlag)
	if err != nil {
		return environment{}, fmt.Errorf("resolve home directory: %w", err)
	}

	path, _ := flags.GetString("config")
	if path == "" && config.FileExists(hd.ConfigPath()) {
		path = hd.ConfigPath()
	}
	cfg, err := config.Load(path, flags)
	if err != nil {
		return environment{}, err
	}
	if err := cfg.Validate(); err != nil {
		return environment{}, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Home != homeFlag {
		if hd, err = resolveHome(cfg.Home); err != nil {
			return environment{}, fmt.Errorf("resolve home directory: %w", err)
		}
	}

	logger, err := buildLogger(cfg.Log, os.Stderr)
	if err != nil {
		return environment{}, err
	}
	return environment{cfg: cfg, home: hd, logger: logger}, nil
}

func resolveHome(flag string) (home.Dir, error) {
	if flag != "" {
		return home.New(flag), nil
	}
	return home.Default()
}

// buildLogger creates the base logger with per-component level overrides.
func buildLogger(cfg config.LogConfig, w io.Writer) (*slog.Logger, error) {
	return logging.New(logging.Options{
		Format:     cfg.Format,
		Level:      cfg.Level,
		Components: cfg.Components,
	}, w)
}

func awsSettings(a config.AWSConfig, logger *slog.Logger) cloudwatch.Config {
	return cloudwatch.Config{
		Region:          a.Region,
		Profile:         a.Profile,
		AccessKeyID:     a.AccessKeyID,
		SecretAccessKey: a.SecretAccessKey,
		SessionToken:    a.SessionToken,
		Endpoint:        a.Endpoint,
		MaxAttempts:     a.MaxAttempts,
		Logger:          logger,
	}
}

// buildFactories returns the sink constructors by type.
func buildFactories(hd home.Dir) map[string]sink.Factory {
	return map[string]sink.Factory{
		"file":      sinkfile.NewFactory(hd.LogsDir()),
		"analytics": analytics.NewFactory(),
		"kafka":     sinkkafka.NewFactory(),
		"mqtt":      sinkmqtt.NewFactory(),
	}
}

func sinkSpecs(cfgs []config.SinkConfig) []sink.Spec {
	specs := make([]sink.Spec, len(cfgs))
	for i, c := range cfgs {
		specs[i] = sink.Spec{Type: c.Type, Name: c.Name, Params: c.Params}
	}
	return specs
}

func run(ctx context.Context, cmd *cobra.Command, dryRun bool) error {
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	cfg, logger := env.cfg, env.logger
	if dryRun {
		cfg.Checkpoint.Backend = "memory"
	}

	if cfg.Checkpoint.Backend != "memory" || slices.ContainsFunc(cfg.Sinks, func(s config.SinkConfig) bool { return s.Type == "file" }) {
		if err := env.home.EnsureExists(); err != nil {
			return err
		}
		logger.Info("home directory", "path", env.home.Root())
	}

	m := metrics.New()

	// undo releases what was built so far when startup fails. Once the
	// orchestrator runs, it owns the sinks and the backend.
	var undo []func()
	defer func() {
		for _, fn := range slices.Backward(undo) {
			fn()
		}
	}()

	// Bound before anything else so an unusable address fails first.
	// Nothing is served until Run, by which time orch is set.
	var orch *orchestrator.Orchestrator
	var srv *metrics.Server
	if cfg.Metrics.Addr != "" {
		srv, err = metrics.NewServer(metrics.ServerConfig{
			Addr:    cfg.Metrics.Addr,
			Metrics: m,
			Status:  func() any { return orch.Report() },
			Logger:  logger,
		})
		if err != nil {
			return err
		}
		undo = append(undo, func() { _ = srv.Close() })
	}

	source, err := cloudwatch.New(ctx, awsSettings(cfg.AWS, logger))
	if err != nil {
		return err
	}

	backend, err := openBackend(ctx, cfg, env.home)
	if err != nil {
		return fmt.Errorf("open checkpoint backend: %w", err)
	}
	if c, ok := backend.(io.Closer); ok {
		undo = append(undo, func() { _ = c.Close() })
	}
	logger.Info("checkpoint backend", "type", cfg.Checkpoint.Backend)

	sinks, err := sink.Build(sinkSpecs(cfg.Sinks), buildFactories(env.home), logger)
	if err != nil {
		return err
	}
	undo = append(undo, func() {
		for _, sk := range sinks {
			_ = sk.Close()
		}
	})

	orch, err = orchestrator.New(orchestrator.Config{
		Settings: cfg,
		Source:   source,
		Backend:  backend,
		Sinks:    sinks,
		Metrics:  m,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	undo = nil

	g, gctx := errgroup.WithContext(ctx)
	if srv != nil {
		g.Go(func() error { return srv.Run(gctx) })
	}
	g.Go(func() error { return orch.Run(gctx) })

	logger.Info("cwtail started",
		"version", version,
		"groups", cfg.Discovery.Groups,
		"prefix", cfg.Discovery.Prefix,
		"sinks", len(sinks))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("cwtail stopped")
	return nil
}

func listStreams(cmd *cobra.Command) error {
	format, _ := cmd.Flags().GetString("output")
	p, err := newPrinter(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	source, err := cloudwatch.New(ctx, awsSettings(env.cfg.AWS, env.logger))
	if err != nil {
		return err
	}
	filter, err := stream.NewFilter(env.cfg.FilterConfig())
	if err != nil {
		return err
	}
	d := discovery.New(discovery.Config{
		Source:   source,
		Registry: registry.New(),
		Groups:   env.cfg.Discovery.Groups,
		Prefix:   env.cfg.Discovery.Prefix,
		Lookback: env.cfg.Discovery.Lookback,
		Filter:   filter,
		Logger:   env.logger,
	})
	res, _, err := d.Discover(ctx)
	if err != nil {
		return err
	}

	if p.format == "json" {
		return p.json(res)
	}
	rows := make([][]string, 0, len(res.Admitted))
	for _, s := range res.Admitted {
		rows = append(rows, []string{s.ID.Group, s.ID.Name, formatTime(s.LastEventTime)})
	}
	p.table([]string{"GROUP", "STREAM", "LAST EVENT"}, rows)
	if len(res.FailedGroups) > 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "failed groups:", strings.Join(res.FailedGroups, ", "))
	}
	return nil
}

func showCheckpoint(cmd *cobra.Command) error {
	format, _ := cmd.Flags().GetString("output")
	p, err := newPrinter(format, cmd.OutOrStdout())
	if err != nil {
		return err
	}
	env, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	backend, err := openBackend(ctx, env.cfg, env.home)
	if err != nil {
		return fmt.Errorf("open checkpoint backend: %w", err)
	}
	if c, ok := backend.(io.Closer); ok {
		defer c.Close()
	}

	snap, err := backend.Load(ctx)
	if errors.Is(err, checkpoint.ErrNotFound) {
		fmt.Fprintln(cmd.ErrOrStderr(), "no checkpoint stored")
		return nil
	}
	if err != nil {
		return err
	}
	return printSnapshot(p, snap)
}

func printSnapshot(p *printer, snap checkpoint.Snapshot) error {
	ids := make([]stream.ID, 0, len(snap.Cursors))
	for id := range snap.Cursors {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b stream.ID) int { return strings.Compare(a.String(), b.String()) })

	if p.format == "json" {
		type entry struct {
			Group  string `json:"group"`
			Stream string `json:"stream"`
			Cursor string `json:"cursor"`
		}
		out := struct {
			ModifiedTime time.Time `json:"modified_time"`
			Cursors      []entry   `json:"cursors"`
		}{ModifiedTime: snap.ModifiedTime, Cursors: make([]entry, 0, len(ids))}
		for _, id := range ids {
			out.Cursors = append(out.Cursors, entry{id.Group, id.Name, snap.Cursors[id]})
		}
		return p.json(out)
	}

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{id.Group, id.Name, snap.Cursors[id]})
	}
	p.table([]string{"GROUP", "STREAM", "CURSOR"}, rows)
	fmt.Fprintf(p.w, "\nmodified %s\n", formatTime(snap.ModifiedTime))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimson-sun/auditfwd/internal/buildinfo"
	"github.com/crimson-sun/auditfwd/internal/checkpoint"
	"github.com/crimson-sun/auditfwd/internal/config"
	"github.com/crimson-sun/auditfwd/internal/forwarder"
	"github.com/crimson-sun/auditfwd/internal/health"
	"github.com/crimson-sun/auditfwd/internal/linetime"
	"github.com/crimson-sun/auditfwd/internal/logging"
	"github.com/crimson-sun/auditfwd/internal/loki"
	"github.com/crimson-sun/auditfwd/internal/metrics"
	"github.com/crimson-sun/auditfwd/internal/output"
	"github.com/crimson-sun/auditfwd/internal/pipeline"

	// Register sink implementations.
	_ "github.com/crimson-sun/auditfwd/internal/output/cloudwatch"
	_ "github.com/crimson-sun/auditfwd/internal/output/file"
	_ "github.com/crimson-sun/auditfwd/internal/output/kafka"
	_ "github.com/crimson-sun/auditfwd/internal/output/logsink"
	_ "github.com/crimson-sun/auditfwd/internal/output/webhook"
)

var (
	configPath string
	healthHost string
	healthPort int
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "auditfwd",
	Short:        "Forward Loki audit logs to a downstream sink",
	Long:         "auditfwd polls Loki for audit log lines, forwards them to one configured sink and exposes /healthz.",
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (env: AUDIT_CONFIG_FILE)")
	for _, c := range []*cobra.Command{rootCmd, serveCmd} {
		c.Flags().StringVar(&healthHost, "host", "", "health endpoint bind host (default from AUDIT_HEALTH_HOST)")
		c.Flags().IntVar(&healthPort, "port", 0, "health endpoint port (default from AUDIT_HEALTH_PORT)")
	}

	checkpointCmd.AddCommand(checkpointGetCmd)
	checkpointCmd.AddCommand(checkpointSetCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(checkpointCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f := cmd.Flags().Lookup("host"); f != nil && f.Changed {
		cfg.Health.Host = healthHost
	}
	if f := cmd.Flags().Lookup("port"); f != nil && f.Changed {
		cfg.Health.Port = healthPort
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func initLogger(cfg config.Config) (*slog.Logger, io.Closer) {
	return logging.Init(logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		JSON:       cfg.Logging.Format == "json",
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		MaxBackups: cfg.Logging.MaxBackups,
	})
}

// app holds every long-lived component of a running forwarder.
type app struct {
	pipeline  *pipeline.Pipeline
	monitor   *health.Monitor
	tracker   *checkpoint.Tracker
	forwarder *forwarder.Forwarder
	metrics   *metrics.Metrics
}

func buildApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	met := metrics.New()
	monitor := health.NewMonitor(met)

	store, err := checkpoint.Open(cfg.Checkpoint)
	if err != nil {
		return nil, err
	}
	tracker := checkpoint.NewTracker(store,
		checkpoint.WithLookback(cfg.Checkpoint.Lookback),
		checkpoint.WithLogger(logger),
		checkpoint.WithObserver(met.Checkpoint),
	)

	sink, err := output.Open(cfg, output.Deps{
		Logger:    logger,
		Extractor: linetime.New(linetime.WithLogger(logger)),
	})
	if err != nil {
		tracker.Close()
		return nil, fmt.Errorf("open sink %q: %w", cfg.SendLogsTo, err)
	}

	buf := pipeline.NewBuffer()
	client := loki.NewClient(cfg.Loki.Host,
		loki.WithTimeout(cfg.HTTPTimeout),
		loki.WithTenant(cfg.Loki.Tenant),
		loki.WithBasicAuth(cfg.Loki.Username, cfg.Loki.Password),
	)
	fetcher := loki.NewFetcher(client, buf, monitor,
		loki.FetcherConfig{
			Query:  loki.AuditQuery(cfg.Loki.App, cfg.Loki.Namespace),
			Limit:  cfg.Loki.QueryLimit,
			Window: cfg.Loki.Window,
			Margin: cfg.Loki.Margin,
		},
		loki.WithLogger(logger),
		loki.WithMetrics(met),
	)
	fwd := forwarder.New(sink, tracker, monitor,
		forwarder.WithLogger(logger),
		forwarder.WithMetrics(met),
	)

	return &app{
		pipeline:  pipeline.New(buf, fetcher, tracker, fwd, pipeline.WithLogger(logger), pipeline.WithMetrics(met)),
		monitor:   monitor,
		tracker:   tracker,
		forwarder: fwd,
		metrics:   met,
	}, nil
}

func (a *app) Close() error {
	return errors.Join(a.forwarder.Close(), a.tracker.Close())
}

// --- serve ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the forwarder and health endpoint until interrupted",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, closer := initLogger(cfg)
	defer closer.Close()

	a, err := buildApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("auditfwd starting",
		"version", buildinfo.Version,
		"sink", cfg.SendLogsTo,
		"loki", cfg.Loki.Host,
		"namespace", cfg.Loki.Namespace,
		"interval", cfg.SendInterval,
		"health", cfg.Health.Addr(),
	)

	srvCfg := health.DefaultServerConfig()
	srvCfg.Addr = cfg.Health.Addr()
	srv := health.NewServer(srvCfg, health.NewHandler(a.monitor, a.tracker, logger), a.metrics.Handler(), logger)

	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Start(ctx) }()

	sched := pipeline.NewScheduler(a.pipeline, cfg.SendInterval, logger)
	schedDone := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(schedDone)
	}()

	select {
	case <-ctx.Done():
	case err = <-srvErr:
		// Health server died; stop the scheduler too.
		stop()
	}
	<-schedDone
	if err == nil {
		err = <-srvErr
	}
	logger.Info("auditfwd stopped")
	return err
}

// --- once ---

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single fetch and forward cycle, exit non-zero when unhealthy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		logger, closer := initLogger(cfg)
		defer closer.Close()

		a, err := buildApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := a.pipeline.RunCycle(ctx); err != nil {
			return err
		}
		if !a.monitor.IsHealthy() {
			return errors.New(a.monitor.Detail())
		}
		return nil
	},
}

// --- checkpoint ---

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or override the last-sent checkpoint",
}

var checkpointGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the stored checkpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, err := checkpoint.Open(cfg.Checkpoint)
		if err != nil {
			return err
		}
		defer store.Close()

		v, err := store.Load()
		if errors.Is(err, checkpoint.ErrNotFound) {
			fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint stored")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d (%s)\n", v, time.Unix(v, 0).UTC().Format(time.RFC3339))
		return nil
	},
}

var checkpointSetCmd = &cobra.Command{
	Use:   "set <epoch-seconds>",
	Short: "Overwrite the stored checkpoint",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid epoch %q: %w", args[0], err)
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, err := checkpoint.Open(cfg.Checkpoint)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Save(v); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "checkpoint set to %d\n", v)
		return nil
	},
}

// --- version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "auditfwd %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

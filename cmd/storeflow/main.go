// Storeflow - batch e-commerce ETL into a star-schema warehouse.
// Extracts raw exports, stages and models them into dimension and fact
// tables, writes the warehouse and validates it.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/storeflow/storeflow/pkg/config"
	"github.com/storeflow/storeflow/pkg/defaults/metrics"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/logging"
	"github.com/storeflow/storeflow/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// Global flags
var (
	configFile string
	logLevel   string
	logFormat  string
	quiet      bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := 0
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			code = int(exit)
		} else {
			fmt.Fprintln(os.Stderr, err)
			code = 1
		}
	}
	stop()
	os.Exit(code)
}

// exitError carries a non-zero exit code out of a command without
// printing anything further.
type exitError int

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

var rootCmd = &cobra.Command{
	Use:   "storeflow",
	Short: "Storeflow - batch e-commerce ETL into a star-schema warehouse",
	Long: `Storeflow loads raw e-commerce exports (users, products, orders, order items,
events and reviews), cleans them, models them into a star schema and writes the
result to processed files and a relational database. Every run ends with data
quality checks over the written warehouse.

Configuration is read from storeflow.yaml in the system, user and project
locations, then --config, then STOREFLOW_* environment variables.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (text, json)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "Suppress summary output")
}

// env is the ambient state every command starts from.
type env struct {
	cfg     *config.Config
	manager *config.Manager
	logger  *slog.Logger
	metrics interfaces.MetricsExporter
	printer *tui.Printer
	closer  io.Closer
}

func setup(cmd *cobra.Command) (*env, error) {
	var opts []config.Option
	if configFile != "" {
		opts = append(opts, config.WithFile(configFile))
	}
	m := config.NewManager(opts...)
	cfg, err := m.Load()
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	logger, closer, err := logging.OpenFile(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}, cfg.Logging.File)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger = logger.With(slog.String("version", version))

	return &env{
		cfg:     cfg,
		manager: m,
		logger:  logger,
		metrics: metrics.NewLogMetrics(logger),
		printer: tui.NewPrinter(cmd.OutOrStdout(), quiet),
		closer:  closer,
	}, nil
}

func (e *env) Close() {
	e.metrics.Flush()
	e.metrics.Close()
	e.closer.Close()
}

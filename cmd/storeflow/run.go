package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/storeflow/storeflow/internal/app"
	"github.com/storeflow/storeflow/pkg/pipeline"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/telemetry"
	"github.com/storeflow/storeflow/pkg/tui"
)

var (
	fullLoad     bool
	validateOnly bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the ETL pipeline and validate the warehouse",
	Long: `Run extract, stage, build and sink in sequence, then validate the written
warehouse and record the run state.

Exit codes:
  0  pipeline succeeded (validation warnings are reported but do not fail)
  1  a pipeline stage failed
  2  validation failed with validation.fail_on_error set

Examples:
  storeflow run
  storeflow run --full
  storeflow run --validate-only
  STOREFLOW_FAIL_ON_VALIDATION=true storeflow run`,
	RunE: runPipeline,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the warehouse already in the processed location",
	RunE: func(cmd *cobra.Command, args []string) error {
		validateOnly = true
		return runPipeline(cmd, args)
	},
}

func init() {
	runCmd.Flags().BoolVar(&fullLoad, "full", false, "Force a full load, ignoring stored state")
	runCmd.Flags().BoolVar(&validateOnly, "validate-only", false, "Skip the pipeline and only validate")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}

func runPipeline(cmd *cobra.Command, args []string) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.Close()
	ctx := cmd.Context()

	tp, err := telemetry.Setup(ctx, e.cfg.Telemetry.Enabled, telemetry.FromConfig(e.cfg.Telemetry, version))
	if err != nil {
		e.logger.Warn("tracing disabled", "error", err)
		tp = telemetry.Noop()
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tp.Shutdown(shutdownCtx)
	}()

	deps := app.Deps{Logger: e.logger, Metrics: e.metrics, Tracer: tp.Tracer()}
	var progress *tui.StageProgress
	if !e.printer.Quiet() && !validateOnly {
		progress = tui.NewStageProgress(cmd.ErrOrStderr(), len(pipeline.Stages))
		deps.Hook = progress
	}

	a, err := app.New(ctx, e.cfg, deps)
	if err != nil {
		return err
	}
	defer a.Close()

	e.printer.Print(tui.Header(version))
	out := a.Runner.Run(ctx, pipeline.Options{Full: fullLoad, ValidateOnly: validateOnly})
	if progress != nil && out.Result != nil {
		progress.Finish()
	}

	if out.Result != nil {
		e.printer.Print(tui.RenderExtract(out.Result.Summary))
		e.printer.Print(tui.RenderStaging(out.Result.Stats, schema.SourceNames()))
	}
	if out.Report != nil {
		e.printer.Print(tui.RenderReport(out.Report))
	}
	if out.State != nil {
		e.printer.Print(tui.RenderState(a.Tracker.Backend().Name(), out.State))
	}
	if out.StateErr != nil {
		e.printer.Print(fmt.Sprintf("warning: run state not saved: %v", out.StateErr))
	}
	if out.Err != nil {
		e.printer.Print(fmt.Sprintf("error: %v", out.Err))
	}
	e.printer.Print(tui.RenderOutcome(out.Status, out.ExitCode, out.Elapsed))

	if out.ExitCode != pipeline.ExitOK {
		return exitError(out.ExitCode)
	}
	return nil
}

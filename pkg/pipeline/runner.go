package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/storeflow/storeflow/pkg/config"
	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/state"
	"github.com/storeflow/storeflow/pkg/validate"
)

// Exit codes returned by Run.
const (
	ExitOK               = 0
	ExitPipelineFailed   = 1
	ExitValidationFailed = 2
)

// Options are the per-invocation switches.
type Options struct {
	// Full forces a full extract regardless of stored state.
	Full bool
	// ValidateOnly skips the pipeline and validates what the sink holds.
	ValidateOnly bool
}

// Outcome summarizes an invocation.
type Outcome struct {
	ExitCode int
	Status   string
	Mode     Mode
	Result   *RunResult
	Report   *validate.Report
	State    *state.RunState
	// Err is the error that determined a non-zero exit code.
	Err error
	// StateErr is a run-state save failure. It does not affect ExitCode.
	StateErr error
	Elapsed  time.Duration
}

// Runner drives one invocation: pipeline, validation and state.
type Runner struct {
	cfg       *config.Config
	orch      *Orchestrator
	validator *validate.Validator
	tracker   *state.Tracker
	logger    *slog.Logger
	metrics   interfaces.MetricsExporter
}

// NewRunner creates a runner.
func NewRunner(cfg *config.Config, orch *Orchestrator, v *validate.Validator, tracker *state.Tracker,
	logger *slog.Logger, metrics interfaces.MetricsExporter) *Runner {
	return &Runner{cfg: cfg, orch: orch, validator: v, tracker: tracker, logger: logger, metrics: metrics}
}

// Run executes the invocation and never panics on component failure; the
// outcome carries the exit code.
func (r *Runner) Run(ctx context.Context, opts Options) *Outcome {
	start := time.Now()
	out := &Outcome{}
	defer func() {
		out.Elapsed = time.Since(start)
		r.metrics.Counter(interfaces.MetricRunsTotal, 1, map[string]string{
			interfaces.TagStatus: out.Status,
		})
	}()

	if !opts.ValidateOnly {
		out.Mode = r.selectMode(ctx, opts)
		res, err := r.orch.RunPipeline(ctx, out.Mode)
		if err != nil {
			return r.fail(out, ExitPipelineFailed, "pipeline failed", err)
		}
		out.Result = res
		r.saveState(ctx, out)
	} else {
		r.logger.Info("skipping pipeline in validate-only mode")
	}

	tables, err := r.orch.Sink().Load(ctx)
	if err != nil {
		return r.fail(out, ExitPipelineFailed, "pipeline failed",
			sferrors.Wrap(err, sferrors.CodeSinkFailure, "failed to reload processed tables"))
	}

	report, verr := r.validator.ValidateAll(ctx, tables, r.cfg.Validation.FailOnError)
	out.Report = report

	if sferrors.IsCode(verr, sferrors.CodeValidationFailed) {
		return r.fail(out, ExitValidationFailed, "validation failed", verr)
	}
	if verr != nil {
		return r.fail(out, ExitPipelineFailed, "pipeline failed", verr)
	}

	out.ExitCode = ExitOK
	out.Status = "succeeded"
	if !report.Passed {
		out.Status = "succeeded with warnings"
		r.logger.Warn("pipeline completed with validation warnings")
	} else {
		r.logger.Info("pipeline completed successfully")
	}
	return out
}

// saveState records the run as soon as the pipeline succeeds, before
// validation. A failure is kept on the outcome only.
func (r *Runner) saveState(ctx context.Context, out *Outcome) {
	marks := out.Result.Watermarks
	if out.Mode.Incremental {
		marks = state.CarryForward(r.tracker.GetLastRun(ctx).Tables, marks)
	}
	st, err := r.tracker.UpdateRunTimestamp(ctx, marks)
	if err != nil {
		out.StateErr = err
		r.logger.Error("failed to persist run state", slog.String("error", err.Error()))
	}
	out.State = st
}

func (r *Runner) selectMode(ctx context.Context, opts Options) Mode {
	switch {
	case opts.Full:
		r.logger.Info("full load requested")
		return FullLoad
	case !r.cfg.Extract.Incremental:
		return FullLoad
	case r.tracker.ShouldRunFullLoad(ctx):
		r.logger.Info("full load: no previous run recorded")
		return FullLoad
	}
	cutoffs := r.tracker.IncrementalCutoffs(ctx)
	for name, c := range cutoffs {
		r.logger.Info("incremental load", slog.String("table", name), slog.Time("since", c))
	}
	return Mode{Incremental: true, Cutoffs: cutoffs}
}

func (r *Runner) fail(out *Outcome, code int, status string, err error) *Outcome {
	out.ExitCode = code
	out.Status = status
	out.Err = err
	r.logger.Error(status, slog.String("error", err.Error()))
	return out
}

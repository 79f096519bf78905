package pipeline

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storeflow/storeflow/pkg/extract"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/logging"
	"github.com/storeflow/storeflow/pkg/sink"
	"github.com/storeflow/storeflow/pkg/stage"
	"github.com/storeflow/storeflow/pkg/state"
	"github.com/storeflow/storeflow/pkg/table"
	"github.com/storeflow/storeflow/pkg/telemetry"
	"github.com/storeflow/storeflow/pkg/warehouse"
)

// Mode selects between a full and an incremental extract.
type Mode struct {
	Incremental bool
	// Cutoffs are per-source lower bounds, used only when Incremental.
	Cutoffs map[string]time.Time
}

// FullLoad extracts every row of every source.
var FullLoad = Mode{}

func (m Mode) String() string {
	if m.Incremental {
		return "incremental"
	}
	return "full"
}

// RunResult is what a successful run produced.
type RunResult struct {
	Mode       Mode
	Summary    *extract.Summary
	Stats      stage.Stats
	Tables     table.Set
	Watermarks map[string]state.TableState
	Durations  map[Stage]time.Duration
}

// Orchestrator wires the stages together.
type Orchestrator struct {
	extractor *extract.Extractor
	stager    *stage.Stager
	builder   *warehouse.Builder
	sink      sink.Sink

	logger  *slog.Logger
	metrics interfaces.MetricsExporter
	tracer  trace.Tracer
	hook    StageHook
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTracer sets the tracer used for stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithHook sets the stage observer.
func WithHook(h StageHook) Option {
	return func(o *Orchestrator) { o.hook = h }
}

// NewOrchestrator creates an orchestrator over the given components.
func NewOrchestrator(ex *extract.Extractor, st *stage.Stager, b *warehouse.Builder, sk sink.Sink,
	logger *slog.Logger, metrics interfaces.MetricsExporter, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		extractor: ex,
		stager:    st,
		builder:   b,
		sink:      sk,
		logger:    logger,
		metrics:   metrics,
		tracer:    telemetry.Noop().Tracer(),
		hook:      noopHook{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Sink returns the configured sink.
func (o *Orchestrator) Sink() sink.Sink { return o.sink }

// RunPipeline runs extract, stage, build and sink. The first failure
// aborts the run and is returned as a *StageError. An incremental run
// merges the narrowed tables with what the sink already holds before
// writing, so the warehouse keeps rows from earlier runs.
func (o *Orchestrator) RunPipeline(ctx context.Context, mode Mode) (*RunResult, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.run",
		trace.WithAttributes(attribute.String("storeflow.mode", mode.String())))
	defer span.End()

	o.logger.Info("starting pipeline", slog.String("mode", mode.String()))
	res := &RunResult{Mode: mode, Durations: make(map[Stage]time.Duration, len(Stages))}

	var opts extract.Options
	if mode.Incremental {
		opts.Cutoffs = mode.Cutoffs
	}

	var raw, staged table.Set
	steps := []struct {
		stage Stage
		run   func(ctx context.Context) (int, error)
	}{
		{StageExtract, func(ctx context.Context) (int, error) {
			var err error
			raw, res.Summary, err = o.extractor.LoadAllRaw(ctx, opts)
			return len(raw), err
		}},
		{StageStage, func(ctx context.Context) (int, error) {
			var err error
			staged, res.Stats, err = o.stager.StageAll(ctx, raw)
			return len(staged), err
		}},
		{StageBuild, func(ctx context.Context) (int, error) {
			built, err := o.builder.BuildWarehouse(ctx, staged)
			if err != nil {
				return 0, err
			}
			if mode.Incremental && len(mode.Cutoffs) > 0 {
				previous, err := o.sink.Load(ctx)
				if err != nil {
					return 0, err
				}
				built = o.builder.MergeIncremental(built, previous, narrowed(mode.Cutoffs))
			}
			res.Tables = built
			return len(res.Tables), nil
		}},
		{StageSink, func(ctx context.Context) (int, error) {
			return len(res.Tables), o.sink.Write(ctx, res.Tables)
		}},
	}

	for _, step := range steps {
		elapsed, err := o.runStage(ctx, step.stage, step.run)
		res.Durations[step.stage] = elapsed
		if err != nil {
			serr := newStageError(step.stage, err)
			span.RecordError(serr)
			span.SetStatus(codes.Error, serr.Error())
			o.logger.Error("pipeline halted",
				slog.String("stage", step.stage.String()),
				slog.Bool("data_shape", serr.DataShape),
				slog.String("error", err.Error()))
			return nil, serr
		}
	}

	res.Watermarks = state.Watermarks(staged)
	o.logger.Info("pipeline completed", slog.Int("tables", len(res.Tables)))
	return res, nil
}

func narrowed(cutoffs map[string]time.Time) map[string]bool {
	out := make(map[string]bool, len(cutoffs))
	for name := range cutoffs {
		out[name] = true
	}
	return out
}

func (o *Orchestrator) runStage(ctx context.Context, s Stage, run func(context.Context) (int, error)) (time.Duration, error) {
	name := s.String()
	ctx, span := o.tracer.Start(ctx, "pipeline."+name)
	defer span.End()
	ctx = logging.WithLogger(ctx, o.logger.With(slog.String("stage", name)))

	o.hook.StageStarted(name)
	o.logging(ctx).Info("stage started")
	start := time.Now()

	tables, err := run(ctx)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(telemetry.StageAttributes(name, tables)...)
	o.metrics.Timer(interfaces.MetricStageDuration, elapsed, map[string]string{
		interfaces.TagStage:  name,
		interfaces.TagStatus: status,
	})
	o.hook.StageFinished(name, elapsed, err)
	if err == nil {
		o.logging(ctx).Info("stage completed", slog.Int("tables", tables), slog.Duration("duration", elapsed))
	}
	return elapsed, err
}

func (o *Orchestrator) logging(ctx context.Context) *slog.Logger {
	return logging.FromContext(ctx, o.logger)
}

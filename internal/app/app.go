// Package app assembles the pipeline components from configuration.
package app

import (
	"context"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/storeflow/storeflow/pkg/config"
	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/extract"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/pipeline"
	"github.com/storeflow/storeflow/pkg/sink"
	"github.com/storeflow/storeflow/pkg/stage"
	"github.com/storeflow/storeflow/pkg/state"
	"github.com/storeflow/storeflow/pkg/storage"
	"github.com/storeflow/storeflow/pkg/telemetry"
	"github.com/storeflow/storeflow/pkg/validate"
	"github.com/storeflow/storeflow/pkg/warehouse"
)

// Deps are the ambient collaborators passed to every component.
type Deps struct {
	Logger  *slog.Logger
	Metrics interfaces.MetricsExporter
	Tracer  trace.Tracer
	Hook    pipeline.StageHook
	// Validation and state options, mostly clocks for tests.
	ValidateOptions []validate.Option
	TrackerOptions  []state.TrackerOption
}

// App holds the wired components of one invocation.
type App struct {
	Config  *config.Config
	Runner  *pipeline.Runner
	Tracker *state.Tracker
	Sink    sink.Sink

	closers []io.Closer
}

// New wires storage, sinks, state and the pipeline from cfg. Components
// opened before a failure are closed before returning.
func New(ctx context.Context, cfg *config.Config, deps Deps) (_ *App, err error) {
	if deps.Tracer == nil {
		deps.Tracer = telemetry.Noop().Tracer()
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	backend, err := OpenState(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := backend.(io.Closer); ok {
		a.closers = append(a.closers, c)
	}
	a.Tracker = state.NewTracker(backend, deps.Logger, deps.TrackerOptions...)

	rawStore, err := storage.Open(ctx, cfg.Paths.RawDir, cfg.Storage.S3)
	if err != nil {
		return nil, sferrors.Wrap(err, sferrors.CodeConfigInvalid, "failed to open raw location").
			WithContext("location", cfg.Paths.RawDir)
	}

	a.Sink, err = OpenSink(ctx, cfg, deps.Logger, deps.Metrics)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Sink)

	opts := []pipeline.Option{pipeline.WithTracer(deps.Tracer)}
	if deps.Hook != nil {
		opts = append(opts, pipeline.WithHook(deps.Hook))
	}
	orch := pipeline.NewOrchestrator(
		extract.New(rawStore, deps.Logger, deps.Metrics),
		stage.New(deps.Logger, deps.Metrics),
		warehouse.New(deps.Logger, deps.Metrics),
		a.Sink,
		deps.Logger, deps.Metrics,
		opts...,
	)
	v := validate.New(deps.Logger, deps.Metrics, deps.ValidateOptions...)
	a.Runner = pipeline.NewRunner(cfg, orch, v, a.Tracker, deps.Logger, deps.Metrics)
	return a, nil
}

// OpenSink builds the processed-file sink and, when enabled, the database
// sink behind it. Reloads for validation read the file sink.
func OpenSink(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics interfaces.MetricsExporter) (sink.Sink, error) {
	codec, err := sink.CodecFor(cfg.Sink.FileFormat)
	if err != nil {
		return nil, sferrors.Wrap(err, sferrors.CodeConfigInvalid, "invalid sink format")
	}
	store, err := storage.Open(ctx, cfg.Paths.ProcessedDir, cfg.Storage.S3)
	if err != nil {
		return nil, sferrors.Wrap(err, sferrors.CodeConfigInvalid, "failed to open processed location").
			WithContext("location", cfg.Paths.ProcessedDir)
	}
	files := sink.NewFileSink(store, codec, logger, metrics)

	rel := cfg.Sink.Relational
	if !rel.Enabled {
		return files, nil
	}
	db, err := sink.OpenSQL(ctx, rel.Driver, rel.DSN, logger, metrics)
	if err != nil {
		return nil, sferrors.Wrap(err, sferrors.CodeSinkFailure, "failed to open database").
			WithContext("driver", rel.Driver)
	}
	return sink.NewMulti(files, db), nil
}

// OpenState returns the configured run-state backend.
func OpenState(ctx context.Context, cfg *config.Config) (state.Backend, error) {
	sc := cfg.State
	switch sc.Backend {
	case "redis":
		rc := state.DefaultRedisConfig(sc.Redis.Addr)
		rc.Password = sc.Redis.Password
		rc.Database = sc.Redis.DB
		if sc.Redis.Key != "" {
			rc.Key = sc.Redis.Key
		}
		b, err := state.NewRedisBackend(ctx, rc)
		if err != nil {
			return nil, sferrors.Wrap(err, sferrors.CodeStateIO, "failed to open redis state")
		}
		return b, nil
	case "s3":
		store, err := storage.Open(ctx, "s3://"+sc.S3.Bucket, cfg.Storage.S3)
		if err != nil {
			return nil, sferrors.Wrap(err, sferrors.CodeStateIO, "failed to open s3 state").
				WithContext("bucket", sc.S3.Bucket)
		}
		return state.NewObjectBackend(store, sc.S3.Key), nil
	case "file", "":
		return state.NewFileBackend(sc.Path), nil
	default:
		return nil, sferrors.Newf(sferrors.CodeConfigInvalid, "unknown state backend %q", sc.Backend)
	}
}

// Close releases the sink and state backend.
func (a *App) Close() error {
	var errs sferrors.MultiError
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs.Add(a.closers[i].Close())
	}
	a.closers = nil
	return errs.Combined()
}

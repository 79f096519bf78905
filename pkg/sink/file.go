package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
	"github.com/storeflow/storeflow/pkg/interfaces"
	"github.com/storeflow/storeflow/pkg/schema"
	"github.com/storeflow/storeflow/pkg/table"
)

// FileSink writes one file per table into object storage.
type FileSink struct {
	store   interfaces.ObjectStorage
	codec   Codec
	logger  *slog.Logger
	metrics interfaces.MetricsExporter
}

// NewFileSink creates a file sink. Files are named <table><ext>.
func NewFileSink(store interfaces.ObjectStorage, codec Codec, logger *slog.Logger, metrics interfaces.MetricsExporter) *FileSink {
	return &FileSink{store: store, codec: codec, logger: logger, metrics: metrics}
}

// Name returns "file".
func (s *FileSink) Name() string { return "file" }

// Path returns the object path a table is written to.
func (s *FileSink) Path(name string) string {
	return name + s.codec.Extension()
}

// Write encodes and stores every table. A table that fails does not stop
// the others.
func (s *FileSink) Write(ctx context.Context, tables table.Set) error {
	var failed []string
	var errs sferrors.MultiError

	for _, name := range orderedNames(tables) {
		if err := ctx.Err(); err != nil {
			return err
		}
		tbl := tables[name]
		start := time.Now()
		if err := s.writeTable(ctx, tbl); err != nil {
			s.logger.Error("failed to save table",
				slog.String("table", name),
				slog.String("location", s.store.Location(s.Path(name))),
				slog.String("error", err.Error()))
			s.metrics.Counter(interfaces.MetricSinkFailures, 1, map[string]string{
				interfaces.TagSink:  s.Name(),
				interfaces.TagTable: name,
			})
			failed = append(failed, name)
			errs.Add(fmt.Errorf("%s: %w", name, err))
			continue
		}
		s.metrics.Counter(interfaces.MetricSinkTablesWritten, 1, map[string]string{
			interfaces.TagSink:  s.Name(),
			interfaces.TagTable: name,
		})
		s.logger.Info("saved table",
			slog.String("table", name),
			slog.String("format", s.codec.Format()),
			slog.Int("rows", tbl.Len()),
			slog.String("location", s.store.Location(s.Path(name))),
			slog.Duration("duration", time.Since(start)))
	}
	return failure(failed, &errs)
}

func (s *FileSink) writeTable(ctx context.Context, tbl *table.Table) error {
	var buf bytes.Buffer
	if err := s.codec.Encode(&buf, tbl); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	path := s.Path(tbl.Name)
	if err := s.store.Put(ctx, path, &buf); err != nil {
		return err
	}
	ok, err := s.store.Exists(ctx, path)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s missing after write", s.store.Location(path))
	}
	return nil
}

// Load reads back every warehouse table that has a file.
func (s *FileSink) Load(ctx context.Context) (table.Set, error) {
	out := make(table.Set)
	for _, name := range schema.WarehouseNames() {
		rc, err := s.store.Get(ctx, s.Path(name))
		if errors.Is(err, interfaces.ErrObjectNotFound) {
			continue
		}
		if err != nil {
			return nil, sferrors.Wrapf(err, sferrors.CodeSinkFailure, "failed to open %s", name)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, sferrors.Wrapf(err, sferrors.CodeSinkFailure, "failed to read %s", name)
		}
		tbl, err := s.codec.Decode(ctx, name, data)
		if err != nil {
			return nil, sferrors.Wrapf(err, sferrors.CodeSinkFailure, "failed to decode %s", name)
		}
		out[name] = tbl
	}
	return out, nil
}

// Close is a no-op; the store is owned by the caller.
func (s *FileSink) Close() error { return nil }

var _ Sink = (*FileSink)(nil)

// Package pipeline runs the batch ETL: extract, stage, build and sink in
// strict sequence, then validation and run-state bookkeeping.
package pipeline

import (
	"fmt"

	sferrors "github.com/storeflow/storeflow/pkg/errors"
)

// Stage identifies one step of the pipeline.
type Stage int

const (
	StageExtract Stage = iota
	StageStage
	StageBuild
	StageSink
)

// Stages lists the pipeline steps in execution order.
var Stages = []Stage{StageExtract, StageStage, StageBuild, StageSink}

func (s Stage) String() string {
	switch s {
	case StageExtract:
		return "extract"
	case StageStage:
		return "stage"
	case StageBuild:
		return "build"
	case StageSink:
		return "sink"
	default:
		return "unknown"
	}
}

// StageError reports the step that aborted a run.
type StageError struct {
	Stage Stage
	// DataShape is set when the input itself was malformed, e.g. a
	// required column was missing or a file could not be parsed.
	DataShape bool
	Err       error
}

func newStageError(stage Stage, err error) *StageError {
	return &StageError{
		Stage:     stage,
		DataShape: sferrors.IsCode(err, sferrors.CodeParseFailure),
		Err:       err,
	}
}

func (e *StageError) Error() string {
	kind := "pipeline failed"
	if e.DataShape {
		kind = "data structure error"
	}
	return fmt.Sprintf("%s in %s: %v", kind, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

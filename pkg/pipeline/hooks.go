package pipeline

import "time"

// StageHook observes stage boundaries, e.g. to drive a progress bar.
type StageHook interface {
	StageStarted(stage string)
	StageFinished(stage string, elapsed time.Duration, err error)
}

// Hooks fans out to several hooks.
type Hooks []StageHook

func (h Hooks) StageStarted(stage string) {
	for _, hook := range h {
		hook.StageStarted(stage)
	}
}

func (h Hooks) StageFinished(stage string, elapsed time.Duration, err error) {
	for _, hook := range h {
		hook.StageFinished(stage, elapsed, err)
	}
}

type noopHook struct{}

func (noopHook) StageStarted(string)                       {}
func (noopHook) StageFinished(string, time.Duration, error) {}

package tui

import (
	"fmt"
	"io"
	"time"

	"github.com/schollz/progressbar/v3"
)

// StageProgress shows a bar advancing once per finished pipeline stage.
type StageProgress struct {
	bar *progressbar.ProgressBar
	w   io.Writer
}

// NewStageProgress creates a bar over total stages writing to w.
func NewStageProgress(w io.Writer, total int) *StageProgress {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionShowCount(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "",
			BarEnd:        "",
		}),
		progressbar.OptionThrottle(50*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
	return &StageProgress{bar: bar, w: w}
}

// StageStarted updates the description.
func (p *StageProgress) StageStarted(stage string) {
	p.bar.Describe(stage)
}

// StageFinished advances the bar, or reports the failing stage.
func (p *StageProgress) StageFinished(stage string, elapsed time.Duration, err error) {
	if err != nil {
		p.bar.Describe(stage + " failed")
		p.bar.Exit()
		fmt.Fprintln(p.w)
		return
	}
	p.bar.Describe(fmt.Sprintf("%s (%s)", stage, formatDuration(elapsed)))
	p.bar.Add(1)
}

// Finish completes the bar.
func (p *StageProgress) Finish() {
	p.bar.Finish()
}

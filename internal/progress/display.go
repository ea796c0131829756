package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gosuri/uilive"
	"github.com/mattn/go-isatty"
)

// Display renders the tracker to a live-updating terminal writer
type Display struct {
	tracker  *Tracker
	interval time.Duration
	writer   *uilive.Writer
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewDisplay creates a new progress display writing to out
func NewDisplay(tracker *Tracker, interval time.Duration, out io.Writer) *Display {
	writer := uilive.New()
	writer.Out = out
	writer.RefreshInterval = interval

	return &Display{
		tracker:  tracker,
		interval: interval,
		writer:   writer,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Bypass returns a writer whose output is printed above the live area
func (d *Display) Bypass() io.Writer {
	return d.writer.Bypass()
}

// Start starts the progress display
func (d *Display) Start() {
	d.writer.Start()
	go d.displayLoop()
}

// Stop prints the final summary and stops the display. It is safe to call more than once.
func (d *Display) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.doneCh
	})
}

func (d *Display) displayLoop() {
	defer close(d.doneCh)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			fmt.Fprintln(d.writer, strings.Join(d.render(d.tracker.GetStatus()), "\n"))
		case <-d.stopCh:
			fmt.Fprintln(d.writer, strings.Join(d.renderFinal(d.tracker.GetStatus()), "\n"))
			d.writer.Stop()
			return
		}
	}
}

func (d *Display) render(status Status) []string {
	percent := d.tracker.GetProgressPercent()

	return []string{
		fmt.Sprintf("Objects: %d/%d (%.1f%%)", status.ProcessedObjects, status.TotalObjects, percent),
		"    " + progressBar(percent, 40),
		fmt.Sprintf("Matched: %d  Fixed: %d  Skipped: %d  Failed: %d",
			status.MatchedObjects, status.FixedObjects, status.SkippedObjects, status.FailedObjects),
		fmt.Sprintf("Rate: %s (avg %s)  Elapsed: %s  ETA: %s",
			FormatRate(status.CurrentRate), FormatRate(status.AverageRate),
			FormatDuration(time.Since(status.StartTime)), FormatDuration(status.ETA)),
	}
}

func (d *Display) renderFinal(status Status) []string {
	return []string{
		fmt.Sprintf("Done: %d objects in %s (%s)",
			status.ProcessedObjects, FormatDuration(time.Since(status.StartTime)), FormatRate(status.AverageRate)),
		fmt.Sprintf("Matched: %d  Fixed: %d  Skipped: %d  Failed: %d",
			status.MatchedObjects, status.FixedObjects, status.SkippedObjects, status.FailedObjects),
	}
}

func progressBar(percent float64, width int) string {
	if percent > 100 {
		percent = 100
	}
	if percent < 0 {
		percent = 0
	}

	filled := int(percent * float64(width) / 100)
	return fmt.Sprintf("[%s%s] %.1f%%", strings.Repeat("#", filled), strings.Repeat(".", width-filled), percent)
}

// IsTerminalSupported checks whether stderr, where logs and the display go, is a terminal
func IsTerminalSupported() bool {
	fd := os.Stderr.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// Package stats renders live progress of the benchmark phases. it sits on
// the sink side only: the io loop hands it samples and never waits on it.
package stats

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/jessegalley/usbbench/internal/runners"
)

// DisplayConfig contains configuration options for the progress display
type DisplayConfig struct {
	UpdateInterval time.Duration // minimum time between redraws of the same phase
	ShowProgress   bool          // whether to draw a progress bar
	Quiet          bool          // suppress all live updates
}

// Update is one progress sample tagged with its phase
type Update struct {
	Phase  runners.Phase
	Sample runners.ProgressSample
}

// Reporter hands samples from the io loop to a render goroutine through a
// single slot. a newer sample replaces an unread older one, so a stalled
// terminal drops samples instead of slowing the measurement.
type Reporter struct {
	config    DisplayConfig
	out       io.Writer
	latest    chan Update   // single slot, newest sample wins
	done      chan struct{} // closed by Close
	closeOnce sync.Once

	// render loop state, touched only by Run
	phase    runners.Phase
	started  bool
	lastDraw time.Time
	drawn    int
}

// NewReporter creates a Reporter drawing to out
func NewReporter(out io.Writer, config DisplayConfig) *Reporter {
	return &Reporter{
		config: config,
		out:    out,
		latest: make(chan Update, 1),
		done:   make(chan struct{}),
	}
}

// Observe offers a sample to the render loop. it never blocks.
func (r *Reporter) Observe(phase runners.Phase, sample runners.ProgressSample) {
	u := Update{Phase: phase, Sample: sample}
	for {
		select {
		case r.latest <- u:
			return
		default:
		}

		// slot is full, throw away the stale sample and retry
		select {
		case <-r.latest:
		default:
		}
	}
}

// Close stops the render loop after it has drawn the last pending sample
func (r *Reporter) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

// Run draws samples until Close is called or ctx ends
func (r *Reporter) Run(ctx context.Context) error {
	for {
		select {
		case u := <-r.latest:
			r.render(u, false)

		case <-r.done:
			select {
			case u := <-r.latest:
				r.render(u, true)
			default:
			}
			r.finishLine()
			return nil

		case <-ctx.Done():
			r.finishLine()
			return nil
		}
	}
}

// render draws a single progress line, replacing the previous one
func (r *Reporter) render(u Update, force bool) {
	if r.config.Quiet {
		return
	}

	newPhase := !r.started || u.Phase != r.phase
	complete := u.Sample.BytesDone >= u.Sample.TotalBytes
	if !newPhase && !force && !complete && time.Since(r.lastDraw) < r.config.UpdateInterval {
		return
	}

	// keep the finished line of the previous phase on screen
	if r.started && u.Phase != r.phase {
		fmt.Fprint(r.out, "\n")
	}
	r.started = true
	r.phase = u.Phase
	r.lastDraw = time.Now()
	r.drawn++

	var sb strings.Builder
	fmt.Fprintf(&sb, "\r%s...", phaseLabel(u.Phase))
	if r.config.ShowProgress {
		sb.WriteString(" ")
		sb.WriteString(progressBar(u.Sample.Percent() / 100))
	}
	fmt.Fprintf(&sb, " %5.1f%% (%.2f MB/s) %s", u.Sample.Percent(), u.Sample.MBps(), formatDuration(u.Sample.Elapsed))
	fmt.Fprint(r.out, sb.String())
}

// finishLine terminates the live line so later output starts clean
func (r *Reporter) finishLine() {
	if r.started && !r.config.Quiet {
		fmt.Fprint(r.out, "\n")
	}
}

func phaseLabel(p runners.Phase) string {
	switch p {
	case runners.PhaseWrite:
		return "Writing"
	case runners.PhaseRead:
		return "Reading"
	default:
		return p.String()
	}
}

// progressBar renders a fixed width bar for progress in 0..1
func progressBar(progress float64) string {
	const barWidth = 30
	const progressChar = "█"
	const emptyChar = "░"

	filled := int(progress * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat(progressChar, filled) + strings.Repeat(emptyChar, barWidth-filled) + "]"
}

// formatDuration formats a duration for display in a human-readable format
func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		m := int(d.Minutes())
		return fmt.Sprintf("%dm%02ds", m, int(d.Seconds())-60*m)
	default:
		h := int(d.Hours())
		return fmt.Sprintf("%dh%02dm", h, int(d.Minutes())-60*h)
	}
}

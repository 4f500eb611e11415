package exporter

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"
)

// ProgressBar draws a single-line progress bar on a terminal. On anything
// else it stays silent.
type ProgressBar struct {
	out             io.Writer
	enabled         bool
	total           int
	current         int
	lastRenderWidth int
	label           string
	bar             progress.Model
}

// NewProgressBar returns a bar for total steps drawn on stderr. The total can
// grow later through Observe.
func NewProgressBar(total int) *ProgressBar {
	return newProgressBar(os.Stderr, isTerminal(os.Stderr), total)
}

func newProgressBar(out io.Writer, enabled bool, total int) *ProgressBar {
	if total <= 0 {
		total = 1
	}
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 36

	if cols, err := strconv.Atoi(strings.TrimSpace(os.Getenv("COLUMNS"))); err == nil && cols > 0 {
		bar.Width = min(max(cols-40, 16), 64)
	}

	return &ProgressBar{
		out:     out,
		enabled: enabled,
		total:   total,
		bar:     bar,
	}
}

// Observe redraws the bar from an exporter progress event.
func (p *ProgressBar) Observe(ev Progress) {
	if !p.enabled {
		return
	}
	if ev.Queued > p.total {
		p.total = ev.Queued
	}
	p.current = min(ev.Done, p.total)
	p.label = ev.Title
	if !ev.OK {
		p.label = "failed: " + ev.Title
	}
	p.render()
}

// Close ends the bar line so later output starts on a fresh line.
func (p *ProgressBar) Close() {
	if !p.enabled {
		return
	}
	if p.lastRenderWidth > 0 {
		fmt.Fprint(p.out, "\n")
		p.lastRenderWidth = 0
	}
}

func (p *ProgressBar) render() {
	percent := min(max(float64(p.current)/float64(p.total), 0), 1)
	label := runewidth.Truncate(strings.TrimSpace(p.label), 40, "…")
	line := fmt.Sprintf("%s %3.0f%% %d/%d %s", p.bar.ViewAs(percent), percent*100, p.current, p.total, label)
	width := runewidth.StringWidth(line)
	pad := ""
	if p.lastRenderWidth > width {
		pad = strings.Repeat(" ", p.lastRenderWidth-width)
	}
	fmt.Fprintf(p.out, "\r%s%s", line, pad)
	p.lastRenderWidth = width
}

func isTerminal(f *os.File) bool {
	if f == nil {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("TERM")), "dumb") {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

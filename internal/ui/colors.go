package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/darkroom/internal/tasks"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF4D4D", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
	box   lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
		box:   lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color(h)).Padding(0, 1),
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}

// status colors a job status the way the session list shows it.
func (p *Palette) status(s tasks.JobStatus) string {
	switch s {
	case tasks.StatusRunning:
		return p.warn.Render(string(s))
	case tasks.StatusSuccess:
		return p.ok.Render(string(s))
	case tasks.StatusError:
		return p.err.Render(string(s))
	default:
		return p.help.Render(string(s))
	}
}

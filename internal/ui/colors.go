package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/desertthunder/pkgsend/internal/models"
	"github.com/desertthunder/pkgsend/internal/tasks"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// Palette is a simple stylesheet built with named [lipgloss.Style] fields
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style
}

func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title: NewBold(t).MarginBottom(1),
		ok:    NewBold(s),
		err:   NewBold(e),
		warn:  NewStyle(w),
		help:  NewEm(h),
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

// Status renders a task status in its color.
func (p *Palette) Status(s models.Status) string {
	switch s {
	case models.StatusSuccess:
		return p.ok.Render(string(s))
	case models.StatusError:
		return p.err.Render(string(s))
	case models.StatusLoading:
		return p.warn.Render(string(s))
	default:
		return p.help.Render(string(s))
	}
}

// Notice renders an operator notice colored by its type.
func (p *Palette) Notice(n tasks.Notice) string {
	switch n.Type {
	case tasks.NoticeSuccess:
		return p.ok.Render(n.String())
	case tasks.NoticeError:
		return p.err.Render(n.String())
	default:
		return p.warn.Render(n.String())
	}
}

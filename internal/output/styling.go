package output

import (
	"github.com/fatih/color"
)

// Palette holds the colours shared by the human event format and the task
// execution report.
type Palette struct {
	Timestamp *color.Color
	Kernel    *color.Color
	Task      *color.Color
	User      *color.Color
	Warning   *color.Color
	Heading   *color.Color
	Muted     *color.Color
}

// NewPalette returns the default palette. noColor disables escape codes
// regardless of the terminal.
func NewPalette(noColor bool) *Palette {
	p := &Palette{
		Timestamp: color.New(color.FgHiBlack),
		Kernel:    color.New(color.FgBlue),
		Task:      color.New(color.FgGreen, color.Bold),
		User:      color.New(color.FgCyan, color.Bold),
		Warning:   color.New(color.FgYellow),
		Heading:   color.New(color.FgWhite, color.Bold),
		Muted:     color.New(color.FgHiBlack),
	}
	if noColor {
		for _, c := range []*color.Color{p.Timestamp, p.Kernel, p.Task, p.User, p.Warning, p.Heading, p.Muted} {
			c.DisableColor()
		}
	}
	return p
}

// Separator is drawn under report headings.
const Separator = "─"

// Package ui renders agenda output for the terminal.
package ui

import (
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Colors use the 256-color palette and degrade to the terminal's profile.
var (
	colorAccent = lipgloss.AdaptiveColor{Light: "26", Dark: "75"}
	colorPass   = lipgloss.AdaptiveColor{Light: "28", Dark: "78"}
	colorWarn   = lipgloss.AdaptiveColor{Light: "130", Dark: "214"}
	colorFail   = lipgloss.AdaptiveColor{Light: "124", Dark: "203"}
	colorMuted  = lipgloss.Color("243")
	colorSelect = lipgloss.Color("62")
)

// Styles holds the styles of one output.
type Styles struct {
	Header   lipgloss.Style
	Accent   lipgloss.Style
	Pass     lipgloss.Style
	Warn     lipgloss.Style
	Fail     lipgloss.Style
	Muted    lipgloss.Style
	Selected lipgloss.Style
	Done     lipgloss.Style
}

// Options configures a Renderer.
type Options struct {
	// NoColor forces plain ASCII output
	NoColor bool
}

// NewStyles builds styles for w. Color is dropped when w is not a
// terminal, when NO_COLOR is set, or when opts.NoColor is true.
func NewStyles(w io.Writer, opts Options) Styles {
	r := lipgloss.NewRenderer(w, termenv.WithColorCache(true))
	if opts.NoColor {
		r.SetColorProfile(termenv.Ascii)
	}
	return Styles{
		Header:   r.NewStyle().Bold(true).Foreground(colorAccent),
		Accent:   r.NewStyle().Foreground(colorAccent),
		Pass:     r.NewStyle().Foreground(colorPass),
		Warn:     r.NewStyle().Foreground(colorWarn),
		Fail:     r.NewStyle().Foreground(colorFail).Bold(true),
		Muted:    r.NewStyle().Foreground(colorMuted).Faint(true),
		Selected: r.NewStyle().Bold(true).Reverse(true).Foreground(colorSelect),
		Done:     r.NewStyle().Strikethrough(true).Foreground(colorMuted),
	}
}

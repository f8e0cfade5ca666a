// Package ui provides the terminal components of the production monitor
package ui

import (
	"fmt"

	"github.com/gdamore/tcell/v2"
)

// ColorScheme defines colors optimized for black background
type ColorScheme struct {
	// Equipment status
	Run     tcell.Color
	Idle    tcell.Color
	Error   tcell.Color
	Unknown tcell.Color

	// Text
	Primary   tcell.Color
	Secondary tcell.Color
	Muted     tcell.Color
	Highlight tcell.Color

	// UI elements
	Border tcell.Color
	Header tcell.Color
	Label  tcell.Color
	Value  tcell.Color

	// Series palette, cycled per entity
	Series []tcell.Color
}

// DefaultColorScheme returns the default color scheme for black background
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Run:     tcell.ColorLightGreen,
		Idle:    tcell.ColorYellow,
		Error:   tcell.ColorLightPink,
		Unknown: tcell.ColorLightGray,

		Primary:   tcell.ColorWhite,
		Secondary: tcell.ColorLightGray,
		Muted:     tcell.ColorSilver,
		Highlight: tcell.ColorLightYellow,

		Border: tcell.ColorLightSlateGray,
		Header: tcell.ColorLightCyan,
		Label:  tcell.ColorLightBlue,
		Value:  tcell.ColorWhite,

		Series: []tcell.Color{
			tcell.ColorLightSkyBlue,
			tcell.ColorMediumSpringGreen,
			tcell.ColorGold,
			tcell.ColorLightCoral,
			tcell.ColorMediumPurple,
			tcell.ColorDarkTurquoise,
			tcell.ColorGreenYellow,
			tcell.ColorHotPink,
		},
	}
}

// SeriesColor returns the palette color for the i-th series.
func (cs *ColorScheme) SeriesColor(i int) tcell.Color {
	if len(cs.Series) == 0 {
		return cs.Primary
	}
	return cs.Series[i%len(cs.Series)]
}

// GetColorForStatus returns the color of an equipment status
func (cs *ColorScheme) GetColorForStatus(status string) tcell.Color {
	switch status {
	case "RUN":
		return cs.Run
	case "IDLE":
		return cs.Idle
	case "ERROR":
		return cs.Error
	default:
		return cs.Unknown
	}
}

// GetColorForEfficiency returns color based on efficiency percentage
func (cs *ColorScheme) GetColorForEfficiency(pct float64) tcell.Color {
	switch {
	case pct >= 85:
		return cs.Run
	case pct >= 60:
		return cs.Idle
	case pct > 0:
		return cs.Error
	default:
		return cs.Muted
	}
}

// GetAlertColor returns color based on alert type
func (cs *ColorScheme) GetAlertColor(alertType string) tcell.Color {
	switch alertType {
	case "ERROR_START":
		return cs.Error
	case "ERROR_END":
		return cs.Run
	default:
		return cs.Muted
	}
}

// Tag converts a tcell color to a tview color tag value
func Tag(color tcell.Color) string {
	return fmt.Sprintf("#%06X", color.Hex())
}

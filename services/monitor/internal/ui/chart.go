package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/rivo/tview"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

const (
	axisWidth  = 9
	pointGlyph = '●'
	lineGlyph  = '·'
)

var sparkGlyphs = []rune("▁▂▃▄▅▆▇█")

type cell struct {
	r      rune
	series int
}

// RenderChart draws frame as a colored text plot of width x height cells.
// Absent values leave gaps; lines are never drawn across them.
func RenderChart(frame view.Frame, width, height int, scheme *ColorScheme) string {
	plotW := width - axisWidth - 1
	plotH := height - 2
	if plotW < 4 || plotH < 2 {
		return ""
	}
	lo, hi, ok := frame.Range()
	if !ok || len(frame.Labels) == 0 {
		return fmt.Sprintf("[%s]No data[-]", Tag(scheme.Muted))
	}
	if lo > 0 {
		lo = 0
	}
	if hi <= lo {
		hi = lo + 1
	}

	grid := make([][]cell, plotH)
	for y := range grid {
		grid[y] = make([]cell, plotW)
		for x := range grid[y] {
			grid[y][x] = cell{r: ' ', series: -1}
		}
	}

	n := len(frame.Labels)
	col := func(i int) int {
		if n == 1 {
			return 0
		}
		return i * (plotW - 1) / (n - 1)
	}
	row := func(v float64) float64 {
		return float64(plotH-1) - (v-lo)/(hi-lo)*float64(plotH-1)
	}

	for k, s := range frame.Series {
		for i, v := range s.Values {
			if !v.Present {
				continue
			}
			if i > 0 && s.Values[i-1].Present {
				c0, c1 := col(i-1), col(i)
				r0, r1 := row(s.Values[i-1].V), row(v.V)
				for x := c0 + 1; x < c1; x++ {
					t := float64(x-c0) / float64(c1-c0)
					y := int(math.Round(r0 + (r1-r0)*t))
					if grid[y][x].r == ' ' {
						grid[y][x] = cell{r: lineGlyph, series: k}
					}
				}
			}
			grid[int(math.Round(row(v.V)))][col(i)] = cell{r: pointGlyph, series: k}
		}
	}

	var b strings.Builder
	for y := 0; y < plotH; y++ {
		switch y {
		case 0:
			fmt.Fprintf(&b, "[%s]%*s ┤[-]", Tag(scheme.Secondary), axisWidth-2, FormatNumber(hi))
		case plotH - 1:
			fmt.Fprintf(&b, "[%s]%*s ┤[-]", Tag(scheme.Secondary), axisWidth-2, FormatNumber(lo))
		case plotH / 2:
			fmt.Fprintf(&b, "[%s]%*s ┤[-]", Tag(scheme.Secondary), axisWidth-2, FormatNumber((hi+lo)/2))
		default:
			fmt.Fprintf(&b, "[%s]%*s │[-]", Tag(scheme.Secondary), axisWidth-2, "")
		}
		current := -1
		for x := 0; x < plotW; x++ {
			c := grid[y][x]
			if c.series != current {
				if current >= 0 {
					b.WriteString("[-]")
				}
				if c.series >= 0 {
					fmt.Fprintf(&b, "[%s]", Tag(scheme.SeriesColor(c.series)))
				}
				current = c.series
			}
			b.WriteRune(c.r)
		}
		if current >= 0 {
			b.WriteString("[-]")
		}
		b.WriteByte('\n')
	}

	fmt.Fprintf(&b, "[%s]%*s └%s[-]\n", Tag(scheme.Secondary), axisWidth-2, "", strings.Repeat("─", plotW))
	first := ShortTime(string(frame.Labels[0]))
	last := ShortTime(string(frame.Labels[n-1]))
	pad := plotW - len(first) - len(last)
	if pad < 1 {
		pad = 1
	}
	fmt.Fprintf(&b, "[%s]%*s  %s%s%s[-]", Tag(scheme.Muted), axisWidth-2, "", first, strings.Repeat(" ", pad), last)
	return b.String()
}

// Legend lists series names in their palette colors.
func Legend(frame view.Frame, scheme *ColorScheme) string {
	parts := make([]string, 0, len(frame.Series))
	for k, s := range frame.Series {
		parts = append(parts, fmt.Sprintf("[%s]■[-] %s", Tag(scheme.SeriesColor(k)), tview.Escape(s.Name)))
	}
	return strings.Join(parts, "  ")
}

// Sparkline renders the last width values as block glyphs. Gaps render as
// spaces.
func Sparkline(values []window.Value, width int) string {
	if width <= 0 || len(values) == 0 {
		return ""
	}
	if len(values) > width {
		values = values[len(values)-width:]
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if v.Present {
			lo = math.Min(lo, v.V)
			hi = math.Max(hi, v.V)
		}
	}
	var b strings.Builder
	for _, v := range values {
		if !v.Present {
			b.WriteRune(' ')
			continue
		}
		idx := 0
		if hi > lo {
			idx = int((v.V - lo) / (hi - lo) * float64(len(sparkGlyphs)-1))
		}
		b.WriteRune(sparkGlyphs[idx])
	}
	return b.String()
}

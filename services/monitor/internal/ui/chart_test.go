package ui

import (
	"strings"
	"testing"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

func frame() view.Frame {
	return view.Frame{
		Labels: []window.Timestamp{"2024-01-01T08:00:00Z", "2024-01-01T08:00:05Z", "2024-01-01T08:00:10Z"},
		Series: []view.Series{
			{Name: "M1", Values: []window.Value{window.Of(1), window.Of(5), window.Absent()}},
			{Name: "M[2]", Values: []window.Value{window.Absent(), window.Of(2), window.Of(9)}},
		},
		YAxisLabel: view.CumulativeAxisLabel,
		SeriesMode: view.PerEntity,
		ValueMode:  view.Cumulative,
	}
}

func TestRenderChartDimensions(t *testing.T) {
	r := require.New(t)
	out := RenderChart(frame(), 40, 10, DefaultColorScheme())
	lines := strings.Split(out, "\n")
	r.Len(lines, 10)
	r.Contains(lines[0], "9")
	r.Contains(out, string(pointGlyph))
	r.Equal(4, strings.Count(out, string(pointGlyph)))
}

func TestRenderChartEmptyAndTiny(t *testing.T) {
	scheme := DefaultColorScheme()
	assert.Contains(t, RenderChart(view.Frame{}, 40, 10, scheme), "No data")
	assert.Empty(t, RenderChart(frame(), 5, 10, scheme))
	assert.Empty(t, RenderChart(frame(), 40, 2, scheme))
}

func TestLegendEscapesNames(t *testing.T) {
	legend := Legend(frame(), DefaultColorScheme())
	assert.Contains(t, legend, "M1")
	assert.Contains(t, legend, "M[2[]")
}

func TestSparkline(t *testing.T) {
	vals := []window.Value{window.Of(0), window.Of(7), window.Absent(), window.Of(14)}
	assert.Equal(t, "▁▄ █", Sparkline(vals, 10))
	assert.Equal(t, " ▁", Sparkline(vals, 2))
	assert.Equal(t, "", Sparkline(nil, 10))
	assert.Equal(t, "▁▁", Sparkline([]window.Value{window.Of(3), window.Of(3)}, 5))
}

func TestFormatters(t *testing.T) {
	assert.Equal(t, "999", FormatNumber(999))
	assert.Equal(t, "1.5K", FormatNumber(1500))
	assert.Equal(t, "2.0M", FormatNumber(2e6))

	assert.Equal(t, "-", FormatDuration(0))
	assert.Equal(t, "12s", FormatDuration(12*time.Second))
	assert.Equal(t, "3m05s", FormatDuration(185*time.Second))
	assert.Equal(t, "1h02m", FormatDuration(62*time.Minute))

	assert.Equal(t, "not-a-time", ShortTime("not-a-time"))
	assert.Len(t, ShortTime("2024-01-01T08:00:00Z"), 8)
}

func TestColorScheme(t *testing.T) {
	cs := DefaultColorScheme()
	assert.Equal(t, cs.Run, cs.GetColorForStatus("RUN"))
	assert.Equal(t, cs.Error, cs.GetColorForStatus("ERROR"))
	assert.Equal(t, cs.Unknown, cs.GetColorForStatus("?"))
	assert.Equal(t, cs.Series[0], cs.SeriesColor(len(cs.Series)))
	assert.Equal(t, cs.Error, cs.GetAlertColor("ERROR_START"))
	assert.Equal(t, "#FFFFFF", Tag(tcell.ColorWhite))
}

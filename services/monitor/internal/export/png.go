// Package export renders chart frames to PNG files.
package export

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"
	"github.com/wcharczuk/go-chart/v2/drawing"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
)

var (
	// ErrTooFewPoints is returned for frames with fewer than two labels.
	ErrTooFewPoints = errors.New("export: at least two points are required")
	// ErrNoData is returned when every value in the frame is absent.
	ErrNoData = errors.New("export: frame has no values")
)

var palette = []string{"2563eb", "10b981", "f59e0b", "ef4444", "8b5cf6", "06b6d4", "84cc16", "dc2626"}

// Exporter writes PNG snapshots of frames.
type Exporter struct {
	dir    string
	width  int
	height int
	now    func() time.Time
}

// NewExporter creates an exporter writing into dir.
func NewExporter(dir string, width, height int) *Exporter {
	if width <= 0 {
		width = 1024
	}
	if height <= 0 {
		height = 480
	}
	return &Exporter{dir: dir, width: width, height: height, now: time.Now}
}

// Render draws frame as a PNG into w. Absent values split a series into
// separate segments so gaps stay visible.
func (e *Exporter) Render(frame view.Frame, w io.Writer) error {
	n := len(frame.Labels)
	if n < 2 {
		return ErrTooFewPoints
	}
	lo, hi, ok := frame.Range()
	if !ok {
		return ErrNoData
	}
	if lo > 0 {
		lo = 0
	}
	if hi <= lo {
		hi = lo + 1
	}

	var series []chart.Series
	for k, s := range frame.Series {
		color := drawing.ColorFromHex(palette[k%len(palette)])
		style := chart.Style{
			StrokeColor: color,
			StrokeWidth: 2,
			DotColor:    color,
			DotWidth:    3,
		}
		name := s.Name
		var xs, ys []float64
		flush := func() {
			if len(xs) == 0 {
				return
			}
			series = append(series, chart.ContinuousSeries{Name: name, XValues: xs, YValues: ys, Style: style})
			// only the first segment carries the legend entry
			name = ""
			xs, ys = nil, nil
		}
		for i, v := range s.Values {
			if !v.Present {
				flush()
				continue
			}
			xs = append(xs, float64(i))
			ys = append(ys, v.V)
		}
		flush()
	}

	ticks := make([]chart.Tick, 0, 5)
	step := (n - 1) / 4
	if step < 1 {
		step = 1
	}
	for i := 0; i < n; i += step {
		ticks = append(ticks, chart.Tick{Value: float64(i), Label: shortLabel(string(frame.Labels[i]))})
	}
	if last := float64(n - 1); ticks[len(ticks)-1].Value != last {
		ticks = append(ticks, chart.Tick{Value: last, Label: shortLabel(string(frame.Labels[n-1]))})
	}

	ch := chart.Chart{
		Title:      fmt.Sprintf("%s (%s)", frame.YAxisLabel, frame.SeriesMode),
		Width:      e.width,
		Height:     e.height,
		Background: chart.Style{Padding: chart.Box{Top: 40, Left: 16, Right: 16, Bottom: 16}},
		XAxis: chart.XAxis{
			Name:  "Time",
			Range: &chart.ContinuousRange{Min: 0, Max: float64(n - 1)},
			Ticks: ticks,
		},
		YAxis: chart.YAxis{
			Name:  frame.YAxisLabel,
			Range: &chart.ContinuousRange{Min: lo, Max: hi * 1.05},
		},
		Series: series,
	}
	ch.Elements = []chart.Renderable{chart.Legend(&ch)}

	var buf bytes.Buffer
	if err := ch.Render(chart.PNG, &buf); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Export writes frame to a timestamped file in the export directory and
// returns its path.
func (e *Exporter) Export(frame view.Frame) (string, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	name := fmt.Sprintf("production_%s_%s.png", frame.ValueMode, e.now().Format("20060102_150405"))
	path := filepath.Join(e.dir, name)

	var buf bytes.Buffer
	if err := e.Render(frame, &buf); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func shortLabel(label string) string {
	if t, err := time.Parse(time.RFC3339Nano, label); err == nil {
		return t.Local().Format("15:04:05")
	}
	return label
}

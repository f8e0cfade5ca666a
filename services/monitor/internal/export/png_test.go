package export

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

func frame() view.Frame {
	return view.Frame{
		Labels: []window.Timestamp{
			"2024-01-01T08:00:00Z", "2024-01-01T08:00:05Z", "2024-01-01T08:00:10Z", "2024-01-01T08:00:15Z",
		},
		Series: []view.Series{
			{Name: "M1", Values: []window.Value{window.Of(1), window.Of(4), window.Absent(), window.Of(9)}},
			{Name: "M2", Values: []window.Value{window.Absent(), window.Of(2), window.Of(3), window.Of(5)}},
		},
		YAxisLabel: view.CumulativeAxisLabel,
		SeriesMode: view.PerEntity,
		ValueMode:  view.Cumulative,
	}
}

func TestRenderWritesPNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewExporter(t.TempDir(), 640, 320).Render(frame(), &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), pngMagic))
}

func TestRenderRejectsDegenerateFrames(t *testing.T) {
	e := NewExporter(t.TempDir(), 0, 0)
	var buf bytes.Buffer

	one := frame()
	one.Labels = one.Labels[:1]
	assert.ErrorIs(t, e.Render(one, &buf), ErrTooFewPoints)

	empty := view.Frame{
		Labels: []window.Timestamp{"a", "b"},
		Series: []view.Series{{Name: "M1", Values: []window.Value{window.Absent(), window.Absent()}}},
	}
	assert.ErrorIs(t, e.Render(empty, &buf), ErrNoData)
}

func TestExportWritesFile(t *testing.T) {
	r := require.New(t)
	dir := filepath.Join(t.TempDir(), "exports")
	e := NewExporter(dir, 640, 320)
	e.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	path, err := e.Export(frame())
	r.NoError(err)
	r.Equal(filepath.Join(dir, "production_cumulative_20240102_030405.png"), path)

	data, err := os.ReadFile(path)
	r.NoError(err)
	r.True(bytes.HasPrefix(data, pngMagic))
}

package merge

import (
	"fmt"
	"io"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

func ts(i int) window.Timestamp {
	return window.Timestamp(fmt.Sprintf("2024-01-01T08:00:%02dZ", i))
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(opts, quietLogger())
	require.NoError(t, err)
	return e
}

func total(pairs ...float64) []metrics.Sample {
	out := make([]metrics.Sample, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, metrics.Sample{TS: ts(int(pairs[i])), Production: pairs[i+1]})
	}
	return out
}

func TestReloadKeepsTail(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 3})

	out, err := e.Merge(metrics.Response{Total: total(1, 5, 2, 9, 3, 9, 4, 14)}, false)
	r.NoError(err)
	r.Equal(ModeReload, out.Mode)
	r.Equal(3, out.Admitted)
	r.Equal(0, out.Evicted)

	snap := e.Snapshot()
	r.NoError(snap.Verify())
	r.Equal([]window.Timestamp{ts(2), ts(3), ts(4)}, snap.Labels)
	r.Equal([]float64{9, 9, 14}, snap.Aggregate)
	r.Equal(ts(4), snap.Last)
}

func TestAppendAdmitsOnlyNewer(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 3})

	_, err := e.Merge(metrics.Response{Total: total(1, 5, 2, 9, 3, 9, 4, 14)}, false)
	r.NoError(err)

	out, err := e.Merge(metrics.Response{Total: total(2, 9, 3, 9, 4, 14, 5, 20)}, false)
	r.NoError(err)
	r.Equal(ModeAppend, out.Mode)
	r.Equal(1, out.Admitted)
	r.Equal(1, out.Evicted)

	snap := e.Snapshot()
	r.NoError(snap.Verify())
	r.Equal([]window.Timestamp{ts(3), ts(4), ts(5)}, snap.Labels)
	r.Equal([]float64{9, 14, 20}, snap.Aggregate)
}

func TestAppendWithNothingNewIsNoop(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 3})
	resp := metrics.Response{
		Total: total(1, 5, 2, 9, 3, 9),
		ByEquipment: []metrics.EntityPoints{
			{EquipmentID: "M1", Points: total(1, 5, 2, 9, 3, 9)},
		},
	}

	_, err := e.Merge(resp, false)
	r.NoError(err)
	before := e.Snapshot()

	out, err := e.Merge(resp, false)
	r.NoError(err)
	r.Equal(ModeNoop, out.Mode)
	r.Equal(0, out.Evicted)
	r.Equal(before, e.Snapshot())
}

func TestNewEntityMidStreamIsBackfilled(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 10})

	_, err := e.Merge(metrics.Response{
		Total:       total(1, 1, 2, 2),
		ByEquipment: []metrics.EntityPoints{{EquipmentID: "E1", Points: total(1, 1, 2, 2)}},
	}, false)
	r.NoError(err)

	_, err = e.Merge(metrics.Response{
		Total: total(1, 1, 2, 2, 3, 10),
		ByEquipment: []metrics.EntityPoints{
			{EquipmentID: "E1", Points: total(1, 1, 2, 2, 3, 3)},
			{EquipmentID: "E2", Points: total(3, 7)},
		},
	}, false)
	r.NoError(err)

	snap := e.Snapshot()
	r.NoError(snap.Verify())
	e2, ok := snap.Entity("E2")
	r.True(ok)
	r.Equal([]window.Value{window.Absent(), window.Absent(), window.Of(7)}, e2.Values)
	e1, _ := snap.Entity("E1")
	r.Equal([]window.Value{window.Of(1), window.Of(2), window.Of(3)}, e1.Values)
}

func TestMissingEntityValueIsAbsent(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 10})

	_, err := e.Merge(metrics.Response{
		Total: total(1, 3, 2, 7, 3, 7),
		ByEquipment: []metrics.EntityPoints{
			{EquipmentID: "E1", Points: total(1, 3, 2, 7)},
		},
	}, false)
	r.NoError(err)

	e1, _ := e.Snapshot().Entity("E1")
	r.Equal([]window.Value{window.Of(3), window.Of(7), window.Absent()}, e1.Values)
}

func TestResizeForcesReload(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 2})
	resp := metrics.Response{Total: total(1, 1, 2, 2, 3, 3, 4, 4)}

	_, err := e.Merge(resp, false)
	r.NoError(err)
	r.Equal(2, e.Snapshot().Len())

	r.NoError(e.Resize(3))
	r.Equal(0, e.Snapshot().Len())

	// a response to a poll issued before the resize reloads instead of appending
	out, err := e.Merge(resp, false)
	r.NoError(err)
	r.Equal(ModeReload, out.Mode)
	r.Equal([]window.Timestamp{ts(2), ts(3), ts(4)}, e.Snapshot().Labels)
	r.Equal(3, e.Capacity())
}

func TestResizeRejectsInvalidCapacity(t *testing.T) {
	e := newEngine(t, Options{MaxPoints: 2})
	assert.ErrorIs(t, e.Resize(0), window.ErrInvalidCapacity)
	assert.Equal(t, 2, e.Capacity())
}

func TestRequestReloadRebuilds(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 5})
	_, err := e.Merge(metrics.Response{Total: total(1, 1, 2, 2)}, false)
	r.NoError(err)

	e.RequestReload()
	out, err := e.Merge(metrics.Response{Total: total(1, 1, 2, 2)}, false)
	r.NoError(err)
	r.Equal(ModeReload, out.Mode)
	r.Equal(2, e.Snapshot().Len())
}

func TestForceReloadReplacesWindow(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 5})
	_, err := e.Merge(metrics.Response{Total: total(1, 1, 2, 2, 3, 3)}, false)
	r.NoError(err)

	out, err := e.Merge(metrics.Response{Total: total(2, 2, 3, 3)}, true)
	r.NoError(err)
	r.Equal(ModeReload, out.Mode)
	r.Equal([]window.Timestamp{ts(2), ts(3)}, e.Snapshot().Labels)
}

func TestEmptyResponseLeavesWindowEmpty(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 5})

	out, err := e.Merge(metrics.Response{}, false)
	r.NoError(err)
	r.Equal(ModeReload, out.Mode)
	r.Equal(0, e.Snapshot().Len())

	out, err = e.Merge(metrics.Response{Total: total(1, 1)}, false)
	r.NoError(err)
	r.Equal(ModeReload, out.Mode)
	r.Equal(1, e.Snapshot().Len())
}

func TestTrackIdleEntities(t *testing.T) {
	resp := metrics.Response{
		Total: total(1, 1, 2, 2, 3, 3, 4, 4),
		ByEquipment: []metrics.EntityPoints{
			{EquipmentID: "OLD", Points: total(1, 1)},
			{EquipmentID: "NEW", Points: total(3, 1, 4, 2)},
		},
	}

	t.Run("enabled", func(t *testing.T) {
		r := require.New(t)
		e := newEngine(t, Options{MaxPoints: 2, TrackIdleEntities: true})
		_, err := e.Merge(resp, false)
		r.NoError(err)

		snap := e.Snapshot()
		r.NoError(snap.Verify())
		old, ok := snap.Entity("OLD")
		r.True(ok)
		r.Equal([]window.Value{window.Absent(), window.Absent()}, old.Values)
		r.Equal("OLD", snap.Entities[0].ID)
	})

	t.Run("disabled", func(t *testing.T) {
		r := require.New(t)
		e := newEngine(t, Options{MaxPoints: 2})
		_, err := e.Merge(resp, false)
		r.NoError(err)

		_, ok := e.Snapshot().Entity("OLD")
		r.False(ok)
	})
}

func TestUnorderedResponseResetsWindow(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 5})

	_, err := e.Merge(metrics.Response{Total: total(2, 1, 1, 1)}, false)
	r.ErrorIs(err, ErrInvariant)
	r.ErrorIs(err, window.ErrNonIncreasingTimestamp)
	r.Equal(0, e.Snapshot().Len())

	out, err := e.Merge(metrics.Response{Total: total(1, 1, 2, 1)}, false)
	r.NoError(err)
	r.Equal(ModeReload, out.Mode)
}

func TestStrictModePanics(t *testing.T) {
	e := newEngine(t, Options{MaxPoints: 5, Strict: true})
	assert.Panics(t, func() {
		_, _ = e.Merge(metrics.Response{Total: total(2, 1, 2, 1)}, false)
	})
}

func TestInvariantsHoldAcrossCycles(t *testing.T) {
	r := require.New(t)
	e := newEngine(t, Options{MaxPoints: 4, TrackIdleEntities: true})

	var history []metrics.Sample
	perEntity := map[string][]metrics.Sample{}
	for i := 1; i <= 30; i++ {
		history = append(history, metrics.Sample{TS: ts(i), Production: float64(i * 3)})
		id := fmt.Sprintf("M%d", i%3)
		perEntity[id] = append(perEntity[id], metrics.Sample{TS: ts(i), Production: float64(i)})

		resp := metrics.Response{Total: history}
		for _, id := range []string{"M0", "M1", "M2"} {
			if pts, ok := perEntity[id]; ok {
				resp.ByEquipment = append(resp.ByEquipment, metrics.EntityPoints{EquipmentID: id, Points: pts})
			}
		}
		if i == 12 {
			r.NoError(e.Resize(3))
		}

		_, err := e.Merge(resp, false)
		r.NoError(err)
		snap := e.Snapshot()
		r.NoError(snap.Verify())
		r.LessOrEqual(snap.Len(), e.Capacity())
		r.Equal(ts(i), snap.Last)
	}
}

func TestMetricsRegistered(t *testing.T) {
	r := require.New(t)
	reg := prometheus.NewRegistry()
	e, err := NewEngine(Options{MaxPoints: 2, Registerer: reg}, quietLogger())
	r.NoError(err)

	_, err = e.Merge(metrics.Response{Total: total(1, 1, 2, 2, 3, 3)}, false)
	r.NoError(err)
	_, err = e.Merge(metrics.Response{Total: total(1, 1, 2, 2, 3, 3, 4, 4)}, false)
	r.NoError(err)

	r.Equal(float64(1), testutil.ToFloat64(e.merges.WithLabelValues("reload")))
	r.Equal(float64(3), testutil.ToFloat64(e.admitted))
	r.Equal(float64(1), testutil.ToFloat64(e.evicted))
	r.Equal(float64(2), testutil.ToFloat64(e.windowLen))

	_, err = NewEngine(Options{MaxPoints: 2, Registerer: reg}, quietLogger())
	r.Error(err)
}

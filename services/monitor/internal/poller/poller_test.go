package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/merge"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/view"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

type fakeSource struct {
	mu     sync.Mutex
	calls  int
	ranges []string
	fn     func(ctx context.Context, call int, rangeName string) (metrics.Response, error)
}

func (f *fakeSource) FetchMetrics(ctx context.Context, rangeName string, limit int) (metrics.Response, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.ranges = append(f.ranges, rangeName)
	f.mu.Unlock()
	return f.fn(ctx, n, rangeName)
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func ts(i int) window.Timestamp {
	return window.Timestamp(fmt.Sprintf("2024-01-01T08:%02d:00Z", i))
}

func history(n int) metrics.Response {
	var resp metrics.Response
	points := make([]metrics.Sample, 0, n)
	for i := 1; i <= n; i++ {
		s := metrics.Sample{TS: ts(i), Production: float64(i * 2)}
		resp.Total = append(resp.Total, s)
		points = append(points, metrics.Sample{TS: ts(i), Production: float64(i)})
	}
	resp.ByEquipment = []metrics.EntityPoints{{EquipmentID: "M1", Points: points}}
	return resp
}

type harness struct {
	t       *testing.T
	source  *fakeSource
	poller  *Poller
	updates chan Update
	cancel  context.CancelFunc
	done    chan struct{}
}

func newHarness(t *testing.T, interval time.Duration, maxPoints int, fn func(ctx context.Context, call int, rangeName string) (metrics.Response, error)) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	engine, err := merge.NewEngine(merge.Options{MaxPoints: maxPoints}, logger)
	require.NoError(t, err)

	h := &harness{
		t:       t,
		source:  &fakeSource{fn: fn},
		updates: make(chan Update, 256),
		done:    make(chan struct{}),
	}
	h.poller = New(h.source, engine, Config{
		Interval: interval,
		Modes:    view.Modes{SeriesMode: view.Aggregate, ValueMode: view.Cumulative, MaxPoints: maxPoints},
	}, func(u Update) {
		select {
		case h.updates <- u:
		default:
		}
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		defer close(h.done)
		_ = h.poller.Run(ctx)
	}()
	t.Cleanup(h.stop)
	return h
}

func (h *harness) stop() {
	h.cancel()
	<-h.done
}

func (h *harness) waitFor(pred func(Update) bool) Update {
	h.t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case u := <-h.updates:
			if pred(u) {
				return u
			}
		case <-deadline:
			h.t.Fatal("timed out waiting for update")
			return Update{}
		}
	}
}

func TestInitialPollReloads(t *testing.T) {
	h := newHarness(t, time.Hour, 3, func(_ context.Context, _ int, _ string) (metrics.Response, error) {
		return history(5), nil
	})

	u := h.waitFor(func(u Update) bool { return u.Outcome.Mode == merge.ModeReload })
	r := require.New(t)
	r.NoError(u.Err)
	r.Equal([]window.Timestamp{ts(3), ts(4), ts(5)}, u.Frame.Labels)
	r.Equal(view.CumulativeAxisLabel, u.Frame.YAxisLabel)
	r.Equal(3, u.Modes.MaxPoints)
	r.Equal(RangeRealtime, u.Range)
}

func TestTicksAppendNewSamples(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, 3, func(_ context.Context, call int, _ string) (metrics.Response, error) {
		return history(4 + call), nil
	})

	u := h.waitFor(func(u Update) bool { return u.Outcome.Mode == merge.ModeAppend })
	r := require.New(t)
	r.Equal(1, u.Outcome.Admitted)
	r.NoError(u.Snapshot.Verify())
	r.Equal(3, u.Snapshot.Len())
}

func TestModeChangeDoesNotFetch(t *testing.T) {
	h := newHarness(t, time.Hour, 5, func(_ context.Context, _ int, _ string) (metrics.Response, error) {
		return history(3), nil
	})
	h.waitFor(func(u Update) bool { return u.Outcome.Mode == merge.ModeReload })

	h.poller.SetValueMode(view.Delta)
	u := h.waitFor(func(u Update) bool { return u.Modes.ValueMode == view.Delta })
	r := require.New(t)
	r.Equal(view.DeltaAxisLabel, u.Frame.YAxisLabel)
	r.Equal([]window.Value{window.Of(0), window.Of(2), window.Of(2)}, u.Frame.Series[0].Values)

	h.poller.SetSeriesMode(view.PerEntity)
	u = h.waitFor(func(u Update) bool { return u.Modes.SeriesMode == view.PerEntity })
	r.Equal("M1", u.Frame.Series[0].Name)
	r.Equal(1, h.source.Calls())
}

func TestResizeDuringPollReloads(t *testing.T) {
	h := newHarness(t, time.Hour, 5, func(ctx context.Context, call int, _ string) (metrics.Response, error) {
		if call == 2 {
			<-ctx.Done()
			return metrics.Response{}, ctx.Err()
		}
		return history(10 + call), nil
	})
	h.waitFor(func(u Update) bool { return u.Outcome.Mode == merge.ModeReload })

	h.poller.Reload()
	h.poller.SetMaxPoints(2)

	u := h.waitFor(func(u Update) bool {
		return u.Modes.MaxPoints == 2 && u.Snapshot.Len() == 2
	})
	r := require.New(t)
	r.Equal(merge.ModeReload, u.Outcome.Mode)
	r.Equal([]window.Timestamp{ts(12), ts(13)}, u.Snapshot.Labels)
	r.Equal(3, h.source.Calls())
}

func TestFailedPollKeepsFrame(t *testing.T) {
	boom := errors.New("connection refused")
	h := newHarness(t, 10*time.Millisecond, 5, func(_ context.Context, call int, _ string) (metrics.Response, error) {
		if call == 2 {
			return metrics.Response{}, boom
		}
		return history(2 + call), nil
	})
	first := h.waitFor(func(u Update) bool { return u.Outcome.Mode == merge.ModeReload })

	failed := h.waitFor(func(u Update) bool { return u.Err != nil })
	r := require.New(t)
	r.ErrorIs(failed.Err, boom)
	r.Equal(first.Frame, failed.Frame)

	h.waitFor(func(u Update) bool { return u.Outcome.Mode == merge.ModeAppend })
	_, failures := h.poller.Stats()
	r.Equal(uint64(1), failures)
}

func TestHistoricalRangeBypassesWindow(t *testing.T) {
	h := newHarness(t, time.Hour, 3, func(_ context.Context, _ int, rangeName string) (metrics.Response, error) {
		if rangeName == "24h" {
			return history(8), nil
		}
		return history(4), nil
	})
	h.waitFor(func(u Update) bool { return u.Outcome.Mode == merge.ModeReload })

	h.poller.SetRange("24h")
	u := h.waitFor(func(u Update) bool { return u.Range == "24h" })
	r := require.New(t)
	r.Len(u.Frame.Labels, 8)
	r.Equal(0, u.Snapshot.Len())

	h.poller.SetRange(RangeRealtime)
	u = h.waitFor(func(u Update) bool { return u.Range == RangeRealtime })
	r.Equal(merge.ModeReload, u.Outcome.Mode)
	r.Len(u.Frame.Labels, 3)
}

func TestPauseStopsTicks(t *testing.T) {
	h := newHarness(t, 10*time.Millisecond, 3, func(_ context.Context, call int, _ string) (metrics.Response, error) {
		return history(3 + call), nil
	})
	h.waitFor(func(u Update) bool { return u.Outcome.Mode == merge.ModeReload })

	h.poller.SetPaused(true)
	h.waitFor(func(u Update) bool { return u.Paused })
	calls := h.source.Calls()

	time.Sleep(80 * time.Millisecond)
	require.LessOrEqual(t, h.source.Calls(), calls+1)
}

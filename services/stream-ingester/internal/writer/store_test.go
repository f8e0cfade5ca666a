package writer

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/reading"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), store.Config{
		Driver: store.DriverSQLite,
		DSN:    "file:" + filepath.Join(t.TempDir(), "ingest.db"),
	}, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

var t0 = time.Date(2024, 3, 1, 23, 59, 50, 0, time.UTC)

func rd(id string, at time.Time, produced int64, status string) reading.Reading {
	return reading.Reading{EquipmentID: id, TS: at, Produced: produced, Efficiency: 0.9, Status: status}
}

func TestWriteBatchAccumulatesPerDay(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	st := openStore(t)
	w := NewStoreWriter(st, quietLogger())

	n, err := w.WriteBatch(ctx, []reading.Reading{
		rd("M1", t0, 10, store.StatusRun),
		rd("M2", t0, 5, store.StatusRun),
		rd("M1", t0.Add(5*time.Second), 7, store.StatusIdle),
	})
	r.NoError(err)
	r.Equal(3, n)

	// the next day starts from zero
	n, err = w.WriteBatch(ctx, []reading.Reading{rd("M1", t0.Add(10*time.Second), 4, store.StatusRun)})
	r.NoError(err)
	r.Equal(1, n)

	rows, err := st.MetricsSince(ctx, t0)
	r.NoError(err)
	r.Len(rows, 4)
	r.Equal([]int64{10, 17, 4, 5}, []int64{rows[0].Production, rows[1].Production, rows[2].Production, rows[3].Production})

	eq, err := st.ListEquipment(ctx)
	r.NoError(err)
	r.Len(eq, 2)
	r.Equal("M1", eq[0].EquipmentID)
	r.Equal(int64(4), eq[0].Production)
	r.Equal(store.StatusRun, eq[0].Status)
}

func TestWriteBatchResumesFromStore(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	st := openStore(t)
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

	_, err := NewStoreWriter(st, quietLogger()).WriteBatch(ctx, []reading.Reading{rd("M1", at, 10, store.StatusRun)})
	r.NoError(err)

	// a restarted writer continues the day's count and skips redeliveries
	w := NewStoreWriter(st, quietLogger())
	n, err := w.WriteBatch(ctx, []reading.Reading{
		rd("M1", at, 10, store.StatusRun),
		rd("M1", at.Add(5*time.Second), 3, store.StatusRun),
	})
	r.NoError(err)
	r.Equal(1, n)
	r.Equal(uint64(1), w.GetStats()["stale"])

	last, _, err := st.LastProductionSince(ctx, "M1", at)
	r.NoError(err)
	r.Equal(int64(13), last)
}

type failingStore struct {
	Store
	fail bool
}

func (f *failingStore) InsertMetrics(ctx context.Context, rows []store.Metric) (int, error) {
	if f.fail {
		return 0, errors.New("disk full")
	}
	return f.Store.InsertMetrics(ctx, rows)
}

func TestWriteBatchFailureReloadsTotals(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()
	st := &failingStore{Store: openStore(t), fail: true}
	w := NewStoreWriter(st, quietLogger())
	at := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	batch := []reading.Reading{rd("M1", at, 10, store.StatusRun)}

	_, err := w.WriteBatch(ctx, batch)
	r.Error(err)

	st.fail = false
	n, err := w.WriteBatch(ctx, batch)
	r.NoError(err)
	r.Equal(1, n)

	last, _, err := st.LastProductionSince(ctx, "M1", at)
	r.NoError(err)
	assert.Equal(t, int64(10), last)
	assert.Equal(t, uint64(1), w.GetStats()["errors"])
}

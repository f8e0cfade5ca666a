// Package writer turns readings into cumulative metric rows.
package writer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/reading"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

// Store is the persistence the writer needs.
type Store interface {
	InsertMetrics(ctx context.Context, rows []store.Metric) (int, error)
	LastProductionSince(ctx context.Context, equipmentID string, since time.Time) (int64, time.Time, error)
	EnsureEquipment(ctx context.Context, ids []string) error
	UpdateEquipmentState(ctx context.Context, equipmentID, status string, production int64, efficiency float64) error
}

// dayTotal is the running count of one machine for one UTC day.
type dayTotal struct {
	day   time.Time
	total int64
	last  time.Time
}

// StoreWriter stores each reading as today's cumulative count of its
// machine: the machine's last count of the UTC day plus the units produced.
type StoreWriter struct {
	store  Store
	logger *logrus.Entry

	mu     sync.Mutex
	totals map[string]*dayTotal
	known  map[string]bool

	written atomic.Uint64
	stale   atomic.Uint64
	errors  atomic.Uint64
}

// NewStoreWriter creates a writer on st.
func NewStoreWriter(st Store, logger *logrus.Logger) *StoreWriter {
	return &StoreWriter{
		store:  st,
		logger: logger.WithField("component", "writer"),
		totals: make(map[string]*dayTotal),
		known:  make(map[string]bool),
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// total returns the running count of id for day, loading it from the store
// when the cache holds another day.
func (w *StoreWriter) total(ctx context.Context, id string, day time.Time) (*dayTotal, error) {
	if t, ok := w.totals[id]; ok && !day.After(t.day) {
		return t, nil
	}
	production, last, err := w.store.LastProductionSince(ctx, id, day)
	if err != nil {
		return nil, err
	}
	t := &dayTotal{day: day, total: production, last: last}
	w.totals[id] = t
	return t, nil
}

func (w *StoreWriter) register(ctx context.Context, readings []reading.Reading) error {
	var ids []string
	for _, r := range readings {
		if !w.known[r.EquipmentID] {
			ids = append(ids, r.EquipmentID)
			w.known[r.EquipmentID] = true
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := w.store.EnsureEquipment(ctx, ids); err != nil {
		for _, id := range ids {
			delete(w.known, id)
		}
		return err
	}
	return nil
}

// WriteBatch stores readings, which must be in time order, and returns the
// number of rows inserted. Readings not newer than the last stored reading
// of their machine are skipped.
func (w *StoreWriter) WriteBatch(ctx context.Context, readings []reading.Reading) (int, error) {
	if len(readings) == 0 {
		return 0, nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.register(ctx, readings); err != nil {
		w.errors.Add(1)
		return 0, err
	}

	rows := make([]store.Metric, 0, len(readings))
	latest := make(map[string]int)
	for _, r := range readings {
		day := startOfDay(r.TS)
		t, err := w.total(ctx, r.EquipmentID, day)
		if err != nil {
			w.reset(readings)
			w.errors.Add(1)
			return 0, err
		}
		if day.Before(t.day) || !r.TS.After(t.last) {
			w.stale.Add(1)
			w.logger.WithFields(logrus.Fields{
				"equipment_id": r.EquipmentID,
				"ts":           r.TS,
			}).Debug("Skipping stale reading")
			continue
		}
		t.total += r.Produced
		t.last = r.TS
		latest[r.EquipmentID] = len(rows)
		rows = append(rows, store.Metric{
			EquipmentID: r.EquipmentID,
			Status:      r.Status,
			Production:  t.total,
			Efficiency:  r.Efficiency,
			TS:          r.TS,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := w.store.InsertMetrics(ctx, rows)
	if err != nil {
		w.reset(readings)
		w.errors.Add(1)
		return 0, err
	}
	w.written.Add(uint64(n))

	for id, i := range latest {
		m := rows[i]
		if err := w.store.UpdateEquipmentState(ctx, id, m.Status, m.Production, m.Efficiency); err != nil {
			w.errors.Add(1)
			w.logger.WithError(err).WithField("equipment_id", id).Error("Failed to update equipment state")
		}
	}
	return n, nil
}

// reset drops cached totals so they are reloaded from the store.
func (w *StoreWriter) reset(readings []reading.Reading) {
	for _, r := range readings {
		delete(w.totals, r.EquipmentID)
	}
}

// GetStats returns writer statistics
func (w *StoreWriter) GetStats() map[string]uint64 {
	return map[string]uint64{
		"written": w.written.Load(),
		"stale":   w.stale.Load(),
		"errors":  w.errors.Load(),
	}
}

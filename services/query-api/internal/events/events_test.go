package events

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

var t0 = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func history(id string, statuses ...string) []store.Metric {
	out := make([]store.Metric, len(statuses))
	for i, s := range statuses {
		out[i] = store.Metric{EquipmentID: id, Status: s, TS: t0.Add(time.Duration(i) * 5 * time.Second)}
	}
	return out
}

const (
	run  = store.StatusRun
	idle = store.StatusIdle
	fail = store.StatusError
)

func TestAlerts(t *testing.T) {
	r := require.New(t)
	rows := append(history("M1", run, fail, fail, run, idle), history("M2", fail, run)...)

	alerts := Alerts(rows)
	r.Len(alerts, 4)
	r.Equal(Alert{TS: store.FormatTS(t0.Add(15 * time.Second)), EquipmentID: "M1", Type: ErrorEnd}, alerts[0])
	r.Equal(Alert{TS: store.FormatTS(t0.Add(5 * time.Second)), EquipmentID: "M1", Type: ErrorStart}, alerts[1])
	r.Equal(Alert{TS: store.FormatTS(t0.Add(5 * time.Second)), EquipmentID: "M2", Type: ErrorEnd}, alerts[2])
	r.Equal(Alert{TS: store.FormatTS(t0), EquipmentID: "M2", Type: ErrorStart}, alerts[3])
}

func TestAlertsNoErrors(t *testing.T) {
	assert.Empty(t, Alerts(history("M1", run, idle, run)))
	assert.NotNil(t, Alerts(nil))
}

func TestMaintenance(t *testing.T) {
	r := require.New(t)
	now := t0.Add(time.Minute)
	rows := append(history("M1", run, fail, fail, run), history("M2", run, run, fail)...)

	recs := Maintenance(rows, now)
	r.Len(recs, 2)

	open := recs[0]
	r.Equal("M2", open.EquipmentID)
	r.True(open.Ongoing)
	r.Nil(open.EndTS)
	r.InDelta(50, open.DurationSec, 1e-9)

	closed := recs[1]
	r.Equal("M1", closed.EquipmentID)
	r.False(closed.Ongoing)
	r.NotNil(closed.EndTS)
	r.Equal(store.FormatTS(t0.Add(15*time.Second)), *closed.EndTS)
	r.InDelta(10, closed.DurationSec, 1e-9)
}

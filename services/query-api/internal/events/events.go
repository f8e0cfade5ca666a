// Package events derives alerts and maintenance intervals from the status
// history of each machine.
package events

import (
	"sort"
	"time"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

// Alert types.
const (
	ErrorStart = "ERROR_START"
	ErrorEnd   = "ERROR_END"
)

// Alert is a transition into or out of ERROR.
type Alert struct {
	TS          string `json:"ts"`
	EquipmentID string `json:"equipment_id"`
	Type        string `json:"type"`
}

// MaintenanceRecord is one contiguous ERROR interval.
type MaintenanceRecord struct {
	EquipmentID string  `json:"equipment_id"`
	StartTS     string  `json:"start_ts"`
	EndTS       *string `json:"end_ts"`
	DurationSec float64 `json:"duration_sec"`
	Ongoing     bool    `json:"ongoing"`
}

// walk calls fn for every ERROR run in rows, which must be grouped by
// equipment and sorted by time. end is nil for a run still open at the last
// row of its machine.
func walk(rows []store.Metric, fn func(id string, start time.Time, end *time.Time)) {
	for i := 0; i < len(rows); {
		id := rows[i].EquipmentID
		var start *time.Time
		for ; i < len(rows) && rows[i].EquipmentID == id; i++ {
			m := rows[i]
			switch {
			case m.Status == store.StatusError && start == nil:
				ts := m.TS
				start = &ts
			case m.Status != store.StatusError && start != nil:
				ts := m.TS
				fn(id, *start, &ts)
				start = nil
			}
		}
		if start != nil {
			fn(id, *start, nil)
		}
	}
}

// Alerts lists ERROR_START and ERROR_END transitions, newest first. A
// machine already in ERROR at the first row reports an ERROR_START there.
func Alerts(rows []store.Metric) []Alert {
	out := []Alert{}
	walk(rows, func(id string, start time.Time, end *time.Time) {
		out = append(out, Alert{TS: store.FormatTS(start), EquipmentID: id, Type: ErrorStart})
		if end != nil {
			out = append(out, Alert{TS: store.FormatTS(*end), EquipmentID: id, Type: ErrorEnd})
		}
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS > out[j].TS })
	return out
}

// Maintenance lists ERROR intervals, newest first. Open intervals run until
// now.
func Maintenance(rows []store.Metric, now time.Time) []MaintenanceRecord {
	out := []MaintenanceRecord{}
	walk(rows, func(id string, start time.Time, end *time.Time) {
		rec := MaintenanceRecord{EquipmentID: id, StartTS: store.FormatTS(start)}
		if end != nil {
			ts := store.FormatTS(*end)
			rec.EndTS = &ts
			rec.DurationSec = end.Sub(start).Seconds()
		} else {
			rec.Ongoing = true
			rec.DurationSec = now.Sub(start).Seconds()
		}
		out = append(out, rec)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTS > out[j].StartTS })
	return out
}

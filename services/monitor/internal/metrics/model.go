// Package metrics defines the data model the dashboard reads from the query API.
package metrics

import (
	"time"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

// Sample is one (timestamp, production) point.
type Sample struct {
	TS         window.Timestamp
	Production float64
}

// EntityPoints holds one piece of equipment's samples.
type EntityPoints struct {
	EquipmentID string
	Points      []Sample
}

// Response is one poll of /api/metrics. Total carries the aggregate history
// and ByEquipment the per-equipment histories.
type Response struct {
	Total       []Sample
	ByEquipment []EntityPoints
}

// Empty reports whether the response holds no aggregate samples.
func (r Response) Empty() bool {
	return len(r.Total) == 0
}

// EquipmentIDs returns the ids named by the response in response order.
func (r Response) EquipmentIDs() []string {
	ids := make([]string, 0, len(r.ByEquipment))
	seen := make(map[string]struct{}, len(r.ByEquipment))
	for _, e := range r.ByEquipment {
		if _, ok := seen[e.EquipmentID]; ok {
			continue
		}
		seen[e.EquipmentID] = struct{}{}
		ids = append(ids, e.EquipmentID)
	}
	return ids
}

// ValuesAt indexes per-equipment values by timestamp. A later point for the
// same equipment and timestamp replaces an earlier one.
func (r Response) ValuesAt() map[window.Timestamp]map[string]float64 {
	out := make(map[window.Timestamp]map[string]float64)
	for _, e := range r.ByEquipment {
		for _, p := range e.Points {
			m, ok := out[p.TS]
			if !ok {
				m = make(map[string]float64)
				out[p.TS] = m
			}
			m[e.EquipmentID] = p.Production
		}
	}
	return out
}

// Summary is the KPI header from /api/summary.
type Summary struct {
	DailyProduction float64
	Efficiency      float64
	Status          string
	ActiveEquipment int
	TotalEquipment  int
	FetchedAt       time.Time
}

// Equipment is one row of /api/equipment.
type Equipment struct {
	ID          int64
	EquipmentID string
	Status      string
	Production  float64
	Efficiency  float64
}

// Alert types reported by /api/alerts.
const (
	AlertErrorStart = "ERROR_START"
	AlertErrorEnd   = "ERROR_END"
)

// Alert is a status transition into or out of ERROR.
type Alert struct {
	Timestamp   time.Time
	EquipmentID string
	Type        string
}

// MaintenanceRecord is one contiguous ERROR interval.
type MaintenanceRecord struct {
	EquipmentID string
	Start       time.Time
	End         time.Time
	Duration    time.Duration
	Ongoing     bool
}

// Downtime sums record durations per equipment.
func Downtime(records []MaintenanceRecord) map[string]time.Duration {
	out := make(map[string]time.Duration)
	for _, r := range records {
		out[r.EquipmentID] += r.Duration
	}
	return out
}

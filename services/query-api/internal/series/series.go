// Package series shapes stored metric rows into the /api/metrics response.
package series

import (
	"sort"
	"time"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/shared/store"
)

// Point is one (timestamp, production) sample.
type Point struct {
	TS         string `json:"ts"`
	Production int64  `json:"production"`
}

// EquipmentSeries is the point list of one machine.
type EquipmentSeries struct {
	EquipmentID string  `json:"equipment_id"`
	Points      []Point `json:"points"`
}

// Item is one raw row.
type Item struct {
	TS          string  `json:"ts"`
	EquipmentID string  `json:"equipment_id"`
	Production  int64   `json:"production"`
	Efficiency  float64 `json:"efficiency"`
	Status      string  `json:"status"`
}

// Response is the /api/metrics body.
type Response struct {
	Range            string            `json:"range"`
	ItemsTotal       []Point           `json:"items_total"`
	ItemsByEquipment []EquipmentSeries `json:"items_by_equipment"`
	Items            []Item            `json:"items"`
}

// Build groups rows sorted by timestamp into the response. items_total holds
// one point per batch timestamp: the sum of the cumulative counts reported
// at that timestamp.
func Build(rangeName string, rows []store.Metric) Response {
	resp := Response{
		Range:            rangeName,
		ItemsTotal:       []Point{},
		ItemsByEquipment: []EquipmentSeries{},
		Items:            make([]Item, 0, len(rows)),
	}
	byEquipment := make(map[string]int)

	for _, m := range rows {
		ts := store.FormatTS(m.TS)
		resp.Items = append(resp.Items, Item{
			TS:          ts,
			EquipmentID: m.EquipmentID,
			Production:  m.Production,
			Efficiency:  m.Efficiency,
			Status:      m.Status,
		})

		if n := len(resp.ItemsTotal); n > 0 && resp.ItemsTotal[n-1].TS == ts {
			resp.ItemsTotal[n-1].Production += m.Production
		} else {
			resp.ItemsTotal = append(resp.ItemsTotal, Point{TS: ts, Production: m.Production})
		}

		idx, ok := byEquipment[m.EquipmentID]
		if !ok {
			idx = len(resp.ItemsByEquipment)
			byEquipment[m.EquipmentID] = idx
			resp.ItemsByEquipment = append(resp.ItemsByEquipment, EquipmentSeries{EquipmentID: m.EquipmentID})
		}
		resp.ItemsByEquipment[idx].Points = append(resp.ItemsByEquipment[idx].Points, Point{TS: ts, Production: m.Production})
	}

	sort.Slice(resp.ItemsByEquipment, func(i, j int) bool {
		return resp.ItemsByEquipment[i].EquipmentID < resp.ItemsByEquipment[j].EquipmentID
	})
	return resp
}

// Downsample keeps the last batch of every resolution-wide bucket. Counts
// are cumulative, so dropping intermediate batches loses no total.
func Downsample(rows []store.Metric, resolution time.Duration) []store.Metric {
	if resolution <= 0 || len(rows) == 0 {
		return rows
	}
	out := make([]store.Metric, 0, len(rows))
	start := 0
	for start < len(rows) {
		// rows[start:end] is one batch
		end := start + 1
		for end < len(rows) && rows[end].TS.Equal(rows[start].TS) {
			end++
		}
		bucket := rows[start].TS.Truncate(resolution)
		if end == len(rows) || !rows[end].TS.Truncate(resolution).Equal(bucket) {
			out = append(out, rows[start:end]...)
		}
		start = end
	}
	return out
}

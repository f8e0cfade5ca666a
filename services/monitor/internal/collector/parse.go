package collector

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/valyala/fastjson"

	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/metrics"
	"github.com/rickyliu0219/Cloud-Real-time-Monitoring-Platform/services/monitor/internal/window"
)

// ErrMalformed is returned when a body is not valid JSON.
var ErrMalformed = errors.New("collector: malformed response")

var parserPool = sync.Pool{
	New: func() interface{} {
		return &fastjson.Parser{}
	},
}

// timestamp layouts accepted from the API, most specific first
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func parse(body []byte, fn func(v *fastjson.Value)) error {
	parser := parserPool.Get().(*fastjson.Parser)
	defer parserPool.Put(parser)

	v, err := parser.ParseBytes(body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// values are only valid until the parser is reused
	fn(v)
	return nil
}

// ParseMetrics decodes a /api/metrics body. Missing sections yield an empty
// response. Samples without a timestamp, with a non-numeric or negative
// production, or whose timestamp does not advance the aggregate series are
// dropped and counted.
func ParseMetrics(body []byte) (metrics.Response, int, error) {
	var (
		resp    metrics.Response
		dropped int
	)
	err := parse(body, func(v *fastjson.Value) {
		for _, item := range v.GetArray("items_total") {
			s, ok := parseSample(item)
			if !ok {
				dropped++
				continue
			}
			if n := len(resp.Total); n > 0 && !s.TS.After(resp.Total[n-1].TS) {
				dropped++
				continue
			}
			resp.Total = append(resp.Total, s)
		}

		for _, series := range v.GetArray("items_by_equipment") {
			id := string(series.GetStringBytes("equipment_id"))
			if id == "" {
				dropped++
				continue
			}
			ep := metrics.EntityPoints{EquipmentID: id}
			for _, item := range series.GetArray("points") {
				s, ok := parseSample(item)
				if !ok {
					dropped++
					continue
				}
				ep.Points = append(ep.Points, s)
			}
			resp.ByEquipment = append(resp.ByEquipment, ep)
		}
	})
	if err != nil {
		return metrics.Response{}, 0, err
	}
	return resp, dropped, nil
}

func parseSample(v *fastjson.Value) (metrics.Sample, bool) {
	tv := v.Get("ts")
	if tv == nil || tv.Type() != fastjson.TypeString {
		return metrics.Sample{}, false
	}
	ts := string(tv.GetStringBytes())
	if ts == "" {
		return metrics.Sample{}, false
	}

	pv := v.Get("production")
	if pv == nil || pv.Type() != fastjson.TypeNumber {
		return metrics.Sample{}, false
	}
	p, err := pv.Float64()
	if err != nil || p < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
		return metrics.Sample{}, false
	}
	return metrics.Sample{TS: window.Timestamp(ts), Production: p}, true
}

// ParseSummary decodes a /api/summary body.
func ParseSummary(body []byte) (metrics.Summary, error) {
	var s metrics.Summary
	err := parse(body, func(v *fastjson.Value) {
		s.DailyProduction = v.GetFloat64("dailyProduction")
		s.Efficiency = percent(v.GetFloat64("efficiency"))
		s.Status = string(v.GetStringBytes("status"))
		s.ActiveEquipment = v.GetInt("activeEquipment")
		s.TotalEquipment = v.GetInt("totalEquipment")
	})
	if s.Status == "" {
		s.Status = "N/A"
	}
	return s, err
}

// ParseEquipment decodes a /api/equipment body.
func ParseEquipment(body []byte) ([]metrics.Equipment, error) {
	var out []metrics.Equipment
	err := parse(body, func(v *fastjson.Value) {
		for _, item := range v.GetArray() {
			id := string(item.GetStringBytes("equipment_id"))
			if id == "" {
				continue
			}
			out = append(out, metrics.Equipment{
				ID:          item.GetInt64("id"),
				EquipmentID: id,
				Status:      string(item.GetStringBytes("status")),
				Production:  item.GetFloat64("production"),
				Efficiency:  percent(item.GetFloat64("efficiency")),
			})
		}
	})
	return out, err
}

// ParseAlerts decodes a /api/alerts body.
func ParseAlerts(body []byte) ([]metrics.Alert, error) {
	var out []metrics.Alert
	err := parse(body, func(v *fastjson.Value) {
		for _, item := range v.GetArray("events") {
			ts, ok := parseTime(item.GetStringBytes("ts"))
			if !ok {
				continue
			}
			out = append(out, metrics.Alert{
				Timestamp:   ts,
				EquipmentID: string(item.GetStringBytes("equipment_id")),
				Type:        string(item.GetStringBytes("type")),
			})
		}
	})
	return out, err
}

// ParseMaintenance decodes a /api/maintenance body.
func ParseMaintenance(body []byte) ([]metrics.MaintenanceRecord, error) {
	var out []metrics.MaintenanceRecord
	err := parse(body, func(v *fastjson.Value) {
		for _, item := range v.GetArray("records") {
			start, ok := parseTime(item.GetStringBytes("start_ts"))
			if !ok {
				continue
			}
			rec := metrics.MaintenanceRecord{
				EquipmentID: string(item.GetStringBytes("equipment_id")),
				Start:       start,
				Ongoing:     item.GetBool("ongoing"),
			}
			if end, ok := parseTime(item.GetStringBytes("end_ts")); ok {
				rec.End = end
			}
			if d := item.GetFloat64("duration_sec"); d > 0 {
				rec.Duration = time.Duration(d * float64(time.Second))
			}
			out = append(out, rec)
		}
	})
	return out, err
}

// percent accepts efficiency either as a 0..1 ratio or as a percentage.
func percent(v float64) float64 {
	if v > 0 && v <= 1 {
		return v * 100
	}
	return v
}

func parseTime(b []byte) (time.Time, bool) {
	if len(b) == 0 {
		return time.Time{}, false
	}
	s := string(b)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
